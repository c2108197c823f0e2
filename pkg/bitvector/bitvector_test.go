package bitvector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/bitvector"
)

func newVector(t *testing.T, width int, set ...int) *bitvector.BitVector {
	t.Helper()
	b, err := bitvector.New(width)
	require.NoError(t, err)
	for _, i := range set {
		require.NoError(t, b.Set(i))
	}
	return b
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		size    int
		wantErr bool
	}{
		{"empty", 0, 0, false},
		{"one word", 1, 8, false},
		{"exact word", 64, 8, false},
		{"two words", 65, 16, false},
		{"negative", -1, 0, true},
		{"too wide", bitvector.MaxWidth + 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := bitvector.New(tt.width)
			if tt.wantErr {
				require.ErrorIs(t, err, bitvector.ErrAllocation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.width, b.Width())
			require.Len(t, b.Bytes(), tt.size)
			require.Equal(t, tt.size, bitvector.Size(tt.width))
			require.True(t, b.Empty())
		})
	}
}

func TestSetTest(t *testing.T) {
	b := newVector(t, 130, 0, 63, 64, 129)

	for _, i := range []int{0, 63, 64, 129} {
		require.True(t, b.Test(i), "bit %d", i)
	}
	require.False(t, b.Test(1))
	require.False(t, b.Test(130))
	require.False(t, b.Test(-1))
	require.Equal(t, 4, b.Count())
	require.Equal(t, 0, b.First())
	require.Equal(t, []int{0, 63, 64, 129}, b.Members())

	require.ErrorIs(t, b.Set(130), bitvector.ErrOutOfRange)
	require.ErrorIs(t, b.Set(-1), bitvector.ErrOutOfRange)
}

func TestFirstEmpty(t *testing.T) {
	b := newVector(t, 10)
	require.Equal(t, -1, b.First())
	require.Empty(t, b.Members())
}

func TestMerge(t *testing.T) {
	a := newVector(t, 100, 1, 70)
	b := newVector(t, 100, 2, 70, 99)

	a.Merge(b)
	require.Equal(t, []int{1, 2, 70, 99}, a.Members())

	// Idempotent.
	before := a.Clone()
	a.Merge(b)
	a.Merge(a.Clone())
	require.True(t, before.Equal(a))

	// Commutative.
	x := newVector(t, 100, 1, 70)
	y := newVector(t, 100, 2, 70, 99)
	y.Merge(x)
	require.True(t, a.Equal(y))
}

func TestMergeWidthMismatchPanics(t *testing.T) {
	a := newVector(t, 10)
	b := newVector(t, 11)
	require.Panics(t, func() { a.Merge(b) })
	require.Panics(t, func() { a.AndNot(b) })
}

func TestAndNot(t *testing.T) {
	a := newVector(t, 8, 0, 1, 2, 3)
	a.AndNot(newVector(t, 8, 1, 3, 5))
	require.Equal(t, []int{0, 2}, a.Members())
}

func TestClone(t *testing.T) {
	a := newVector(t, 70, 5)
	c := a.Clone()
	require.True(t, a.Equal(c))

	require.NoError(t, c.Set(6))
	require.False(t, a.Test(6))
	require.False(t, a.Equal(c))
}

func TestBytesRoundTrip(t *testing.T) {
	for _, width := range []int{0, 1, 3, 63, 64, 65, 1000} {
		set := []int{}
		for i := 0; i < width; i += 3 {
			set = append(set, i)
		}
		b := newVector(t, width, set...)

		buf := b.Bytes()
		require.Len(t, buf, bitvector.Size(width))

		parsed, err := bitvector.Parse(buf, width)
		require.NoError(t, err)
		require.True(t, b.Equal(parsed), "width %d", width)
		require.Equal(t, set, parsed.Members())
	}
}

func TestBytesLayout(t *testing.T) {
	b := newVector(t, 72, 0, 9, 64)
	require.Equal(t, []byte{
		0x01, 0x02, 0, 0, 0, 0, 0, 0,
		0x01, 0, 0, 0, 0, 0, 0, 0,
	}, b.Bytes())
}

func TestParseErrors(t *testing.T) {
	_, err := bitvector.Parse([]byte{0xff}, 64)
	require.ErrorIs(t, err, bitvector.ErrShortBuffer)

	// Bits past the width are dropped.
	b, err := bitvector.Parse([]byte{0xff, 0, 0, 0, 0, 0, 0, 0}, 4)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, b.Members())
}
