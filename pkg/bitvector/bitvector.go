// Package bitvector implements the fixed-width participant sets carried by
// call graph edges.
//
// A BitVector never grows: its width is fixed at construction from the size
// of the process table (or the configured thread width). Merging is a plain
// word-wise OR, which makes it associative, commutative and idempotent.
package bitvector

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

const (
	wordBits  = 64
	wordBytes = 8

	// MaxWidth caps a single vector at 64 Mi bits.
	MaxWidth = 1 << 26
)

type BitVector struct {
	width int
	words []uint64
}

// New returns a zero vector able to hold width bits.
func New(width int) (*BitVector, error) {
	if width < 0 || width > MaxWidth {
		return nil, errors.Wrapf(ErrAllocation, "width %d", width)
	}

	return &BitVector{
		width: width,
		words: make([]uint64, Words(width)),
	}, nil
}

// Words is the number of 64-bit words needed to hold width bits.
func Words(width int) int {
	return (width + wordBits - 1) / wordBits
}

// Size is the number of bytes of the serialized form of a width bits vector.
func Size(width int) int {
	return Words(width) * wordBytes
}

func (b *BitVector) Width() int {
	return b.width
}

func (b *BitVector) Set(i int) error {
	if i < 0 || i >= b.width {
		return errors.Wrapf(ErrOutOfRange, "bit %d, width %d", i, b.width)
	}
	b.words[i/wordBits] |= 1 << uint(i%wordBits)

	return nil
}

func (b *BitVector) Test(i int) bool {
	if i < 0 || i >= b.width {
		return false
	}
	return b.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// Merge ORs other into b in place. Both vectors must have the same width.
func (b *BitVector) Merge(other *BitVector) {
	if other.width != b.width {
		panic("bitvector: merge of vectors with different widths")
	}
	for i, w := range other.words {
		b.words[i] |= w
	}
}

// AndNot clears in b every bit set in other. Both vectors must have the
// same width.
func (b *BitVector) AndNot(other *BitVector) {
	if other.width != b.width {
		panic("bitvector: and-not of vectors with different widths")
	}
	for i, w := range other.words {
		b.words[i] &^= w
	}
}

func (b *BitVector) Clone() *BitVector {
	words := make([]uint64, len(b.words))
	copy(words, b.words)

	return &BitVector{width: b.width, words: words}
}

// Count returns the number of set bits.
func (b *BitVector) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// First returns the lowest set bit, or -1 when the vector is empty.
func (b *BitVector) First() int {
	for i, w := range b.words {
		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// Members returns the indexes of the set bits in ascending order.
func (b *BitVector) Members() []int {
	members := make([]int, 0, b.Count())
	for i, w := range b.words {
		for w != 0 {
			members = append(members, i*wordBits+bits.TrailingZeros64(w))
			w &= w - 1
		}
	}
	return members
}

func (b *BitVector) Empty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b *BitVector) Equal(other *BitVector) bool {
	if other == nil || other.width != b.width {
		return false
	}
	for i, w := range b.words {
		if other.words[i] != w {
			return false
		}
	}
	return true
}

// Bytes serializes the vector as ceil(width/64)*8 bytes, words in index
// order, each word little-endian.
func (b *BitVector) Bytes() []byte {
	buf := make([]byte, len(b.words)*wordBytes)
	for i, w := range b.words {
		binary.LittleEndian.PutUint64(buf[i*wordBytes:], w)
	}
	return buf
}

// Parse reads a vector of the given width from its serialized form. Bits
// beyond width are dropped.
func Parse(buf []byte, width int) (*BitVector, error) {
	b, err := New(width)
	if err != nil {
		return nil, err
	}
	if len(buf) < Size(width) {
		return nil, errors.Wrapf(ErrShortBuffer, "got %d bytes, want %d", len(buf), Size(width))
	}
	for i := range b.words {
		b.words[i] = binary.LittleEndian.Uint64(buf[i*wordBytes:])
	}
	if rem := width % wordBits; rem != 0 {
		b.words[len(b.words)-1] &= (1 << uint(rem)) - 1
	}

	return b, nil
}
