package ptrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const maps = `55d4c6a00000-55d4c6a01000 r--p 00000000 fd:01 1234 /usr/bin/app
55d4c6a01000-55d4c6a05000 r-xp 00001000 fd:01 1234 /usr/bin/app
55d4c6c00000-55d4c6c21000 rw-p 00000000 00:00 0 [heap]
7f1e2a000000-7f1e2a028000 r--p 00000000 fd:01 99 /usr/lib/libc.so.6
7f1e2a028000-7f1e2a1bd000 r-xp 00028000 fd:01 99 /usr/lib/libc.so.6
7ffd1c5e0000-7ffd1c5e2000 r-xp 00000000 00:00 0 [vdso]
`

func TestParseMappings(t *testing.T) {
	m, err := ParseMappings(strings.NewReader(maps))
	require.NoError(t, err)
	require.Len(t, m, 2)

	require.Equal(t, Mapping{Start: 0x55d4c6a01000, End: 0x55d4c6a05000, Offset: 0x1000, Path: "/usr/bin/app"}, m[0])

	got, ok := m.Find(0x7f1e2a028010)
	require.True(t, ok)
	require.Equal(t, "/usr/lib/libc.so.6", got.Path)

	_, ok = m.Find(0x55d4c6c00010)
	require.False(t, ok)

	require.Equal(t, uint64(0x55d4c6a00000), m.Bias("/usr/bin/app", true))
	require.Zero(t, m.Bias("/usr/bin/app", false))
	require.Zero(t, m.Bias("/usr/bin/other", true))
}
