package symtable_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/symtable"
)

func loadSelf(t *testing.T) *symtable.ELFSymTab {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	tab := symtable.NewELFSymTab(symtable.WithCacheSize(8))
	require.NoError(t, tab.Load(exe))
	return tab
}

func TestLookup(t *testing.T) {
	tab := loadSelf(t)

	sym, ok := tab.Find("main.main")
	require.True(t, ok)

	for _, addr := range []uint64{sym.Start, sym.Start + 1, sym.Start} {
		got, err := tab.Lookup(addr)
		require.NoError(t, err)
		require.Equal(t, "main.main", got.Name)
	}

	_, err := tab.Lookup(1)
	require.ErrorIs(t, err, symtable.ErrSymNotFound)
}

func TestLineFor(t *testing.T) {
	tab := loadSelf(t)

	sym, ok := tab.Find("github.com/maxgio92/xstat/pkg/symtable_test.TestLineFor")
	require.True(t, ok)

	line, ok := tab.LineFor(sym.Start)
	require.True(t, ok)
	require.Equal(t, "symtable_test.go", filepath.Base(line.File))
	require.NotZero(t, line.Line)
}

func TestOffset(t *testing.T) {
	tab := loadSelf(t)

	offset, err := tab.Offset("main.main")
	require.NoError(t, err)
	require.NotZero(t, offset)

	_, err = tab.Offset("does.not.exist")
	require.ErrorIs(t, err, symtable.ErrSymNotFound)

	_, err = symtable.NewELFSymTab().Offset("main.main")
	require.ErrorIs(t, err, symtable.ErrNotLoaded)
}

func TestEmpty(t *testing.T) {
	tab := symtable.NewELFSymTab()
	_, err := tab.Lookup(0x1000)
	require.ErrorIs(t, err, symtable.ErrSymTableEmpty)

	require.Error(t, tab.Load("/does/not/exist"))
}
