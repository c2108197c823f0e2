package symtable

import (
	"debug/dwarf"
	"debug/elf"
	"sort"

	"github.com/aquasecurity/libbpfgo/helpers"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

const defaultCacheSize = 4096

type Symbol struct {
	Name  string
	Start uint64
	Size  uint64
}

type Line struct {
	File string
	Line int
}

type lineEntry struct {
	addr uint64
	Line
}

// ELFSymTab resolves addresses of one ELF executable into function
// symbols and, when DWARF is available, source lines. Addresses are link
// time virtual addresses: callers subtract the load bias of PIE
// executables first.
type ELFSymTab struct {
	path  string
	pie   bool
	syms  []Symbol
	lines []lineEntry
	cache *lru.Cache[uint64, Symbol]

	*Options
}

type Options struct {
	cacheSize int
	logger    log.Logger
}

type Option func(*ELFSymTab)

func WithCacheSize(size int) Option {
	return func(e *ELFSymTab) {
		e.cacheSize = size
	}
}

func WithLogger(logger log.Logger) Option {
	return func(e *ELFSymTab) {
		e.logger = logger
	}
}

func NewELFSymTab(opts ...Option) *ELFSymTab {
	tab := &ELFSymTab{
		Options: &Options{
			cacheSize: defaultCacheSize,
			logger:    log.Nop(),
		},
	}
	for _, opt := range opts {
		opt(tab)
	}
	tab.logger = tab.logger.With().Str("component", "symtable").Logger()

	return tab
}

// Load reads the function symbols and the line table of the ELF file at
// pathname. Loading twice is a no-op.
func (e *ELFSymTab) Load(pathname string) error {
	if len(e.syms) > 0 {
		return nil
	}

	file, err := elf.Open(pathname)
	if err != nil {
		return errors.Wrap(err, "error opening ELF file")
	}
	defer file.Close()

	syms, err := file.Symbols()
	if err != nil {
		return errors.Wrap(err, "error reading ELF symtable section")
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		e.syms = append(e.syms, Symbol{Name: s.Name, Start: s.Value, Size: s.Size})
	}
	if len(e.syms) == 0 {
		return ErrSymTableEmpty
	}
	sort.Slice(e.syms, func(i, j int) bool { return e.syms[i].Start < e.syms[j].Start })

	if e.cache, err = lru.New[uint64, Symbol](e.cacheSize); err != nil {
		return errors.Wrap(err, "error creating symbol cache")
	}

	e.path = pathname
	e.pie = file.Type == elf.ET_DYN

	if err := e.loadLines(file); err != nil {
		e.logger.Debug().Err(err).Str("path", pathname).Msg("no line information")
	}
	e.logger.Debug().
		Str("path", pathname).
		Int("symbols", len(e.syms)).
		Int("lines", len(e.lines)).
		Bool("pie", e.pie).
		Msg("symtable loaded")

	return nil
}

func (e *ELFSymTab) loadLines(file *elf.File) error {
	d, err := file.DWARF()
	if err != nil {
		return err
	}

	r := d.Reader()
	for {
		ent, err := r.Next()
		if err != nil {
			return err
		}
		if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := d.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for lr.Next(&le) == nil {
			if le.EndSequence || le.File == nil {
				continue
			}
			e.lines = append(e.lines, lineEntry{addr: le.Address, Line: Line{File: le.File.Name, Line: le.Line}})
		}
		r.SkipChildren()
	}
	sort.SliceStable(e.lines, func(i, j int) bool { return e.lines[i].addr < e.lines[j].addr })

	return nil
}

func (e *ELFSymTab) Path() string {
	return e.path
}

// PIE reports whether the executable is position independent.
func (e *ELFSymTab) PIE() bool {
	return e.pie
}

// Lookup returns the function symbol containing addr.
func (e *ELFSymTab) Lookup(addr uint64) (Symbol, error) {
	if len(e.syms) == 0 {
		return Symbol{}, ErrSymTableEmpty
	}
	if sym, ok := e.cache.Get(addr); ok {
		return sym, nil
	}

	// Last symbol starting at or before addr.
	i := sort.Search(len(e.syms), func(i int) bool { return e.syms[i].Start > addr }) - 1
	for ; i >= 0; i-- {
		s := e.syms[i]
		if addr >= s.Start && addr < s.Start+s.Size {
			e.cache.Add(addr, s)
			return s, nil
		}
		// Sizes are not overlapping in practice; stop at the first miss
		// that starts well below addr.
		if s.Size > 0 && s.Start+s.Size <= addr {
			break
		}
	}

	return Symbol{}, errors.Wrapf(ErrSymNotFound, "address 0x%x", addr)
}

// LineFor returns the source line of addr.
func (e *ELFSymTab) LineFor(addr uint64) (Line, bool) {
	i := sort.Search(len(e.lines), func(i int) bool { return e.lines[i].addr > addr }) - 1
	if i < 0 {
		return Line{}, false
	}
	return e.lines[i].Line, true
}

// Find returns the function symbol named name.
func (e *ELFSymTab) Find(name string) (Symbol, bool) {
	for _, s := range e.syms {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Offset returns the file offset of the symbol named name.
func (e *ELFSymTab) Offset(name string) (uint32, error) {
	if e.path == "" {
		return 0, ErrNotLoaded
	}
	offset, err := helpers.SymbolToOffset(e.path, name)
	if err != nil {
		return 0, errors.Wrapf(ErrSymNotFound, "%s: %v", name, err)
	}
	return offset, nil
}
