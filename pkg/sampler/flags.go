package sampler

import (
	"strings"
)

// Flags select what a sample records.
type Flags uint32

const (
	// FlagLine labels frames with their source file and line.
	FlagLine Flags = 0x01
	// FlagPC labels frames with their program counter.
	FlagPC Flags = 0x02
	// FlagCountRep transmits edges as a count and a representative rank
	// instead of the full process bit vector.
	FlagCountRep Flags = 0x04
	// FlagThreads samples every thread and records thread bit vectors.
	FlagThreads Flags = 0x08
	// FlagClear clears the session graph before sampling.
	FlagClear Flags = 0x10
	// FlagModule labels frames with their module and module offset.
	FlagModule Flags = 0x40
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagLine, "line"},
	{FlagPC, "pc"},
	{FlagCountRep, "countrep"},
	{FlagThreads, "threads"},
	{FlagClear, "clear"},
	{FlagModule, "module"},
}

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f Flags) String() string {
	var names []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "function"
	}
	return strings.Join(names, "|")
}

// ParseFlags reads a "|" or "," separated list of flag names.
func ParseFlags(s string) (Flags, bool) {
	var f Flags
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.TrimSpace(name)
		if name == "function" {
			continue
		}
		found := false
		for _, n := range flagNames {
			if n.name == name {
				f |= n.flag
				found = true
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}
