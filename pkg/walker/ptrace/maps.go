package ptrace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Mapping is one executable region of a process address space.
type Mapping struct {
	Start  uint64
	End    uint64
	Offset uint64
	Path   string
}

type Mappings []Mapping

// ParseMappings reads the executable, file backed regions of a
// /proc/<pid>/maps listing.
func ParseMappings(r io.Reader) (Mappings, error) {
	var maps Mappings
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		if len(fields[1]) < 3 || fields[1][2] != 'x' {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.HasPrefix(path, "/") {
			continue
		}

		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		maps = append(maps, Mapping{Start: start, End: end, Offset: offset, Path: strings.TrimSuffix(path, " (deleted)")})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading mappings")
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].Start < maps[j].Start })

	return maps, nil
}

func readMappings(pid int) (Mappings, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseMappings(f)
}

// Find returns the mapping containing addr.
func (m Mappings) Find(addr uint64) (Mapping, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].End > addr })
	if i < len(m) && m[i].Start <= addr {
		return m[i], true
	}
	return Mapping{}, false
}

// Bias returns the load bias of the executable at path: the difference
// between its runtime and link time addresses.
func (m Mappings) Bias(path string, pie bool) uint64 {
	if !pie {
		return 0
	}
	for _, mm := range m {
		if mm.Path == path {
			return mm.Start - mm.Offset
		}
	}
	return 0
}
