// Package proctable holds the processes a daemon is responsible for.
package proctable

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/maxgio92/xstat/pkg/graph"
)

// Process is a target as handed over by the launcher.
type Process struct {
	Pid  int `yaml:"pid"`
	Rank int `yaml:"rank"`
}

// Slot is the daemon-local view of a target process. Index is the bit the
// process owns in every edge bit vector.
type Slot struct {
	Index int
	Pid   int
	Rank  int
	Host  string
	Exe   string
	Alive bool
}

// Resolver returns the executable name of pid and whether it exists.
type Resolver func(pid int) (exe string, alive bool)

type Table struct {
	slots []*Slot
	ranks graph.TableRanks
	*Options
}

type Options struct {
	host     string
	resolver Resolver
	logger   log.Logger
}

type Option func(*Table)

func WithHost(host string) Option {
	return func(t *Table) {
		t.host = host
	}
}

func WithResolver(resolver Resolver) Option {
	return func(t *Table) {
		t.resolver = resolver
	}
}

func WithLogger(logger log.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// New builds the table, assigning slots in process list order.
func New(procs []Process, opts ...Option) (*Table, error) {
	t := &Table{
		Options: &Options{
			resolver: ResolveProcess,
			logger:   log.Nop(),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.host == "" {
		t.host, _ = os.Hostname()
	}
	t.logger = t.logger.With().Str("component", "proctable").Logger()

	if len(procs) == 0 {
		return nil, ErrEmpty
	}

	seen := make(map[int]struct{}, len(procs))
	for i, p := range procs {
		if p.Pid <= 0 {
			return nil, errors.Wrapf(ErrInvalidPid, "pid %d", p.Pid)
		}
		if _, ok := seen[p.Pid]; ok {
			return nil, errors.Wrapf(ErrDuplicatePid, "pid %d", p.Pid)
		}
		seen[p.Pid] = struct{}{}

		exe, alive := t.resolver(p.Pid)
		if !alive {
			t.logger.Warn().Int("pid", p.Pid).Int("rank", p.Rank).Msg("process not found")
		}
		t.slots = append(t.slots, &Slot{
			Index: i,
			Pid:   p.Pid,
			Rank:  p.Rank,
			Host:  t.host,
			Exe:   exe,
			Alive: alive,
		})
		t.ranks = append(t.ranks, p.Rank)
	}

	return t, nil
}

// FromPids builds the process list for pids, ranked from base on.
func FromPids(pids, ranks []int, base int) ([]Process, error) {
	if len(ranks) > 0 && len(ranks) != len(pids) {
		return nil, errors.Wrapf(ErrRankMismatch, "%d pids, %d ranks", len(pids), len(ranks))
	}
	procs := make([]Process, len(pids))
	for i, pid := range pids {
		rank := base + i
		if len(ranks) > 0 {
			rank = ranks[i]
		}
		procs[i] = Process{Pid: pid, Rank: rank}
	}

	return procs, nil
}

// ResolveProcess looks pid up in the process table of the host.
func ResolveProcess(pid int) (string, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", false
	}
	name, err := p.Name()
	if err != nil {
		return "", true
	}

	return name, true
}

func (t *Table) Len() int {
	return len(t.slots)
}

func (t *Table) Slots() []*Slot {
	return t.slots
}

func (t *Table) Slot(i int) (*Slot, error) {
	if i < 0 || i >= len(t.slots) {
		return nil, errors.Wrapf(ErrSlotOutOfRange, "slot %d of %d", i, len(t.slots))
	}
	return t.slots[i], nil
}

// Lookup returns the slot of the process with the given rank.
func (t *Table) Lookup(rank int) (*Slot, bool) {
	for _, s := range t.slots {
		if s.Rank == rank {
			return s, true
		}
	}
	return nil, false
}

// MarkDead clears the liveness flag of slot i.
func (t *Table) MarkDead(i int) {
	if s, err := t.Slot(i); err == nil && s.Alive {
		s.Alive = false
		t.logger.Debug().Int("slot", i).Int("pid", s.Pid).Msg("process marked dead")
	}
}

// Live returns the number of slots still alive.
func (t *Table) Live() int {
	n := 0
	for _, s := range t.slots {
		if s.Alive {
			n++
		}
	}
	return n
}

// Ranks translates slots into the ranks of this table.
func (t *Table) Ranks() graph.RankTranslator {
	return t.ranks
}

func (t *Table) Host() string {
	return t.host
}
