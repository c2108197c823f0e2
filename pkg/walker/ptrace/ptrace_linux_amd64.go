//go:build linux && amd64

// Package ptrace walks the stacks of live processes with ptrace and frame
// pointer unwinding.
//
// Every ptrace request for a tracee must come from the thread that
// attached it: callers keep all calls on one goroutine locked to its OS
// thread.
package ptrace

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/symtable"
	"github.com/maxgio92/xstat/pkg/walker"
)

type Factory struct {
	tabs map[string]*symtable.ELFSymTab
	*Options
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		tabs: make(map[string]*symtable.ELFSymTab),
		Options: &Options{
			maxDepth: DefaultMaxDepth,
			logger:   log.Nop(),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "ptrace").Logger()

	return f
}

// Attach prepares a walker for slot. The process keeps running until the
// first Pause.
func (f *Factory) Attach(slot *proctable.Slot) (walker.Walker, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", slot.Pid))
	if err != nil {
		return nil, errors.Wrapf(walker.ErrProcessGone, "pid %d: %v", slot.Pid, err)
	}

	tab, ok := f.tabs[exe]
	if !ok {
		tab = symtable.NewELFSymTab(symtable.WithLogger(f.logger))
		if err := tab.Load(exe); err != nil {
			f.logger.Warn().Err(err).Str("exe", exe).Msg("frames will not be symbolized")
		}
		f.tabs[exe] = tab
	}

	w := &Walker{
		sys:      sysTracer,
		pid:      slot.Pid,
		exe:      exe,
		symtab:   tab,
		maxDepth: f.maxDepth,
		attached: make(map[int]struct{}),
		logger:   f.logger.With().Int("pid", slot.Pid).Logger(),
	}
	if err := w.refreshMappings(); err != nil {
		return nil, errors.Wrapf(walker.ErrProcessGone, "pid %d: %v", slot.Pid, err)
	}

	return w, nil
}

// tracer issues the ptrace requests that stop and release tasks.
type tracer struct {
	attach func(tid int) error
	detach func(tid int) error
	wait   func(tid int) (unix.WaitStatus, error)
}

var sysTracer = tracer{
	attach: unix.PtraceAttach,
	detach: unix.PtraceDetach,
	wait: func(tid int) (unix.WaitStatus, error) {
		var status unix.WaitStatus
		_, err := unix.Wait4(tid, &status, unix.WALL, nil)
		return status, err
	},
}

type Walker struct {
	sys      tracer
	pid      int
	exe      string
	symtab   *symtable.ELFSymTab
	maps     Mappings
	bias     uint64
	maxDepth int
	attached map[int]struct{}
	logger   log.Logger
}

func (w *Walker) refreshMappings() error {
	maps, err := readMappings(w.pid)
	if err != nil {
		return err
	}
	w.maps = maps
	w.bias = maps.Bias(w.exe, w.symtab.PIE())

	return nil
}

func (w *Walker) tasks() ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", w.pid))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)

	return tids, nil
}

// Pause attaches to every task of the process and waits for it to stop.
func (w *Walker) Pause() error {
	tids, err := w.tasks()
	if err != nil {
		return errors.Wrapf(walker.ErrProcessGone, "pid %d: %v", w.pid, err)
	}

	var result *multierror.Error
	for _, tid := range tids {
		if _, ok := w.attached[tid]; ok {
			continue
		}
		if err := w.sys.attach(tid); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			result = multierror.Append(result, errors.Wrapf(err, "attach %d", tid))
			continue
		}
		status, err := w.sys.wait(tid)
		switch {
		case err != nil:
			w.sys.detach(tid)
			result = multierror.Append(result, errors.Wrapf(err, "wait %d", tid))
			continue
		case status.Exited() || status.Signaled():
			continue
		case !status.Stopped():
			w.sys.detach(tid)
			result = multierror.Append(result, errors.Errorf("task %d did not stop: status %#x", tid, uint32(status)))
			continue
		}
		w.attached[tid] = struct{}{}
	}
	if len(w.attached) == 0 {
		return errors.Wrapf(walker.ErrProcessGone, "pid %d", w.pid)
	}
	if err := w.refreshMappings(); err != nil {
		w.logger.Debug().Err(err).Msg("failed to refresh mappings")
	}

	return result.ErrorOrNil()
}

// Resume detaches from every task, letting them run.
func (w *Walker) Resume() error {
	var result *multierror.Error
	for tid := range w.attached {
		if err := w.sys.detach(tid); err != nil && !errors.Is(err, unix.ESRCH) {
			result = multierror.Append(result, errors.Wrapf(err, "detach %d", tid))
		}
		delete(w.attached, tid)
	}

	return result.ErrorOrNil()
}

func (w *Walker) Threads() ([]walker.Thread, error) {
	tids := make([]int, 0, len(w.attached))
	for tid := range w.attached {
		tids = append(tids, tid)
	}
	if len(tids) == 0 {
		return nil, errors.Wrapf(walker.ErrNotPaused, "pid %d", w.pid)
	}
	sort.Ints(tids)

	threads := []walker.Thread{{ID: int64(w.pid), Main: true}}
	for _, tid := range tids {
		if tid != w.pid {
			threads = append(threads, walker.Thread{ID: int64(tid)})
		}
	}

	return threads, nil
}

// Walk unwinds the frame pointer chain of a stopped thread.
func (w *Walker) Walk(thread walker.Thread, _ walker.WalkOptions) ([]walker.Frame, error) {
	tid := int(thread.ID)
	if _, ok := w.attached[tid]; !ok {
		return nil, errors.Wrapf(walker.ErrNotPaused, "thread %d", tid)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return nil, errors.Wrapf(walker.ErrStackWalk, "registers of thread %d: %v", tid, err)
	}

	frames := []walker.Frame{w.frame(regs.Rip, false)}
	buf := make([]byte, 16)
	for fp := regs.Rbp; fp != 0 && len(frames) < w.maxDepth; {
		if _, err := unix.PtracePeekData(tid, uintptr(fp), buf); err != nil {
			break
		}
		next := binary.LittleEndian.Uint64(buf[0:8])
		ret := binary.LittleEndian.Uint64(buf[8:16])
		if ret == 0 {
			break
		}
		frames = append(frames, w.frame(ret, true))
		if next <= fp {
			break
		}
		fp = next
	}

	return frames, nil
}

// frame symbolizes pc. Return addresses are looked up one byte earlier so
// that they fall into the calling instruction.
func (w *Walker) frame(pc uint64, ret bool) walker.Frame {
	f := walker.Frame{PC: pc}
	addr := pc
	if ret {
		addr--
	}

	m, ok := w.maps.Find(addr)
	if !ok {
		return f
	}
	f.Module = m.Path
	f.Offset = addr - m.Start + m.Offset

	if m.Path != w.exe {
		return f
	}
	if sym, err := w.symtab.Lookup(addr - w.bias); err == nil {
		f.Function = sym.Name
	}
	if line, ok := w.symtab.LineFor(addr - w.bias); ok {
		f.Source = line.File
		f.Line = line.Line
	}

	return f
}

func (w *Walker) Alive() bool {
	ok, err := process.PidExists(int32(w.pid))
	return err == nil && ok
}

func (w *Walker) Terminate() error {
	if err := unix.Kill(w.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "kill %d", w.pid)
	}
	w.attached = make(map[int]struct{})

	return nil
}

func (w *Walker) Detach(leaveStopped bool) error {
	err := w.Resume()
	if leaveStopped {
		if kerr := unix.Kill(w.pid, unix.SIGSTOP); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
			err = multierror.Append(err, errors.Wrapf(kerr, "stop %d", w.pid))
		}
	}

	return err
}
