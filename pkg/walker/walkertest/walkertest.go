// Package walkertest provides a scripted walker.Walker for tests.
package walkertest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/walker"
)

// Attempt is the outcome of one Walk call.
type Attempt struct {
	Frames []walker.Frame
	Err    error
	// Exit makes the process exit during the walk.
	Exit bool
}

// Stack builds root-first frames from function names and returns them
// innermost first, as walkers do.
func Stack(functions ...string) []walker.Frame {
	frames := make([]walker.Frame, len(functions))
	for i, fn := range functions {
		frames[len(functions)-1-i] = walker.Frame{Function: fn}
	}
	return frames
}

// Walker replays a script of attempts per thread. Once a thread's script is
// exhausted its last attempt repeats.
type Walker struct {
	mu sync.Mutex

	Script      map[int64][]Attempt
	ThreadList  []walker.Thread
	Dead        bool
	PauseErr    error
	ResumeErr   error
	Pauses      int
	Resumes     int
	Walks       int
	Terminated  bool
	Detached    bool
	LeftStopped bool
	LastOptions walker.WalkOptions

	paused bool
	cursor map[int64]int
}

func New(pid int64, attempts ...Attempt) *Walker {
	return &Walker{
		Script:     map[int64][]Attempt{pid: attempts},
		ThreadList: []walker.Thread{{ID: pid, Main: true}},
		cursor:     make(map[int64]int),
	}
}

func (w *Walker) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Pauses++
	if w.PauseErr != nil {
		return w.PauseErr
	}
	w.paused = true
	return nil
}

func (w *Walker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Resumes++
	if w.ResumeErr != nil {
		return w.ResumeErr
	}
	w.paused = false
	return nil
}

func (w *Walker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Walker) Threads() ([]walker.Thread, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Dead {
		return nil, walker.ErrProcessGone
	}
	return w.ThreadList, nil
}

func (w *Walker) Walk(thread walker.Thread, opts walker.WalkOptions) ([]walker.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Walks++
	w.LastOptions = opts
	if w.Dead {
		return nil, errors.Wrap(walker.ErrStackWalk, walker.ErrProcessGone.Error())
	}

	script := w.Script[thread.ID]
	if len(script) == 0 {
		return nil, errors.Wrapf(walker.ErrStackWalk, "no script for thread %d", thread.ID)
	}
	i := w.cursor[thread.ID]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		w.cursor[thread.ID] = i + 1
	}

	if script[i].Exit {
		w.Dead = true
		return nil, errors.Wrap(walker.ErrStackWalk, walker.ErrProcessGone.Error())
	}

	return script[i].Frames, script[i].Err
}

func (w *Walker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.Dead
}

func (w *Walker) Terminate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Terminated = true
	w.Dead = true
	return nil
}

func (w *Walker) Detach(leaveStopped bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Detached = true
	w.LeftStopped = leaveStopped
	w.paused = leaveStopped
	return nil
}

// Factory hands out the walkers registered by pid. Pids without a walker
// fail to attach.
type Factory struct {
	Walkers map[int]*Walker
}

func NewFactory() *Factory {
	return &Factory{Walkers: make(map[int]*Walker)}
}

func (f *Factory) Add(pid int, w *Walker) *Factory {
	f.Walkers[pid] = w
	return f
}

func (f *Factory) Attach(slot *proctable.Slot) (walker.Walker, error) {
	w, ok := f.Walkers[slot.Pid]
	if !ok {
		return nil, errors.Wrapf(walker.ErrProcessGone, "pid %d", slot.Pid)
	}
	return w, nil
}
