// Package walker defines the contract between the sampling controller and
// the collaborator that stops processes and unwinds their stacks.
package walker

import (
	"github.com/maxgio92/xstat/pkg/proctable"
)

// Frame is one resolved stack frame. Empty strings and zero values mean the
// information is not available.
type Frame struct {
	Function string
	Source   string
	Line     int
	Module   string
	Offset   uint64
	PC       uint64

	// Vars holds the values of the requested variables visible in this
	// frame, keyed by name.
	Vars map[string]string
}

type Thread struct {
	ID   int64
	Main bool
}

// VarRequest asks for the value of Name in the frame Depth levels above
// the frame executing File:Line.
type VarRequest struct {
	File  string
	Line  int
	Depth int
	Name  string
}

type WalkOptions struct {
	Vars []VarRequest
}

// Walker controls one target process.
type Walker interface {
	// Pause stops every thread of the process.
	Pause() error
	Resume() error

	// Threads lists the threads of a paused process.
	Threads() ([]Thread, error)

	// Walk unwinds the stack of thread, innermost frame first.
	Walk(thread Thread, opts WalkOptions) ([]Frame, error)

	// Alive reports whether the process still exists.
	Alive() bool

	Terminate() error

	// Detach releases the process, leaving it stopped if requested.
	Detach(leaveStopped bool) error
}

// Factory creates walkers for process slots.
type Factory interface {
	Attach(slot *proctable.Slot) (Walker, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(slot *proctable.Slot) (Walker, error)

func (f FactoryFunc) Attach(slot *proctable.Slot) (Walker, error) {
	return f(slot)
}

// MainThread is the thread walked when thread sampling is disabled.
func MainThread(slot *proctable.Slot) Thread {
	return Thread{ID: int64(slot.Pid), Main: true}
}
