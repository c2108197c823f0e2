package ptrace

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/xstat/pkg/symtable"
)

// stopped is the wait status of a task stopped by SIGSTOP.
const stopped = unix.WaitStatus(0x7f | uint32(unix.SIGSTOP)<<8)

type fakeTracer struct {
	failWait int
	attached []int
	detached []int
}

func (f *fakeTracer) tracer() tracer {
	return tracer{
		attach: func(tid int) error {
			f.attached = append(f.attached, tid)
			return nil
		},
		detach: func(tid int) error {
			f.detached = append(f.detached, tid)
			return nil
		},
		wait: func(tid int) (unix.WaitStatus, error) {
			if tid == f.failWait {
				return 0, unix.EINTR
			}
			return stopped, nil
		},
	}
}

func newSelfWalker(t *testing.T, sys tracer) *Walker {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return &Walker{
		sys:      sys,
		pid:      os.Getpid(),
		exe:      exe,
		symtab:   symtable.NewELFSymTab(),
		maxDepth: DefaultMaxDepth,
		attached: make(map[int]struct{}),
		logger:   log.New(log.NewTestWriter(t)),
	}
}

func TestPauseSkipsTasksThatDidNotStop(t *testing.T) {
	fake := &fakeTracer{}
	w := newSelfWalker(t, fake.tracer())

	tids, err := w.tasks()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tids), 2)
	fake.failWait = tids[0]

	err = w.Pause()
	require.Error(t, err)
	require.True(t, errors.Is(err, unix.EINTR))
	require.Contains(t, fake.attached, tids[0])
	require.Equal(t, []int{tids[0]}, fake.detached)
	require.NotContains(t, w.attached, tids[0])
	require.Len(t, w.attached, len(fake.attached)-1)

	stoppedTids := make([]int, 0, len(w.attached))
	for tid := range w.attached {
		stoppedTids = append(stoppedTids, tid)
	}
	fake.detached = nil
	require.NoError(t, w.Resume())
	require.ElementsMatch(t, stoppedTids, fake.detached)
	require.Empty(t, w.attached)
}

func TestPauseSkipsExitedTasks(t *testing.T) {
	fake := &fakeTracer{}
	sys := fake.tracer()
	var exitedTid int
	sys.wait = func(tid int) (unix.WaitStatus, error) {
		if tid == exitedTid {
			return 0, nil
		}
		return stopped, nil
	}
	w := newSelfWalker(t, sys)

	tids, err := w.tasks()
	require.NoError(t, err)
	exitedTid = tids[len(tids)-1]

	require.NoError(t, w.Pause())
	require.NotContains(t, w.attached, exitedTid)
	require.Empty(t, fake.detached)
}
