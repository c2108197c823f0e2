package sample_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/cmd"
	"github.com/maxgio92/xstat/pkg/daemon"
	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/report"
	"github.com/maxgio92/xstat/pkg/sampler"
	"github.com/maxgio92/xstat/pkg/walker/walkertest"
)

type server struct {
	addr    string
	walkers []*walkertest.Walker
	served  chan error
}

func startDaemon(t *testing.T) *server {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	table, err := proctable.New(
		[]proctable.Process{{Pid: 30, Rank: 0}, {Pid: 31, Rank: 1}},
		proctable.WithResolver(func(int) (string, bool) { return "app", true }),
	)
	require.NoError(t, err)

	s := &server{served: make(chan error, 1)}
	factory := walkertest.NewFactory()
	for _, pid := range []int{30, 31} {
		w := walkertest.New(int64(pid), walkertest.Attempt{Frames: walkertest.Stack("main", "work")})
		s.walkers = append(s.walkers, w)
		factory.Add(pid, w)
	}

	d := daemon.New(sampler.New(table, sampler.WithLogger(logger)),
		daemon.WithFactory(factory),
		daemon.WithRank(1),
		daemon.WithLogger(logger),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.served <- d.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return s
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cmd.NewCommand(cmd.NewOptions(
		cmd.WithContext(context.Background()),
		cmd.WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
	))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"sample"}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestSampleText(t *testing.T) {
	s := startDaemon(t)

	out, err := execute(t, "--addr", s.addr, "--traces", "2", "--interval", "1ms")
	require.NoError(t, err)
	require.Contains(t, out, "     2  main > work\n")

	for _, w := range s.walkers {
		require.True(t, w.Detached)
		require.False(t, w.LeftStopped)
	}
}

func TestSampleJSON(t *testing.T) {
	s := startDaemon(t)

	out, err := execute(t, "--addr", s.addr, "--traces", "1", "--format", "json", "--mode", "countrep,line")
	require.NoError(t, err)

	r, err := report.ReadReport(bytes.NewBufferString(out))
	require.NoError(t, err)
	require.Equal(t, 1, r.Rank)
	require.Equal(t, "line|countrep", r.SampleMode)
	require.Equal(t, []report.Path{{Frames: "main;work", Count: 2}}, r.Paths)
}

func TestSampleFiles(t *testing.T) {
	dir := t.TempDir()

	t.Run("dot", func(t *testing.T) {
		s := startDaemon(t)
		path := filepath.Join(dir, "graph.dot")
		_, err := execute(t, "--addr", s.addr, "--traces", "1", "--format", "dot", "--output", path, "--status=false")
		require.NoError(t, err)

		dot, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(dot), `[label="work"]`)
		require.Contains(t, string(dot), `[label="2:[0-1]"]`)
	})

	t.Run("pprof", func(t *testing.T) {
		s := startDaemon(t)
		path := filepath.Join(dir, "profile.pb.gz")
		_, err := execute(t, "--addr", s.addr, "--traces", "1", "--format", "pprof", "--output", path, "--status=false")
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		p, err := profile.Parse(f)
		require.NoError(t, err)
		require.Len(t, p.Sample, 1)
		require.Equal(t, int64(2), p.Sample[0].Value[0])
	})
}

func TestSampleStopAndExit(t *testing.T) {
	s := startDaemon(t)

	_, err := execute(t, "--addr", s.addr, "--traces", "1", "--stop", "1", "--exit")
	require.NoError(t, err)
	require.False(t, s.walkers[0].LeftStopped)
	require.True(t, s.walkers[1].LeftStopped)

	select {
	case err := <-s.served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit")
	}
}

func TestSampleTerminate(t *testing.T) {
	s := startDaemon(t)

	_, err := execute(t, "--addr", s.addr, "--traces", "1", "--terminate")
	require.NoError(t, err)
	for _, w := range s.walkers {
		require.True(t, w.Terminated)
	}
}

func TestSampleInvalidArgs(t *testing.T) {
	tests := map[string][]string{
		"mode":   {"--mode", "bogus"},
		"format": {"--format", "svg"},
		"traces": {"--traces", "0"},
		"vars":   {"--vars", "2#a.c:1.0$x"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			// Nothing listens: the arguments are checked before dialing.
			_, err := execute(t, append([]string{"--addr", "127.0.0.1:1"}, args...)...)
			require.Error(t, err)
			require.NotContains(t, err.Error(), "connect")
		})
	}
}
