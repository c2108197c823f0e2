package report_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/bitvector"
	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/report"
)

func session(t *testing.T) *graph.Graph {
	g := graph.New(graph.WithWidth(2))
	for slot, labels := range [][]string{{"main", "foo"}, {"main", "foo"}} {
		procs, err := bitvector.New(2)
		require.NoError(t, err)
		require.NoError(t, procs.Set(slot))
		_, err = g.AddTrace(labels, nil, procs, graph.NoThread)
		require.NoError(t, err)
	}
	return g
}

func TestNewReportWithOptions(t *testing.T) {
	slots := []*proctable.Slot{
		{Index: 0, Pid: 10, Rank: 4, Exe: "app", Alive: true},
		{Index: 1, Pid: 11, Rank: 5, Exe: "app"},
	}

	r := report.NewSessionReport(
		report.WithReportRank(1),
		report.WithReportHost("node01"),
		report.WithReportSampleMode("line|countrep"),
		report.WithReportRounds(3),
		report.WithReportProcesses(slots),
		report.WithReportGraph(session(t)),
	)

	require.Equal(t, 1, r.Rank)
	require.Equal(t, "node01", r.Host)
	require.Equal(t, "line|countrep", r.SampleMode)
	require.Equal(t, 3, r.Rounds)
	require.Equal(t, 2, r.Nodes)
	require.Equal(t, 2, r.Edges)
	require.Equal(t, []report.Process{
		{Slot: 0, Pid: 10, Rank: 4, Exe: "app", Alive: true},
		{Slot: 1, Pid: 11, Rank: 5, Exe: "app"},
	}, r.Processes)
	require.Equal(t, []report.Path{{Frames: "main;foo", Count: 2}}, r.Paths)
}

func TestWriteReportRoundTrip(t *testing.T) {
	r := report.NewSessionReport(
		report.WithReportRank(2),
		report.WithReportGraph(session(t)),
		report.WithReportProcesses(nil),
	)

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))

	parsed, err := report.ReadReport(&buf)
	require.NoError(t, err)
	require.Equal(t, r, parsed)
}

func TestWriteReportContainsExpectedFields(t *testing.T) {
	r := report.NewSessionReport(
		report.WithReportHost("node01"),
		report.WithReportGraph(session(t)),
	)

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))

	output := buf.String()
	require.Contains(t, output, `"host": "node01"`)
	require.Contains(t, output, `"frames": "main;foo"`)
	require.Contains(t, output, "sample_mode")
}

func TestReadReportMalformed(t *testing.T) {
	_, err := report.ReadReport(bytes.NewBufferString("{"))
	require.Error(t, err)
}
