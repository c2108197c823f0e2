package graph_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/bitvector"
	"github.com/maxgio92/xstat/pkg/graph"
)

func procs(t *testing.T, width int, slots ...int) *bitvector.BitVector {
	t.Helper()
	b, err := bitvector.New(width)
	require.NoError(t, err)
	for _, s := range slots {
		require.NoError(t, b.Set(s))
	}
	return b
}

func addTrace(t *testing.T, g *graph.Graph, slot int, labels ...string) graph.NodeID {
	t.Helper()
	id, err := g.AddTrace(labels, nil, procs(t, g.Width(), slot), graph.NoThread)
	require.NoError(t, err)
	return id
}

func pathID(labels ...string) graph.NodeID {
	return graph.PathID(strings.Join(labels, ""))
}

func TestInternFrameIsStable(t *testing.T) {
	a := graph.NewTrie()
	b := graph.NewTrie()

	id1, path := a.InternFrame("", "main", nil)
	id2, _ := a.InternFrame(path, "foo", nil)

	id3, path := b.InternFrame("", "main", nil)
	id4, _ := b.InternFrame(path, "foo", graph.Attrs{graph.AttrLine: "3"})

	require.Equal(t, id1, id3)
	require.Equal(t, id2, id4)
	require.NotEqual(t, id1, id2)
	require.Equal(t, pathID("main", "foo"), id2)

	// Same call again, same node.
	again, _ := a.InternFrame("main", "foo", nil)
	require.Equal(t, id2, again)
	require.Equal(t, 2, a.Len())
}

func TestInternFrameAttributesLastWriterWins(t *testing.T) {
	trie := graph.NewTrie()
	id, _ := trie.InternFrame("", "main", graph.Attrs{graph.AttrLine: "1", graph.AttrSource: "a.c"})
	trie.InternFrame("", "main", graph.Attrs{graph.AttrLine: "2"})

	n, ok := trie.Node(id)
	require.True(t, ok)
	require.Equal(t, "main", n.Label)
	require.Equal(t, "2", n.Attrs[graph.AttrLine])
	require.Equal(t, "a.c", n.Attrs[graph.AttrSource])
}

func TestThreeProcessScenario(t *testing.T) {
	g := graph.New(graph.WithWidth(3))
	addTrace(t, g, 0, "main", "foo", "bar")
	addTrace(t, g, 1, "main", "foo", "bar")
	addTrace(t, g, 2, "main", "baz")

	require.Equal(t, 4, g.Len())
	require.Equal(t, 4, g.Edges().Len())

	tests := []struct {
		labels []string
		want   []int
		src    graph.NodeID
	}{
		{[]string{"main"}, []int{0, 1, 2}, graph.RootID},
		{[]string{"main", "foo"}, []int{0, 1}, pathID("main")},
		{[]string{"main", "foo", "bar"}, []int{0, 1}, pathID("main", "foo")},
		{[]string{"main", "baz"}, []int{2}, pathID("main")},
	}
	for _, tt := range tests {
		e, ok := g.Edge(pathID(tt.labels...))
		require.True(t, ok, "edge into %v", tt.labels)
		require.Equal(t, tt.want, e.Procs.Members(), "edge into %v", tt.labels)
		require.Equal(t, tt.src, e.Src)
		require.Equal(t, len(tt.want), e.Count)
		require.Equal(t, tt.want[0], e.Rep)
	}

	require.Equal(t, []string{"main", "foo", "bar"}, g.Path(pathID("main", "foo", "bar")))
	require.ElementsMatch(t, []graph.NodeID{pathID("main", "foo"), pathID("main", "baz")}, g.Children(pathID("main")))
}

func TestOneEdgePerDestination(t *testing.T) {
	g := graph.New(graph.WithWidth(4))
	dst := graph.PathID("x")

	require.NoError(t, g.UpdateEdge(graph.RootID, dst, procs(t, 4, 0), graph.NoThread))
	require.NoError(t, g.UpdateEdge(graph.PathID("other"), dst, procs(t, 4, 3), graph.NoThread))

	require.Equal(t, 1, g.Edges().Len())
	e, ok := g.Edge(dst)
	require.True(t, ok)
	require.Equal(t, graph.RootID, e.Src)
	require.Equal(t, []int{0, 3}, e.Procs.Members())
}

func TestUpdateEdgeWidthMismatch(t *testing.T) {
	g := graph.New(graph.WithWidth(4))
	err := g.UpdateEdge(graph.RootID, 1, procs(t, 5, 0), graph.NoThread)
	require.ErrorIs(t, err, graph.ErrMerge)
}

func TestCountRepWithRankTable(t *testing.T) {
	g := graph.New(
		graph.WithWidth(3),
		graph.WithCountRep(true),
		graph.WithRanks(graph.TableRanks{30, 10, 20}),
	)
	addTrace(t, g, 0, "main")
	addTrace(t, g, 1, "main")
	addTrace(t, g, 2, "main")
	// Re-adding a member changes nothing.
	addTrace(t, g, 1, "main")

	e, ok := g.Edge(pathID("main"))
	require.True(t, ok)
	require.Equal(t, 3, e.Count)
	require.Equal(t, 10, e.Rep)
	require.Equal(t, int64(60), e.Sum)
	// The raw vector is retained.
	require.Equal(t, []int{0, 1, 2}, e.Procs.Members())
}

func TestThreadBitsWrap(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	table := graph.NewThreadTable(logger)

	g := graph.New(
		graph.WithWidth(1),
		graph.WithThreads(2),
		graph.WithThreadTable(table),
	)
	for _, tid := range []int64{100, 200, 300, 400} {
		_, err := g.AddTrace([]string{"main"}, nil, procs(t, 1, 0), tid)
		require.NoError(t, err)
	}

	e, ok := g.Edge(pathID("main"))
	require.True(t, ok)
	require.Equal(t, []int{0, 1}, e.Threads.Members())
	require.Equal(t, 2, e.ThreadCount)
	require.Equal(t, int64(100), e.ThreadRep)
	require.Equal(t, int64(1), e.ThreadSum)

	require.Equal(t, 4, table.Len())
	require.Equal(t, 1, strings.Count(buf.String(), "width exceeded"))

	id, ok := table.ID(2)
	require.True(t, ok)
	require.Equal(t, int64(300), id)
	_, ok = table.ID(9)
	require.False(t, ok)
}

func snapshotA(t *testing.T) *graph.Graph {
	g := graph.New(graph.WithWidth(3))
	addTrace(t, g, 0, "main", "foo", "bar")
	addTrace(t, g, 1, "main", "foo")
	return g
}

func snapshotB(t *testing.T) *graph.Graph {
	g := graph.New(graph.WithWidth(3))
	addTrace(t, g, 2, "main", "foo", "bar")
	addTrace(t, g, 0, "main", "baz")
	return g
}

func TestFoldIsIdempotent(t *testing.T) {
	once := graph.New(graph.WithWidth(3))
	require.NoError(t, once.Fold(snapshotA(t)))

	twice := graph.New(graph.WithWidth(3))
	a := snapshotA(t)
	require.NoError(t, twice.Fold(a))
	require.NoError(t, twice.Fold(a))

	require.Equal(t, once.Encode(), twice.Encode())
	require.Equal(t, a.Encode(), once.Encode())
}

func TestFoldIsCommutative(t *testing.T) {
	ab := graph.New(graph.WithWidth(3))
	require.NoError(t, ab.Fold(snapshotA(t)))
	require.NoError(t, ab.Fold(snapshotB(t)))

	ba := graph.New(graph.WithWidth(3))
	require.NoError(t, ba.Fold(snapshotB(t)))
	require.NoError(t, ba.Fold(snapshotA(t)))

	require.Equal(t, ab.Encode(), ba.Encode())

	e, ok := ab.Edge(pathID("main", "foo", "bar"))
	require.True(t, ok)
	require.Equal(t, []int{0, 2}, e.Procs.Members())
	require.Equal(t, 2, e.Count)
	require.Equal(t, 0, e.Rep)

	e, ok = ab.Edge(pathID("main"))
	require.True(t, ok)
	require.Equal(t, 3, e.Count)
}

func TestFoldDoesNotAliasSnapshot(t *testing.T) {
	session := graph.New(graph.WithWidth(3))
	snap := snapshotA(t)
	require.NoError(t, session.Fold(snap))

	snap.Clear()
	require.Equal(t, 3, session.Len())
	require.Equal(t, 0, snap.Len())
}

func TestFoldIncompatible(t *testing.T) {
	session := graph.New(graph.WithWidth(3))
	require.NoError(t, session.Fold(snapshotA(t)))
	before := session.Encode()

	other := graph.New(graph.WithWidth(4))
	addTrace(t, other, 3, "main")
	require.ErrorIs(t, session.Fold(other), graph.ErrMerge)

	threaded := graph.New(graph.WithWidth(3), graph.WithThreads(8))
	require.ErrorIs(t, session.Fold(threaded), graph.ErrMerge)

	require.Equal(t, before, session.Encode())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := graph.New(graph.WithWidth(70), graph.WithThreads(16))
	for slot := 0; slot < 70; slot += 7 {
		_, err := g.AddTrace(
			[]string{"main", "work"},
			[]graph.Attrs{{graph.AttrFunction: "main"}, {graph.AttrLine: "12", graph.AttrSource: "w.c"}},
			procs(t, 70, slot),
			int64(slot+1000),
		)
		require.NoError(t, err)
	}

	buf := g.Encode()
	decoded, err := graph.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, buf, decoded.Encode())
	require.Equal(t, 70, decoded.Width())
	require.True(t, decoded.Threads())
	require.Equal(t, 16, decoded.ThreadWidth())

	n, ok := decoded.Node(pathID("main", "work"))
	require.True(t, ok)
	require.Equal(t, "w.c", n.Attrs[graph.AttrSource])

	e, ok := decoded.Edge(pathID("main", "work"))
	require.True(t, ok)
	orig, _ := g.Edge(pathID("main", "work"))
	require.True(t, orig.Procs.Equal(e.Procs))
	require.True(t, orig.Threads.Equal(e.Threads))
}

func TestEncodeCountRepDropsVectors(t *testing.T) {
	full := graph.New(graph.WithWidth(3000))
	compressed := graph.New(graph.WithWidth(3000), graph.WithCountRep(true))
	for _, g := range []*graph.Graph{full, compressed} {
		for slot := 0; slot < 3000; slot += 100 {
			addTrace(t, g, slot, "main", "foo")
		}
	}
	require.Less(t, len(compressed.Encode()), len(full.Encode()))

	decoded, err := graph.Decode(compressed.Encode())
	require.NoError(t, err)
	require.True(t, decoded.CountRep())
	e, ok := decoded.Edge(pathID("main", "foo"))
	require.True(t, ok)
	require.Equal(t, 30, e.Count)
	require.Equal(t, 0, e.Rep)
	require.True(t, e.Procs.Empty())
}

func TestDecodeMalformed(t *testing.T) {
	_, err := graph.Decode([]byte{0xff})
	require.ErrorIs(t, err, graph.ErrDecode)

	g := graph.New(graph.WithWidth(128))
	addTrace(t, g, 100, "main")
	buf := g.Encode()
	_, err = graph.Decode(buf[:len(buf)-3])
	require.ErrorIs(t, err, graph.ErrDecode)
}

func TestInEdgeBytes(t *testing.T) {
	g := graph.New(graph.WithWidth(3))
	addTrace(t, g, 2, "main")

	require.Equal(t, procs(t, 3, 2).Bytes(), g.InEdgeBytes(pathID("main")))
	require.Equal(t, make([]byte, 8), g.InEdgeBytes(graph.PathID("unknown")))
}

func TestClear(t *testing.T) {
	g := snapshotA(t)
	g.Clear()
	require.Equal(t, 0, g.Len())
	require.Equal(t, 0, g.Edges().Len())
	require.Equal(t, 3, g.Width())
}
