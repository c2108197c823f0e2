// Package graph implements the call path trie and its edge table, the
// structure every daemon builds from sampled stack traces and hands to its
// parent.
//
// A Graph is either a snapshot, rebuilt for every sampling round, or a
// session, accumulating snapshots with Fold. Both share the same
// representation: nodes keyed by the hash of their call path, and one
// incoming edge per node labeled with the set of processes that went
// through it.
package graph

import (
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/pkg/bitvector"
)

type Graph struct {
	*Trie
	edges *EdgeTable

	*Options
}

func New(opts ...Option) *Graph {
	g := &Graph{
		Trie:    NewTrie(),
		edges:   NewEdgeTable(),
		Options: &Options{logger: log.Nop()},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ranks == nil {
		g.ranks = IdentityRanks{}
	}
	if g.threadTable == nil {
		g.threadTable = NewThreadTable(g.logger)
	}

	return g
}

func (g *Graph) Edges() *EdgeTable {
	return g.edges
}

func (g *Graph) Edge(dst NodeID) (*Edge, bool) {
	return g.edges.Edge(dst)
}

func (g *Graph) Width() int {
	return g.width
}

func (g *Graph) ThreadWidth() int {
	return g.threadWidth
}

func (g *Graph) Threads() bool {
	return g.threads
}

func (g *Graph) CountRep() bool {
	return g.countRep
}

// Compatible reports whether two graphs can be folded into each other.
func (g *Graph) Compatible(other *Graph) bool {
	return g.width == other.width &&
		g.threads == other.threads &&
		(!g.threads || g.threadWidth == other.threadWidth)
}

// Clear drops every node and edge, keeping the configuration.
func (g *Graph) Clear() {
	g.Trie.reset()
	g.edges.reset()
}

// AddTrace interns a root-first sequence of frames and adds participants
// to every edge along it. It returns the id of the last frame.
func (g *Graph) AddTrace(labels []string, attrs []Attrs, participants *bitvector.BitVector, threadID int64) (NodeID, error) {
	var (
		path string
		src  = RootID
	)
	for i, label := range labels {
		var a Attrs
		if i < len(attrs) {
			a = attrs[i]
		}
		var dst NodeID
		dst, path = g.InternFrame(path, label, a)
		if err := g.UpdateEdge(src, dst, participants, threadID); err != nil {
			return src, err
		}
		src = dst
	}

	return src, nil
}

// Fold merges snapshot into g. It either applies the whole snapshot or,
// on incompatible graphs, nothing.
func (g *Graph) Fold(snapshot *Graph) error {
	if !g.Compatible(snapshot) {
		return errors.Wrapf(ErrMerge,
			"incompatible graphs: width %d/%d, threads %t/%t, thread width %d/%d",
			g.width, snapshot.width, g.threads, snapshot.threads, g.threadWidth, snapshot.threadWidth)
	}
	for _, e := range snapshot.edges.edges {
		if e.Procs.Width() != g.width {
			return errors.Wrapf(ErrMerge, "edge %d width %d, graph width %d", e.Dst, e.Procs.Width(), g.width)
		}
		if g.threads && (e.Threads == nil || e.Threads.Width() != g.threadWidth) {
			return errors.Wrapf(ErrMerge, "edge %d has no thread vector of width %d", e.Dst, g.threadWidth)
		}
	}

	for _, n := range snapshot.nodes {
		g.insert(n)
	}
	for dst, e := range snapshot.edges.edges {
		mine, ok := g.edges.edges[dst]
		if !ok {
			mine = &Edge{Src: e.Src, Dst: dst, Procs: e.Procs.Clone()}
			if e.Threads != nil {
				mine.Threads = e.Threads.Clone()
			}
			g.edges.edges[dst] = mine
			g.derive(mine)
		} else {
			g.absorb(mine, e.Procs)
			if mine.Threads != nil && e.Threads != nil {
				mine.Threads.Merge(e.Threads)
			}
		}
		if g.threads {
			g.deriveThreads(mine)
		}
	}

	return nil
}

// Children returns the destination ids of the edges leaving id, ascending.
func (g *Graph) Children(id NodeID) []NodeID {
	var children []NodeID
	for _, dst := range g.edges.Dsts() {
		e := g.edges.edges[dst]
		if e.Src == id && dst != id {
			children = append(children, dst)
		}
	}
	return children
}

// Path returns the labels from the root to id, root excluded.
func (g *Graph) Path(id NodeID) []string {
	ids := g.pathIDs(id)
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = g.Label(id)
	}
	return labels
}
