package graph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/bitvector"
)

// NoThread is passed as thread id when thread sampling is disabled.
const NoThread int64 = -1

// Edge is the single incoming edge of a call path node.
type Edge struct {
	Src NodeID
	Dst NodeID

	// Procs holds the participating process slots. It is always retained,
	// also when only the compressed attributes are transmitted.
	Procs *bitvector.BitVector

	// Threads holds the participating thread bits, when thread sampling is
	// enabled.
	Threads *bitvector.BitVector

	// Count is the number of participating processes, Rep the lowest
	// participating rank and Sum the sum of the participating ranks.
	Count int
	Rep   int
	Sum   int64

	ThreadCount int
	ThreadRep   int64
	ThreadSum   int64
}

// EdgeTable holds at most one edge per destination node.
type EdgeTable struct {
	edges map[NodeID]*Edge
}

func NewEdgeTable() *EdgeTable {
	return &EdgeTable{edges: make(map[NodeID]*Edge)}
}

func (t *EdgeTable) Edge(dst NodeID) (*Edge, bool) {
	e, ok := t.edges[dst]
	return e, ok
}

func (t *EdgeTable) Len() int {
	return len(t.edges)
}

// Dsts returns the destination ids in ascending order.
func (t *EdgeTable) Dsts() []NodeID {
	ids := make([]NodeID, 0, len(t.edges))
	for id := range t.edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func (t *EdgeTable) reset() {
	t.edges = make(map[NodeID]*Edge)
}

// UpdateEdge merges participants, and the bit of threadID when thread
// sampling is enabled, into the edge ending at dst, creating it on first
// reference.
func (g *Graph) UpdateEdge(src, dst NodeID, participants *bitvector.BitVector, threadID int64) error {
	if participants.Width() != g.width {
		return errors.Wrapf(ErrMerge, "participants width %d, graph width %d", participants.Width(), g.width)
	}

	e, ok := g.edges.edges[dst]
	if !ok {
		var err error
		if e, err = g.newEdge(src, dst); err != nil {
			return err
		}
		g.edges.edges[dst] = e
	}

	g.absorb(e, participants)

	if g.threads && e.Threads != nil && threadID != NoThread {
		if bit := g.threadTable.Bit(threadID, g.threadWidth); bit >= 0 {
			if err := e.Threads.Set(bit); err != nil {
				return errors.Wrap(ErrMerge, err.Error())
			}
		}
		g.deriveThreads(e)
	}

	return nil
}

func (g *Graph) newEdge(src, dst NodeID) (*Edge, error) {
	procs, err := bitvector.New(g.width)
	if err != nil {
		return nil, errors.Wrap(ErrAllocation, err.Error())
	}
	e := &Edge{Src: src, Dst: dst, Procs: procs, Rep: -1}

	if g.threads {
		if e.Threads, err = bitvector.New(g.threadWidth); err != nil {
			return nil, errors.Wrap(ErrAllocation, err.Error())
		}
		e.ThreadRep = -1
	}

	return e, nil
}

// absorb ORs participants into the edge process vector and updates the
// derived attributes with the newly set bits only.
func (g *Graph) absorb(e *Edge, participants *bitvector.BitVector) {
	fresh := participants.Clone()
	fresh.AndNot(e.Procs)
	if fresh.Empty() {
		return
	}
	e.Procs.Merge(fresh)

	for _, slot := range fresh.Members() {
		rank := g.ranks.Rank(slot)
		e.Count++
		e.Sum += int64(rank)
		if e.Rep < 0 || rank < e.Rep {
			e.Rep = rank
		}
	}
}

// derive recomputes the process attributes from the full bit vector.
func (g *Graph) derive(e *Edge) {
	e.Count, e.Rep, e.Sum = 0, -1, 0
	for _, slot := range e.Procs.Members() {
		rank := g.ranks.Rank(slot)
		e.Count++
		e.Sum += int64(rank)
		if e.Rep < 0 || rank < e.Rep {
			e.Rep = rank
		}
	}
}

func (g *Graph) deriveThreads(e *Edge) {
	e.ThreadCount, e.ThreadRep, e.ThreadSum = 0, -1, 0
	if e.Threads == nil {
		return
	}
	for _, bit := range e.Threads.Members() {
		e.ThreadCount++
		e.ThreadSum += int64(bit)
	}
	if first := e.Threads.First(); first >= 0 {
		if id, ok := g.threadTable.ID(first); ok {
			e.ThreadRep = id
		} else {
			e.ThreadRep = int64(first)
		}
	}
}
