package graph

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/maxgio92/xstat/pkg/bitvector"
)

// Leaf is a call path ending at a node without children.
type Leaf struct {
	ID     NodeID
	Labels []string
	Count  int
}

// childIndex maps each node to its children, ascending.
func (g *Graph) childIndex() map[NodeID][]NodeID {
	index := make(map[NodeID][]NodeID, g.edges.Len())
	for _, dst := range g.edges.Dsts() {
		src := g.edges.edges[dst].Src
		if src == dst {
			continue
		}
		index[src] = append(index[src], dst)
	}
	return index
}

// Leaves returns the call paths ending at nodes without children, sorted
// by descending participant count, then by id.
func (g *Graph) Leaves() []Leaf {
	children := g.childIndex()

	var leaves []Leaf
	for _, dst := range g.edges.Dsts() {
		if len(children[dst]) > 0 {
			continue
		}
		leaves = append(leaves, Leaf{
			ID:     dst,
			Labels: g.Path(dst),
			Count:  g.edges.edges[dst].Count,
		})
	}
	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].Count > leaves[j].Count
	})

	return leaves
}

// WriteDOT writes the graph in the Graphviz DOT language. Edges are labeled
// with the participant count and the participating ranks, or the
// representative rank in count+representative form.
func (g *Graph) WriteDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph G {\n")
	b.WriteString("\tnode [shape=record,style=filled,labeljust=c,height=0.2];\n")
	fmt.Fprintf(&b, "\t%d [label=%q];\n", RootID, RootLabel)
	for _, id := range g.IDs() {
		fmt.Fprintf(&b, "\t%d [label=%q];\n", id, g.nodes[id].Label)
	}
	for _, dst := range g.edges.Dsts() {
		e := g.edges.edges[dst]
		fmt.Fprintf(&b, "\t%d -> %d [label=%q];\n", e.Src, e.Dst, g.edgeLabel(e))
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func (g *Graph) edgeLabel(e *Edge) string {
	if g.countRep || e.Procs.Empty() {
		return fmt.Sprintf("%d:[%d]", e.Count, e.Rep)
	}

	ranks := make([]int, 0, e.Count)
	for _, slot := range e.Procs.Members() {
		ranks = append(ranks, g.ranks.Rank(slot))
	}
	return fmt.Sprintf("%d:[%s]", e.Count, RankList(ranks))
}

// RankList renders ranks as a sorted, comma separated list of ranges, like
// "0-3,7,9-10".
func RankList(ranks []int) string {
	if len(ranks) == 0 {
		return ""
	}
	sorted := append([]int(nil), ranks...)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, r := range sorted[1:] {
		if r == prev {
			continue
		}
		if r == prev+1 {
			prev = r
			continue
		}
		flush()
		start, prev = r, r
	}
	flush()

	return strings.Join(parts, ",")
}

// Profile converts the graph into a pprof profile. Each node contributes a
// sample valued with the processes whose traces end there; in
// count+representative form, where membership is unknown, leaves
// contribute their count.
func (g *Graph) Profile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "processes", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "traces", Unit: "count"},
		Period:     1,
	}

	locations := make(map[NodeID]*profile.Location, g.Len())
	for i, id := range g.IDs() {
		n := g.nodes[id]
		fn := &profile.Function{
			ID:         uint64(i + 1),
			Name:       n.Label,
			SystemName: n.Attrs[AttrFunction],
			Filename:   n.Attrs[AttrSource],
		}
		line, _ := strconv.ParseInt(n.Attrs[AttrLine], 10, 64)
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn, Line: line}},
		}
		if pc, err := strconv.ParseUint(strings.TrimPrefix(n.Attrs[AttrPC], "0x"), 16, 64); err == nil {
			loc.Address = pc
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		locations[id] = loc
	}

	children := g.childIndex()
	for _, dst := range g.edges.Dsts() {
		e := g.edges.edges[dst]

		value := g.selfCount(e, children[dst])
		if value == 0 {
			continue
		}

		var stack []*profile.Location
		for _, id := range g.pathIDs(dst) {
			if loc, ok := locations[id]; ok {
				stack = append(stack, loc)
			}
		}
		// pprof wants the leaf first.
		for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
			stack[i], stack[j] = stack[j], stack[i]
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{int64(value)},
		})
	}

	return p
}

func (g *Graph) selfCount(e *Edge, children []NodeID) int {
	if g.countRep || (e.Procs.Empty() && e.Count > 0) {
		if len(children) > 0 {
			return 0
		}
		return e.Count
	}

	self := e.Procs.Clone()
	for _, c := range children {
		if ce, ok := g.edges.edges[c]; ok && ce.Procs.Width() == self.Width() {
			self.AndNot(ce.Procs)
		}
	}
	return self.Count()
}

// pathIDs returns the node ids from the root to id, root excluded.
func (g *Graph) pathIDs(id NodeID) []NodeID {
	var ids []NodeID
	seen := make(map[NodeID]struct{})
	for id != RootID {
		if _, ok := seen[id]; ok {
			break
		}
		seen[id] = struct{}{}
		ids = append(ids, id)

		e, ok := g.edges.edges[id]
		if !ok {
			break
		}
		id = e.Src
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// InEdgeBytes returns the serialized process vector of the edge ending at
// id, or a zero-filled vector of the graph width when there is none.
func (g *Graph) InEdgeBytes(id NodeID) []byte {
	if e, ok := g.edges.edges[id]; ok {
		return e.Procs.Bytes()
	}
	return make([]byte, bitvector.Size(g.width))
}
