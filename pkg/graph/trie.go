package graph

import (
	"math"
	"sort"

	"github.com/maxgio92/xstat/internal/utils"
)

// NodeID identifies a call path. It is derived from the call path string
// only, hence the same path always yields the same id. Collisions are not
// detected.
type NodeID int32

const (
	// RootID is the implicit root every call path starts from.
	RootID    NodeID = 0
	RootLabel        = "/"
)

const (
	AttrFunction = "function"
	AttrSource   = "source"
	AttrLine     = "line"
	AttrModule   = "module"
	AttrPC       = "pc"
)

type Attrs map[string]string

type Node struct {
	ID    NodeID
	Label string
	Attrs Attrs
}

func (n *Node) clone() *Node {
	attrs := make(Attrs, len(n.Attrs))
	for k, v := range n.Attrs {
		attrs[k] = v
	}
	return &Node{ID: n.ID, Label: n.Label, Attrs: attrs}
}

// PathID hashes a call path string into a non-negative node id.
func PathID(path string) NodeID {
	return NodeID(utils.Hash(path) & math.MaxInt32)
}

// Trie maps call paths to nodes.
type Trie struct {
	nodes map[NodeID]*Node
}

func NewTrie() *Trie {
	return &Trie{nodes: make(map[NodeID]*Node)}
}

// InternFrame appends label to path and returns the id of the resulting
// call path together with the extended path. The node is created on first
// sight; attributes are overwritten by later calls.
func (t *Trie) InternFrame(path, label string, attrs Attrs) (NodeID, string) {
	path = utils.Concat(path, label)
	id := PathID(path)

	n, ok := t.nodes[id]
	if !ok {
		n = &Node{ID: id, Label: label, Attrs: make(Attrs, len(attrs))}
		t.nodes[id] = n
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}

	return id, path
}

// insert adds a copy of n unless a node with the same id exists.
func (t *Trie) insert(n *Node) {
	if _, ok := t.nodes[n.ID]; ok {
		return
	}
	t.nodes[n.ID] = n.clone()
}

func (t *Trie) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Label returns the label of id, the root label for RootID.
func (t *Trie) Label(id NodeID) string {
	if n, ok := t.nodes[id]; ok {
		return n.Label
	}
	if id == RootID {
		return RootLabel
	}
	return ""
}

func (t *Trie) Len() int {
	return len(t.nodes)
}

// IDs returns the node ids in ascending order.
func (t *Trie) IDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func (t *Trie) reset() {
	t.nodes = make(map[NodeID]*Node)
}
