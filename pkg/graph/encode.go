package graph

import (
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/maxgio92/xstat/pkg/bitvector"
)

// Field numbers of the serialized graph.
const (
	fieldWidth       protowire.Number = 1
	fieldThreadWidth protowire.Number = 2
	fieldThreads     protowire.Number = 3
	fieldCountRep    protowire.Number = 4
	fieldNode        protowire.Number = 5
	fieldEdge        protowire.Number = 6
)

const (
	fieldNodeID    protowire.Number = 1
	fieldNodeLabel protowire.Number = 2
	fieldNodeAttr  protowire.Number = 3

	fieldAttrKey   protowire.Number = 1
	fieldAttrValue protowire.Number = 2
)

const (
	fieldEdgeSrc         protowire.Number = 1
	fieldEdgeDst         protowire.Number = 2
	fieldEdgeProcs       protowire.Number = 3
	fieldEdgeCount       protowire.Number = 4
	fieldEdgeRep         protowire.Number = 5
	fieldEdgeSum         protowire.Number = 6
	fieldEdgeThreads     protowire.Number = 7
	fieldEdgeThreadCount protowire.Number = 8
	fieldEdgeThreadRep   protowire.Number = 9
	fieldEdgeThreadSum   protowire.Number = 10
)

// Encode serializes the graph. Nodes, edges and attributes are written in
// ascending order, so equal graphs encode to equal bytes. In
// count+representative form the bit vectors are left out.
func (g *Graph) Encode() []byte {
	var b []byte
	b = appendVarint(b, fieldWidth, uint64(g.width))
	b = appendVarint(b, fieldThreadWidth, uint64(g.threadWidth))
	b = appendVarint(b, fieldThreads, boolToVarint(g.threads))
	b = appendVarint(b, fieldCountRep, boolToVarint(g.countRep))

	for _, id := range g.IDs() {
		b = protowire.AppendTag(b, fieldNode, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(g.nodes[id]))
	}
	for _, dst := range g.edges.Dsts() {
		b = protowire.AppendTag(b, fieldEdge, protowire.BytesType)
		b = protowire.AppendBytes(b, g.encodeEdge(g.edges.edges[dst]))
	}

	return b
}

func encodeNode(n *Node) []byte {
	var b []byte
	b = appendVarint(b, fieldNodeID, uint64(n.ID))
	b = protowire.AppendTag(b, fieldNodeLabel, protowire.BytesType)
	b = protowire.AppendString(b, n.Label)

	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var attr []byte
		attr = protowire.AppendTag(attr, fieldAttrKey, protowire.BytesType)
		attr = protowire.AppendString(attr, k)
		attr = protowire.AppendTag(attr, fieldAttrValue, protowire.BytesType)
		attr = protowire.AppendString(attr, n.Attrs[k])

		b = protowire.AppendTag(b, fieldNodeAttr, protowire.BytesType)
		b = protowire.AppendBytes(b, attr)
	}

	return b
}

func (g *Graph) encodeEdge(e *Edge) []byte {
	var b []byte
	b = appendVarint(b, fieldEdgeSrc, uint64(e.Src))
	b = appendVarint(b, fieldEdgeDst, uint64(e.Dst))
	if !g.countRep {
		b = protowire.AppendTag(b, fieldEdgeProcs, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Procs.Bytes())
	}
	b = appendVarint(b, fieldEdgeCount, uint64(e.Count))
	b = appendVarint(b, fieldEdgeRep, protowire.EncodeZigZag(int64(e.Rep)))
	b = appendVarint(b, fieldEdgeSum, protowire.EncodeZigZag(e.Sum))

	if g.threads && e.Threads != nil {
		if !g.countRep {
			b = protowire.AppendTag(b, fieldEdgeThreads, protowire.BytesType)
			b = protowire.AppendBytes(b, e.Threads.Bytes())
		}
		b = appendVarint(b, fieldEdgeThreadCount, uint64(e.ThreadCount))
		b = appendVarint(b, fieldEdgeThreadRep, protowire.EncodeZigZag(e.ThreadRep))
		b = appendVarint(b, fieldEdgeThreadSum, protowire.EncodeZigZag(e.ThreadSum))
	}

	return b
}

// Decode parses a graph serialized by Encode. Edges received in
// count+representative form carry empty bit vectors.
func Decode(buf []byte, opts ...Option) (*Graph, error) {
	g := New(opts...)

	var nodes, edges [][]byte
	err := consumeFields(buf, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldWidth:
			g.width = int(v)
		case fieldThreadWidth:
			g.threadWidth = int(v)
		case fieldThreads:
			g.threads = v != 0
		case fieldCountRep:
			g.countRep = v != 0
		case fieldNode:
			nodes = append(nodes, raw)
		case fieldEdge:
			edges = append(edges, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if g.width > bitvector.MaxWidth || g.threadWidth > bitvector.MaxWidth {
		return nil, errors.Wrapf(ErrDecode, "width %d, thread width %d", g.width, g.threadWidth)
	}

	for _, raw := range nodes {
		n, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		g.nodes[n.ID] = n
	}
	for _, raw := range edges {
		e, err := g.decodeEdge(raw)
		if err != nil {
			return nil, err
		}
		g.edges.edges[e.Dst] = e
	}

	return g, nil
}

func decodeNode(buf []byte) (*Node, error) {
	n := &Node{Attrs: make(Attrs)}
	err := consumeFields(buf, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldNodeID:
			n.ID = NodeID(v)
		case fieldNodeLabel:
			n.Label = string(raw)
		case fieldNodeAttr:
			var key, value string
			if err := consumeFields(raw, func(num protowire.Number, _ uint64, raw []byte) error {
				switch num {
				case fieldAttrKey:
					key = string(raw)
				case fieldAttrValue:
					value = string(raw)
				}
				return nil
			}); err != nil {
				return err
			}
			n.Attrs[key] = value
		}
		return nil
	})

	return n, err
}

func (g *Graph) decodeEdge(buf []byte) (*Edge, error) {
	e, err := g.newEdge(RootID, RootID)
	if err != nil {
		return nil, err
	}
	err = consumeFields(buf, func(num protowire.Number, v uint64, raw []byte) error {
		var err error
		switch num {
		case fieldEdgeSrc:
			e.Src = NodeID(v)
		case fieldEdgeDst:
			e.Dst = NodeID(v)
		case fieldEdgeProcs:
			e.Procs, err = bitvector.Parse(raw, g.width)
		case fieldEdgeCount:
			e.Count = int(v)
		case fieldEdgeRep:
			e.Rep = int(protowire.DecodeZigZag(v))
		case fieldEdgeSum:
			e.Sum = protowire.DecodeZigZag(v)
		case fieldEdgeThreads:
			e.Threads, err = bitvector.Parse(raw, g.threadWidth)
		case fieldEdgeThreadCount:
			e.ThreadCount = int(v)
		case fieldEdgeThreadRep:
			e.ThreadRep = protowire.DecodeZigZag(v)
		case fieldEdgeThreadSum:
			e.ThreadSum = protowire.DecodeZigZag(v)
		}
		if err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		return nil
	})

	return e, err
}

// consumeFields calls fn for every varint or bytes field of buf. Other
// wire types are skipped.
func consumeFields(buf []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrap(ErrDecode, protowire.ParseError(n).Error())
		}
		buf = buf[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return errors.Wrap(ErrDecode, protowire.ParseError(n).Error())
			}
			buf = buf[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return errors.Wrap(ErrDecode, protowire.ParseError(n).Error())
			}
			buf = buf[n:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return errors.Wrap(ErrDecode, protowire.ParseError(n).Error())
			}
			buf = buf[n:]
		}
	}

	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
