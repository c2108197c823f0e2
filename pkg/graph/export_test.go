package graph_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/pkg/graph"
)

func scenario(t *testing.T, opts ...graph.Option) *graph.Graph {
	g := graph.New(append([]graph.Option{graph.WithWidth(3)}, opts...)...)
	addTrace(t, g, 0, "main", "foo", "bar")
	addTrace(t, g, 1, "main", "foo", "bar")
	addTrace(t, g, 2, "main", "baz")
	return g
}

func TestRankList(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, ""},
		{[]int{3}, "3"},
		{[]int{0, 1, 2}, "0-2"},
		{[]int{9, 0, 1, 2, 7, 10}, "0-2,7,9-10"},
		{[]int{4, 4, 5}, "4-5"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, graph.RankList(tt.in))
	}
}

func TestLeaves(t *testing.T) {
	leaves := scenario(t).Leaves()
	require.Len(t, leaves, 2)
	require.Equal(t, []string{"main", "foo", "bar"}, leaves[0].Labels)
	require.Equal(t, 2, leaves[0].Count)
	require.Equal(t, []string{"main", "baz"}, leaves[1].Labels)
	require.Equal(t, 1, leaves[1].Count)
}

func TestWriteDOT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, scenario(t).WriteDOT(&buf))

	dot := buf.String()
	require.Contains(t, dot, "digraph G {")
	require.Contains(t, dot, `[label="/"]`)
	require.Contains(t, dot, `[label="bar"]`)
	require.Contains(t, dot, `[label="3:[0-2]"]`)
	require.Contains(t, dot, `[label="1:[2]"]`)

	buf.Reset()
	require.NoError(t, scenario(t, graph.WithCountRep(true), graph.WithRanks(graph.TableRanks{5, 6, 7})).WriteDOT(&buf))
	require.Contains(t, buf.String(), `[label="3:[5]"]`)
}

func TestProfile(t *testing.T) {
	p := scenario(t).Profile()
	require.NoError(t, p.CheckValid())
	require.Len(t, p.Sample, 2)

	values := map[string]int64{}
	for _, s := range p.Sample {
		leaf := s.Location[0].Line[0].Function.Name
		values[leaf] = s.Value[0]
		require.Equal(t, "main", s.Location[len(s.Location)-1].Line[0].Function.Name)
	}
	require.Equal(t, map[string]int64{"bar": 2, "baz": 1}, values)

	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	require.NotZero(t, buf.Len())
}

func TestProfileCountRep(t *testing.T) {
	decoded, err := graph.Decode(scenario(t, graph.WithCountRep(true)).Encode())
	require.NoError(t, err)

	p := decoded.Profile()
	require.NoError(t, p.CheckValid())
	require.Len(t, p.Sample, 2)
}
