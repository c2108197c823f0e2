// Package report summarizes a daemon session as JSON.
package report

import (
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/proctable"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Process struct {
	Slot  int    `json:"slot"`
	Pid   int    `json:"pid"`
	Rank  int    `json:"rank"`
	Exe   string `json:"exe,omitempty"`
	Alive bool   `json:"alive"`
}

type Path struct {
	Frames string `json:"frames"`
	Count  int    `json:"count"`
}

type SessionReport struct {
	Rank       int       `json:"rank"`
	Host       string    `json:"host"`
	SampleMode string    `json:"sample_mode"`
	Rounds     int       `json:"rounds"`
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	Processes  []Process `json:"processes"`
	Paths      []Path    `json:"paths"`
}

type SessionReportOption func(*SessionReport)

func NewSessionReport(opts ...SessionReportOption) *SessionReport {
	report := new(SessionReport)
	for _, opt := range opts {
		opt(report)
	}

	return report
}

func WithReportRank(rank int) SessionReportOption {
	return func(r *SessionReport) {
		r.Rank = rank
	}
}

func WithReportHost(host string) SessionReportOption {
	return func(r *SessionReport) {
		r.Host = host
	}
}

func WithReportSampleMode(mode string) SessionReportOption {
	return func(r *SessionReport) {
		r.SampleMode = mode
	}
}

func WithReportRounds(rounds int) SessionReportOption {
	return func(r *SessionReport) {
		r.Rounds = rounds
	}
}

func WithReportProcesses(slots []*proctable.Slot) SessionReportOption {
	return func(r *SessionReport) {
		r.Processes = make([]Process, 0, len(slots))
		for _, s := range slots {
			r.Processes = append(r.Processes, Process{
				Slot:  s.Index,
				Pid:   s.Pid,
				Rank:  s.Rank,
				Exe:   s.Exe,
				Alive: s.Alive,
			})
		}
	}
}

// WithReportGraph records the size of g and its leaf call paths.
func WithReportGraph(g *graph.Graph) SessionReportOption {
	return func(r *SessionReport) {
		r.Nodes = g.Len()
		r.Edges = g.Edges().Len()
		r.Paths = make([]Path, 0)
		for _, leaf := range g.Leaves() {
			r.Paths = append(r.Paths, Path{
				Frames: strings.Join(leaf.Labels, ";"),
				Count:  leaf.Count,
			})
		}
	}
}

func (r *SessionReport) WriteReport(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func ReadReport(rd io.Reader) (*SessionReport, error) {
	r := new(SessionReport)
	if err := json.NewDecoder(rd).Decode(r); err != nil {
		return nil, err
	}
	return r, nil
}
