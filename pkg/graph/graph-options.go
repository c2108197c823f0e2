package graph

import (
	log "github.com/rs/zerolog"
)

type Options struct {
	width       int
	threadWidth int
	threads     bool
	countRep    bool
	ranks       RankTranslator
	threadTable *ThreadTable

	logger log.Logger
}

type Option func(*Graph)

// WithWidth sets the width of the process bit vectors, that is the size of
// the process table.
func WithWidth(width int) Option {
	return func(g *Graph) {
		g.width = width
	}
}

// WithThreads enables thread bit vectors of the given width.
func WithThreads(width int) Option {
	return func(g *Graph) {
		g.threads = true
		g.threadWidth = width
	}
}

// WithCountRep marks the graph as transmitted in count+representative form.
func WithCountRep(countRep bool) Option {
	return func(g *Graph) {
		g.countRep = countRep
	}
}

func WithRanks(ranks RankTranslator) Option {
	return func(g *Graph) {
		g.ranks = ranks
	}
}

// WithThreadTable shares a thread table between graphs, so that thread bits
// keep their meaning across snapshots.
func WithThreadTable(table *ThreadTable) Option {
	return func(g *Graph) {
		g.threadTable = table
	}
}

func WithLogger(logger log.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}
