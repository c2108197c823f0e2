package ptrace

import (
	log "github.com/rs/zerolog"
)

const DefaultMaxDepth = 127

type Options struct {
	maxDepth int
	logger   log.Logger
}

type Option func(*Factory)

// WithMaxDepth caps the number of frames of a stack walk.
func WithMaxDepth(depth int) Option {
	return func(f *Factory) {
		f.maxDepth = depth
	}
}

func WithLogger(logger log.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}
