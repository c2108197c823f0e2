package sampler

import (
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/metrics"
)

type Options struct {
	threadWidth int
	metrics     *metrics.Metrics
	logger      log.Logger
}

type Option func(*Controller)

// WithThreadWidth sets the thread bit vector width used by requests that
// do not carry one.
func WithThreadWidth(width int) Option {
	return func(c *Controller) {
		c.threadWidth = width
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func defaultOptions() *Options {
	return &Options{
		threadWidth: settings.DefaultThreadWidth,
		logger:      log.Nop(),
	}
}
