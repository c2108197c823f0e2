package daemon

import (
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/internal/version"
	"github.com/maxgio92/xstat/pkg/metrics"
	"github.com/maxgio92/xstat/pkg/walker"
)

type Options struct {
	rank    int32
	factory walker.Factory
	version version.Version

	// pollInterval switches receiving to polling with this read deadline.
	// Zero blocks until a request arrives or the context is done.
	pollInterval time.Duration

	outputDir  string
	filePrefix string

	ready   func()
	metrics *metrics.Metrics
	logger  log.Logger
}

type Option func(*Daemon)

// WithRank sets the rank this daemon reports in payload replies.
func WithRank(rank int) Option {
	return func(d *Daemon) {
		d.rank = int32(rank)
	}
}

func WithFactory(factory walker.Factory) Option {
	return func(d *Daemon) {
		d.factory = factory
	}
}

// WithVersion overrides the build version checked by CHECK_VERSION.
func WithVersion(v version.Version) Option {
	return func(d *Daemon) {
		d.version = v
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		d.pollInterval = interval
	}
}

// WithOutputDir sets the directory session files are written to on detach
// and terminate. ATTACH requests may override it.
func WithOutputDir(dir string) Option {
	return func(d *Daemon) {
		d.outputDir = dir
	}
}

func WithFilePrefix(prefix string) Option {
	return func(d *Daemon) {
		d.filePrefix = prefix
	}
}

// WithReady sets the function called once the daemon accepts connections.
func WithReady(ready func()) Option {
	return func(d *Daemon) {
		d.ready = ready
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) {
		d.metrics = m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

func defaultOptions() *Options {
	return &Options{
		version:    version.Build(),
		filePrefix: settings.DefaultFilePrefix,
		ready:      func() {},
		logger:     log.Nop(),
	}
}
