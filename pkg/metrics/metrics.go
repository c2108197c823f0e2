// Package metrics exposes the daemon counters to Prometheus.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xstat/internal/settings"
)

const namespace = settings.CmdName

type Metrics struct {
	Rounds       prometheus.Counter
	WalkAttempts prometheus.Counter
	WalkFailures *prometheus.CounterVec
	TaskExited   prometheus.Counter
	Requests     *prometheus.CounterVec
	SessionNodes prometheus.Gauge
	SessionEdges prometheus.Gauge
}

// New registers the daemon metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_rounds_total",
			Help:      "Number of sampling rounds run.",
		}),
		WalkAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walk_attempts_total",
			Help:      "Number of stack walk attempts, retries included.",
		}),
		WalkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walk_failures_total",
			Help:      "Number of failed stack walks by reason.",
		}, []string{"reason"}),
		TaskExited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exited_total",
			Help:      "Number of samples recorded for processes without a walker.",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of requests served by tag and status.",
		}, []string{"tag", "status"}),
		SessionNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_nodes",
			Help:      "Number of call path nodes in the session graph.",
		}),
		SessionEdges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_edges",
			Help:      "Number of edges in the session graph.",
		}),
	}
}

// Discard returns metrics registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to listen for metrics")
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}

	return nil
}
