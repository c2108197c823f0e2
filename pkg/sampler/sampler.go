// Package sampler drives sampling rounds over the processes of a daemon
// and folds every round into the session graph.
package sampler

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/maxgio92/xstat/pkg/bitvector"
	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/metrics"
	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/walker"
)

// Request describes one sample call.
type Request struct {
	NTraces       int
	TraceInterval time.Duration
	NRetries      int
	RetryInterval time.Duration
	Flags         Flags
	ThreadWidth   int
	VariableSpec  string
}

type Controller struct {
	table   *proctable.Table
	walkers []walker.Walker
	threads *graph.ThreadTable

	session  *graph.Graph
	snapshot *graph.Graph
	flags    Flags
	rounds   int

	attached bool
	// running is false while this controller holds the targets stopped.
	running bool

	*Options
}

func New(table *proctable.Table, opts ...Option) *Controller {
	c := &Controller{
		table:   table,
		walkers: make([]walker.Walker, table.Len()),
		running: true,
		Options: defaultOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	c.logger = c.logger.With().Str("component", "sampler").Logger()
	c.threads = graph.NewThreadTable(c.logger)
	c.session = c.newGraph(0, c.threadWidth)
	c.snapshot = c.newGraph(0, c.threadWidth)

	return c
}

func (c *Controller) newGraph(flags Flags, threadWidth int) *graph.Graph {
	opts := []graph.Option{
		graph.WithWidth(c.table.Len()),
		graph.WithRanks(c.table.Ranks()),
		graph.WithCountRep(flags.Has(FlagCountRep)),
		graph.WithThreadTable(c.threads),
		graph.WithLogger(c.logger),
	}
	if flags.Has(FlagThreads) {
		opts = append(opts, graph.WithThreads(threadWidth))
	}
	return graph.New(opts...)
}

func (c *Controller) Table() *proctable.Table {
	return c.table
}

// Session returns the graph accumulated since the last clear.
func (c *Controller) Session() *graph.Graph {
	return c.session
}

// Snapshot returns the graph of the last round.
func (c *Controller) Snapshot() *graph.Graph {
	return c.snapshot
}

// Flags returns the sample mode of the last sample call.
func (c *Controller) Flags() Flags {
	return c.flags
}

// Rounds returns the number of rounds folded into the session.
func (c *Controller) Rounds() int {
	return c.rounds
}

func (c *Controller) Attached() bool {
	return c.attached
}

// Running reports whether the targets are running.
func (c *Controller) Running() bool {
	return c.running
}

// Clear empties the session graph.
func (c *Controller) Clear() {
	c.session.Clear()
	c.rounds = 0
	c.updateGauges()
}

// Attach creates a walker for every live slot. Slots failing to attach are
// marked dead and sampled as exited tasks.
func (c *Controller) Attach(factory walker.Factory) error {
	for _, slot := range c.table.Slots() {
		if c.walkers[slot.Index] != nil || !slot.Alive {
			continue
		}
		w, err := factory.Attach(slot)
		if err != nil {
			c.logger.Warn().Err(err).Int("pid", slot.Pid).Int("rank", slot.Rank).Msg("failed to attach")
			c.table.MarkDead(slot.Index)
			continue
		}
		c.walkers[slot.Index] = w
	}
	c.attached = true
	c.running = true

	if lo.EveryBy(c.walkers, func(w walker.Walker) bool { return w == nil }) {
		return ErrNoProcesses
	}
	c.logger.Debug().Int("processes", c.table.Live()).Msg("attached")

	return nil
}

// each calls fn on every slot with a walker and returns the joined errors.
func (c *Controller) each(fn func(*proctable.Slot, walker.Walker) error) error {
	var result *multierror.Error
	for _, slot := range c.table.Slots() {
		w := c.walkers[slot.Index]
		if w == nil {
			continue
		}
		if err := fn(slot, w); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "rank %d", slot.Rank))
		}
	}
	return result.ErrorOrNil()
}

// Pause stops every target. Failures are logged, the processes responding
// stay paused.
func (c *Controller) Pause() error {
	err := c.each(func(_ *proctable.Slot, w walker.Walker) error { return w.Pause() })
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to pause some processes")
	}
	c.running = false

	return err
}

// Resume lets every target run.
func (c *Controller) Resume() error {
	err := c.each(func(_ *proctable.Slot, w walker.Walker) error { return w.Resume() })
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to resume some processes")
	}
	c.running = true

	return err
}

// Detach releases every target. Processes whose rank is in stop are left
// stopped.
func (c *Controller) Detach(stop []uint32) error {
	err := c.each(func(slot *proctable.Slot, w walker.Walker) error {
		return w.Detach(lo.Contains(stop, uint32(slot.Rank)))
	})
	c.release()

	return err
}

// Terminate kills every target.
func (c *Controller) Terminate() error {
	err := c.each(func(slot *proctable.Slot, w walker.Walker) error {
		c.table.MarkDead(slot.Index)
		return w.Terminate()
	})
	c.release()

	return err
}

func (c *Controller) release() {
	for i := range c.walkers {
		c.walkers[i] = nil
	}
	c.attached = false
	c.running = true
}

func (c *Controller) retire(slot *proctable.Slot, w walker.Walker) {
	c.table.MarkDead(slot.Index)
	if err := w.Detach(false); err != nil {
		c.logger.Debug().Err(err).Int("pid", slot.Pid).Msg("failed to detach exited process")
	}
	c.walkers[slot.Index] = nil
}

// prepare applies the sample mode of req, replacing the session when its
// shape changes or the compression mode toggles.
func (c *Controller) prepare(req Request) int {
	width := req.ThreadWidth
	if width <= 0 {
		width = c.threadWidth
	}

	next := c.newGraph(req.Flags, width)
	switch {
	case !c.session.Compatible(next) || c.session.CountRep() != next.CountRep():
		c.logger.Debug().
			Stringer("from", c.flags).
			Stringer("to", req.Flags).
			Msg("sample mode changed, clearing session")
		c.session = next
		c.rounds = 0
	case req.Flags.Has(FlagClear):
		c.Clear()
	}
	c.flags = req.Flags

	return width
}

// Run samples req.NTraces rounds, folding each into the session graph.
// Targets stopped before the call are left stopped after the last round.
func (c *Controller) Run(ctx context.Context, req Request) (err error) {
	if !c.attached {
		return ErrNotAttached
	}
	vars, err := ParseVariableSpec(req.VariableSpec)
	if err != nil {
		return err
	}

	wasStopped := !c.running
	width := c.prepare(req)
	rounds := max(req.NTraces, 1)
	opts := walker.WalkOptions{Vars: vars}

	defer func() {
		if err != nil && !wasStopped && !c.running {
			_ = c.Resume()
		}
	}()

	for round := 1; round <= rounds; round++ {
		c.snapshot = c.newGraph(req.Flags, width)
		if c.running {
			_ = c.Pause()
		}

		if err := c.collect(ctx, req, opts); err != nil {
			return err
		}

		if err := c.session.Fold(c.snapshot); err != nil {
			return err
		}
		c.rounds++
		c.metrics.Rounds.Inc()
		c.updateGauges()

		last := round == rounds
		if !last || !wasStopped {
			_ = c.Resume()
		}
		if !last {
			if err := sleep(ctx, req.TraceInterval); err != nil {
				return err
			}
		}
		c.logger.Debug().Int("round", round).Int("rounds", rounds).Int("nodes", c.snapshot.Len()).Msg("round sampled")
	}

	return nil
}

func (c *Controller) updateGauges() {
	c.metrics.SessionNodes.Set(float64(c.session.Len()))
	c.metrics.SessionEdges.Set(float64(c.session.Edges().Len()))
}

// collect records one trace per live process, or per thread, into the
// snapshot.
func (c *Controller) collect(ctx context.Context, req Request, opts walker.WalkOptions) error {
	for _, slot := range c.table.Slots() {
		if err := ctx.Err(); err != nil {
			return err
		}

		participants, err := bitvector.New(c.table.Len())
		if err != nil {
			return errors.Wrap(graph.ErrAllocation, err.Error())
		}
		if err := participants.Set(slot.Index); err != nil {
			return errors.Wrap(graph.ErrAllocation, err.Error())
		}

		w := c.walkers[slot.Index]
		if w == nil || !slot.Alive {
			c.metrics.TaskExited.Inc()
			if _, err := c.snapshot.AddTrace([]string{TaskExitedLabel}, nil, participants, graph.NoThread); err != nil {
				return err
			}
			continue
		}

		threads := []walker.Thread{walker.MainThread(slot)}
		if req.Flags.Has(FlagThreads) {
			if list, err := w.Threads(); err != nil {
				c.logger.Debug().Err(err).Int("pid", slot.Pid).Msg("failed to list threads")
			} else if len(list) > 0 {
				threads = list
			}
		}

		recorded := false
		for _, thread := range threads {
			tid := graph.NoThread
			if req.Flags.Has(FlagThreads) {
				tid = thread.ID
			}

			frames, err := c.walk(ctx, w, thread, req, opts)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if !w.Alive() {
					c.logger.Info().Int("pid", slot.Pid).Int("rank", slot.Rank).Msg("process exited")
					c.retire(slot, w)
					// Threads walked before the exit keep their traces.
					if recorded {
						break
					}
					c.metrics.TaskExited.Inc()
					if _, err := c.snapshot.AddTrace([]string{TaskExitedLabel}, nil, participants, graph.NoThread); err != nil {
						return err
					}
					break
				}
				c.logger.Debug().Err(err).Int("pid", slot.Pid).Int64("thread", thread.ID).Msg("stack walk failed")
				c.metrics.WalkFailures.WithLabelValues("error").Inc()
				if _, err := c.snapshot.AddTrace([]string{WalkErrorLabel}, nil, participants, tid); err != nil {
					return err
				}
				recorded = true
				continue
			}

			labels, attrs := Trace(frames, req.Flags)
			if _, err := c.snapshot.AddTrace(labels, attrs, participants, tid); err != nil {
				return err
			}
			recorded = true
		}
	}

	return nil
}

// walk tries 1+NRetries times and keeps the best scoring trace. Between
// attempts the process is let run for RetryInterval.
func (c *Controller) walk(ctx context.Context, w walker.Walker, thread walker.Thread, req Request, opts walker.WalkOptions) ([]walker.Frame, error) {
	var (
		best      []walker.Frame
		bestScore = -1
		lastErr   error
	)
	for attempt := 0; attempt <= req.NRetries; attempt++ {
		if attempt > 0 {
			if err := c.nudge(ctx, w, req.RetryInterval); err != nil {
				return nil, err
			}
		}

		c.metrics.WalkAttempts.Inc()
		frames, err := w.Walk(thread, opts)
		if err != nil {
			lastErr = err
			continue
		}

		score := Score(frames, thread.Main)
		if bestScore < 0 || score < bestScore {
			best, bestScore = frames, score
		}
		if score == ScoreClean {
			break
		}
		c.metrics.WalkFailures.WithLabelValues(scoreReason(score)).Inc()
	}
	if bestScore < 0 {
		return nil, errors.Wrap(walker.ErrStackWalk, lastErr.Error())
	}
	if len(best) == 0 {
		return nil, errors.Wrap(walker.ErrStackWalk, "empty stack")
	}

	return best, nil
}

// nudge lets a held process make progress before the next attempt.
func (c *Controller) nudge(ctx context.Context, w walker.Walker, d time.Duration) error {
	if c.running {
		return sleep(ctx, d)
	}
	if err := w.Resume(); err != nil {
		c.logger.Debug().Err(err).Msg("failed to resume between retries")
	}
	err := sleep(ctx, d)
	if perr := w.Pause(); perr != nil {
		c.logger.Debug().Err(perr).Msg("failed to pause between retries")
	}

	return err
}

func scoreReason(score int) string {
	switch score {
	case ScoreUnresolved:
		return "unresolved"
	case ScoreImplausible:
		return "implausible"
	}
	return "unknown"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
