package sample

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/output"
	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/internal/version"
	"github.com/maxgio92/xstat/pkg/client"
	"github.com/maxgio92/xstat/pkg/cmd/common"
	"github.com/maxgio92/xstat/pkg/cmd/options"
	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/report"
	"github.com/maxgio92/xstat/pkg/sampler"
)

const CmdName = "sample"

const (
	FormatDOT   = "dot"
	FormatPprof = "pprof"
	FormatJSON  = "json"
	FormatText  = "text"
)

var formats = []string{FormatDOT, FormatPprof, FormatJSON, FormatText}

type Options struct {
	addr          string
	timeout       time.Duration
	traces        int
	interval      time.Duration
	retries       int
	retryInterval time.Duration
	mode          string
	threadWidth   int
	vars          string
	outputDir     string
	format        string
	out           string
	stop          []uint
	terminate     bool
	exit          bool
	status        bool

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := new(Options)
	o.Options = opts
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: fmt.Sprintf("Sample the processes of a %s daemon", settings.CmdName),
		Long: fmt.Sprintf(`
%s connects to a daemon, samples the stack traces of its processes and writes the
merged call path graph as DOT, pprof, JSON or as plain text.
`, CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.addr, "addr", "a", settings.SocketPath, "Daemon address: host:port, or a Unix socket path")
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Minute, "Timeout of the whole session")
	cmd.Flags().IntVarP(&o.traces, "traces", "n", 10, "Number of sampling rounds")
	cmd.Flags().DurationVarP(&o.interval, "interval", "i", 100*time.Millisecond, "Interval between rounds")
	cmd.Flags().IntVar(&o.retries, "retries", 3, "Walk retries of an incomplete stack trace")
	cmd.Flags().DurationVar(&o.retryInterval, "retry-interval", time.Millisecond, "Interval between walk retries")
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "function", "Sample mode: function, or a list of line, pc, module, countrep, threads, clear")
	cmd.Flags().IntVar(&o.threadWidth, "thread-width", 0, "Width of the thread bit vectors, 0 for the daemon default")
	cmd.Flags().StringVar(&o.vars, "vars", "", `Variables to read, as "<n>#<file>:<line>.<depth>$<name>#..."`)
	cmd.Flags().StringVar(&o.outputDir, "output-dir", "", "Directory the daemon writes its session files to on detach")
	cmd.Flags().StringVarP(&o.format, "format", "f", FormatText, fmt.Sprintf("Output format (%s)", strings.Join(formats, ", ")))
	cmd.Flags().StringVarP(&o.out, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().UintSliceVar(&o.stop, "stop", nil, "Ranks to leave stopped on detach")
	cmd.Flags().BoolVar(&o.terminate, "terminate", false, "Kill the processes instead of detaching")
	cmd.Flags().BoolVar(&o.exit, "exit", false, "Stop the daemon afterwards")
	cmd.Flags().BoolVar(&o.status, "status", true, "Print the sampling progress when writing to a file")

	return cmd
}

func (o *Options) request() (sampler.Request, error) {
	flags, ok := sampler.ParseFlags(o.mode)
	if !ok {
		return sampler.Request{}, errors.Errorf("invalid sample mode %q", o.mode)
	}
	if !lo.Contains(formats, o.format) {
		return sampler.Request{}, errors.Errorf("invalid format %q", o.format)
	}
	if o.traces <= 0 {
		return sampler.Request{}, errors.Errorf("invalid number of traces %d", o.traces)
	}
	if _, err := sampler.ParseVariableSpec(o.vars); err != nil {
		return sampler.Request{}, err
	}

	return sampler.Request{
		NTraces:       o.traces,
		TraceInterval: o.interval,
		NRetries:      o.retries,
		RetryInterval: o.retryInterval,
		Flags:         flags,
		ThreadWidth:   o.threadWidth,
		VariableSpec:  o.vars,
	}, nil
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.InitLogger(cmd, CmdName); err != nil {
		return err
	}
	req, err := o.request()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(o.Ctx, o.timeout)
	defer cancel()

	c, err := client.Dial(ctx, common.Network(o.addr), o.addr, client.WithLogger(o.Logger))
	if err != nil {
		return err
	}
	defer c.Close()

	payload, err := o.session(ctx, c, req, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if o.out != "-" {
		f, err := os.Create(o.out)
		if err != nil {
			return errors.Wrap(err, "error creating output file")
		}
		defer f.Close()
		w = f
	}

	return write(w, o.format, payload)
}

// session runs one sampling session and returns the session graph.
func (o *Options) session(ctx context.Context, c *client.Client, req sampler.Request, status io.Writer) (*client.Payload, error) {
	v, err := c.CheckVersion(ctx, version.Build())
	if err != nil {
		return nil, err
	}
	o.Logger.Debug().Stringer("daemon", v).Msg("version checked")

	if err := c.Attach(ctx, o.outputDir, ""); err != nil {
		return nil, errors.Wrap(err, "failed to attach")
	}

	stopStatus := o.printStatus(status, req)
	err = c.Sample(ctx, req)
	stopStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample")
	}

	payload, err := c.SendTraces(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch the session graph")
	}
	o.Logger.Info().
		Int("rank", payload.Rank).
		Int("processes", payload.Width).
		Stringer("mode", payload.Flags).
		Int("bytes", len(payload.Data)).
		Msg("session graph received")

	if o.terminate {
		err = c.Terminate(ctx)
	} else {
		stop := make([]uint32, len(o.stop))
		for i, r := range o.stop {
			stop[i] = uint32(r)
		}
		err = c.Detach(ctx, stop)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to release the processes")
	}

	if o.exit {
		if err := c.Exit(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to stop the daemon")
		}
	}

	return payload, nil
}

// printStatus prints an estimate of the sampling progress until the
// returned function is called.
func (o *Options) printStatus(w io.Writer, req sampler.Request) func() {
	if !o.status || o.out == "-" {
		return func() {}
	}

	start := time.Now()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				output.PrintRight(w, output.PrettySampleStatus(req.NTraces, req.NTraces, time.Since(start).Milliseconds()))
				fmt.Fprintln(w)
				return
			case <-ticker.C:
				round := req.NTraces
				if req.TraceInterval > 0 {
					round = min(int(time.Since(start)/req.TraceInterval)+1, req.NTraces)
				}
				output.PrintRight(w, output.PrettySampleStatus(round, req.NTraces, time.Since(start).Milliseconds()))
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func write(w io.Writer, format string, p *client.Payload) error {
	g, err := p.Graph()
	if err != nil {
		return err
	}

	switch format {
	case FormatDOT:
		return g.WriteDOT(w)
	case FormatPprof:
		return g.Profile().Write(w)
	case FormatJSON:
		return report.NewSessionReport(
			report.WithReportRank(p.Rank),
			report.WithReportSampleMode(p.Flags.String()),
			report.WithReportGraph(g),
		).WriteReport(w)
	default:
		return writeText(w, g)
	}
}

// writeText prints one line per leaf call path, most shared first.
func writeText(w io.Writer, g *graph.Graph) error {
	for _, leaf := range g.Leaves() {
		if _, err := fmt.Fprintf(w, "%6d  %s\n", leaf.Count, strings.Join(leaf.Labels, " > ")); err != nil {
			return err
		}
	}
	return nil
}
