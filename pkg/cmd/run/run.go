package run

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/xstat/internal/config"
	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/cmd/common"
	"github.com/maxgio92/xstat/pkg/cmd/options"
	"github.com/maxgio92/xstat/pkg/daemon"
	"github.com/maxgio92/xstat/pkg/healthcheck"
	"github.com/maxgio92/xstat/pkg/metrics"
	"github.com/maxgio92/xstat/pkg/proctable"
	"github.com/maxgio92/xstat/pkg/sampler"
	"github.com/maxgio92/xstat/pkg/walker"
	"github.com/maxgio92/xstat/pkg/walker/ptrace"
)

const (
	CmdName    = "run"
	detachFlag = "detach"
)

type Options struct {
	configPath   string
	listen       string
	pids         []int
	ranks        []int
	rankBase     int
	nodeRank     int
	outputDir    string
	filePrefix   string
	threadWidth  int
	pollInterval time.Duration
	metricsAddr  string
	healthSocket string
	detach       bool

	// factory overrides the ptrace walker factory.
	factory walker.Factory

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	return newCommand(&Options{Options: opts})
}

func newCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: fmt.Sprintf("Run the %s daemon", settings.CmdName),
		Long: fmt.Sprintf(`
%s starts a daemon serving the requests of a parent node.
The daemon attaches to the given processes on request, samples their stack traces
and returns the merged call path graph.
`, CmdName),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().StringVarP(&o.listen, "listen", "l", settings.SocketPath, "Address to listen on: host:port, or a path for a Unix socket")
	cmd.Flags().IntSliceVarP(&o.pids, "pid", "p", nil, "IDs of the processes to sample")
	cmd.Flags().IntSliceVar(&o.ranks, "rank", nil, "Ranks of the processes, in --pid order")
	cmd.Flags().IntVar(&o.rankBase, "rank-base", 0, "First rank when --rank is not set")
	cmd.Flags().IntVar(&o.nodeRank, "node-rank", 0, "Rank of this daemon in the tree")
	cmd.Flags().StringVarP(&o.outputDir, "output-dir", "o", "", "Directory to write the session files to on detach")
	cmd.Flags().StringVar(&o.filePrefix, "prefix", settings.DefaultFilePrefix, "Prefix of the session files")
	cmd.Flags().IntVar(&o.threadWidth, "thread-width", settings.DefaultThreadWidth, "Default width of the thread bit vectors")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", 0, "Poll for requests with this read deadline instead of blocking")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Address to expose Prometheus metrics on")
	cmd.Flags().StringVar(&o.healthSocket, "health-socket", settings.HealthCheckSockPath, "Path of the readiness socket")
	cmd.Flags().BoolVarP(&o.detach, detachFlag, "d", false, fmt.Sprintf("Run %s as daemon", settings.CmdName))

	return cmd
}

// config merges the configuration file with the flags set on cmd.
func (o *Options) config(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if o.configPath != "" {
		var err error
		if c, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("listen") || c.Listen == "" {
		c.Listen = o.listen
	}
	if flags.Changed("node-rank") {
		c.Rank = o.nodeRank
	}
	if flags.Changed("output-dir") {
		c.OutputDir = o.outputDir
	}
	if flags.Changed("prefix") {
		c.FilePrefix = o.filePrefix
	}
	if flags.Changed("thread-width") {
		c.ThreadWidth = o.threadWidth
	}
	if flags.Changed("poll-interval") {
		c.PollInterval = o.pollInterval
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = o.metricsAddr
	}
	if flags.Changed("pid") {
		procs, err := proctable.FromPids(o.pids, o.ranks, o.rankBase)
		if err != nil {
			return nil, err
		}
		c.Processes = procs
	}
	if len(c.Processes) == 0 {
		return nil, errors.Wrap(proctable.ErrEmpty, "no process given, use --pid or the config file")
	}

	return c, c.Validate()
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.InitLogger(cmd, CmdName); err != nil {
		return err
	}
	c, err := o.config(cmd)
	if err != nil {
		return err
	}

	if o.detach {
		return o.daemonize(cmd)
	}

	// Store PID file.
	common.WritePid(os.Getpid())
	defer os.Remove(settings.PidFile)

	return o.serve(o.Ctx, c)
}

func (o *Options) serve(ctx context.Context, c *config.Config) error {
	table, err := proctable.New(c.Processes, proctable.WithLogger(o.Logger))
	if err != nil {
		return errors.Wrap(err, "failed to build the process table")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	factory := o.factory
	if factory == nil {
		factory = ptrace.NewFactory(ptrace.WithLogger(o.Logger))
	}

	hc := healthcheck.NewServer(o.healthSocket, o.Logger)
	if err := hc.Listen(ctx); err != nil {
		return err
	}
	defer hc.Close()

	d := daemon.New(
		sampler.New(table,
			sampler.WithThreadWidth(c.ThreadWidth),
			sampler.WithMetrics(m),
			sampler.WithLogger(o.Logger),
		),
		daemon.WithFactory(factory),
		daemon.WithRank(c.Rank),
		daemon.WithPollInterval(c.PollInterval),
		daemon.WithOutputDir(c.OutputDir),
		daemon.WithFilePrefix(c.FilePrefix),
		daemon.WithReady(hc.NotifyReady),
		daemon.WithMetrics(m),
		daemon.WithLogger(o.Logger),
	)

	network := common.Network(c.Listen)
	if network == "unix" {
		os.Remove(c.Listen)
		defer os.Remove(c.Listen)
	}
	ln, err := net.Listen(network, c.Listen)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", c.Listen)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// An EXIT request stops the metrics server too.
		defer cancel()
		return d.Serve(ctx, ln)
	})
	if c.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, c.MetricsAddr, reg, o.Logger)
		})
	}

	return g.Wait()
}

// daemonArgs rebuilds the command line of cmd without the detach flag.
// Inherited flags are part of cmd.Flags once parsed.
func daemonArgs(cmd *cobra.Command) []string {
	args := []string{CmdName}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == detachFlag {
			return
		}
		value := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			value = strings.Join(sv.GetSlice(), ",")
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, value))
	})
	return args
}

func (o *Options) daemonize(cmd *cobra.Command) error {
	// Check if already running.
	if common.IsDaemonRunning() {
		fmt.Println("Daemon already running")
		return nil
	}

	// Start the daemon process.
	proc := exec.Command(os.Args[0], daemonArgs(cmd)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// Redirect output to log file.
	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			o.Logger.Error().Err(err).Msg("failed to open log file")
			return err
		}
		defer f.Close()
		proc.Stdout = f
		proc.Stderr = f
	}

	if err := proc.Start(); err != nil {
		o.Logger.Error().Err(err).Msgf("failed to start %s", settings.CmdName)
		return err
	}

	// Store PID file.
	if err := common.WritePid(proc.Process.Pid); err != nil {
		o.Logger.Error().Err(err).Msg("failed to write PID file")
		return err
	}
	o.Logger.Info().Int("pid", proc.Process.Pid).Msg("daemon started")

	return nil
}
