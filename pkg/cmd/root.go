package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/cmd/options"
	"github.com/maxgio92/xstat/pkg/cmd/run"
	"github.com/maxgio92/xstat/pkg/cmd/sample"
	"github.com/maxgio92/xstat/pkg/cmd/status"
	"github.com/maxgio92/xstat/pkg/cmd/stop"
	"github.com/maxgio92/xstat/pkg/cmd/version"
	"github.com/maxgio92/xstat/pkg/cmd/wait"
)

const logLevelInfo = "info"

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s is a tree distributed stack trace aggregator", settings.CmdName),
		Long: fmt.Sprintf(`
%s samples the stack traces of many processes and merges them into one call path graph.
Each node of a tree runs a %s daemon attached to its local processes; parents collect
and fold the graphs of their children, and every edge records which processes took it.
`, settings.CmdName, settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	cmd.PersistentFlags().StringVar(&o.LogLevel, options.LogLevelFlag, logLevelInfo, "Sets the log level (trace, debug, info, warn, error, fatal, panic)")

	cmd.AddCommand(run.NewCommand(o.Options))
	cmd.AddCommand(sample.NewCommand(o.Options))
	cmd.AddCommand(status.NewCommand(o.Options))
	cmd.AddCommand(stop.NewCommand(o.Options))
	cmd.AddCommand(wait.NewCommand(o.Options))
	cmd.AddCommand(version.NewCommand(o.Options))

	return cmd
}

// Execute adds all child commands to the root commands and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := NewOptions(
		WithContext(ctx),
		WithLogger(logger),
	)

	if err := NewCommand(opts).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
