package wait

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/cmd/options"
	"github.com/maxgio92/xstat/pkg/healthcheck"
)

const (
	CmdName       = "wait"
	retryInterval = 500 * time.Millisecond
)

type Options struct {
	socketPath string
	timeout    time.Duration

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s daemon to be ready", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.HealthCheckSockPath, fmt.Sprintf("Path to the %s readiness socket file", settings.CmdName))
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Second*120, "Timeout")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.InitLogger(cmd, CmdName); err != nil {
		return err
	}

	o.Logger.Info().Msg("waiting for the daemon to be ready")
	if err := healthcheck.Wait(o.Ctx, o.socketPath, o.timeout, retryInterval); err != nil {
		return errors.Wrap(err, "daemon not ready")
	}
	o.Logger.Info().Msg("daemon is ready")

	return nil
}
