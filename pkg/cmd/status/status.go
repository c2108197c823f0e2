package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/cmd/common"
	"github.com/maxgio92/xstat/pkg/cmd/options"
)

const CmdName = "status"

type Options struct {
	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Check the %s daemon status", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	if common.IsDaemonRunning() {
		pid, _ := common.ReadPid()
		fmt.Fprintf(cmd.OutOrStdout(), "%s is running (PID %d)\n", settings.CmdName, pid)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not running\n", settings.CmdName)
	}
}
