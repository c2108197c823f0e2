package stop

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/cmd/common"
	"github.com/maxgio92/xstat/pkg/cmd/options"
)

const CmdName = "stop"

type Options struct {
	timeout time.Duration

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := new(Options)
	o.Options = opts
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Stop the %s daemon", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "Time to wait before killing the daemon")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	pid, ok := common.ReadPid()
	if !ok {
		fmt.Fprintf(out, "%s not running or PID file not found\n", settings.CmdName)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(out, "Process not found")
		return
	}

	// SIGTERM lets the daemon detach from its processes.
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(out, "Failed to stop daemon: %v\n", err)
		os.Remove(settings.PidFile)
		return
	}

	// Wait for process to stop.
	for start := time.Now(); time.Since(start) < o.timeout; time.Sleep(100 * time.Millisecond) {
		if !common.IsDaemonRunning() {
			fmt.Fprintf(out, "%s stopped (PID %d)\n", settings.CmdName, pid)
			os.Remove(settings.PidFile)
			return
		}
	}

	// Force kill if still running.
	process.Kill()
	os.Remove(settings.PidFile)
	fmt.Fprintf(out, "%s force killed (PID %d)\n", settings.CmdName, pid)
}
