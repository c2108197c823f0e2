package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/internal/version"
	"github.com/maxgio92/xstat/pkg/cmd/options"
)

const CmdName = "version"

func NewCommand(_ *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Print the %s version", settings.CmdName),
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol %s)\n", settings.CmdName, version.Current, version.Build())
		},
	}
}
