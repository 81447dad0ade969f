package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type VersionInfo struct {
	Version string
	Commit  string
}

var current VersionInfo

func (info VersionInfo) set() {
	current = info
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gostage %s (%s) %s/%s %s\n",
				current.Version, current.Commit, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
