package main

import (
	"fmt"
	"os"

	"github.com/mwantia/gostage/cmd/gostage/cli"
	"github.com/mwantia/gostage/cmd/gostage/cli/client"
	"github.com/mwantia/gostage/cmd/gostage/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())

	root.AddCommand(server.NewAgentCommand())
	root.AddCommand(server.NewConfigCommand())
	root.AddCommand(server.NewMigrateCommand())

	root.AddCommand(client.NewRequestCommand())
	root.AddCommand(client.NewQueueCommand())
	root.AddCommand(client.NewMediaCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
