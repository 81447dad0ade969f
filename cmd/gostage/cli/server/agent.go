package server

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwantia/gostage/internal/agent"
	config "github.com/mwantia/gostage/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the GoStage scheduler agent",
		Long:  `Start the GoStage scheduler agent, staging every pending request from tape until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(context.Background())
		},
	}

	return cmd
}
