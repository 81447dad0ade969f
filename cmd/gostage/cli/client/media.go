package client

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwantia/gostage/internal/agent"
)

func NewMediaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage media types",
		Long:  "Synchronise the configured media types and their drive allocations into the request database.",
	}

	cmd.AddCommand(NewMediaSyncCommand())
	cmd.AddCommand(NewMediaListCommand())

	return cmd
}

func NewMediaSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Write the configured media types to the database",
		Long:  "Upserts every configured media type. A running agent picks the change up once its allocations are reloaded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			for _, mt := range agent.MediaTypes(cfg.MediaTypes) {
				if err := metadata.UpsertMediaType(cmd.Context(), &mt); err != nil {
					return fmt.Errorf("failed to sync media type '%s': %w", mt.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %s (%d drives)\n", mt.Name, mt.Drives)
			}
			return nil
		},
	}

	return cmd
}

func NewMediaListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List media types stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, metadata, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer metadata.Close()

			types, err := metadata.LoadMediaAllocations(cmd.Context())
			if err != nil {
				return err
			}

			w := newTable(cmd)
			fmt.Fprintln(w, "NAME\tPATTERN\tDRIVES\tALLOCATIONS")
			for _, mt := range types {
				shares := make([]string, 0, len(mt.Allocations))
				for _, a := range mt.Allocations {
					shares = append(shares, fmt.Sprintf("%s=%.2f", a.User, a.Share))
				}
				slices.Sort(shares)
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", mt.Name, mt.Pattern, mt.Drives, dash(strings.Join(shares, ",")))
			}
			return w.Flush()
		},
	}

	return cmd
}
