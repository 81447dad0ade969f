package server

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/pkg/db/migrations"
	"github.com/mwantia/gostage/pkg/db/store"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage request database migrations",
		Long:  "Apply, roll back or inspect the schema migrations of the request database.",
	}

	cmd.AddCommand(newMigrateUpCommand())
	cmd.AddCommand(newMigrateDownCommand())
	cmd.AddCommand(newMigrateStatusCommand())

	return cmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				if err := m.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	}
}

func newMigrateDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				if err := m.Rollback(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Last migration rolled back")
				return nil
			})
		},
	}
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
				for _, s := range statuses {
					applied := "pending"
					if s.Applied {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Description, applied)
				}
				return w.Flush()
			})
		},
	}
}

func withMigrator(cmd *cobra.Command, fn func(m *migrations.Migrator) error) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	metadata, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:     cfg.Metadata.SQLite.Path,
		LogLevel: store.ParseLogLevel(cfg.Metadata.SQLite.LogLevel),
	})
	if err != nil {
		return err
	}
	if err := metadata.Connect(cmd.Context()); err != nil {
		return err
	}
	defer metadata.Close()

	return fn(migrations.NewMigrator(metadata.DB()))
}
