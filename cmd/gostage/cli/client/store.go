package client

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	config "github.com/mwantia/gostage/internal/config/server"
	"github.com/mwantia/gostage/pkg/db/store"
)

// openStore connects to the request database the agent is configured with.
// The agent picks up new rows on its next dispatcher cycle.
func openStore(ctx context.Context) (*config.BaseServerConfig, *store.SQLiteStore, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load server configuration: %w", err)
	}

	metadata, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:     cfg.Metadata.SQLite.Path,
		LogLevel: store.ParseLogLevel(cfg.Metadata.SQLite.LogLevel),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := metadata.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect metadata store: %w", err)
	}
	if err := metadata.Migrate(ctx); err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	return cfg, metadata, nil
}

func newTable(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.DateTime)
}
