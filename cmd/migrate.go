package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/daxia778/tg-monitor/internal/config"
	"github.com/daxia778/tg-monitor/internal/store"
)

// migrateCmd groups schema-management subcommands. Unlike a golang-migrate
// setup, Store.Open runs the full bootstrap (base schema, FTS, pending
// ledger migrations) unconditionally and idempotently — "up" is really
// "open once and report the resulting version". There's no separate
// migrations directory to point at: the steps live in store.go's
// `migrations` slice, embedded in the binary.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema management",
	}

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateVersionCmd())

	return cmd
}

func openStoreForMigrate(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(ctx, cfg.Database.Path, slog.Default())
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStoreForMigrate(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema_version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStoreForMigrate(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			var version int
			if err := st.DB().QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Println(version)
			return nil
		},
	}
}
