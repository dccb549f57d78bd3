package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"TradeLedger/internal/config"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the trade archive schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; TL_POSTGRES_DSN and TL_MIGRATIONS_DIR override it")

	withMigrator := func(fn func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Archive.DSN == "" {
				return fmt.Errorf("no archive dsn configured")
			}
			db, err := sql.Open("postgres", cfg.Archive.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			logger := observability.NewLoggerTo(os.Stderr, "migrate", observability.ParseLevel(cfg.LogLevel))
			return fn(cmd.Context(), persistence.NewMigrator(db, cfg.Archive.MigrationsDir, logger))
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Printf("applied %d migrations\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				rolled, err := m.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				if !rolled {
					fmt.Println("nothing to roll back")
					return nil
				}
				fmt.Println("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				applied, pending, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, a := range applied {
					fmt.Printf("applied  %s\n", a.Version)
				}
				for _, p := range pending {
					fmt.Printf("pending  %s\n", p)
				}
				return nil
			}),
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
