package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/database"
)

// migrator is the part of database.Migrator the commands use.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() error
}

var openMigrator = func(url string) (migrator, error) {
	return database.NewMigrator(url)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the semantic store schema in PostgreSQL",
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m migrator, out io.Writer) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(m, out, "✓ Migrations applied")
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m migrator, out io.Writer) error {
				if err := m.Down(); err != nil {
					return err
				}
				return printVersion(m, out, "✓ Rolled back one migration")
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m migrator, out io.Writer) error {
				return printVersion(m, out, "")
			})
		},
	})
	return root
}

func withMigrator(cmd *cobra.Command, fn func(migrator, io.Writer) error) error {
	cfg, err := loadDatabaseConfig(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to database: %s@%s:%s/%s\n", cfg.Username, cfg.Host, cfg.Port, cfg.Database)
	m, err := openMigrator(cfg.URL())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m, out)
}

func loadDatabaseConfig(ctx context.Context) (config.DatabaseConfig, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Host == "" || cfg.Database.Database == "" {
		return config.DatabaseConfig{}, fmt.Errorf("DB_HOST and DB_NAME are required")
	}
	return cfg.Database, nil
}

func printVersion(m migrator, out io.Writer, prefix string) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if prefix != "" {
		fmt.Fprintln(out, prefix)
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(out, "Schema version: %d (%s)\n", v, state)
	return nil
}
