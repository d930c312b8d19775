// Package cli implements the loomctl admin commands: replaying projections
// from the event log, tailing the log, and inspecting store statistics.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"loom/internal/repository/postgres"
)

var (
	dbURL       string
	tablePrefix string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "loomctl",
	Short: "Admin tooling for the loom event store",
	Long:  "Operational commands for loom: rebuild materialized state from the event log, tail events, and inspect the store.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbURL, "db", "d", "", "Database URL (default: $DATABASE_URL)")
	RootCmd.PersistentFlags().StringVarP(&tablePrefix, "prefix", "p", "dev_", "Table prefix (dev_/test_/prod_)")
}

func getDatabaseURL() string {
	if dbURL != "" {
		return dbURL
	}
	_ = godotenv.Load()
	return os.Getenv("DATABASE_URL")
}

// openRepositories connects and returns the shared repository config.
// Caller must close the pool.
func openRepositories(ctx context.Context) (*postgres.RepositoryConfig, error) {
	url := getDatabaseURL()
	if url == "" {
		return nil, fmt.Errorf("no database URL: set --db or $DATABASE_URL")
	}

	pool, err := postgres.CreateConnectionPool(ctx, url)
	if err != nil {
		return nil, err
	}

	return &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(tablePrefix),
		Logger: newLogger(),
	}, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
