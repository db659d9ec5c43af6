package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/taskwell/config"
	"github.com/wrenlabs/taskwell/db"
	"github.com/wrenlabs/taskwell/logger"
	"github.com/wrenlabs/taskwell/task"
)

// Registry is the handler registry the CLI commands use. Applications
// embedding the taskwell CLI register their handlers here before
// calling Execute; the bare binary ships with an empty registry.
var Registry = task.NewRegistry()

// openDatabase opens and migrates the configured database. The --db
// flag, when set, overrides the configured path.
func openDatabase(cmd *cobra.Command, cfg *config.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if override, _ := cmd.Flags().GetString("db"); override != "" {
		path = override
	}

	conn, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return conn, nil
}

// openStore is the common setup for task-manipulating commands.
func openStore(cmd *cobra.Command) (*task.Store, *sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	conn, err := openDatabase(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	store := task.NewStore(conn, Registry, nil, logger.Logger)
	return store, conn, cfg, nil
}
