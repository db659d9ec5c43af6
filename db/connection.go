// Package db opens and migrates the taskwell SQLite database.
package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wrenlabs/taskwell/errors"
)

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
//
// Settings are passed as connection-string parameters, not PRAGMA
// statements: PRAGMAs issued through db.Exec only configure whichever
// pooled connection happens to serve that call, while DSN parameters
// apply to every connection the pool opens.
//
// Transactions begin as immediate (write) transactions. The claim path
// depends on this: contending claimers serialize on the write lock
// through the busy timeout instead of failing a deferred read-to-write
// upgrade with a busy-snapshot error.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Verify the file is actually reachable; sql.Open alone is lazy.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}
