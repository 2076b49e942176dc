// Package sqlite persists the latest observation and the subscriber set in a
// single SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	date         TEXT    NOT NULL,
	counts       TEXT    NOT NULL,
	committed_at TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS subscribers (
	chat_id    INTEGER PRIMARY KEY,
	created_at TEXT    NOT NULL
);
`

// DB owns the database handle shared by Store and Registry.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("set WAL mode failed", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		logger.Warn("set synchronous mode failed", "error", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("sqlite opened", "path", path)
	return &DB{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
