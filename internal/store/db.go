package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // register sqlite3 database/sql driver
)

// Connect opens the SQLite file at path, creating its parent directory when
// missing. The connection uses WAL journaling so readers never block the single
// writer, and IMMEDIATE transactions so writers queue on the busy timeout
// instead of failing on lock upgrade.
func Connect(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A probe write surfaces an unwritable location at startup rather than on
	// the first job submission.
	if _, err := db.ExecContext(ctx, `PRAGMA user_version = 0`); err != nil {
		db.Close()
		return nil, fmt.Errorf("database not writable: %w", err)
	}

	return db, nil
}
