package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteLog stores records in an insert-only table.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// An empty path or ":memory:" opens an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLog, error) {
	dsn := strings.TrimSpace(path)
	inMemory := dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == "" {
		dsn = ":memory:"
	}
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	l := &SQLiteLog{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purge_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            logged_at TEXT NOT NULL,
            query TEXT NOT NULL,
            affected INTEGER NOT NULL,
            action TEXT NOT NULL,
            method TEXT NOT NULL
        );`,
		`CREATE TRIGGER IF NOT EXISTS purge_log_no_update
            BEFORE UPDATE ON purge_log
            BEGIN SELECT RAISE(ABORT, 'purge_log is append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS purge_log_no_delete
            BEFORE DELETE ON purge_log
            BEGIN SELECT RAISE(ABORT, 'purge_log is append-only'); END;`,
	}
	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append inserts rec.
func (l *SQLiteLog) Append(ctx context.Context, rec Record) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO purge_log (run_id, logged_at, query, affected, action, method)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Timestamp.Local().Format(TimeLayout),
		rec.Query,
		rec.Count,
		rec.Action,
		rec.Method,
	)
	if err != nil {
		return fmt.Errorf("insert purge log: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

var _ Sink = (*SQLiteLog)(nil)
