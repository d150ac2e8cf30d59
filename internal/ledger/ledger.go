// Package ledger owns the sqlite database behind the journal: trades,
// credential metadata, sync history and cursors, settings. Secrets never
// touch this database.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Ledger wraps the sqlite handle. All repo methods hang off it.
type Ledger struct {
	db *sql.DB
}

func Open(dbPath string) (*Ledger, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single connection is more stable
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// DB exposes the raw handle for callers that need ad-hoc queries.
func (l *Ledger) DB() *sql.DB { return l.db }
