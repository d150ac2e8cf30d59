package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (l *Ledger) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  credential_id TEXT,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  position_side TEXT NOT NULL,
  quantity REAL NOT NULL,
  entry_price REAL NOT NULL,
  exit_price REAL,
  stop_loss_distance REAL,
  leverage REAL NOT NULL DEFAULT 1,
  risk_amount REAL,
  pnl REAL NOT NULL DEFAULT 0,
  pnl_in_r REAL,
  status TEXT NOT NULL,
  import_source TEXT NOT NULL DEFAULT 'MANUAL',
  fingerprint TEXT,
  exchange_trade_id TEXT,
  exchange_order_id TEXT,
  take_profits_json TEXT,
  exits_json TEXT,
  opened_at INTEGER NOT NULL,
  closed_at INTEGER,
  deleted INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		// Lookup index only. Dedup is a best-effort check in the import
	// pipeline; a disabled dedup flag may legitimately insert the same
	// fingerprint twice.
	`CREATE INDEX IF NOT EXISTS idx_trades_fingerprint ON trades(fingerprint) WHERE fingerprint IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_credential ON trades(credential_id);`,
		`
CREATE TABLE IF NOT EXISTS api_credentials (
  id TEXT PRIMARY KEY,
  exchange TEXT NOT NULL,
  label TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  auto_sync_enabled INTEGER NOT NULL DEFAULT 0,
  auto_sync_interval INTEGER NOT NULL DEFAULT 3600,
  live_mirror_enabled INTEGER NOT NULL DEFAULT 0,
  last_sync_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS api_sync_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  credential_id TEXT NOT NULL,
  exchange TEXT NOT NULL,
  trigger_source TEXT NOT NULL, -- "manual" | "scheduled" | "mirror"
  status TEXT NOT NULL,         -- "success" | "partial" | "failed"
  imported INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_cred ON api_sync_history(credential_id, started_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS sync_state (
  credential_id TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (credential_id, key)
);`,
		`
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	}

	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}

	// Older databases predate these columns (sqlite has no ADD COLUMN IF
	// NOT EXISTS).
	for _, col := range []struct {
		table string
		name  string
		ddl   string
	}{
		{"trades", "import_source", `ALTER TABLE trades ADD COLUMN import_source TEXT NOT NULL DEFAULT 'MANUAL';`},
		{"trades", "pnl_in_r", `ALTER TABLE trades ADD COLUMN pnl_in_r REAL;`},
		{"api_credentials", "auto_sync_enabled", `ALTER TABLE api_credentials ADD COLUMN auto_sync_enabled INTEGER NOT NULL DEFAULT 0;`},
		{"api_credentials", "auto_sync_interval", `ALTER TABLE api_credentials ADD COLUMN auto_sync_interval INTEGER NOT NULL DEFAULT 3600;`},
		{"api_credentials", "live_mirror_enabled", `ALTER TABLE api_credentials ADD COLUMN live_mirror_enabled INTEGER NOT NULL DEFAULT 0;`},
	} {
		ok, err := hasColumn(ctx, l.db, col.table, col.name)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := l.db.ExecContext(ctx, col.ddl); err != nil {
				return fmt.Errorf("alter %s add %s: %w", col.table, col.name, err)
			}
		}
	}

	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table string, col string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}
