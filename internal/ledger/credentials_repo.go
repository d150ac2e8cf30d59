package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Credential is the non-secret half of an exchange API credential. The
// secret half lives in the vault under keys derived from ID.
type Credential struct {
	ID                string `json:"id"`
	Exchange          string `json:"exchange"`
	Label             string `json:"label"`
	IsActive          bool   `json:"is_active"`
	AutoSyncEnabled   bool   `json:"auto_sync_enabled"`
	AutoSyncInterval  int64  `json:"auto_sync_interval"` // seconds
	LiveMirrorEnabled bool   `json:"live_mirror_enabled"`
	LastSyncAt        string `json:"last_sync_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func (l *Ledger) InsertCredential(ctx context.Context, c *Credential) error {
	if c.ID == "" {
		return errors.New("credential id is required")
	}
	if c.Exchange == "" {
		return errors.New("credential exchange is required")
	}
	if c.AutoSyncInterval <= 0 {
		c.AutoSyncInterval = 3600
	}
	now := time.Now().Format(time.RFC3339Nano)
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := l.db.ExecContext(ctx, `
INSERT INTO api_credentials (
  id, exchange, label, is_active, auto_sync_enabled, auto_sync_interval,
  live_mirror_enabled, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Exchange, c.Label, boolInt(c.IsActive),
		boolInt(c.AutoSyncEnabled), c.AutoSyncInterval,
		boolInt(c.LiveMirrorEnabled), now, now)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (l *Ledger) GetCredential(ctx context.Context, id string) (*Credential, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, exchange, label, is_active, auto_sync_enabled, auto_sync_interval,
       live_mirror_enabled, COALESCE(last_sync_at,''), created_at, updated_at
FROM api_credentials WHERE id=?`, id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (l *Ledger) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, exchange, label, is_active, auto_sync_enabled, auto_sync_interval,
       live_mirror_enabled, COALESCE(last_sync_at,''), created_at, updated_at
FROM api_credentials ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListAutoSyncCredentials returns active credentials with auto sync on,
// the working set of the scheduler.
func (l *Ledger) ListAutoSyncCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, exchange, label, is_active, auto_sync_enabled, auto_sync_interval,
       live_mirror_enabled, COALESCE(last_sync_at,''), created_at, updated_at
FROM api_credentials WHERE is_active=1 AND auto_sync_enabled=1
ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list auto-sync credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (l *Ledger) DeleteCredential(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM api_credentials WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (l *Ledger) SetCredentialActive(ctx context.Context, id string, active bool) error {
	return l.updateCredentialFlag(ctx, id, "is_active", active)
}

func (l *Ledger) SetCredentialLiveMirror(ctx context.Context, id string, enabled bool) error {
	return l.updateCredentialFlag(ctx, id, "live_mirror_enabled", enabled)
}

func (l *Ledger) SetCredentialAutoSync(ctx context.Context, id string, enabled bool, intervalSec int64) error {
	if intervalSec <= 0 {
		intervalSec = 3600
	}
	res, err := l.db.ExecContext(ctx, `
UPDATE api_credentials SET auto_sync_enabled=?, auto_sync_interval=?, updated_at=?
WHERE id=?`, boolInt(enabled), intervalSec, time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update auto sync: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (l *Ledger) TouchLastSync(ctx context.Context, id string) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(ctx, `
UPDATE api_credentials SET last_sync_at=?, updated_at=? WHERE id=?`, now, now, id)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

func (l *Ledger) updateCredentialFlag(ctx context.Context, id, col string, v bool) error {
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE api_credentials SET %s=?, updated_at=? WHERE id=?`, col),
		boolInt(v), time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", col, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var active, autoSync, mirror int
	if err := row.Scan(&c.ID, &c.Exchange, &c.Label, &active, &autoSync,
		&c.AutoSyncInterval, &mirror, &c.LastSyncAt, &c.CreatedAt,
		&c.UpdatedAt); err != nil {
		return nil, err
	}
	c.IsActive = active != 0
	c.AutoSyncEnabled = autoSync != 0
	c.LiveMirrorEnabled = mirror != 0
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
