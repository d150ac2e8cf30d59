package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sync history statuses.
const (
	SyncSuccess = "success"
	SyncPartial = "partial"
	SyncFailed  = "failed"
)

// Sync trigger sources.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerMirror    = "mirror"
)

type SyncRecord struct {
	ID           int64  `json:"id"`
	CredentialID string `json:"credential_id"`
	Exchange     string `json:"exchange"`
	Trigger      string `json:"trigger"`
	Status       string `json:"status"`
	Imported     int    `json:"imported"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

func (l *Ledger) RecordSync(ctx context.Context, r *SyncRecord) error {
	if r.StartedAt == "" {
		r.StartedAt = time.Now().Format(time.RFC3339Nano)
	}
	if r.FinishedAt == "" {
		r.FinishedAt = time.Now().Format(time.RFC3339Nano)
	}
	res, err := l.db.ExecContext(ctx, `
INSERT INTO api_sync_history (
  credential_id, exchange, trigger_source, status, imported, skipped,
  failed, error, started_at, finished_at
) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.CredentialID, r.Exchange, r.Trigger, r.Status, r.Imported,
		r.Skipped, r.Failed, nullIfEmpty(r.Error), r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (l *Ledger) ListSyncHistory(ctx context.Context, credentialID string, limit int) ([]SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT id, credential_id, exchange, trigger_source, status, imported,
       skipped, failed, COALESCE(error,''), started_at, COALESCE(finished_at,'')
FROM api_sync_history`
	args := []any{}
	if credentialID != "" {
		q += ` WHERE credential_id=?`
		args = append(args, credentialID)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync history: %w", err)
	}
	defer rows.Close()

	var out []SyncRecord
	for rows.Next() {
		var r SyncRecord
		if err := rows.Scan(&r.ID, &r.CredentialID, &r.Exchange, &r.Trigger,
			&r.Status, &r.Imported, &r.Skipped, &r.Failed, &r.Error,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) GetSyncState(ctx context.Context, credentialID, key string) (string, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE credential_id=? AND key=?`,
		credentialID, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get sync state: %w", err)
	}
	return v, true, nil
}

func (l *Ledger) SetSyncState(ctx context.Context, credentialID, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO sync_state (credential_id, key, value, updated_at)
VALUES (?,?,?,?)
ON CONFLICT(credential_id,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, credentialID, key, value, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

func (l *Ledger) DeleteSyncState(ctx context.Context, credentialID string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM sync_state WHERE credential_id=?`, credentialID)
	if err != nil {
		return fmt.Errorf("delete sync state: %w", err)
	}
	return nil
}
