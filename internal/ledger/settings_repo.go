package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known settings keys.
const (
	SettingPortfolioSize   = "portfolio_size"
	SettingDefaultRPercent = "default_r_percent"
)

func (l *Ledger) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := l.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return v, true, nil
}

func (l *Ledger) SetSetting(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSettingFloat reads a numeric setting, falling back to def when absent
// or unparsable.
func (l *Ledger) GetSettingFloat(ctx context.Context, key string, def float64) (float64, error) {
	v, ok, err := l.GetSetting(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, nil
	}
	return f, nil
}
