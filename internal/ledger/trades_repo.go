package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trade statuses.
const (
	StatusWin       = "WIN"
	StatusLoss      = "LOSS"
	StatusBreakEven = "BE"
	StatusOpen      = "OPEN"
)

// Import sources.
const (
	SourceManual    = "MANUAL"
	SourceAPIImport = "API_IMPORT"
)

var ErrInvalidTrade = errors.New("invalid trade")

type Trade struct {
	ID               string
	CredentialID     string
	Symbol           string
	Side             string
	PositionSide     string
	Quantity         float64
	EntryPrice       float64
	ExitPrice        *float64
	StopLossDistance *float64
	Leverage         float64
	RiskAmount       *float64
	PnL              float64
	PnLInR           *float64
	Status           string
	ImportSource     string
	Fingerprint      string
	ExchangeTradeID  string
	ExchangeOrderID  string
	TakeProfitsJSON  string
	ExitsJSON        string
	OpenedAt         int64
	ClosedAt         *int64
	Deleted          bool
	CreatedAt        string
	UpdatedAt        string
}

// validate enforces the journal rules before persisting. Manual entries must
// carry risk sizing so later R-multiple math is possible; API imports report
// whatever the exchange reported, which may lack a planned stop.
func (t *Trade) validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	}
	if t.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidTrade)
	}
	switch t.Status {
	case StatusWin, StatusLoss, StatusBreakEven, StatusOpen:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTrade, t.Status)
	}
	if t.ImportSource != SourceAPIImport {
		if t.RiskAmount == nil || *t.RiskAmount <= 0 {
			return fmt.Errorf("%w: risk amount must be positive", ErrInvalidTrade)
		}
	}
	return nil
}

func (l *Ledger) InsertTrade(ctx context.Context, t *Trade) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ImportSource == "" {
		t.ImportSource = SourceManual
	}
	if t.Leverage == 0 {
		t.Leverage = 1
	}
	now := time.Now().Format(time.RFC3339Nano)
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := l.db.ExecContext(ctx, `
INSERT INTO trades (
  id, credential_id, symbol, side, position_side, quantity, entry_price,
  exit_price, stop_loss_distance, leverage, risk_amount, pnl, pnl_in_r,
  status, import_source, fingerprint, exchange_trade_id, exchange_order_id,
  take_profits_json, exits_json, opened_at, closed_at, deleted,
  created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,?,?)
`,
		t.ID, nullIfEmpty(t.CredentialID), t.Symbol, t.Side, t.PositionSide,
		t.Quantity, t.EntryPrice, t.ExitPrice, t.StopLossDistance, t.Leverage,
		t.RiskAmount, t.PnL, t.PnLInR, t.Status, t.ImportSource,
		nullIfEmpty(t.Fingerprint), nullIfEmpty(t.ExchangeTradeID),
		nullIfEmpty(t.ExchangeOrderID), nullIfEmpty(t.TakeProfitsJSON),
		nullIfEmpty(t.ExitsJSON), t.OpenedAt, t.ClosedAt, now, now)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ExistsByFingerprint reports whether an imported trade with this
// fingerprint is already present, deleted rows included so a user deleting
// an import does not get it re-imported on the next sync.
func (l *Ledger) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	row := l.db.QueryRowContext(ctx, `SELECT 1 FROM trades WHERE fingerprint=?`, fingerprint)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return true, nil
}

type TradeCounts struct {
	Total   int `json:"total"`
	Open    int `json:"open"`
	Deleted int `json:"deleted"`
	API     int `json:"api_imported"`
}

func (l *Ledger) CountTrades(ctx context.Context) (TradeCounts, error) {
	var c TradeCounts
	row := l.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       SUM(CASE WHEN status=? AND deleted=0 THEN 1 ELSE 0 END),
       SUM(CASE WHEN deleted=1 THEN 1 ELSE 0 END),
       SUM(CASE WHEN import_source=? THEN 1 ELSE 0 END)
FROM trades`, StatusOpen, SourceAPIImport)
	var open, deleted, api sql.NullInt64
	if err := row.Scan(&c.Total, &open, &deleted, &api); err != nil {
		return c, fmt.Errorf("count trades: %w", err)
	}
	c.Open = int(open.Int64)
	c.Deleted = int(deleted.Int64)
	c.API = int(api.Int64)
	return c, nil
}

// RestoreDeletedTrades flips soft-deleted rows back, returning how many
// were restored.
func (l *Ledger) RestoreDeletedTrades(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
UPDATE trades SET deleted=0, updated_at=? WHERE deleted=1`,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("restore trades: %w", err)
	}
	return res.RowsAffected()
}

func (l *Ledger) SoftDeleteTrade(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `
UPDATE trades SET deleted=1, updated_at=? WHERE id=?`,
		time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("delete trade: %w", err)
	}
	return nil
}

func (l *Ledger) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, COALESCE(credential_id,''), symbol, side, position_side, quantity,
       entry_price, exit_price, stop_loss_distance, leverage, risk_amount,
       pnl, pnl_in_r, status, import_source, COALESCE(fingerprint,''),
       COALESCE(exchange_trade_id,''), COALESCE(exchange_order_id,''),
       COALESCE(take_profits_json,''), COALESCE(exits_json,''),
       opened_at, closed_at, deleted, created_at, updated_at
FROM trades WHERE deleted=0 ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var deleted int
		if err := rows.Scan(&t.ID, &t.CredentialID, &t.Symbol, &t.Side,
			&t.PositionSide, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.StopLossDistance, &t.Leverage, &t.RiskAmount, &t.PnL,
			&t.PnLInR, &t.Status, &t.ImportSource, &t.Fingerprint,
			&t.ExchangeTradeID, &t.ExchangeOrderID, &t.TakeProfitsJSON,
			&t.ExitsJSON, &t.OpenedAt, &t.ClosedAt, &deleted,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Deleted = deleted != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
