package services

import (
	"encoding/json"
	"math"

	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
)

// Break-even band in quote currency. PnL inside the band counts as BE.
const breakEvenEpsilon = 0.01

// Mapper turns exchange fills into journal trades using the account's risk
// settings. The exchange does not know the trader's planned risk, so 1R is
// reconstructed from portfolio size and the default risk percent.
type Mapper struct {
	PortfolioSize float64
	RPercent      float64
}

func NewMapper(portfolioSize, rPercent float64) *Mapper {
	if portfolioSize <= 0 {
		portfolioSize = 10000
	}
	if rPercent <= 0 {
		rPercent = 1
	}
	return &Mapper{PortfolioSize: portfolioSize, RPercent: rPercent}
}

type exitRecord struct {
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Timestamp int64   `json:"timestamp"`
}

// Map builds the ledger trade for a fill. Closed fills get WIN/LOSS/BE from
// realized pnl; fills with no exit stay OPEN.
func (m *Mapper) Map(exchangeName string, raw exchange.RawTrade) (*ledger.Trade, error) {
	riskAmount := m.PortfolioSize * m.RPercent / 100

	t := &ledger.Trade{
		Symbol:          raw.Symbol,
		Side:            raw.Side,
		PositionSide:    raw.PositionSide,
		Quantity:        raw.Quantity,
		EntryPrice:      raw.EntryPrice,
		ExitPrice:       raw.ExitPrice,
		PnL:             raw.PnL,
		ImportSource:    ledger.SourceAPIImport,
		Fingerprint:     Fingerprint(exchangeName, raw),
		ExchangeTradeID: raw.ExchangeTradeID,
		ExchangeOrderID: raw.ExchangeOrderID,
		OpenedAt:        raw.Timestamp,
		ClosedAt:        raw.CloseTimestamp,
		Leverage:        m.estimateLeverage(raw),
		Status:          deriveStatus(raw),
	}

	if riskAmount > 0 {
		t.RiskAmount = &riskAmount
		if raw.Quantity > 0 {
			sl := riskAmount / raw.Quantity
			t.StopLossDistance = &sl
		}
		if t.Status != ledger.StatusOpen {
			r := raw.PnL / riskAmount
			t.PnLInR = &r
		}
	}

	if raw.ExitPrice != nil {
		exits, err := json.Marshal([]exitRecord{{
			Price:     *raw.ExitPrice,
			Quantity:  raw.Quantity,
			Timestamp: exitTimestamp(raw),
		}})
		if err != nil {
			return nil, err
		}
		t.ExitsJSON = string(exits)
	}

	return t, nil
}

func deriveStatus(raw exchange.RawTrade) string {
	if raw.ExitPrice == nil {
		return ledger.StatusOpen
	}
	switch {
	case raw.PnL > breakEvenEpsilon:
		return ledger.StatusWin
	case raw.PnL < -breakEvenEpsilon:
		return ledger.StatusLoss
	default:
		return ledger.StatusBreakEven
	}
}

// estimateLeverage approximates position leverage from notional against the
// portfolio, clamped to a sane futures range.
func (m *Mapper) estimateLeverage(raw exchange.RawTrade) float64 {
	if m.PortfolioSize <= 0 {
		return 1
	}
	lev := raw.Quantity * raw.EntryPrice / m.PortfolioSize
	lev = math.Round(lev*100) / 100
	if lev < 1 {
		return 1
	}
	if lev > 20 {
		return 20
	}
	return lev
}

func exitTimestamp(raw exchange.RawTrade) int64 {
	if raw.CloseTimestamp != nil {
		return *raw.CloseTimestamp
	}
	return raw.Timestamp
}
