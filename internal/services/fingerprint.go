// Package services implements the sync machinery: mapping exchange fills
// into journal trades, the import pipeline, the live mirror, and the
// auto-sync scheduler.
package services

import (
	"fmt"
	"strings"

	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
)

// Fingerprint identifies an imported fill across syncs. Same fill, same
// fingerprint, regardless of when or how it was fetched. Quantity and pnl
// are fixed to 8 decimals so float formatting cannot split identities.
func Fingerprint(exchangeName string, t exchange.RawTrade) string {
	return fmt.Sprintf("api|%s|%s|%s|%s|%.8f|%.8f|%d",
		exchangeName,
		t.ExchangeTradeID,
		t.ExchangeOrderID,
		strings.ToLower(t.Symbol),
		t.Quantity,
		t.PnL,
		t.Timestamp)
}
