package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthonyr0ux/trading-journal-macos/internal/events"
	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/cache"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
)

const fingerprintCacheTTL = time.Hour

// Importer is the trade import pipeline: dedup by fingerprint, map, insert,
// record history. A hot cache in front of the ledger spares the database a
// lookup per row on busy mirror polls.
type Importer struct {
	ledger *ledger.Ledger
	hub    *events.Hub
	seen   *cache.TTLCache[string, bool]
}

func NewImporter(l *ledger.Ledger, hub *events.Hub) *Importer {
	return &Importer{
		ledger: l,
		hub:    hub,
		seen:   cache.NewTTLCache[string, bool](fingerprintCacheTTL),
	}
}

func (imp *Importer) Close() { imp.seen.Close() }

type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Status   string   `json:"status"`
	Errors   []string `json:"errors,omitempty"`
}

// status falls out of the counts alone: every failure with nothing landed
// is a failed run, failures next to successes are partial.
func (r *ImportResult) deriveStatus() {
	switch {
	case r.Failed > 0 && r.Imported == 0:
		r.Status = ledger.SyncFailed
	case r.Failed > 0:
		r.Status = ledger.SyncPartial
	default:
		r.Status = ledger.SyncSuccess
	}
}

// Import runs the pipeline for one batch of fills. Row failures never abort
// the batch; they are counted and reported. The run is always recorded in
// sync history, and last-sync is touched whenever anything landed.
//
// skipDuplicates is the dedup policy: when false, rows land even if their
// fingerprint is already in the ledger. Dedup is best-effort, not
// exactly-once.
func (imp *Importer) Import(ctx context.Context, cred ledger.Credential, trades []exchange.RawTrade, trigger string, skipDuplicates bool) (*ImportResult, error) {
	startedAt := time.Now().Format(time.RFC3339Nano)
	res := &ImportResult{}

	for _, raw := range trades {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp := Fingerprint(cred.Exchange, raw)

		if skipDuplicates {
			if _, hit := imp.seen.Get(fp); hit {
				res.Skipped++
				continue
			}
			exists, err := imp.ledger.ExistsByFingerprint(ctx, fp)
			if err != nil {
				return nil, err
			}
			if exists {
				imp.seen.Set(fp, true, fingerprintCacheTTL)
				res.Skipped++
				continue
			}
		}

		mapper, err := imp.mapperFor(ctx)
		if err != nil {
			return nil, err
		}
		trade, err := mapper.Map(cred.Exchange, raw)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", raw.ExchangeTradeID, err))
			continue
		}
		trade.CredentialID = cred.ID
		if err := imp.ledger.InsertTrade(ctx, trade); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", raw.ExchangeTradeID, err))
			continue
		}

		imp.seen.Set(fp, true, fingerprintCacheTTL)
		res.Imported++
		imp.hub.Publish(events.Event{
			Type:         events.TypeTradeImported,
			CredentialID: cred.ID,
			Exchange:     cred.Exchange,
			Payload:      map[string]string{"trade_id": trade.ID, "symbol": trade.Symbol},
		})
	}

	res.deriveStatus()

	rec := &ledger.SyncRecord{
		CredentialID: cred.ID,
		Exchange:     cred.Exchange,
		Trigger:      trigger,
		Status:       res.Status,
		Imported:     res.Imported,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
		StartedAt:    startedAt,
	}
	if len(res.Errors) > 0 {
		rec.Error = strings.Join(res.Errors, "; ")
	}
	if err := imp.ledger.RecordSync(ctx, rec); err != nil {
		return nil, err
	}
	if res.Imported > 0 {
		if err := imp.ledger.TouchLastSync(ctx, cred.ID); err != nil {
			return nil, err
		}
	}

	logger.Infof("import %s/%s (%s): %d imported, %d skipped, %d failed",
		cred.Exchange, cred.Label, trigger, res.Imported, res.Skipped, res.Failed)
	return res, nil
}

// mapperFor reads the risk settings fresh each batch so settings changes
// apply without a restart.
func (imp *Importer) mapperFor(ctx context.Context) (*Mapper, error) {
	portfolio, err := imp.ledger.GetSettingFloat(ctx, ledger.SettingPortfolioSize, 10000)
	if err != nil {
		return nil, err
	}
	rPercent, err := imp.ledger.GetSettingFloat(ctx, ledger.SettingDefaultRPercent, 1)
	if err != nil {
		return nil, err
	}
	return NewMapper(portfolio, rPercent), nil
}
