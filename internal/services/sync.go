package services

import (
	"context"
	"strconv"
	"time"

	"github.com/anthonyr0ux/trading-journal-macos/internal/events"
	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
)

const (
	cursorKeyLastFill = "last_fill_ts"

	// Fetches start a little before the stored cursor. Exchanges settle
	// fills late; the fingerprint dedup makes the overlap free.
	cursorOverlap = 5 * time.Minute

	maxFetchPages = 50
)

// SyncOptions shape one manual sync run. A zero StartTime falls back to
// the stored cursor (or the lookback window on first sync); a zero EndTime
// means now.
type SyncOptions struct {
	StartTime      int64 // unix ms
	EndTime        int64 // unix ms
	SkipDuplicates bool
}

// DefaultSyncOptions is incremental sync with dedup on.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{SkipDuplicates: true}
}

// explicitRange reports whether the caller pinned the window instead of
// syncing from the cursor.
func (o SyncOptions) explicitRange() bool {
	return o.StartTime > 0 || o.EndTime > 0
}

// Syncer drives a full sync for one credential: resolve the client, page
// through fills since the cursor, import, advance the cursor.
type Syncer struct {
	ledger       *ledger.Ledger
	creds        *CredentialService
	importer     *Importer
	hub          *events.Hub
	lookbackDays int
}

func NewSyncer(l *ledger.Ledger, creds *CredentialService, importer *Importer, hub *events.Hub, lookbackDays int) *Syncer {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Syncer{ledger: l, creds: creds, importer: importer, hub: hub, lookbackDays: lookbackDays}
}

// SyncNow fetches and imports fills per opts. Without an explicit range it
// resumes from the credential's cursor; the first sync reaches back the
// configured lookback window. The cursor only advances on cursor-driven
// runs, so a historical backfill never drags it backwards.
func (s *Syncer) SyncNow(ctx context.Context, credentialID, trigger string, opts SyncOptions) (*ImportResult, error) {
	client, cred, err := s.creds.Client(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.Event{
		Type:         events.TypeSyncStarted,
		CredentialID: cred.ID,
		Exchange:     cred.Exchange,
		Payload:      map[string]string{"trigger": trigger},
	})

	startTime := opts.StartTime
	if startTime == 0 {
		startTime, err = s.resolveStartTime(ctx, cred.ID)
		if err != nil {
			return nil, err
		}
	}
	endTime := opts.EndTime
	if endTime == 0 {
		endTime = time.Now().UnixMilli()
	}

	trades, err := s.fetchAll(ctx, client, startTime, endTime)
	if err != nil {
		s.recordFailure(ctx, cred, trigger, err)
		return nil, err
	}

	res, err := s.importer.Import(ctx, *cred, trades, trigger, opts.SkipDuplicates)
	if err != nil {
		return nil, err
	}

	if maxTS := maxTimestamp(trades); maxTS > 0 && !opts.explicitRange() {
		if err := s.ledger.SetSyncState(ctx, cred.ID, cursorKeyLastFill,
			strconv.FormatInt(maxTS, 10)); err != nil {
			return nil, err
		}
	}

	s.hub.Publish(events.Event{
		Type:         events.TypeSyncFinished,
		CredentialID: cred.ID,
		Exchange:     cred.Exchange,
		Payload:      res,
	})
	return res, nil
}

// MirrorPoll runs one live-mirror pass: fetch fills after since (unix ms,
// zero means the lookback window), import them with dedup on, and return
// the newest fill timestamp seen. The durable cursor is untouched; the
// mirror session keeps its own cursor in memory.
func (s *Syncer) MirrorPoll(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
	client, cred, err := s.creds.Client(ctx, credentialID)
	if err != nil {
		return nil, 0, err
	}

	startTime := since - cursorOverlap.Milliseconds()
	if since == 0 {
		startTime = time.Now().AddDate(0, 0, -s.lookbackDays).UnixMilli()
	}

	trades, err := s.fetchAll(ctx, client, startTime, time.Now().UnixMilli())
	if err != nil {
		s.recordFailure(ctx, cred, ledger.TriggerMirror, err)
		return nil, 0, err
	}

	res, err := s.importer.Import(ctx, *cred, trades, ledger.TriggerMirror, true)
	if err != nil {
		return nil, 0, err
	}
	return res, maxTimestamp(trades), nil
}

func (s *Syncer) resolveStartTime(ctx context.Context, credentialID string) (int64, error) {
	v, ok, err := s.ledger.GetSyncState(ctx, credentialID, cursorKeyLastFill)
	if err != nil {
		return 0, err
	}
	if ok {
		if cursor, err := strconv.ParseInt(v, 10, 64); err == nil {
			return cursor - cursorOverlap.Milliseconds(), nil
		}
	}
	return time.Now().AddDate(0, 0, -s.lookbackDays).UnixMilli(), nil
}

func (s *Syncer) fetchAll(ctx context.Context, client exchange.Client, startTime, endTime int64) ([]exchange.RawTrade, error) {
	var all []exchange.RawTrade
	cursor := ""
	for page := 0; page < maxFetchPages; page++ {
		resp, err := client.FetchTrades(ctx, exchange.FetchTradesRequest{
			StartTime: startTime,
			EndTime:   endTime,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Trades...)
		if resp.NextCursor == "" || len(resp.Trades) == 0 {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

func (s *Syncer) recordFailure(ctx context.Context, cred *ledger.Credential, trigger string, cause error) {
	rec := &ledger.SyncRecord{
		CredentialID: cred.ID,
		Exchange:     cred.Exchange,
		Trigger:      trigger,
		Status:       ledger.SyncFailed,
		Error:        cause.Error(),
	}
	if err := s.ledger.RecordSync(ctx, rec); err != nil {
		logger.Errorf("record sync failure for %s: %v", cred.ID, err)
	}
	s.hub.Publish(events.Event{
		Type:         events.TypeSyncFinished,
		CredentialID: cred.ID,
		Exchange:     cred.Exchange,
		Payload:      map[string]string{"status": ledger.SyncFailed, "error": cause.Error()},
	})
}

func maxTimestamp(trades []exchange.RawTrade) int64 {
	var max int64
	for _, t := range trades {
		if t.Timestamp > max {
			max = t.Timestamp
		}
	}
	return max
}
