package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func f64(v float64) *float64 { return &v }

func sampleTrade() *Trade {
	return &Trade{
		Symbol:       "BTCUSDT",
		Side:         "sell",
		PositionSide: "LONG",
		Quantity:     0.5,
		EntryPrice:   64000,
		ExitPrice:    f64(65000),
		RiskAmount:   f64(100),
		PnL:          500,
		Status:       StatusWin,
		OpenedAt:     1719830000000,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestInsertTradeValidation(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	bad := sampleTrade()
	bad.Quantity = 0
	err := l.InsertTrade(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidTrade)

	bad = sampleTrade()
	bad.RiskAmount = nil
	err = l.InsertTrade(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidTrade)

	// API imports may omit risk sizing.
	apiTrade := sampleTrade()
	apiTrade.RiskAmount = nil
	apiTrade.ImportSource = SourceAPIImport
	apiTrade.Fingerprint = "api|bitget|t1|o1|btcusdt|0.50000000|500.00000000|1719830000000"
	require.NoError(t, l.InsertTrade(ctx, apiTrade))
	assert.NotEmpty(t, apiTrade.ID)
}

func TestFingerprintLookup(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	tr := sampleTrade()
	tr.ImportSource = SourceAPIImport
	tr.Fingerprint = "api|bitget|t1|o1|btcusdt|0.50000000|500.00000000|1719830000000"
	require.NoError(t, l.InsertTrade(ctx, tr))

	exists, err := l.ExistsByFingerprint(ctx, tr.Fingerprint)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = l.ExistsByFingerprint(ctx, "api|bitget|other|o|x|1|1|1")
	require.NoError(t, err)
	assert.False(t, exists)

	// The ledger itself does not enforce uniqueness; with dedup switched
	// off the pipeline may store the same fingerprint more than once.
	dup := sampleTrade()
	dup.ID = ""
	dup.ImportSource = SourceAPIImport
	dup.Fingerprint = tr.Fingerprint
	require.NoError(t, l.InsertTrade(ctx, dup))

	var n int
	row := l.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE fingerprint = ?`, tr.Fingerprint)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 2, n)
}

func TestDeletedTradeStillBlocksReimport(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	tr := sampleTrade()
	tr.ImportSource = SourceAPIImport
	tr.Fingerprint = "api|bitget|t9|o9|btcusdt|0.50000000|500.00000000|1719830000000"
	require.NoError(t, l.InsertTrade(ctx, tr))
	require.NoError(t, l.SoftDeleteTrade(ctx, tr.ID))

	exists, err := l.ExistsByFingerprint(ctx, tr.Fingerprint)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := l.RestoreDeletedTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCountTrades(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	open := sampleTrade()
	open.Status = StatusOpen
	open.ExitPrice = nil
	require.NoError(t, l.InsertTrade(ctx, open))
	require.NoError(t, l.InsertTrade(ctx, sampleTrade()))

	c, err := l.CountTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 1, c.Open)
	assert.Equal(t, 0, c.Deleted)
}

func TestCredentialLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	c := &Credential{ID: "cred-1", Exchange: "bitget", Label: "main", IsActive: true}
	require.NoError(t, l.InsertCredential(ctx, c))
	assert.Equal(t, int64(3600), c.AutoSyncInterval)

	got, err := l.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "bitget", got.Exchange)
	assert.True(t, got.IsActive)
	assert.False(t, got.AutoSyncEnabled)

	require.NoError(t, l.SetCredentialAutoSync(ctx, "cred-1", true, 600))
	require.NoError(t, l.SetCredentialLiveMirror(ctx, "cred-1", true))

	auto, err := l.ListAutoSyncCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, int64(600), auto[0].AutoSyncInterval)
	assert.True(t, auto[0].LiveMirrorEnabled)

	require.NoError(t, l.SetCredentialActive(ctx, "cred-1", false))
	auto, err = l.ListAutoSyncCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, auto)

	require.NoError(t, l.DeleteCredential(ctx, "cred-1"))
	_, err = l.GetCredential(ctx, "cred-1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.ErrorIs(t, l.DeleteCredential(ctx, "cred-1"), ErrCredentialNotFound)
}

func TestSyncHistoryAndState(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rec := &SyncRecord{
		CredentialID: "cred-1",
		Exchange:     "bitget",
		Trigger:      TriggerManual,
		Status:       SyncPartial,
		Imported:     5,
		Skipped:      2,
		Failed:       1,
		Error:        "1 rows failed",
	}
	require.NoError(t, l.RecordSync(ctx, rec))
	assert.NotZero(t, rec.ID)

	hist, err := l.ListSyncHistory(ctx, "cred-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, SyncPartial, hist[0].Status)
	assert.Equal(t, 5, hist[0].Imported)

	hist, err = l.ListSyncHistory(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, ok, err := l.GetSyncState(ctx, "cred-1", "last_fill_ts")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.SetSyncState(ctx, "cred-1", "last_fill_ts", "1719830000000"))
	require.NoError(t, l.SetSyncState(ctx, "cred-1", "last_fill_ts", "1719830005000"))
	v, ok, err := l.GetSyncState(ctx, "cred-1", "last_fill_ts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1719830005000", v)

	require.NoError(t, l.DeleteSyncState(ctx, "cred-1"))
	_, ok, err = l.GetSyncState(ctx, "cred-1", "last_fill_ts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	v, err := l.GetSettingFloat(ctx, SettingPortfolioSize, 10000)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, v)

	require.NoError(t, l.SetSetting(ctx, SettingPortfolioSize, "25000"))
	v, err = l.GetSettingFloat(ctx, SettingPortfolioSize, 10000)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, v)
}
