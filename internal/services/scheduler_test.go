package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
)

func countingSync(calls *atomic.Int32) SyncFunc {
	return func(ctx context.Context, credentialID, trigger string) (*ImportResult, error) {
		calls.Add(1)
		return &ImportResult{Imported: 1, Status: ledger.SyncSuccess}, nil
	}
}

func enableAutoSync(t *testing.T, l *ledger.Ledger, id string, intervalSec int64) {
	t.Helper()
	insertTestCredential(t, l, id)
	require.NoError(t, l.SetCredentialAutoSync(context.Background(), id, true, intervalSec))
}

func TestSchedulerReloadStartsAndStops(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	enableAutoSync(t, l, "cred-1", 600)
	enableAutoSync(t, l, "cred-2", 1200)

	var calls atomic.Int32
	s := NewSyncScheduler(l, countingSync(&calls))
	defer s.Stop()

	require.NoError(t, s.Reload(ctx))
	assert.ElementsMatch(t, []string{"cred-1", "cred-2"}, s.ActiveTasks())

	// Disabling one credential drops its task on the next reload.
	require.NoError(t, l.SetCredentialAutoSync(ctx, "cred-2", false, 1200))
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, []string{"cred-1"}, s.ActiveTasks())

	// Deactivating the other empties the schedule.
	require.NoError(t, l.SetCredentialActive(ctx, "cred-1", false))
	require.NoError(t, s.Reload(ctx))
	assert.Empty(t, s.ActiveTasks())
}

func TestSchedulerTicks(t *testing.T) {
	l := openTestLedger(t)
	enableAutoSync(t, l, "cred-1", 1)

	var calls atomic.Int32
	s := NewSyncScheduler(l, countingSync(&calls))
	defer s.Stop()

	require.NoError(t, s.Reload(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 },
		3*time.Second, 50*time.Millisecond)
}

func TestSchedulerReloadKeepsUnchangedTask(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	enableAutoSync(t, l, "cred-1", 600)

	s := NewSyncScheduler(l, countingSync(&atomic.Int32{}))
	defer s.Stop()

	require.NoError(t, s.Reload(ctx))
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, []string{"cred-1"}, s.ActiveTasks())
}

func TestSchedulerReloadDrainsBeforeRestart(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	enableAutoSync(t, l, "cred-1", 1)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var inFlight, overlapped atomic.Int32
	blocking := func(tctx context.Context, credentialID, trigger string) (*ImportResult, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Add(1)
		}
		started <- struct{}{}
		<-release
		inFlight.Add(-1)
		return &ImportResult{Status: ledger.SyncSuccess}, nil
	}

	s := NewSyncScheduler(l, blocking)
	require.NoError(t, s.Reload(ctx))

	// Wait for a tick to get stuck inside the sync.
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("first tick never started")
	}

	// A reload that retires the task must wait out the stuck run before
	// its replacement can tick; release the run once the reload blocks.
	reloaded := make(chan error, 1)
	require.NoError(t, l.SetCredentialAutoSync(ctx, "cred-1", true, 2))
	go func() { reloaded <- s.Reload(ctx) }()

	select {
	case err := <-reloaded:
		t.Fatalf("reload returned before the old task drained: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-reloaded)
	s.Stop()

	assert.Zero(t, overlapped.Load(), "old and new task ran at once")
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	l := openTestLedger(t)
	enableAutoSync(t, l, "cred-1", 1)

	var calls atomic.Int32
	release := make(chan struct{})
	blocking := func(ctx context.Context, credentialID, trigger string) (*ImportResult, error) {
		calls.Add(1)
		<-release
		return &ImportResult{Status: ledger.SyncSuccess}, nil
	}

	s := NewSyncScheduler(l, blocking)
	require.NoError(t, s.Reload(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() == 1 },
		3*time.Second, 50*time.Millisecond)

	// Two more ticks pass while the first run is stuck; none may start.
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	s.Stop()
}
