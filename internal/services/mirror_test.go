package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonyr0ux/trading-journal-macos/internal/events"
	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/vault"
)

func countingPoll(calls *atomic.Int32) MirrorPollFunc {
	return func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		n := calls.Add(1)
		return &ImportResult{Imported: 1, Status: ledger.SyncSuccess}, int64(n), nil
	}
}

func TestMirrorStartStop(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var calls atomic.Int32
	m := NewLiveMirrorManager(l, countingPoll(&calls), events.NewHub(), 20*time.Millisecond)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	assert.True(t, m.IsRunning("cred-1"))

	assert.Eventually(t, func() bool { return calls.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, MirrorRunning, status[0].State)
	assert.GreaterOrEqual(t, status[0].Polls, 2)
	assert.GreaterOrEqual(t, status[0].Imported, 2)

	require.NoError(t, m.Stop("cred-1"))
	assert.False(t, m.IsRunning("cred-1"))

	// Stop destroys the session; nothing about it lingers in status.
	assert.Empty(t, m.Status())
}

func TestMirrorCursorAdvancesAcrossPolls(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var mu sync.Mutex
	var sinceSeen []int64
	poll := func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		mu.Lock()
		sinceSeen = append(sinceSeen, since)
		n := int64(len(sinceSeen))
		mu.Unlock()
		return &ImportResult{Status: ledger.SyncSuccess}, n * 1000, nil
	}
	m := NewLiveMirrorManager(l, poll, events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	require.NoError(t, m.Nudge("cred-1"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sinceSeen) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop("cred-1"))

	mu.Lock()
	assert.Equal(t, int64(0), sinceSeen[0])
	assert.Equal(t, int64(1000), sinceSeen[1])
	sinceSeen = nil
	mu.Unlock()

	// The cursor died with the session: a fresh start begins from zero.
	require.NoError(t, m.Start(context.Background(), "cred-1"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sinceSeen) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop("cred-1"))

	mu.Lock()
	assert.Equal(t, int64(0), sinceSeen[0])
	mu.Unlock()
}

func TestMirrorNudgeForcesPoll(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var calls atomic.Int32
	m := NewLiveMirrorManager(l, countingPoll(&calls), events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	assert.Eventually(t, func() bool { return calls.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	// The hour-long ticker will not fire; only the nudge can.
	require.NoError(t, m.Nudge("cred-1"))
	assert.Eventually(t, func() bool { return calls.Load() == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop("cred-1"))
	assert.ErrorIs(t, m.Nudge("cred-1"), ErrMirrorNotRunning)
}

func TestMirrorStopNotRunning(t *testing.T) {
	l := openTestLedger(t)
	m := NewLiveMirrorManager(l, countingPoll(&atomic.Int32{}), events.NewHub(), time.Second)
	assert.ErrorIs(t, m.Stop("nope"), ErrMirrorNotRunning)
}

func TestMirrorUnknownCredential(t *testing.T) {
	l := openTestLedger(t)
	m := NewLiveMirrorManager(l, countingPoll(&atomic.Int32{}), events.NewHub(), time.Second)
	assert.ErrorIs(t, m.Start(context.Background(), "ghost"), ledger.ErrCredentialNotFound)
}

func TestMirrorExclusivePerCredential(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var calls atomic.Int32
	m := NewLiveMirrorManager(l, countingPoll(&calls), events.NewHub(), time.Hour)
	defer m.StopAll()

	const starters = 8
	errs := make(chan error, starters)
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Start(context.Background(), "cred-1")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, busy int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrMirrorAlreadyRunning):
			busy++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, starters-1, busy)
}

func TestMirrorRestartAfterStop(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var calls atomic.Int32
	m := NewLiveMirrorManager(l, countingPoll(&calls), events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	require.NoError(t, m.Stop("cred-1"))
	require.NoError(t, m.Start(context.Background(), "cred-1"))
	require.NoError(t, m.Stop("cred-1"))
}

func TestMirrorPanicMarksFailed(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	panicPoll := func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		panic("exchange client blew up")
	}
	m := NewLiveMirrorManager(l, panicPoll, events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))

	assert.Eventually(t, func() bool {
		status := m.Status()
		return len(status) == 1 && status[0].State == MirrorFailed
	}, 2*time.Second, 10*time.Millisecond)

	status := m.Status()
	assert.Contains(t, status[0].LastError, "exchange client blew up")

	hist, err := l.ListSyncHistory(context.Background(), "cred-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ledger.SyncFailed, hist[0].Status)
	assert.Equal(t, ledger.TriggerMirror, hist[0].Trigger)

	// A failed session may be started again.
	var calls atomic.Int32
	m2 := NewLiveMirrorManager(l, countingPoll(&calls), events.NewHub(), time.Hour)
	require.NoError(t, m2.Start(context.Background(), "cred-1"))
	m2.StopAll()
}

func TestMirrorAuthErrorMarksFailed(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	revoked := func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		return nil, 0, &exchange.APIError{Exchange: "bitget", Code: "40037", Message: "apikey does not exist"}
	}
	m := NewLiveMirrorManager(l, revoked, events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))

	assert.Eventually(t, func() bool {
		status := m.Status()
		return len(status) == 1 && status[0].State == MirrorFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.IsRunning("cred-1"))

	hist, err := l.ListSyncHistory(context.Background(), "cred-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ledger.SyncFailed, hist[0].Status)
	assert.Contains(t, hist[0].Error, "40037")
}

func TestMirrorVaultErrorMarksFailed(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	sealed := func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		return nil, 0, vault.ErrDecryptionFailed
	}
	m := NewLiveMirrorManager(l, sealed, events.NewHub(), time.Hour)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	assert.Eventually(t, func() bool {
		status := m.Status()
		return len(status) == 1 && status[0].State == MirrorFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirrorTransientErrorKeepsRunning(t *testing.T) {
	l := openTestLedger(t)
	insertTestCredential(t, l, "cred-1")

	var calls atomic.Int32
	flaky := func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error) {
		if calls.Add(1) == 1 {
			return nil, 0, assert.AnError
		}
		return &ImportResult{Status: ledger.SyncSuccess}, 0, nil
	}
	m := NewLiveMirrorManager(l, flaky, events.NewHub(), 20*time.Millisecond)

	require.NoError(t, m.Start(context.Background(), "cred-1"))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, m.IsRunning("cred-1"))

	status := m.Status()
	require.Len(t, status, 1)
	assert.Empty(t, status[0].LastError)

	require.NoError(t, m.Stop("cred-1"))
}