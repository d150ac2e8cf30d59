package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthonyr0ux/trading-journal-macos/internal/events"
	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/sigchan"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/vault"
)

var (
	ErrMirrorAlreadyRunning = errors.New("live mirror already running for credential")
	ErrMirrorNotRunning     = errors.New("live mirror not running for credential")
)

// Mirror session states. A stopped session has no state at all: stop
// removes the registry entry.
const (
	MirrorRunning = "running"
	MirrorFailed  = "failed"
)

// SyncFunc runs one sync pass for a credential. The scheduler is written
// against this instead of the full Syncer so the timer machinery stays
// testable.
type SyncFunc func(ctx context.Context, credentialID, trigger string) (*ImportResult, error)

// MirrorPollFunc runs one mirror poll, fetching fills after since (unix
// ms, zero means the full lookback window) and returning the newest fill
// timestamp seen.
type MirrorPollFunc func(ctx context.Context, credentialID string, since int64) (*ImportResult, int64, error)

type mirrorSession struct {
	credentialID string
	exchange     string
	state        string
	startedAt    time.Time
	lastPollAt   time.Time
	polls        int
	imported     int
	lastError    string
	// cursor is the newest fill timestamp this session has seen. It lives
	// only here; a restarted session re-fetches the window and relies on
	// fingerprint dedup.
	cursor int64
	nudge  *sigchan.Chan
	cancel context.CancelFunc
	done   chan struct{}
}

// MirrorStatus is a point-in-time snapshot of one session.
type MirrorStatus struct {
	CredentialID string    `json:"credential_id"`
	Exchange     string    `json:"exchange"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	LastPollAt   time.Time `json:"last_poll_at,omitzero"`
	Polls        int       `json:"polls"`
	Imported     int       `json:"imported"`
	LastError    string    `json:"last_error,omitempty"`
}

// LiveMirrorManager runs one background polling task per credential,
// pulling fresh fills at a short interval while the user watches the
// journal. At most one session per credential.
type LiveMirrorManager struct {
	ledger   *ledger.Ledger
	poll     MirrorPollFunc
	hub      *events.Hub
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*mirrorSession
}

func NewLiveMirrorManager(l *ledger.Ledger, poll MirrorPollFunc, hub *events.Hub, interval time.Duration) *LiveMirrorManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LiveMirrorManager{
		ledger:   l,
		poll:     poll,
		hub:      hub,
		interval: interval,
		sessions: map[string]*mirrorSession{},
	}
}

// Start launches a mirror session. The registry insert happens under the
// lock, so two concurrent starts for the same credential cannot both win.
func (m *LiveMirrorManager) Start(ctx context.Context, credentialID string) error {
	cred, err := m.ledger.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[credentialID]; ok && existing.state == MirrorRunning {
		m.mu.Unlock()
		return ErrMirrorAlreadyRunning
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &mirrorSession{
		credentialID: credentialID,
		exchange:     cred.Exchange,
		state:        MirrorRunning,
		startedAt:    time.Now(),
		nudge:        sigchan.New(1),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.sessions[credentialID] = sess
	m.mu.Unlock()

	go m.run(sessCtx, sess)

	m.hub.Publish(events.Event{
		Type:         events.TypeMirrorStarted,
		CredentialID: credentialID,
		Exchange:     cred.Exchange,
	})
	logger.Infof("live mirror started for %s (%s)", cred.Label, cred.Exchange)
	return nil
}

func (m *LiveMirrorManager) run(ctx context.Context, sess *mirrorSession) {
	defer close(sess.done)
	defer func() {
		if r := recover(); r != nil {
			m.failSession(sess, fmt.Sprintf("panic: %v", r))
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First poll immediately, then on the ticker or a nudge.
	if !m.pollOnce(ctx, sess) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.pollOnce(ctx, sess) {
				return
			}
		case <-sess.nudge.C():
			if !m.pollOnce(ctx, sess) {
				return
			}
		}
	}
}

// Nudge wakes a running session for an immediate poll instead of waiting
// out the interval.
func (m *LiveMirrorManager) Nudge(credentialID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[credentialID]
	if !ok || sess.state != MirrorRunning {
		m.mu.Unlock()
		return ErrMirrorNotRunning
	}
	m.mu.Unlock()
	sess.nudge.Emit()
	return nil
}

// pollOnce runs one poll and reports whether the session should go on
// living. Transient errors keep it alive; unrecoverable ones fail it.
func (m *LiveMirrorManager) pollOnce(ctx context.Context, sess *mirrorSession) bool {
	if ctx.Err() != nil {
		return true
	}
	m.mu.Lock()
	since := sess.cursor
	m.mu.Unlock()

	res, maxTS, err := m.poll(ctx, sess.credentialID, since)

	m.mu.Lock()
	sess.lastPollAt = time.Now()
	sess.polls++
	if err == nil {
		sess.lastError = ""
		sess.imported += res.Imported
		if maxTS > sess.cursor {
			sess.cursor = maxTS
		}
		m.mu.Unlock()
		return true
	}
	sess.lastError = err.Error()
	m.mu.Unlock()

	if unrecoverableSyncError(err) {
		m.failSession(sess, err.Error())
		return false
	}
	// The next tick retries.
	logger.Warnf("mirror poll %s: %v", sess.credentialID, err)
	return true
}

// unrecoverableSyncError picks out the failures a retry cannot cure:
// secrets that no longer decrypt, a credential row that is gone, or the
// exchange rejecting the credentials outright.
func unrecoverableSyncError(err error) bool {
	if errors.Is(err, vault.ErrDecryptionFailed) || errors.Is(err, ledger.ErrCredentialNotFound) {
		return true
	}
	var apiErr *exchange.APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// failSession marks a dead session and leaves a trace in sync history.
// The entry stays in the registry so the failure is visible in status
// until a restart replaces it.
func (m *LiveMirrorManager) failSession(sess *mirrorSession, reason string) {
	m.mu.Lock()
	sess.state = MirrorFailed
	sess.lastError = reason
	m.mu.Unlock()
	sess.cancel()

	logger.Errorf("live mirror %s failed: %s", sess.credentialID, reason)
	rec := &ledger.SyncRecord{
		CredentialID: sess.credentialID,
		Exchange:     sess.exchange,
		Trigger:      ledger.TriggerMirror,
		Status:       ledger.SyncFailed,
		Error:        reason,
	}
	if err := m.ledger.RecordSync(context.Background(), rec); err != nil {
		logger.Errorf("record mirror failure for %s: %v", sess.credentialID, err)
	}
	m.hub.Publish(events.Event{
		Type:         events.TypeMirrorFailed,
		CredentialID: sess.credentialID,
		Exchange:     sess.exchange,
		Payload:      map[string]string{"error": reason},
	})
}

// Stop cancels a session, waits for its goroutine to drain, and removes
// the registry entry. Session state is runtime-only; nothing about it
// outlives the stop.
func (m *LiveMirrorManager) Stop(credentialID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[credentialID]
	if !ok || sess.state != MirrorRunning {
		m.mu.Unlock()
		return ErrMirrorNotRunning
	}
	m.mu.Unlock()

	sess.cancel()
	<-sess.done

	m.mu.Lock()
	exch := sess.exchange
	// A poll may have failed the session while we waited; keep the failed
	// entry visible in that case.
	if sess.state == MirrorRunning {
		delete(m.sessions, credentialID)
	}
	m.mu.Unlock()

	m.hub.Publish(events.Event{
		Type:         events.TypeMirrorStopped,
		CredentialID: credentialID,
		Exchange:     exch,
	})
	logger.Infof("live mirror stopped for %s", credentialID)
	return nil
}

// StopAll shuts every running session down, used on daemon shutdown.
func (m *LiveMirrorManager) StopAll() {
	m.mu.Lock()
	var running []string
	for id, sess := range m.sessions {
		if sess.state == MirrorRunning {
			running = append(running, id)
		}
	}
	m.mu.Unlock()

	for _, id := range running {
		if err := m.Stop(id); err != nil && !errors.Is(err, ErrMirrorNotRunning) {
			logger.Errorf("stop mirror %s: %v", id, err)
		}
	}
}

// Status snapshots every known session, running or not.
func (m *LiveMirrorManager) Status() []MirrorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MirrorStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, MirrorStatus{
			CredentialID: s.credentialID,
			Exchange:     s.exchange,
			State:        s.state,
			StartedAt:    s.startedAt,
			LastPollAt:   s.lastPollAt,
			Polls:        s.polls,
			Imported:     s.imported,
			LastError:    s.lastError,
		})
	}
	return out
}

// IsRunning reports whether a credential has a live session.
func (m *LiveMirrorManager) IsRunning(credentialID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[credentialID]
	return ok && sess.state == MirrorRunning
}
