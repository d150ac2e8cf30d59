package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Exchange request budgets, conservative against published API limits.
var exchangeDefaults = map[string]func() Limiter{
	"bitget": func() Limiter { return NewTokenBucket(20, 10) },
	"blofin": func() Limiter { return NewTokenBucket(20, 10) },
}

func defaultLimiter() Limiter {
	return NewSlidingWindow(5, time.Second)
}

// Manager hands out one shared limiter per exchange/credential pair so that
// manual sync, live mirroring and scheduled sync are throttled together, not
// independently.
type Manager struct {
	limiters map[string]Limiter
	mu       sync.Mutex
}

func NewManager() *Manager {
	return &Manager{limiters: make(map[string]Limiter)}
}

// ForCredential returns the limiter shared by every client bound to this
// exchange/credential pair, creating it on first use.
func (m *Manager) ForCredential(exchange, credentialID string) Limiter {
	key := fmt.Sprintf("%s:%s", exchange, credentialID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[key]; ok {
		return l
	}
	var l Limiter
	if newFn, ok := exchangeDefaults[exchange]; ok {
		l = newFn()
	} else {
		l = defaultLimiter()
	}
	m.limiters[key] = l
	return l
}
