// Package shutdown coordinates graceful teardown of long-running components.
package shutdown

import (
	"context"
	"sync"

	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/syncgroup"
)

// Handler is one teardown callback; it must respect ctx's deadline.
type Handler func(ctx context.Context)

type Manager struct {
	callbacks []Handler
	mu        sync.Mutex
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a teardown callback.
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown runs all callbacks concurrently and blocks until they finish or
// ctx expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	logger.Infof("shutting down, %d callbacks", len(callbacks))

	sg := syncgroup.NewSyncGroup()
	for _, cb := range callbacks {
		h := cb
		sg.Add(func() { h(ctx) })
	}
	sg.Run()

	done := make(chan struct{})
	go func() {
		sg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
