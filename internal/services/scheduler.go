package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
)

type syncTask struct {
	credentialID string
	interval     time.Duration
	inFlight     atomic.Bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// SyncScheduler owns one timer per auto-sync credential. Reload reconciles
// the running timers against the database, so enabling, disabling, or
// retiming auto-sync in the UI takes effect without a restart.
type SyncScheduler struct {
	ledger *ledger.Ledger
	sync   SyncFunc

	mu    sync.Mutex
	tasks map[string]*syncTask
}

func NewSyncScheduler(l *ledger.Ledger, sync SyncFunc) *SyncScheduler {
	return &SyncScheduler{ledger: l, sync: sync, tasks: map[string]*syncTask{}}
}

// Reload diffs the desired task set against the running one. Unchanged
// tasks keep their timers; changed intervals restart the task.
func (s *SyncScheduler) Reload(ctx context.Context) error {
	creds, err := s.ledger.ListAutoSyncCredentials(ctx)
	if err != nil {
		return err
	}

	desired := map[string]time.Duration{}
	for _, c := range creds {
		desired[c.ID] = time.Duration(c.AutoSyncInterval) * time.Second
	}

	s.mu.Lock()
	var stop []*syncTask
	for id, task := range s.tasks {
		if interval, keep := desired[id]; !keep || interval != task.interval {
			stop = append(stop, task)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	// Drain the retired tasks before starting replacements; an in-flight
	// tick on an old task must not overlap the new task for the same
	// credential.
	for _, task := range stop {
		task.cancel()
		<-task.done
	}

	s.mu.Lock()
	var started int
	for id, interval := range desired {
		if _, exists := s.tasks[id]; exists {
			continue
		}
		taskCtx, cancel := context.WithCancel(context.Background())
		task := &syncTask{
			credentialID: id,
			interval:     interval,
			cancel:       cancel,
			done:         make(chan struct{}),
		}
		s.tasks[id] = task
		go s.runTask(taskCtx, task)
		started++
	}
	active := len(s.tasks)
	s.mu.Unlock()
	logger.Infof("scheduler reloaded: %d active, %d started, %d stopped",
		active, started, len(stop))
	return nil
}

func (s *SyncScheduler) runTask(ctx context.Context, task *syncTask) {
	defer close(task.done)
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, task)
		}
	}
}

// tick skips entirely when the previous run is still going, so a slow
// exchange never stacks concurrent syncs for one credential.
func (s *SyncScheduler) tick(ctx context.Context, task *syncTask) {
	if !task.inFlight.CompareAndSwap(false, true) {
		logger.Warnf("scheduler: sync for %s still in flight, skipping tick", task.credentialID)
		return
	}
	defer task.inFlight.Store(false)

	if _, err := s.sync(ctx, task.credentialID, ledger.TriggerScheduled); err != nil {
		logger.Errorf("scheduled sync %s: %v", task.credentialID, err)
	}
}

// Stop cancels every task and waits for them to drain.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*syncTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = map[string]*syncTask{}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

// ActiveTasks lists the credential ids with a running timer.
func (s *SyncScheduler) ActiveTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		out = append(out, id)
	}
	return out
}
