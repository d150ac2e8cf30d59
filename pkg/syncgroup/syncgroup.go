// Package syncgroup wraps sync.WaitGroup for fire-and-wait goroutine
// batches, keeping Add and Done pairing in one place.
package syncgroup

import "sync"

type groupFunc func()

type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []groupFunc
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add queues a function. Queue before Run; additions while a batch is
// still running are dropped.
func (g *SyncGroup) Add(fn groupFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run launches every queued function in its own goroutine and clears the
// queue. A second Run while a batch is in flight is a no-op.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do groupFunc) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait blocks until the current batch finishes.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
