// Package locks owns the process-wide generation locks: one lock per work
// item and a single batch lock preventing overlapping bulk runs. The guard
// is the only writer; UI-facing "is this generating" views are read-only
// snapshots derived from it.
package locks

import "sync"

// Guard holds the per-item lock set and the batch flag under one mutex.
// Acquisition never blocks or queues: a held lock returns false and the
// caller treats the item as skipped, not failed.
type Guard struct {
	mu    sync.Mutex
	items map[string]struct{}
	batch bool
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{items: make(map[string]struct{})}
}

// TryAcquireItem attempts to take the lock for an item id. Returns false
// immediately if the item is already being generated.
func (g *Guard) TryAcquireItem(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.items[id]; held {
		return false
	}
	g.items[id] = struct{}{}
	return true
}

// ReleaseItem releases an item lock. Releasing an unheld lock is a no-op.
func (g *Guard) ReleaseItem(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.items, id)
}

// ItemHeld reports whether the item lock is currently held.
func (g *Guard) ItemHeld(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.items[id]
	return held
}

// WithItem runs fn while holding the item lock, guaranteeing release on
// every exit path including panic. Returns false without running fn if
// the lock is contended.
func (g *Guard) WithItem(id string, fn func()) bool {
	if !g.TryAcquireItem(id) {
		return false
	}
	defer g.ReleaseItem(id)
	fn()
	return true
}

// TryAcquireBatch attempts to take the process-wide batch lock. A second
// call while held returns false; the caller surfaces an "already running"
// warning rather than queueing.
func (g *Guard) TryAcquireBatch() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.batch {
		return false
	}
	g.batch = true
	return true
}

// ReleaseBatch releases the batch lock.
func (g *Guard) ReleaseBatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batch = false
}

// BatchHeld reports whether a bulk run currently holds the batch lock.
func (g *Guard) BatchHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batch
}

// View is a read-only snapshot of the guard for progress display.
type View struct {
	ItemIDs   []string `json:"item_ids"`
	BatchHeld bool     `json:"batch_held"`
}

// Snapshot returns a copy of the current lock state. Mutating the copy
// has no effect on the guard.
func (g *Guard) Snapshot() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.items))
	for id := range g.items {
		ids = append(ids, id)
	}
	return View{ItemIDs: ids, BatchHeld: g.batch}
}
