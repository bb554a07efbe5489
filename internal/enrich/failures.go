package enrich

import (
	"sort"
	"sync"

	"github.com/thriftstack/listing-cli/internal/model"
)

// FailureTracker remembers which items failed in the most recent bulk run
// so they can be retried as a set. It is process-local state, reset at the
// start of every fresh run.
type FailureTracker struct {
	mu       sync.Mutex
	failures map[string]model.FailureRecord
}

func NewFailureTracker() *FailureTracker {
	return &FailureTracker{failures: make(map[string]model.FailureRecord)}
}

// Reset clears all tracked failures.
func (t *FailureTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = make(map[string]model.FailureRecord)
}

// Record stores a failure, replacing any previous record for the item.
func (t *FailureTracker) Record(rec model.FailureRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[rec.ItemID] = rec
}

// Resolve removes the record for an item that has since succeeded.
func (t *FailureTracker) Resolve(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, id)
}

// Get returns the record for an item, if any.
func (t *FailureTracker) Get(id string) (model.FailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.failures[id]
	return rec, ok
}

// IDs returns the tracked item ids in stable order.
func (t *FailureTracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.failures))
	for id := range t.failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns a copy of all tracked failures in id order.
func (t *FailureTracker) Records() []model.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := make([]model.FailureRecord, 0, len(t.failures))
	for _, rec := range t.failures {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ItemID < recs[j].ItemID })
	return recs
}

func (t *FailureTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures)
}
