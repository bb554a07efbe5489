package enrich

import (
	"sync"

	"github.com/thriftstack/listing-cli/internal/locks"
	"github.com/thriftstack/listing-cli/internal/model"
)

// Membership tracks which items have been enriched this session. Undo
// clears an item's membership so it becomes eligible again.
type Membership struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMembership() *Membership {
	return &Membership{ids: make(map[string]struct{})}
}

func (m *Membership) Add(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = struct{}{}
}

func (m *Membership) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
}

func (m *Membership) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

func (m *Membership) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = make(map[string]struct{})
}

// Eligibility is the outcome of candidate filtering. ExcludedEnriched
// distinguishes "nothing to do" from "everything already done".
type Eligibility struct {
	Items            []model.WorkItem
	ExcludedEnriched int
}

// Filter selects the items eligible for generation. An explicit selection
// forces regeneration: every selected, non-deleted item is eligible even
// if already enriched. Without a selection, only new, un-enriched,
// unlocked items qualify.
func Filter(items []model.WorkItem, selection []string, guard *locks.Guard, enriched *Membership) Eligibility {
	if len(selection) > 0 {
		selected := make(map[string]struct{}, len(selection))
		for _, id := range selection {
			selected[id] = struct{}{}
		}
		var out Eligibility
		for _, item := range items {
			if item.Deleted {
				continue
			}
			if _, ok := selected[item.ID]; ok {
				out.Items = append(out.Items, item)
			}
		}
		return out
	}

	var out Eligibility
	for _, item := range items {
		if item.Deleted || item.Status != model.ItemStatusNew {
			continue
		}
		if enriched.Has(item.ID) {
			out.ExcludedEnriched++
			continue
		}
		if guard.ItemHeld(item.ID) {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out
}
