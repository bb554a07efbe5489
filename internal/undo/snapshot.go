// Package undo keeps TTL-bound, single-level snapshots of item state so
// generation and regrouping operations can be reverted. Scopes are
// independent: one snapshot per item id, one bulk snapshot, one
// structural snapshot. Capturing supersedes the previous unexpired
// snapshot for that scope.
package undo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
)

var (
	// ErrNoSnapshot means nothing was ever captured for the scope.
	ErrNoSnapshot = eris.New("undo: no snapshot")
	// ErrSnapshotExpired means a snapshot existed but its TTL passed.
	ErrSnapshotExpired = eris.New("undo: snapshot expired")
)

// DefaultTTL bounds how long a snapshot stays restorable.
const DefaultTTL = 5 * time.Minute

// Move is one structural tuple captured before a regroup operation.
type Move struct {
	EntityID     string
	PrevParentID string
	PrevPosition int
}

// BulkUndoResult reports a bulk restore, which tolerates per-item
// failures rather than aborting.
type BulkUndoResult struct {
	Restored int
	Failed   int
}

type fieldSnapshot struct {
	id        string
	label     string
	items     map[string]model.Fields
	expiresAt time.Time
	timer     *time.Timer
}

type structuralSnapshot struct {
	id        string
	moves     []Move
	expiresAt time.Time
	timer     *time.Timer
}

// Config holds the manager knobs.
type Config struct {
	TTL   time.Duration
	Width int // parallel restore width
	// OnRestore is invoked per restored item, used to clear enriched
	// membership so the item becomes eligible again.
	OnRestore func(id string)
}

// Manager owns all snapshot scopes.
type Manager struct {
	mu    sync.Mutex
	store store.Store
	ttl   time.Duration
	width int

	onRestore func(id string)

	singles        map[string]*fieldSnapshot
	singlesExpired map[string]bool
	bulk           *fieldSnapshot
	bulkExpired    bool
	structural     *structuralSnapshot
	structExpired  bool
}

func NewManager(st store.Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Width <= 0 {
		cfg.Width = 3
	}
	return &Manager{
		store:          st,
		ttl:            cfg.TTL,
		width:          cfg.Width,
		onRestore:      cfg.OnRestore,
		singles:        make(map[string]*fieldSnapshot),
		singlesExpired: make(map[string]bool),
	}
}

// CaptureItem snapshots one item's enrichable fields before a generation
// call mutates it, superseding any previous snapshot for that id.
func (m *Manager) CaptureItem(item model.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.singles[item.ID]; ok {
		prev.timer.Stop()
	}
	delete(m.singlesExpired, item.ID)

	snap := &fieldSnapshot{
		id:        uuid.New().String(),
		label:     "single generation",
		items:     map[string]model.Fields{item.ID: item.EnrichableFields()},
		expiresAt: time.Now().Add(m.ttl),
	}
	id := item.ID
	snap.timer = time.AfterFunc(m.ttl, func() { m.expireSingle(id, snap.id) })
	m.singles[id] = snap
}

func (m *Manager) expireSingle(itemID, snapID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.singles[itemID]; ok && cur.id == snapID {
		delete(m.singles, itemID)
		m.singlesExpired[itemID] = true
	}
}

// UndoItem restores the captured fields for one item and clears its
// enriched membership. The snapshot is discarded on success.
func (m *Manager) UndoItem(ctx context.Context, id string) error {
	m.mu.Lock()
	snap, ok := m.singles[id]
	if !ok {
		expired := m.singlesExpired[id]
		m.mu.Unlock()
		if expired {
			return ErrSnapshotExpired
		}
		return ErrNoSnapshot
	}
	if time.Now().After(snap.expiresAt) {
		snap.timer.Stop()
		delete(m.singles, id)
		m.singlesExpired[id] = true
		m.mu.Unlock()
		return ErrSnapshotExpired
	}
	fields := snap.items[id]
	m.mu.Unlock()

	if err := m.store.UpdateItemFields(ctx, id, fields); err != nil {
		return eris.Wrapf(err, "undo: restore item %s", id)
	}
	if m.onRestore != nil {
		m.onRestore(id)
	}

	m.mu.Lock()
	snap.timer.Stop()
	delete(m.singles, id)
	m.mu.Unlock()
	return nil
}

// CaptureBulk snapshots every item about to be processed by a bulk run
// as one snapshot with a single label and one expiry.
func (m *Manager) CaptureBulk(label string, items []model.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bulk != nil {
		m.bulk.timer.Stop()
	}
	m.bulkExpired = false

	snap := &fieldSnapshot{
		id:        uuid.New().String(),
		label:     label,
		items:     make(map[string]model.Fields, len(items)),
		expiresAt: time.Now().Add(m.ttl),
	}
	for _, item := range items {
		snap.items[item.ID] = item.EnrichableFields()
	}
	snap.timer = time.AfterFunc(m.ttl, func() { m.expireBulk(snap.id) })
	m.bulk = snap
}

func (m *Manager) expireBulk(snapID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bulk != nil && m.bulk.id == snapID {
		m.bulk = nil
		m.bulkExpired = true
	}
}

// UndoBulk restores every captured item in parallel, tolerating per-item
// failures, then discards the snapshot.
func (m *Manager) UndoBulk(ctx context.Context) (*BulkUndoResult, error) {
	m.mu.Lock()
	snap := m.bulk
	if snap == nil {
		expired := m.bulkExpired
		m.mu.Unlock()
		if expired {
			return nil, ErrSnapshotExpired
		}
		return nil, ErrNoSnapshot
	}
	if time.Now().After(snap.expiresAt) {
		snap.timer.Stop()
		m.bulk = nil
		m.bulkExpired = true
		m.mu.Unlock()
		return nil, ErrSnapshotExpired
	}
	snap.timer.Stop()
	m.bulk = nil
	m.mu.Unlock()

	var resMu sync.Mutex
	result := &BulkUndoResult{}

	g := new(errgroup.Group)
	g.SetLimit(m.width)
	for id, fields := range snap.items {
		id, fields := id, fields
		g.Go(func() error {
			if err := m.store.UpdateItemFields(ctx, id, fields); err != nil {
				zap.L().Warn("undo: bulk restore failed for item",
					zap.String("item", id),
					zap.Error(err),
				)
				resMu.Lock()
				result.Failed++
				resMu.Unlock()
				return nil
			}
			if m.onRestore != nil {
				m.onRestore(id)
			}
			resMu.Lock()
			result.Restored++
			resMu.Unlock()
			return nil
		})
	}
	g.Wait()

	zap.L().Info("undo: bulk restore finished",
		zap.String("label", snap.label),
		zap.Int("restored", result.Restored),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// CaptureStructural snapshots the previous parent and position of every
// entity a regroup operation will touch.
func (m *Manager) CaptureStructural(moves []Move) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.structural != nil {
		m.structural.timer.Stop()
	}
	m.structExpired = false

	snap := &structuralSnapshot{
		id:        uuid.New().String(),
		moves:     append([]Move(nil), moves...),
		expiresAt: time.Now().Add(m.ttl),
	}
	snap.timer = time.AfterFunc(m.ttl, func() { m.expireStructural(snap.id) })
	m.structural = snap
}

func (m *Manager) expireStructural(snapID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.structural != nil && m.structural.id == snapID {
		m.structural = nil
		m.structExpired = true
	}
}

// UndoStructural writes all captured tuples back in parallel.
func (m *Manager) UndoStructural(ctx context.Context) (*BulkUndoResult, error) {
	m.mu.Lock()
	snap := m.structural
	if snap == nil {
		expired := m.structExpired
		m.mu.Unlock()
		if expired {
			return nil, ErrSnapshotExpired
		}
		return nil, ErrNoSnapshot
	}
	if time.Now().After(snap.expiresAt) {
		snap.timer.Stop()
		m.structural = nil
		m.structExpired = true
		m.mu.Unlock()
		return nil, ErrSnapshotExpired
	}
	snap.timer.Stop()
	m.structural = nil
	m.mu.Unlock()

	var resMu sync.Mutex
	result := &BulkUndoResult{}

	g := new(errgroup.Group)
	g.SetLimit(m.width)
	for _, mv := range snap.moves {
		mv := mv
		g.Go(func() error {
			if err := m.store.ReassignImage(ctx, mv.EntityID, mv.PrevParentID, mv.PrevPosition); err != nil {
				zap.L().Warn("undo: structural restore failed",
					zap.String("entity", mv.EntityID),
					zap.Error(err),
				)
				resMu.Lock()
				result.Failed++
				resMu.Unlock()
				return nil
			}
			resMu.Lock()
			result.Restored++
			resMu.Unlock()
			return nil
		})
	}
	g.Wait()
	return result, nil
}
