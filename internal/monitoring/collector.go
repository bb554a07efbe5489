package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of catalog and run health.
type MetricsSnapshot struct {
	// Item counts by generation status.
	ItemsTotal     int `json:"items_total"`
	ItemsNew       int `json:"items_new"`
	ItemsGenerated int `json:"items_generated"`
	ItemsError     int `json:"items_error"`

	// Items awaiting human review (needs_review or blocked).
	ItemsInReview int `json:"items_in_review"`

	// Run metrics over the most recent runs.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Active run, if one is in flight.
	ActiveRunID       string    `json:"active_run_id,omitempty"`
	ActiveRunProgress float64   `json:"active_run_progress,omitempty"`
	ActiveRunUpdated  time.Time `json:"active_run_updated,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// runSampleSize bounds how many recent runs feed the failure rate.
const runSampleSize = 100

// Collector gathers metrics from the item store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of catalog and run metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	items, err := c.store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list items")
	}

	snap.ItemsTotal = len(items)
	for _, item := range items {
		switch item.Status {
		case model.ItemStatusNew:
			snap.ItemsNew++
		case model.ItemStatusGenerated:
			snap.ItemsGenerated++
		case model.ItemStatusError:
			snap.ItemsError++
		}
		if item.QCStatus == model.QCStatusNeedsReview || item.QCStatus == model.QCStatusBlocked {
			snap.ItemsInReview++
		}
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: runSampleSize})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	active, err := c.store.GetActiveRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: get active run")
	}
	if active != nil {
		snap.ActiveRunID = active.ID
		snap.ActiveRunUpdated = active.UpdatedAt
		if active.TotalCards > 0 {
			snap.ActiveRunProgress = float64(active.ProcessedCards) / float64(active.TotalCards)
		}
	}

	return snap, nil
}
