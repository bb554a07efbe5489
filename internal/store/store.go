// Package store persists work items and autopilot runs. Both business
// fields and status/QC transitions go through the same partial-update
// path.
package store

import (
	"context"

	"github.com/thriftstack/listing-cli/internal/model"
)

// ItemFilter specifies criteria for listing work items.
type ItemFilter struct {
	IDs            []string         `json:"ids,omitempty"`
	Status         model.ItemStatus `json:"status,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	QCStatus       model.QCStatus   `json:"qc_status,omitempty"`
	IncludeDeleted bool             `json:"include_deleted,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing autopilot runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment core.
type Store interface {
	// Items
	CreateItem(ctx context.Context, item *model.WorkItem) error
	GetItem(ctx context.Context, id string) (*model.WorkItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.WorkItem, error)
	// UpdateItemFields applies a partial field update. Unknown field
	// names are rejected rather than silently dropped.
	UpdateItemFields(ctx context.Context, id string, fields model.Fields) error
	// SetQCStatus bulk-writes the QC status for the given ids, optionally
	// clearing confidence and flags. Returns the number of items updated.
	SetQCStatus(ctx context.Context, ids []string, qc model.QCStatus, clearReview bool) (int, error)
	// BindItemsToRun attaches items to a run in draft QC state, clearing
	// stale confidence, flags, and batch numbers from any prior run.
	BindItemsToRun(ctx context.Context, runID string, ids []string) error
	// GetImagePlacement returns the parent item and position an image
	// currently occupies, captured before a regroup so it can be undone.
	GetImagePlacement(ctx context.Context, imageID string) (parentID string, position int, err error)
	// ReassignImage moves an image row to a parent item at a position,
	// used by regrouping and by structural undo to write tuples back.
	ReassignImage(ctx context.Context, imageID, parentID string, position int) error

	// Runs
	CreateRun(ctx context.Context, totalCards int) (*model.AutopilotRun, error)
	GetRun(ctx context.Context, runID string) (*model.AutopilotRun, error)
	// GetActiveRun returns the running run, or nil if none exists.
	GetActiveRun(ctx context.Context) (*model.AutopilotRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, lastError string) error
	// UpdateRunProgress advances processed_cards/current_batch, holding
	// processed monotonically non-decreasing and ≤ total_cards.
	UpdateRunProgress(ctx context.Context, runID string, processedCards, currentBatch int) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AutopilotRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// itemColumns whitelists the field names accepted by UpdateItemFields,
// mapped to their column names. JSON-valued columns are marked.
var itemColumns = map[string]struct {
	column string
	json   bool
}{
	"title":        {"title", false},
	"description":  {"description", false},
	"brand":        {"brand", false},
	"material":     {"material", false},
	"condition":    {"condition", false},
	"flaws":        {"flaws", false},
	"era":          {"era", false},
	"department":   {"department", false},
	"garment_type": {"garment_type", false},
	"size":         {"size", false},
	"label_size":   {"label_size", false},
	"style":        {"style", false},
	"notes":        {"notes", false},
	"sku":          {"sku", false},
	"tags":         {"tags", true},
	"price":        {"price", false},
	"status":       {"status", false},
	"qc_status":    {"qc_status", false},
	"confidence":   {"confidence", false},
	"flags":        {"flags", true},
	"run_id":       {"run_id", false},
	"batch_number": {"batch_number", false},
	"deleted":      {"deleted", false},
}
