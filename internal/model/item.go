package model

import "time"

// ItemStatus represents the listing lifecycle of a work item. It is a
// separate, simpler lifecycle than the per-run QC status.
type ItemStatus string

const (
	ItemStatusNew              ItemStatus = "new"
	ItemStatusGenerated        ItemStatus = "generated"
	ItemStatusReadyForShopify  ItemStatus = "ready_for_shopify"
	ItemStatusCreatedInShopify ItemStatus = "created_in_shopify"
	ItemStatusError            ItemStatus = "error"
)

// QCStatus is the per-item quality-control stage while the item is bound
// to an autopilot run. Empty means the item is not bound to a run.
type QCStatus string

const (
	QCStatusDraft       QCStatus = "draft"
	QCStatusGenerating  QCStatus = "generating"
	QCStatusReady       QCStatus = "ready"
	QCStatusNeedsReview QCStatus = "needs_review"
	QCStatusBlocked     QCStatus = "blocked"
	QCStatusFailed      QCStatus = "failed"
	QCStatusApproved    QCStatus = "approved"
	QCStatusPublished   QCStatus = "published"
)

// qcEdges encodes the legal QC transitions:
// draft → generating → {ready|needs_review|blocked|failed} → approved → published,
// plus send-to-draft from any non-published state.
var qcEdges = map[QCStatus][]QCStatus{
	QCStatusDraft:       {QCStatusGenerating},
	QCStatusGenerating:  {QCStatusReady, QCStatusNeedsReview, QCStatusBlocked, QCStatusFailed, QCStatusDraft},
	QCStatusReady:       {QCStatusApproved, QCStatusDraft},
	QCStatusNeedsReview: {QCStatusApproved, QCStatusDraft},
	QCStatusBlocked:     {QCStatusApproved, QCStatusDraft},
	QCStatusFailed:      {QCStatusApproved, QCStatusDraft},
	QCStatusApproved:    {QCStatusPublished, QCStatusDraft},
	QCStatusPublished:   nil,
}

// CanTransition reports whether moving from s to next is a legal QC edge.
// Binding an unbound item straight to draft is always legal.
func (s QCStatus) CanTransition(next QCStatus) bool {
	if s == "" {
		return next == QCStatusDraft
	}
	for _, n := range qcEdges[s] {
		if n == next {
			return true
		}
	}
	return false
}

// WorkItem is a product record subject to AI enrichment.
type WorkItem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Material    string   `json:"material"`
	Condition   string   `json:"condition"`
	Flaws       string   `json:"flaws"`
	Era         string   `json:"era"`
	Department  string   `json:"department"`
	GarmentType string   `json:"garment_type"`
	Size        string   `json:"size"`
	LabelSize   string   `json:"label_size"`
	Style       string   `json:"style"`
	Notes       string   `json:"notes"`
	SKU         string   `json:"sku"`
	Tags        []string `json:"tags"`
	Price       float64  `json:"price"`

	Status      ItemStatus `json:"status"`
	QCStatus    QCStatus   `json:"qc_status,omitempty"`
	Confidence  float64    `json:"confidence"`
	Flags       []string   `json:"flags,omitempty"`
	RunID       string     `json:"run_id,omitempty"` // at most one run at a time
	BatchNumber int        `json:"batch_number,omitempty"`
	Deleted     bool       `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Label returns a short human-readable handle for progress and failure
// reporting: the title if present, otherwise the id.
func (w *WorkItem) Label() string {
	if w.Title != "" {
		return w.Title
	}
	return w.ID
}

// Fields is a partial field update keyed by column name, as accepted by
// the persistence layer. Values must be JSON-serializable.
type Fields map[string]any

// EnrichableFields returns the current values of every field the
// generation pass may overwrite, for undo snapshots.
func (w *WorkItem) EnrichableFields() Fields {
	tags := make([]string, len(w.Tags))
	copy(tags, w.Tags)
	return Fields{
		"title":        w.Title,
		"description":  w.Description,
		"brand":        w.Brand,
		"material":     w.Material,
		"condition":    w.Condition,
		"flaws":        w.Flaws,
		"era":          w.Era,
		"department":   w.Department,
		"garment_type": w.GarmentType,
		"size":         w.Size,
		"label_size":   w.LabelSize,
		"style":        w.Style,
		"notes":        w.Notes,
		"sku":          w.SKU,
		"tags":         tags,
		"price":        w.Price,
		"status":       string(w.Status),
	}
}
