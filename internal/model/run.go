package model

import "time"

// RunStatus represents the current state of an autopilot run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusAwaitingQC RunStatus = "awaiting_qc"
	RunStatusPublishing RunStatus = "publishing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether moving from s to next is a legal edge.
// The happy path is running → awaiting_qc → publishing → completed; an
// explicit stop may move any non-terminal state to failed.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RunStatusFailed {
		return true
	}
	switch s {
	case RunStatusRunning:
		return next == RunStatusAwaitingQC
	case RunStatusAwaitingQC:
		return next == RunStatusPublishing
	case RunStatusPublishing:
		return next == RunStatusCompleted
	}
	return false
}

// AutopilotRun is a single bulk enrichment run advanced by an external
// worker and observed here via polling.
type AutopilotRun struct {
	ID             string    `json:"id"`
	Status         RunStatus `json:"status"`
	TotalCards     int       `json:"total_cards"`     // fixed at creation
	ProcessedCards int       `json:"processed_cards"` // monotonic, ≤ TotalCards
	CurrentBatch   int       `json:"current_batch"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FailureRecord tracks a single item's most recent enrichment failure.
// Records are removed on success and replaced on repeated failure.
type FailureRecord struct {
	ItemID string `json:"item_id"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}
