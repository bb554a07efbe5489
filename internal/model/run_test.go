package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.Terminal())
	assert.False(t, RunStatusAwaitingQC.Terminal())
	assert.False(t, RunStatusPublishing.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRunStatusCanTransition(t *testing.T) {
	tests := []struct {
		from RunStatus
		to   RunStatus
		want bool
	}{
		{RunStatusRunning, RunStatusAwaitingQC, true},
		{RunStatusAwaitingQC, RunStatusPublishing, true},
		{RunStatusPublishing, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusPublishing, false},
		{RunStatusRunning, RunStatusCompleted, false},
		{RunStatusAwaitingQC, RunStatusCompleted, false},
		// An explicit stop fails any non-terminal run.
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusAwaitingQC, RunStatusFailed, true},
		{RunStatusPublishing, RunStatusFailed, true},
		{RunStatusCompleted, RunStatusFailed, false},
		{RunStatusFailed, RunStatusRunning, false},
		{RunStatusFailed, RunStatusFailed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}
