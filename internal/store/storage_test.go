package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/patchflow/internal/domain"
)

// CompleteJob enforces the terminal-state invariant before any SQL runs, so
// a zero-value Storage is enough to exercise the rejection paths.
func TestCompleteJob_RejectsNonTerminalStatus(t *testing.T) {
	s := &Storage{}

	tests := []struct {
		name   string
		status string
	}{
		{name: "pending", status: domain.JobStatusPending},
		{name: "running", status: domain.JobStatusRunning},
		{name: "empty", status: ""},
		{name: "lowercase terminal", status: "succeeded"},
		{name: "unknown status", status: "CANCELED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CompleteJob(context.Background(), "job-1", tt.status, "", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not terminal")
		})
	}
}
