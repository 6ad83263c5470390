package domain

// Patch job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// Per-job outcome strings reported in API responses and batch summaries
const (
	ResultSuccess = "Success"
	ResultFailed  = "Failed"
)

// Processing modes reported in batch summaries
const (
	ProcessingModeSingle = "single"
	ProcessingModeBatch  = "batch"
)

// DefaultMaxConcurrency bounds in-flight remote executions when a request
// does not specify its own limit.
const DefaultMaxConcurrency = 5

// IsTerminalStatus reports whether a job status permits no further
// transitions.
func IsTerminalStatus(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailed
}
