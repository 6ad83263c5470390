package domain

import "time"

// PatchJob is the persisted record of one patch attempt against one machine.
// Status moves PENDING → RUNNING → {SUCCEEDED, FAILED}; pre-execution
// failures (target resolution, catalog lookup) move PENDING → FAILED
// directly. CompletedAt is set exactly when the job reaches a terminal
// status.
type PatchJob struct {
	JobID           string
	VMName          string
	SoftwareName    string
	TargetVersion   string
	PreviousVersion string
	Status          string
	ErrorMessage    string
	ExecutionLog    string
	StartedAt       time.Time
	CompletedAt     *time.Time
}
