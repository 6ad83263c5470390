package dto

// SinglePatchRequest asks for one software install on one machine.
// resourceGroupName is optional; without it the scheduler resolves the
// machine through the registry.
type SinglePatchRequest struct {
	MachineName   string `json:"machineName" binding:"required"`
	SoftwareName  string `json:"softwareName" binding:"required"`
	Version       string `json:"version" binding:"required"`
	ResourceGroup string `json:"resourceGroupName"`
}

// BatchPatchRequest carries one or more patch requests plus an optional
// concurrency bound.
type BatchPatchRequest struct {
	MaxConcurrency int                  `json:"maxConcurrency"`
	PatchJobs      []SinglePatchRequest `json:"patchJobs" binding:"required,min=1,dive"`
}

// SinglePatchResponse mirrors the historical single-request wire contract,
// hence the exported key casing.
type SinglePatchResponse struct {
	MachineName   string `json:"MachineName"`
	SoftwareName  string `json:"SoftwareName"`
	Version       string `json:"Version"`
	Status        string `json:"Status"`
	CommandID     string `json:"CommandId"`
	Timestamp     string `json:"Timestamp"`
	Output        string `json:"Output,omitempty"`
	ResourceGroup string `json:"ResourceGroup,omitempty"`
	Error         string `json:"Error,omitempty"`
}

// JobResultEntry is one per-job result inside a batch response.
type JobResultEntry struct {
	JobID         string `json:"JobId"`
	MachineName   string `json:"MachineName"`
	SoftwareName  string `json:"SoftwareName"`
	Version       string `json:"Version"`
	ResourceGroup string `json:"ResourceGroup,omitempty"`
	Status        string `json:"Status"`
	CommandID     string `json:"CommandId,omitempty"`
	Output        string `json:"Output,omitempty"`
	Error         string `json:"Error,omitempty"`
	Timestamp     string `json:"Timestamp"`
}

// BatchPatchResponse summarizes a synchronously processed batch.
type BatchPatchResponse struct {
	TotalJobs      int              `json:"TotalJobs"`
	SuccessfulJobs int              `json:"SuccessfulJobs"`
	FailedJobs     int              `json:"FailedJobs"`
	ProcessingMode string           `json:"ProcessingMode"`
	Timestamp      string           `json:"Timestamp"`
	Results        []JobResultEntry `json:"Results"`
}

// AsyncBatchResponse acknowledges a batch accepted for queued processing.
type AsyncBatchResponse struct {
	BatchID   string `json:"BatchId"`
	TotalJobs int    `json:"TotalJobs"`
	Status    string `json:"Status"`
}

// UnmatchedEntryDTO identifies an inventory row that matched no machine.
type UnmatchedEntryDTO struct {
	Computer     string `json:"computer"`
	SoftwareName string `json:"software_name"`
}

// DiscoveryRunResponse reports one reconciled discovery cycle.
type DiscoveryRunResponse struct {
	MachinesFound    int                 `json:"machines_found"`
	EntriesFound     int                 `json:"entries_found"`
	Matched          int                 `json:"matched"`
	Unmatched        int                 `json:"unmatched"`
	UnmatchedEntries []UnmatchedEntryDTO `json:"unmatched_entries,omitempty"`
	StoredEntries    int                 `json:"stored_entries"`
	DurationMs       int64               `json:"duration_ms"`
}

// ListJobsRequest filters and pages the operator job listing.
type ListJobsRequest struct {
	VMName       string `form:"vm_name"`
	SoftwareName string `form:"software_name"`
	Status       string `form:"status"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

// PatchJobDTO is the operator-facing view of a stored patch job.
type PatchJobDTO struct {
	JobID           string `json:"job_id"`
	VMName          string `json:"vm_name"`
	SoftwareName    string `json:"software_name"`
	TargetVersion   string `json:"target_version"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Status          string `json:"status"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ExecutionLog    string `json:"execution_log,omitempty"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// ListJobsResponse pages stored patch jobs.
type ListJobsResponse struct {
	Jobs       []PatchJobDTO `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
