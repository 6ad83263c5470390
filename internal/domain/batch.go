package domain

import "time"

// PatchRequest asks for one piece of software to be brought to a target
// version on one machine. ResourceGroup is an optional execution-context
// hint; when empty the scheduler resolves the machine through the registry.
type PatchRequest struct {
	MachineName   string
	SoftwareName  string
	Version       string
	ResourceGroup string
}

// JobResult is the per-job entry of a batch summary.
type JobResult struct {
	JobID         string
	MachineName   string
	SoftwareName  string
	Version       string
	ResourceGroup string
	Status        string
	CommandID     string
	Output        string
	Error         string
	Timestamp     time.Time
}

// BatchSummary aggregates the outcome of one scheduling call. Results are
// ordered by submission order regardless of completion order.
type BatchSummary struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	ProcessingMode string
	Timestamp      time.Time
	Results        []JobResult
}

// BatchMessage is the queue payload for an asynchronously submitted batch.
type BatchMessage struct {
	BatchID        string            `json:"batch_id"`
	MaxConcurrency int               `json:"max_concurrency"`
	PatchJobs      []BatchMessageJob `json:"patch_jobs"`
}

// BatchMessageJob is one patch request inside a BatchMessage.
type BatchMessageJob struct {
	MachineName   string `json:"machine_name"`
	SoftwareName  string `json:"software_name"`
	Version       string `json:"version"`
	ResourceGroup string `json:"resource_group,omitempty"`
}

// Requests converts the message body into scheduler requests.
func (m *BatchMessage) Requests() []PatchRequest {
	requests := make([]PatchRequest, 0, len(m.PatchJobs))
	for _, j := range m.PatchJobs {
		requests = append(requests, PatchRequest{
			MachineName:   j.MachineName,
			SoftwareName:  j.SoftwareName,
			Version:       j.Version,
			ResourceGroup: j.ResourceGroup,
		})
	}
	return requests
}
