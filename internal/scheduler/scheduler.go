package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/patchflow/internal/catalog"
	"github.com/fleetops/patchflow/internal/discovery"
	"github.com/fleetops/patchflow/internal/domain"
	"github.com/fleetops/patchflow/internal/remote"
)

// JobStore is the persistence surface the scheduler drives job lifecycles
// through.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.PatchJob) error
	MarkRunning(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID, status, errorMessage, executionLog string) error
	PreviousVersion(ctx context.Context, machineName, softwareName string) (string, error)
}

// ScriptProvider resolves software names to install entries. Satisfied by
// *catalog.Catalog.
type ScriptProvider interface {
	Resolve(softwareName string) (*catalog.Entry, error)
}

// RegistryProvider produces a machine-registry snapshot for one scheduling
// call. Satisfied by *discovery.Reconciler.
type RegistryProvider interface {
	FetchRegistry(ctx context.Context) (*discovery.Registry, error)
}

// CommandRunner drives one remote command to a terminal outcome. Satisfied
// by *remote.Executor.
type CommandRunner interface {
	Run(ctx context.Context, target remote.Target, commandID, script string, params map[string]string) (*remote.Outcome, error)
}

// Config holds scheduler construction parameters
type Config struct {
	Store    JobStore
	Scripts  ScriptProvider
	Registry RegistryProvider
	Runner   CommandRunner

	// DefaultMaxConcurrency bounds a batch that does not carry its own
	// limit. Zero falls back to domain.DefaultMaxConcurrency.
	DefaultMaxConcurrency int

	// SlicePacing separates consecutive dispatch slices to avoid bursting
	// the remote command channel.
	SlicePacing time.Duration

	Logger *slog.Logger
}

// Scheduler turns patch requests into bounded-concurrency remote executions.
// One Scheduler serves concurrent Schedule calls; each call works on its own
// registry snapshot and channels.
type Scheduler struct {
	store                 JobStore
	scripts               ScriptProvider
	registry              RegistryProvider
	runner                CommandRunner
	defaultMaxConcurrency int
	slicePacing           time.Duration
	logger                *slog.Logger
}

// New builds a scheduler from its configuration
func New(cfg *Config) *Scheduler {
	defaultMaxConcurrency := cfg.DefaultMaxConcurrency
	if defaultMaxConcurrency <= 0 {
		defaultMaxConcurrency = domain.DefaultMaxConcurrency
	}

	return &Scheduler{
		store:                 cfg.Store,
		scripts:               cfg.Scripts,
		registry:              cfg.Registry,
		runner:                cfg.Runner,
		defaultMaxConcurrency: defaultMaxConcurrency,
		slicePacing:           cfg.SlicePacing,
		logger:                cfg.Logger.With("component", "scheduler"),
	}
}

type task struct {
	index   int
	request domain.PatchRequest
}

type indexedResult struct {
	index  int
	result domain.JobResult
}

// Schedule runs every request to a terminal per-job outcome with at most
// maxConcurrency executions in flight, and aggregates the batch summary.
// A job's failure never aborts its siblings; the summary carries one result
// per request in submission order.
func (s *Scheduler) Schedule(ctx context.Context, requests []domain.PatchRequest, maxConcurrency int) *domain.BatchSummary {
	if maxConcurrency <= 0 {
		maxConcurrency = s.defaultMaxConcurrency
	}

	mode := domain.ProcessingModeBatch
	if len(requests) == 1 {
		mode = domain.ProcessingModeSingle
	}

	summary := &domain.BatchSummary{
		TotalJobs:      len(requests),
		ProcessingMode: mode,
	}

	if len(requests) == 0 {
		summary.Timestamp = time.Now().UTC()
		return summary
	}

	// One registry snapshot per scheduling call; skipped entirely when
	// every request already carries its execution context.
	registry, registryErr := s.fetchRegistryIfNeeded(ctx, requests)

	workers := min(maxConcurrency, len(requests))
	jobsChan := make(chan task, len(requests))
	resultsChan := make(chan indexedResult, len(requests))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobsChan {
				resultsChan <- indexedResult{
					index:  t.index,
					result: s.runJob(ctx, t.request, registry, registryErr),
				}
			}
		}()
	}

	s.dispatch(ctx, requests, maxConcurrency, jobsChan)

	results := make([]domain.JobResult, len(requests))
	for range requests {
		r := <-resultsChan
		results[r.index] = r.result
	}
	wg.Wait()

	for _, result := range results {
		if result.Status == domain.ResultSuccess {
			summary.SuccessfulJobs++
		} else {
			summary.FailedJobs++
		}
	}
	summary.Results = results
	summary.Timestamp = time.Now().UTC()

	s.logger.Info("batch completed",
		"total_jobs", summary.TotalJobs,
		"successful_jobs", summary.SuccessfulJobs,
		"failed_jobs", summary.FailedJobs,
		"processing_mode", summary.ProcessingMode)

	return summary
}

// dispatch feeds requests to the pool in slices of sliceSize, pausing
// between slices. The jobs channel is buffered for the whole batch, so
// dispatch never blocks on slow workers.
func (s *Scheduler) dispatch(ctx context.Context, requests []domain.PatchRequest, sliceSize int, jobsChan chan<- task) {
	defer close(jobsChan)

	for start := 0; start < len(requests); start += sliceSize {
		if start > 0 {
			select {
			case <-time.After(s.slicePacing):
			case <-ctx.Done():
			}
		}

		end := min(start+sliceSize, len(requests))
		for i := start; i < end; i++ {
			jobsChan <- task{index: i, request: requests[i]}
		}

		s.logger.Debug("slice dispatched",
			"slice_start", start,
			"slice_end", end,
			"total", len(requests))
	}
}

func (s *Scheduler) fetchRegistryIfNeeded(ctx context.Context, requests []domain.PatchRequest) (*discovery.Registry, error) {
	needed := false
	for _, req := range requests {
		if req.ResourceGroup == "" {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	registry, err := s.registry.FetchRegistry(ctx)
	if err != nil {
		s.logger.Error("registry fetch failed; jobs needing resolution will fail",
			"error", err)
		return nil, err
	}

	return registry, nil
}

// runJob drives one request through resolve → record → script lookup →
// execute → terminal update. Every failure path returns a Failed result;
// nothing here panics a sibling.
func (s *Scheduler) runJob(ctx context.Context, req domain.PatchRequest, registry *discovery.Registry, registryErr error) domain.JobResult {
	jobID := uuid.New().String()

	result := domain.JobResult{
		JobID:         jobID,
		MachineName:   req.MachineName,
		SoftwareName:  req.SoftwareName,
		Version:       req.Version,
		ResourceGroup: req.ResourceGroup,
	}

	logger := s.logger.With(
		"job_id", jobID,
		"machine_name", req.MachineName,
		"software_name", req.SoftwareName,
		"target_version", req.Version,
	)

	// Best effort; the job proceeds without a previous version on lookup
	// failure.
	previousVersion, err := s.store.PreviousVersion(ctx, req.MachineName, req.SoftwareName)
	if err != nil {
		logger.Debug("previous version lookup failed", "error", err)
		previousVersion = ""
	}

	target, err := s.resolveTarget(req, registry, registryErr)
	if err != nil {
		logger.Warn("target resolution failed", "error", err)
		s.recordFailedJob(ctx, req, jobID, previousVersion, err)
		return s.failResult(result, err)
	}
	result.ResourceGroup = target.ResourceGroup

	job := &domain.PatchJob{
		JobID:           jobID,
		VMName:          req.MachineName,
		SoftwareName:    req.SoftwareName,
		TargetVersion:   req.Version,
		PreviousVersion: previousVersion,
		Status:          domain.JobStatusPending,
		StartedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		logger.Error("failed to create job record", "error", err)
		return s.failResult(result, err)
	}

	entry, err := s.scripts.Resolve(req.SoftwareName)
	if err != nil {
		logger.Warn("install script lookup failed", "error", err)
		s.completeFailed(ctx, jobID, err.Error(), "")
		return s.failResult(result, err)
	}

	if err := s.store.MarkRunning(ctx, jobID); err != nil {
		logger.Error("failed to mark job running", "error", err)
		s.completeFailed(ctx, jobID, err.Error(), "")
		return s.failResult(result, err)
	}

	commandID := uuid.New().String()
	result.CommandID = commandID

	params := map[string]string{
		"machine":  req.MachineName,
		"software": entry.SoftwareName,
		"version":  req.Version,
	}

	outcome, err := s.runner.Run(ctx, target, commandID, entry.Script, params)
	if err != nil {
		logger.Error("remote execution failed before completion", "error", err)
		s.completeFailed(ctx, jobID, err.Error(), "")
		return s.failResult(result, err)
	}

	result.Output = outcome.Output
	result.Timestamp = time.Now().UTC()

	switch outcome.Status {
	case remote.OutcomeSucceeded:
		if err := s.store.CompleteJob(ctx, jobID, domain.JobStatusSucceeded, "", outcome.Output); err != nil {
			logger.Error("failed to record job success", "error", err)
		}
		result.Status = domain.ResultSuccess
		logger.Info("patch job succeeded", "command_id", commandID)

	case remote.OutcomeTimedOut:
		// The remote side's true outcome is unknown; the operation is left
		// running and only the local record is failed.
		s.completeFailed(ctx, jobID, outcome.Error, outcome.Output)
		result.Status = domain.ResultFailed
		result.Error = outcome.Error
		logger.Warn("patch job timed out waiting for terminal state",
			"command_id", commandID,
			"operation_id", outcome.OperationID)

	default:
		s.completeFailed(ctx, jobID, outcome.Error, outcome.Output)
		result.Status = domain.ResultFailed
		result.Error = outcome.Error
		logger.Warn("patch job failed on remote side",
			"command_id", commandID,
			"remote_error", outcome.Error)
	}

	return result
}

func (s *Scheduler) resolveTarget(req domain.PatchRequest, registry *discovery.Registry, registryErr error) (remote.Target, error) {
	if req.ResourceGroup != "" {
		return remote.Target{
			ResourceGroup: req.ResourceGroup,
			Machine:       req.MachineName,
		}, nil
	}

	if registryErr != nil {
		return remote.Target{}, registryErr
	}
	if registry == nil {
		return remote.Target{}, domain.NewError(domain.KindResolution, "resolve target",
			fmt.Errorf("%w: %s", domain.ErrMachineNotFound, req.MachineName))
	}

	machine, ok := registry.Resolve(req.MachineName)
	if !ok {
		return remote.Target{}, domain.NewError(domain.KindResolution, "resolve target",
			fmt.Errorf("%w: %s", domain.ErrMachineNotFound, req.MachineName))
	}

	return remote.Target{
		SubscriptionID: machine.ExecutionContext.SubscriptionID,
		ResourceGroup:  machine.ExecutionContext.ResourceGroup,
		Machine:        machine.MachineName,
	}, nil
}

// recordFailedJob persists an audit record for a request that failed before
// a Pending record existed.
func (s *Scheduler) recordFailedJob(ctx context.Context, req domain.PatchRequest, jobID, previousVersion string, cause error) {
	job := &domain.PatchJob{
		JobID:           jobID,
		VMName:          req.MachineName,
		SoftwareName:    req.SoftwareName,
		TargetVersion:   req.Version,
		PreviousVersion: previousVersion,
		Status:          domain.JobStatusPending,
		StartedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error("failed to create audit record for failed job",
			"job_id", jobID, "error", err)
		return
	}
	s.completeFailed(ctx, jobID, cause.Error(), "")
}

func (s *Scheduler) completeFailed(ctx context.Context, jobID, errorMessage, executionLog string) {
	if err := s.store.CompleteJob(ctx, jobID, domain.JobStatusFailed, errorMessage, executionLog); err != nil {
		s.logger.Error("failed to record job failure",
			"job_id", jobID, "error", err)
	}
}

func (s *Scheduler) failResult(result domain.JobResult, err error) domain.JobResult {
	result.Status = domain.ResultFailed
	result.Error = err.Error()
	result.Timestamp = time.Now().UTC()
	return result
}
