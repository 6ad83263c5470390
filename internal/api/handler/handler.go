package handler

import (
	"context"
	"log/slog"

	"github.com/fleetops/patchflow/internal/discovery"
	"github.com/fleetops/patchflow/internal/domain"
	"github.com/fleetops/patchflow/internal/store"
)

// PatchScheduler runs patch requests to a terminal batch summary.
// Satisfied by *scheduler.Scheduler.
type PatchScheduler interface {
	Schedule(ctx context.Context, requests []domain.PatchRequest, maxConcurrency int) *domain.BatchSummary
}

// DiscoveryRunner performs one discovery cycle. Satisfied by
// *discovery.Reconciler.
type DiscoveryRunner interface {
	Reconcile(ctx context.Context) (*discovery.Report, error)
}

// JobStore is the read/write surface the handlers need from persistence.
// Satisfied by *store.Storage.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.PatchJob, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.PatchJob, error)
	ReplaceInventory(ctx context.Context, matches []discovery.Match) error
}

// BatchPublisher hands an async batch to the queue. Satisfied by
// *rabbitmq.Client.
type BatchPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger    *slog.Logger
	Storage   JobStore
	Scheduler PatchScheduler
	Discovery DiscoveryRunner
	Publisher BatchPublisher
}

// PatchHandler handles patch orchestration HTTP requests.
type PatchHandler struct {
	logger    *slog.Logger
	storage   JobStore
	scheduler PatchScheduler
	discovery DiscoveryRunner
	publisher BatchPublisher
}

// NewPatchHandler creates a PatchHandler from its dependencies.
func NewPatchHandler(deps *Dependencies) *PatchHandler {
	return &PatchHandler{
		logger:    deps.Logger,
		storage:   deps.Storage,
		scheduler: deps.Scheduler,
		discovery: deps.Discovery,
		publisher: deps.Publisher,
	}
}
