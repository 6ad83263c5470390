package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/patchflow/internal/domain"
)

// processBatch runs one queued batch through the scheduler to completion
func (w *Worker) processBatch(ctx context.Context, message *domain.BatchMessage) {
	w.logger.Info("Processing patch batch",
		slog.String("batch_id", message.BatchID),
		slog.Int("total_jobs", len(message.PatchJobs)),
		slog.Int("max_concurrency", message.MaxConcurrency),
		slog.String("worker_id", w.workerID),
	)

	started := time.Now()
	summary := w.scheduler.Schedule(ctx, message.Requests(), message.MaxConcurrency)

	w.logger.Info("Patch batch processed",
		slog.String("batch_id", message.BatchID),
		slog.Int("total_jobs", summary.TotalJobs),
		slog.Int("successful_jobs", summary.SuccessfulJobs),
		slog.Int("failed_jobs", summary.FailedJobs),
		slog.Duration("duration", time.Since(started)),
	)
}
