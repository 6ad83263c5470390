package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fleetops/patchflow/internal/domain"
)

// BatchScheduler runs a batch of patch requests to a terminal summary.
// Satisfied by *scheduler.Scheduler.
type BatchScheduler interface {
	Schedule(ctx context.Context, requests []domain.PatchRequest, maxConcurrency int) *domain.BatchSummary
}

// MessageSource provides the queue deliveries the worker drains. Satisfied
// by *rabbitmq.Client.
type MessageSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        MessageSource
	Scheduler     BatchScheduler
	PrefetchCount int
}

// Worker drains queued patch batches and runs them through the scheduler.
// Batches are processed one at a time; concurrency lives inside the
// scheduler, bounded by each batch's own max_concurrency.
type Worker struct {
	logger        *slog.Logger
	source        MessageSource
	scheduler     BatchScheduler
	prefetchCount int
	workerID      string
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		scheduler:     cfg.Scheduler,
		prefetchCount: cfg.PrefetchCount,
		workerID:      fmt.Sprintf("patch-worker-%s", uuid.New().String()[:8]),
		stopChan:      make(chan struct{}),
	}
}

// Start sets up the consumer and begins draining batches. It returns once
// the consumer is running; processing continues until Stop is called or the
// context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consumeLoop(ctx, deliveries)
	}()

	w.logger.Info("Worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return nil
}

// Stop gracefully stops the worker. A batch in flight finishes before Stop
// returns.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
