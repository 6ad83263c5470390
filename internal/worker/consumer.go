package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fleetops/patchflow/internal/domain"
)

// setupConsumer sets QoS and returns the delivery channel. Prefetch bounds
// how many unacknowledged batches this worker holds at once.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.source.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return deliveries, nil
}

// consumeLoop drains batch messages until the worker stops
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Batch consumer started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Batch consumer stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Batch consumer stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			w.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery decodes one queue message, runs the batch, and settles the
// delivery.
func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var message domain.BatchMessage
	if err := json.Unmarshal(delivery.Body, &message); err != nil {
		w.logger.Error("Failed to parse batch message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// NACK without requeue - malformed messages should go to DLQ
		w.nack(delivery, false)
		return
	}

	if _, err := uuid.Parse(message.BatchID); err != nil {
		w.logger.Error("Invalid batch_id format - not a UUID",
			slog.String("batch_id", message.BatchID),
			slog.String("error", err.Error()),
		)
		w.nack(delivery, false)
		return
	}

	if len(message.PatchJobs) == 0 {
		w.logger.Error("Batch message has no patch jobs",
			slog.String("batch_id", message.BatchID),
		)
		w.nack(delivery, false)
		return
	}

	w.processBatch(ctx, &message)

	// Job outcomes are recorded per job; a batch with failed jobs is still
	// settled, not requeued.
	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK batch message",
			slog.String("batch_id", message.BatchID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
		)
	}
}
