package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/patchflow/internal/domain"
)

// OutcomeStatus is the terminal state of one remote execution.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "Succeeded"
	OutcomeFailed    OutcomeStatus = "Failed"
	// OutcomeTimedOut means the poll window closed before the remote side
	// reported a terminal state. Callers treat it as Failed; the remote
	// execution may still be running and is not cancelled.
	OutcomeTimedOut OutcomeStatus = "TimedOut"
)

// Outcome is the terminal result of one remote execution.
type Outcome struct {
	Status      OutcomeStatus
	Output      string
	Error       string
	CommandID   string
	OperationID string
}

// OperationHandle identifies one in-flight remote execution.
type OperationHandle struct {
	Target      Target
	CommandID   string
	OperationID string
}

// Executor drives one command through submit and poll against the command
// channel. It holds only configuration, so a single instance serves
// concurrent jobs.
type Executor struct {
	channel       Channel
	submitTimeout time.Duration
	pollInterval  time.Duration
	pollTimeout   time.Duration
	logger        *slog.Logger
}

// NewExecutor builds an executor over channel with the given timing budget.
func NewExecutor(channel Channel, submitTimeout, pollInterval, pollTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		channel:       channel,
		submitTimeout: submitTimeout,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		logger:        logger.With("component", "remote-executor"),
	}
}

// Submit renders the script with params and hands it to the command channel.
// Any failure here is fatal for the job and is not retried.
func (e *Executor) Submit(ctx context.Context, target Target, commandID, script string, params map[string]string) (*OperationHandle, error) {
	rendered, err := RenderScript(script, params)
	if err != nil {
		return nil, domain.NewError(domain.KindSubmission, "render script", err)
	}

	sctx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	defer cancel()

	operationID, err := e.channel.SubmitCommand(sctx, target, commandID, rendered)
	if err != nil {
		return nil, domain.NewError(domain.KindSubmission, "submit command", err)
	}

	e.logger.Info("command submitted",
		"machine", target.Machine,
		"command_id", commandID,
		"operation_id", operationID)

	return &OperationHandle{Target: target, CommandID: commandID, OperationID: operationID}, nil
}

// Poll watches the operation until the remote side reports a terminal state
// or the poll window closes. A closed window yields a TimedOut outcome; the
// remote operation is left running. Transient status-check failures are
// logged and absorbed by the next tick.
func (e *Executor) Poll(ctx context.Context, handle *OperationHandle) (*Outcome, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	window := time.NewTimer(e.pollTimeout)
	defer window.Stop()

	for {
		state, err := e.channel.OperationStatus(ctx, handle.OperationID)
		if err != nil {
			e.logger.Warn("operation status check failed",
				"operation_id", handle.OperationID,
				"error", err)
		} else {
			switch state.Status {
			case OperationSucceeded:
				return &Outcome{
					Status:      OutcomeSucceeded,
					Output:      state.Output,
					CommandID:   handle.CommandID,
					OperationID: handle.OperationID,
				}, nil
			case OperationFailed:
				return &Outcome{
					Status:      OutcomeFailed,
					Output:      state.Output,
					Error:       state.Error,
					CommandID:   handle.CommandID,
					OperationID: handle.OperationID,
				}, nil
			}
		}

		select {
		case <-ticker.C:
		case <-window.C:
			e.logger.Warn("poll window closed before terminal state",
				"operation_id", handle.OperationID,
				"poll_timeout", e.pollTimeout)
			return &Outcome{
				Status:      OutcomeTimedOut,
				Error:       "remote operation did not reach a terminal state within the poll window",
				CommandID:   handle.CommandID,
				OperationID: handle.OperationID,
			}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Run submits the command and polls it to a terminal outcome.
func (e *Executor) Run(ctx context.Context, target Target, commandID, script string, params map[string]string) (*Outcome, error) {
	handle, err := e.Submit(ctx, target, commandID, script, params)
	if err != nil {
		return nil, err
	}
	return e.Poll(ctx, handle)
}
