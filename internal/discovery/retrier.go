package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/patchflow/internal/domain"
)

// Retrier executes a paginated discovery query with bounded retries. A
// failed attempt restarts the query from the beginning; a constant delay
// separates attempts. Retrier holds no mutable state, so one instance may
// serve concurrent discovery cycles.
type Retrier struct {
	backend    Backend
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewRetrier wraps backend with retry handling. maxRetries is the number of
// retries after the initial attempt.
func NewRetrier(backend Backend, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *Retrier {
	return &Retrier{
		backend:    backend,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.With("component", "discovery-retrier"),
	}
}

// Query runs queryText to completion, following continuation tokens until
// the backend reports no more pages, and concatenates all rows. After the
// final retry fails it surfaces a DiscoveryUnavailable error; callers treat
// that as fatal for the current cycle.
func (r *Retrier) Query(ctx context.Context, queryText string) ([]Row, error) {
	var lastErr error

	attempts := r.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		rows, err := r.runQuery(ctx, queryText)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		r.logger.Warn("discovery query attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, domain.NewError(domain.KindDiscoveryUnavailable, "discovery query", lastErr)
}

// runQuery is a single attempt: page through the full result set.
func (r *Retrier) runQuery(ctx context.Context, queryText string) ([]Row, error) {
	var (
		rows  []Row
		token string
	)

	for {
		page, err := r.backend.QueryPage(ctx, queryText, token)
		if err != nil {
			return nil, err
		}

		rows = append(rows, page.Rows...)

		if page.ContinuationToken == "" {
			return rows, nil
		}
		token = page.ContinuationToken
	}
}
