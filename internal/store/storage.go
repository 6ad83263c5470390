package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetops/patchflow/internal/domain"
	"github.com/fleetops/patchflow/shared/postgresql"
)

// Storage persists patch jobs and the reconciled software inventory.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a Storage over the shared PostgreSQL client.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateJob inserts a new patch job. The caller provides the record in
// PENDING with StartedAt set.
func (s *Storage) CreateJob(ctx context.Context, job *domain.PatchJob) error {
	query := `
		INSERT INTO patch_jobs (
			job_id, vm_name, software_name, target_version,
			previous_version, status, started_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.VMName,
		job.SoftwareName,
		job.TargetVersion,
		nullIfEmpty(job.PreviousVersion),
		job.Status,
		job.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// MarkRunning transitions a job PENDING → RUNNING. The WHERE clause keeps
// the transition one-way; a job already past PENDING is left untouched.
func (s *Storage) MarkRunning(ctx context.Context, jobID string) error {
	query := `
		UPDATE patch_jobs
		SET status = $1
		WHERE job_id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusRunning, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// CompleteJob moves a job to a terminal status and stamps CompletedAt. Jobs
// already terminal are left untouched so terminal states stay immutable.
func (s *Storage) CompleteJob(ctx context.Context, jobID, status, errorMessage, executionLog string) error {
	if !domain.IsTerminalStatus(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE patch_jobs
		SET status = $1,
			error_message = $2,
			execution_log = $3,
			completed_at = NOW()
		WHERE job_id = $4
		  AND status NOT IN ($5, $6)
	`

	result, err := s.db.ExecContext(ctx, query,
		status,
		nullIfEmpty(errorMessage),
		nullIfEmpty(executionLog),
		jobID,
		domain.JobStatusSucceeded,
		domain.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("complete job touched no rows (missing or already terminal)",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
		return domain.ErrJobNotFound
	}

	return nil
}

// GetJob retrieves one patch job by id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.PatchJob, error) {
	query := `
		SELECT job_id, vm_name, software_name, target_version,
		       previous_version, status, error_message, execution_log,
		       started_at, completed_at
		FROM patch_jobs
		WHERE job_id = $1
	`

	var (
		job             domain.PatchJob
		previousVersion sql.NullString
		errorMessage    sql.NullString
		executionLog    sql.NullString
		completedAt     sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.VMName,
		&job.SoftwareName,
		&job.TargetVersion,
		&previousVersion,
		&job.Status,
		&errorMessage,
		&executionLog,
		&job.StartedAt,
		&completedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.PreviousVersion = previousVersion.String
	job.ErrorMessage = errorMessage.String
	job.ExecutionLog = executionLog.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

// JobFilter narrows and pages a job listing.
type JobFilter struct {
	VMName       string
	SoftwareName string
	Status       string
	PageSize     int
	Cursor       *JobCursor
}

// JobCursor marks the position after the last row of the previous page.
type JobCursor struct {
	StartedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs matching the filter, newest first.
// The extra row lets the caller detect another page.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.PatchJob, error) {
	query := `
		SELECT job_id, vm_name, software_name, target_version,
		       previous_version, status, error_message, execution_log,
		       started_at, completed_at
		FROM patch_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.VMName != "" {
		query += fmt.Sprintf(" AND vm_name = $%d", argIdx)
		args = append(args, filter.VMName)
		argIdx++
	}

	if filter.SoftwareName != "" {
		query += fmt.Sprintf(" AND software_name = $%d", argIdx)
		args = append(args, filter.SoftwareName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by started_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY started_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.PatchJob
	for rows.Next() {
		var (
			job             domain.PatchJob
			previousVersion sql.NullString
			errorMessage    sql.NullString
			executionLog    sql.NullString
			completedAt     sql.NullTime
		)

		if err := rows.Scan(
			&job.JobID,
			&job.VMName,
			&job.SoftwareName,
			&job.TargetVersion,
			&previousVersion,
			&job.Status,
			&errorMessage,
			&executionLog,
			&job.StartedAt,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}

		job.PreviousVersion = previousVersion.String
		job.ErrorMessage = errorMessage.String
		job.ExecutionLog = executionLog.String
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}

	return jobs, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
