package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

const jobColumns = `id, kind, pid, instance, engine, priority, state, substate, ` +
	`estimated_item_count, processed_item_count, log, created_by, created_at, updated_at`

// DefaultListLimit caps job listings without an explicit limit.
const DefaultListLimit = 100

// JobRepository handles database operations for jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

func jobNotFound(id int64) error {
	return domain.NotFoundf("job %d", id)
}

// Create inserts a new job and fills in its id and timestamps.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (kind, pid, instance, engine, priority, state, substate, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		job.Kind,
		job.PID,
		job.Instance,
		job.Engine,
		job.Priority.String(),
		job.State,
		job.Substate,
		job.CreatedBy,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobNotFound(id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// UpdateState moves a job from one state to another. The update only applies
// when the job is still in from; otherwise ErrConflict is returned.
// Reaching DONE clears the substate; FAILED keeps it as the point of failure.
func (r *JobRepository) UpdateState(ctx context.Context, id int64, from, to domain.JobState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: job %d from %s to %s", domain.ErrInvalidTransition, id, from, to)
	}

	query := `
		UPDATE jobs
		SET state = $1,
		    substate = CASE WHEN $1 = 'DONE' THEN '' ELSE substate END,
		    updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	return execRequireRows(result, nil, domain.Conflictf("job %d is not %s", id, from))
}

// UpdateSubstate records the progress marker of a running job.
func (r *JobRepository) UpdateSubstate(ctx context.Context, id int64, substate domain.JobSubstate) error {
	query := `UPDATE jobs SET substate = $1, updated_at = NOW() WHERE id = $2 AND state = 'RUNNING'`

	result, err := r.db.ExecContext(ctx, query, substate, id)
	if err != nil {
		return fmt.Errorf("failed to update job substate: %w", err)
	}
	return execRequireRows(result, nil, domain.Conflictf("job %d is not running", id))
}

// SetFailed fails a running job and appends message to its log.
func (r *JobRepository) SetFailed(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE jobs
		SET state = 'FAILED', log = log || $1, updated_at = NOW()
		WHERE id = $2 AND state = 'RUNNING'
	`

	result, err := r.db.ExecContext(ctx, query, logLine(message), id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return execRequireRows(result, nil, domain.Conflictf("job %d already finished", id))
}

// SetEstimated sets the expected number of items.
func (r *JobRepository) SetEstimated(ctx context.Context, id int64, count int) error {
	query := `UPDATE jobs SET estimated_item_count = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, count, id)
	if err != nil {
		return fmt.Errorf("failed to set estimated count: %w", err)
	}
	return execRequireRows(result, nil, jobNotFound(id))
}

// IncrementProcessed adds delta to the processed item count.
func (r *JobRepository) IncrementProcessed(ctx context.Context, id int64, delta int) error {
	query := `
		UPDATE jobs
		SET processed_item_count = processed_item_count + $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("failed to increment processed count: %w", err)
	}
	return execRequireRows(result, nil, jobNotFound(id))
}

// AppendLog appends one line to the job log.
func (r *JobRepository) AppendLog(ctx context.Context, id int64, line string) error {
	query := `UPDATE jobs SET log = log || $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, logLine(line), id)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return execRequireRows(result, nil, jobNotFound(id))
}

// List returns jobs matching filter, newest first.
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	var (
		conditions []string
		args       []any
	)

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, pq.Array(states))
		conditions = append(conditions, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM jobs`)
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, limit, filter.Offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	jobs := []*domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, b.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListByState returns every job in state, oldest first.
func (r *JobRepository) ListByState(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = $1 ORDER BY created_at, id`

	jobs := []*domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, state); err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}
	return jobs, nil
}

// FailRunning fails every RUNNING job with reason and returns how many were
// affected.
func (r *JobRepository) FailRunning(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE jobs
		SET state = 'FAILED', log = log || $1, updated_at = NOW()
		WHERE state = 'RUNNING'
	`

	result, err := r.db.ExecContext(ctx, query, logLine(reason))
	if err != nil {
		return 0, fmt.Errorf("failed to fail running jobs: %w", err)
	}
	return result.RowsAffected()
}

func logLine(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}
