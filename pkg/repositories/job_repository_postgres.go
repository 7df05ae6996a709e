package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/database"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

const jobColumns = `id, state, asset, overrides, attempts, error_kind, error_message,
	profile_ref, log_ref, created_at, started_at, finished_at, updated_at, version`

// postgresJobRepository implements JobRepository using PostgreSQL.
type postgresJobRepository struct {
	db *database.DB
}

// NewPostgresJobRepository creates a job repository on the given pool.
func NewPostgresJobRepository(db *database.DB) JobRepository {
	return &postgresJobRepository{db: db}
}

func (r *postgresJobRepository) Save(ctx context.Context, job *models.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO edp_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    attempts = EXCLUDED.attempts,
		    error_kind = EXCLUDED.error_kind,
		    error_message = EXCLUDED.error_message,
		    profile_ref = EXCLUDED.profile_ref,
		    log_ref = EXCLUDED.log_ref,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at,
		    updated_at = EXCLUDED.updated_at,
		    version = EXCLUDED.version
		WHERE edp_jobs.version < EXCLUDED.version`

	_, err = r.db.Exec(ctx, query,
		row.ID,
		row.State,
		row.Asset,
		row.Overrides,
		row.Attempts,
		row.ErrorKind,
		row.ErrorMessage,
		row.ProfileRef,
		row.LogRef,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
		job.UpdatedAt,
		job.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (r *postgresJobRepository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM edp_jobs WHERE id = $1`

	job, err := scanPostgresJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *postgresJobRepository) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	states := make([]string, len(filter.States))
	for i, s := range filter.States {
		states[i] = string(s)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT ` + jobColumns + `
		FROM edp_jobs
		WHERE cardinality($1::text[]) = 0 OR state = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, states, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectPostgresJobs(rows)
}

func (r *postgresJobRepository) ListFinishedBefore(ctx context.Context, before time.Time) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM edp_jobs
		WHERE state IN ('completed', 'failed') AND finished_at < $1
		ORDER BY finished_at`

	rows, err := r.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return collectPostgresJobs(rows)
}

func (r *postgresJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM edp_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func collectPostgresJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func scanPostgresJob(row pgx.Row) (*models.Job, error) {
	var (
		r   jobRow
		job models.Job
	)
	err := row.Scan(
		&r.ID,
		&r.State,
		&r.Asset,
		&r.Overrides,
		&r.Attempts,
		&r.ErrorKind,
		&r.ErrorMessage,
		&r.ProfileRef,
		&r.LogRef,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.UpdatedAt,
		&job.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := r.fill(&job); err != nil {
		return nil, err
	}
	return &job, nil
}
