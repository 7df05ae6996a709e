package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// sqliteTimeLayout sorts lexically in time order, so range filters work on
// the TEXT columns.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteJobRepository implements JobRepository on a single-node SQLite file.
type sqliteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a job repository on an opened and migrated
// SQLite database.
func NewSQLiteJobRepository(db *sql.DB) JobRepository {
	return &sqliteJobRepository{db: db}
}

func (r *sqliteJobRepository) Save(ctx context.Context, job *models.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO edp_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET state = excluded.state,
		    attempts = excluded.attempts,
		    error_kind = excluded.error_kind,
		    error_message = excluded.error_message,
		    profile_ref = excluded.profile_ref,
		    log_ref = excluded.log_ref,
		    started_at = excluded.started_at,
		    finished_at = excluded.finished_at,
		    updated_at = excluded.updated_at,
		    version = excluded.version
		WHERE edp_jobs.version < excluded.version`

	var overrides any
	if row.Overrides != nil {
		overrides = string(row.Overrides)
	}

	_, err = r.db.ExecContext(ctx, query,
		row.ID.String(),
		row.State,
		string(row.Asset),
		overrides,
		row.Attempts,
		row.ErrorKind,
		row.ErrorMessage,
		row.ProfileRef,
		row.LogRef,
		formatTime(job.CreatedAt),
		formatTimePtr(job.StartedAt),
		formatTimePtr(job.FinishedAt),
		formatTime(job.UpdatedAt),
		job.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (r *sqliteJobRepository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM edp_jobs WHERE id = ?`

	job, err := scanSQLiteJob(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *sqliteJobRepository) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	var (
		where string
		args  []any
	)
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, s := range filter.States {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = "WHERE state IN (" + strings.Join(marks, ", ") + ")"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	query := `SELECT ` + jobColumns + ` FROM edp_jobs ` + where + ` ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (r *sqliteJobRepository) ListFinishedBefore(ctx context.Context, before time.Time) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM edp_jobs
		WHERE state IN ('completed', 'failed') AND finished_at < ?
		ORDER BY finished_at`

	rows, err := r.db.QueryContext(ctx, query, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (r *sqliteJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM edp_jobs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row sqlScanner) (*models.Job, error) {
	var (
		r                 jobRow
		job               models.Job
		id, asset         string
		overrides         sql.NullString
		created, updated  string
		started, finished sql.NullString
	)
	err := row.Scan(
		&id,
		&r.State,
		&asset,
		&overrides,
		&r.Attempts,
		&r.ErrorKind,
		&r.ErrorMessage,
		&r.ProfileRef,
		&r.LogRef,
		&created,
		&started,
		&finished,
		&updated,
		&job.Version,
	)
	if err != nil {
		return nil, err
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	r.Asset = []byte(asset)
	if overrides.Valid {
		r.Overrides = []byte(overrides.String)
	}
	if err := r.fill(&job); err != nil {
		return nil, err
	}

	if job.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
