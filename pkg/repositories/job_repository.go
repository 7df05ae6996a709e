package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// JobRepository persists job records.
//
// Save is an upsert guarded by Job.Version: a record is only replaced by a
// copy with a higher version, so transition copies that arrive out of order
// never move a job backwards. A stale Save is not an error.
type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	ListFinishedBefore(ctx context.Context, before time.Time) ([]*models.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// JobFilter narrows List. Results are ordered newest first.
type JobFilter struct {
	States []models.JobState
	Limit  int
}

func (f JobFilter) matches(job *models.Job) bool {
	return len(f.States) == 0 || slices.Contains(f.States, job.State)
}

// ============================================================================
// In-memory implementation
// ============================================================================

type memoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryJobRepository creates a process-local job repository.
func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepository{jobs: make(map[uuid.UUID]*models.Job)}
}

func (r *memoryJobRepository) Save(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[job.ID]; ok && cur.Version >= job.Version {
		return nil
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memoryJobRepository) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *memoryJobRepository) List(_ context.Context, filter JobFilter) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Job
	for _, job := range r.jobs {
		if filter.matches(job) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryJobRepository) ListFinishedBefore(_ context.Context, before time.Time) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Job
	for _, job := range r.jobs {
		if job.State.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(before) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (r *memoryJobRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

// ============================================================================
// Row encoding shared by the SQL implementations
// ============================================================================

// jobRow is the column form of a job.
type jobRow struct {
	ID           uuid.UUID
	State        string
	Asset        []byte
	Overrides    []byte
	Attempts     int
	ErrorKind    *string
	ErrorMessage *string
	ProfileRef   *string
	LogRef       *string
}

func toRow(job *models.Job) (*jobRow, error) {
	asset, err := json.Marshal(job.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal asset: %w", err)
	}
	row := &jobRow{
		ID:           job.ID,
		State:        string(job.State),
		Asset:        asset,
		Attempts:     job.Attempts,
		ErrorKind:    nullable(job.ErrorKind),
		ErrorMessage: nullable(job.ErrorMessage),
		ProfileRef:   nullable(job.ProfileRef),
		LogRef:       nullable(job.LogRef),
	}
	if job.Overrides != nil {
		row.Overrides, err = json.Marshal(job.Overrides)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal overrides: %w", err)
		}
	}
	return row, nil
}

// fill copies the decoded columns onto job.
func (row *jobRow) fill(job *models.Job) error {
	job.ID = row.ID
	job.State = models.JobState(row.State)
	job.Attempts = row.Attempts
	job.ErrorKind = deref(row.ErrorKind)
	job.ErrorMessage = deref(row.ErrorMessage)
	job.ProfileRef = deref(row.ProfileRef)
	job.LogRef = deref(row.LogRef)
	if err := json.Unmarshal(row.Asset, &job.Asset); err != nil {
		return fmt.Errorf("failed to unmarshal asset: %w", err)
	}
	if len(row.Overrides) > 0 {
		var o config.AnalysisOverrides
		if err := json.Unmarshal(row.Overrides, &o); err != nil {
			return fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
		job.Overrides = &o
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
