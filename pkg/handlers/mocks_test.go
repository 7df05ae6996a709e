package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/repositories"
	"github.com/ekaya-inc/edp-engine/pkg/services"
	"github.com/ekaya-inc/edp-engine/pkg/services/workqueue"
)

// mockJobService is a configurable mock for all handler tests.
type mockJobService struct {
	job    *models.Job
	jobs   []*models.Job
	result []byte
	log    string
	err    error

	lastSubmit *services.SubmitRequest
	lastUpload *services.Upload
	lastFilter *repositories.JobFilter
	cancelled  []uuid.UUID
	deleted    []uuid.UUID
}

var _ services.JobService = (*mockJobService)(nil)

func (m *mockJobService) jobOrDefault(id uuid.UUID) *models.Job {
	if m.job != nil {
		return m.job
	}
	job := models.NewJob(models.Asset{Location: "/data/in.csv"}, nil, time.Now())
	job.ID = id
	return job
}

func (m *mockJobService) Submit(_ context.Context, req services.SubmitRequest) (*models.Job, error) {
	m.lastSubmit = &req
	if m.err != nil {
		return nil, m.err
	}
	return models.NewJob(req.Asset, req.Overrides, time.Now()), nil
}

func (m *mockJobService) SubmitUpload(_ context.Context, upload services.Upload) (*models.Job, error) {
	m.lastUpload = &upload
	if m.err != nil {
		return nil, m.err
	}
	return models.NewJob(models.Asset{
		Location:     "artifact://jobs/x/input/" + upload.Filename,
		Filename:     upload.Filename,
		DeclaredType: upload.DeclaredType,
		Name:         upload.Name,
	}, upload.Overrides, time.Now()), nil
}

func (m *mockJobService) Status(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.jobOrDefault(id), nil
}

func (m *mockJobService) List(_ context.Context, filter repositories.JobFilter) ([]*models.Job, error) {
	m.lastFilter = &filter
	if m.err != nil {
		return nil, m.err
	}
	return m.jobs, nil
}

func (m *mockJobService) Result(_ context.Context, _ uuid.UUID) ([]byte, error) {
	return m.result, m.err
}

func (m *mockJobService) Log(_ context.Context, _ uuid.UUID) (string, error) {
	return m.log, m.err
}

func (m *mockJobService) Cancel(_ context.Context, id uuid.UUID) error {
	m.cancelled = append(m.cancelled, id)
	return m.err
}

func (m *mockJobService) Delete(_ context.Context, id uuid.UUID) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

func (m *mockJobService) PruneExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, m.err
}

func (m *mockJobService) Recover(_ context.Context) error { return m.err }

func (m *mockJobService) Start() {}

func (m *mockJobService) Stats() workqueue.Stats { return workqueue.Stats{} }

func (m *mockJobService) Shutdown(_ context.Context) error { return nil }
