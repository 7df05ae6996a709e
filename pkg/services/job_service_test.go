package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/repositories"
)

type runnerFunc func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error)

func (f runnerFunc) Run(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
	return f(ctx, job, logger)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []JobEvent
}

func (n *recordingNotifier) Notify(_ context.Context, job *models.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, NewJobEvent(job))
	return nil
}

func (n *recordingNotifier) states(id uuid.UUID) []models.JobState {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.JobState
	for _, e := range n.events {
		if e.JobID == id.String() {
			out = append(out, e.State)
		}
	}
	return out
}

type serviceFixture struct {
	svc      *jobService
	repo     repositories.JobRepository
	store    artifacts.Store
	notifier *recordingNotifier
	clock    *fakeClock
}

func newServiceFixture(t *testing.T, runner JobRunner, jobs config.JobsConfig) *serviceFixture {
	t.Helper()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &serviceFixture{
		repo:     repositories.NewMemoryJobRepository(),
		store:    store,
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	f.svc = NewJobService(&JobServiceDeps{
		Runner:    runner,
		Repo:      f.repo,
		Store:     store,
		Notifiers: []JobNotifier{f.notifier, NewLogJobNotifier(zap.NewNop())},
		Jobs:      jobs,
		Analysis:  config.DefaultAnalysisConfig(),
		Clock:     f.clock.Now,
		Logger:    zap.NewNop(),
	}).(*jobService)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Workers:        2,
		QueueCapacity:  8,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,

		LocalAssetRoots: []string{"/data"},
	}
}

// storeProfile is a runner that writes a small profile document.
func storeProfile(store func() artifacts.Store) JobRunner {
	return runnerFunc(func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
		logger.Info("profiling")
		key := artifacts.ProfileKey(job.ID.String())
		if err := store().Put(ctx, key, []byte(`{"name":"ok"}`), "application/json"); err != nil {
			return "", err
		}
		return artifacts.Location(key), nil
	})
}

// waitTerminal waits until the terminal transition has been persisted, which
// happens after the job log is stored and before notifiers run.
func (f *serviceFixture) waitTerminal(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := f.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.State.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func sampleAsset() models.Asset {
	return models.Asset{Location: "/data/sales.csv"}
}

func TestJobService_SubmitCompletes(t *testing.T) {
	var f *serviceFixture
	f = newServiceFixture(t, storeProfile(func() artifacts.Store { return f.store }), testJobsConfig())
	f.svc.Start()
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, job.State)
	assert.Equal(t, "artifact://jobs/"+job.ID.String()+"/job.log", job.LogRef)

	done := f.waitTerminal(t, job.ID)
	require.Equal(t, models.JobStateCompleted, done.State)
	assert.Equal(t, "artifact://"+artifacts.ProfileKey(job.ID.String()), done.ProfileRef)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, int64(3), done.Version)

	doc, err := f.svc.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ok"}`, string(doc))

	text, err := f.svc.Log(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "profiling")
	assert.Contains(t, text, "Job state changed")

	require.Eventually(t, func() bool {
		return len(f.notifier.states(job.ID)) == 3
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t,
		[]models.JobState{models.JobStateQueued, models.JobStateRunning, models.JobStateCompleted},
		f.notifier.states(job.ID))
}

func TestJobService_FailureIsRecorded(t *testing.T) {
	f := newServiceFixture(t, runnerFunc(func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
		return "", apperrors.UnrecognizedAsset("asset has no known signature")
	}), testJobsConfig())
	f.svc.Start()
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Equal(t, "UnrecognizedAssetError", done.ErrorKind)
	assert.Equal(t, "asset has no known signature", done.ErrorMessage)
	assert.Equal(t, 1, done.Attempts)

	_, err = f.svc.Result(ctx, job.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotCompleted))
}

func TestJobService_TransientErrorsAreRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	var f *serviceFixture
	f = newServiceFixture(t, runnerFunc(func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return "", apperrors.TransientIO(errors.New("connection reset"), "fetch failed")
		}
		return storeProfile(func() artifacts.Store { return f.store }).Run(ctx, job, logger)
	}), testJobsConfig())
	f.svc.Start()

	job, err := f.svc.Submit(context.Background(), SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
	assert.Equal(t, 3, done.Attempts)
}

func TestJobService_Backpressure(t *testing.T) {
	jobs := testJobsConfig()
	jobs.QueueCapacity = 1
	f := newServiceFixture(t, storeProfile(nil), jobs)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	assert.Nil(t, job)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBackpressure))

	all, err := f.repo.List(ctx, repositories.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJobService_RejectsInvalidInput(t *testing.T) {
	f := newServiceFixture(t, storeProfile(nil), testJobsConfig())
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitRequest{Asset: models.Asset{}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAsset))

	mode := "cubic"
	_, err = f.svc.Submit(ctx, SubmitRequest{
		Asset:     sampleAsset(),
		Overrides: &config.AnalysisOverrides{DecompositionMode: &mode},
	})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOverrides))

	_, err = f.svc.SubmitUpload(ctx, Upload{Filename: "empty.csv"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAsset))

	assert.Equal(t, 0, f.svc.Stats().Queued)
}

func TestJobService_RejectsLocationsOutsideRoots(t *testing.T) {
	f := newServiceFixture(t, storeProfile(nil), testJobsConfig())
	ctx := context.Background()

	for _, location := range []string{
		"/etc/passwd",
		"file:///etc/passwd",
		"/data/../etc/passwd",
		"relative/sales.csv",
		"artifact://jobs/" + uuid.NewString() + "/profile.json",
		"artifact://jobs/" + uuid.NewString() + "/input/sales.csv",
	} {
		_, err := f.svc.Submit(ctx, SubmitRequest{Asset: models.Asset{Location: location}})
		assert.True(t, errors.Is(err, apperrors.ErrInvalidAsset), "location %s: %v", location, err)
	}

	_, err := f.svc.Submit(ctx, SubmitRequest{Asset: models.Asset{Location: "file:///data/sales.csv"}})
	assert.NoError(t, err)
	_, err = f.svc.Submit(ctx, SubmitRequest{Asset: models.Asset{Location: "https://example.com/sales.csv"}})
	assert.NoError(t, err)

	assert.Equal(t, 2, f.svc.Stats().Queued)
}

func TestJobService_LocalPathsDisabledByDefault(t *testing.T) {
	jobs := testJobsConfig()
	jobs.LocalAssetRoots = nil
	f := newServiceFixture(t, storeProfile(nil), jobs)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{Asset: sampleAsset()})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAsset))
	assert.Equal(t, 0, f.svc.Stats().Queued)
}

func TestJobService_SubmitUpload(t *testing.T) {
	var f *serviceFixture
	var seen []byte
	f = newServiceFixture(t, runnerFunc(func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
		key, ok := artifacts.KeyOf(job.Asset.Location)
		if !ok {
			return "", errors.New("upload not stored in artifact store")
		}
		data, err := f.store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		seen = data
		return storeProfile(func() artifacts.Store { return f.store }).Run(ctx, job, logger)
	}), testJobsConfig())
	f.svc.Start()

	job, err := f.svc.SubmitUpload(context.Background(), Upload{
		Filename: "readings.csv",
		Data:     []byte("t,v\n1,2\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "artifact://jobs/"+job.ID.String()+"/input/readings.csv", job.Asset.Location)
	assert.Equal(t, "readings.csv", job.Asset.Filename)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
	assert.Equal(t, "t,v\n1,2\n", string(seen))
}

func TestJobService_CancelQueued(t *testing.T) {
	f := newServiceFixture(t, storeProfile(nil), testJobsConfig())
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, job.ID))

	got, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	assert.Equal(t, "Cancelled", got.ErrorKind)

	assert.True(t, errors.Is(f.svc.Cancel(ctx, job.ID), apperrors.ErrConflict))
	assert.True(t, errors.Is(f.svc.Cancel(ctx, uuid.New()), apperrors.ErrNotFound))
}

func TestJobService_CancelRunning(t *testing.T) {
	started := make(chan struct{})
	f := newServiceFixture(t, runnerFunc(func(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}), testJobsConfig())
	f.svc.Start()
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)
	<-started

	require.NoError(t, f.svc.Cancel(ctx, job.ID))

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Equal(t, "Cancelled", done.ErrorKind)
	assert.Equal(t, "job cancelled while running", done.ErrorMessage)
}

func TestJobService_Delete(t *testing.T) {
	var f *serviceFixture
	f = newServiceFixture(t, storeProfile(func() artifacts.Store { return f.store }), testJobsConfig())
	ctx := context.Background()

	queued, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)
	assert.True(t, errors.Is(f.svc.Delete(ctx, queued.ID), apperrors.ErrNotTerminal))

	f.svc.Start()
	f.waitTerminal(t, queued.ID)

	require.NoError(t, f.svc.Delete(ctx, queued.ID))

	_, err = f.svc.Status(ctx, queued.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = f.store.Get(ctx, artifacts.ProfileKey(queued.ID.String()))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = f.store.Get(ctx, artifacts.LogKey(queued.ID.String()))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestJobService_PruneExpired(t *testing.T) {
	var f *serviceFixture
	f = newServiceFixture(t, storeProfile(func() artifacts.Store { return f.store }), testJobsConfig())
	f.svc.Start()
	ctx := context.Background()
	finished := f.clock.Now()

	job, err := f.svc.Submit(ctx, SubmitRequest{Asset: sampleAsset()})
	require.NoError(t, err)
	f.waitTerminal(t, job.ID)

	n, err := f.svc.PruneExpired(ctx, finished.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.svc.PruneExpired(ctx, finished.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Status(ctx, job.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestJobService_Recover(t *testing.T) {
	var f *serviceFixture
	f = newServiceFixture(t, storeProfile(func() artifacts.Store { return f.store }), testJobsConfig())
	ctx := context.Background()
	now := f.clock.Now()

	queued := models.NewJob(sampleAsset(), nil, now.Add(-2*time.Minute))
	running := models.NewJob(sampleAsset(), nil, now.Add(-3*time.Minute))
	require.NoError(t, running.Transition(models.JobStateRunning, now.Add(-time.Minute)))
	require.NoError(t, f.repo.Save(ctx, queued))
	require.NoError(t, f.repo.Save(ctx, running))

	require.NoError(t, f.svc.Recover(ctx))

	interrupted, err := f.svc.Status(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, interrupted.State)
	assert.Equal(t, "Cancelled", interrupted.ErrorKind)
	assert.Equal(t, int64(3), interrupted.Version)

	f.svc.Start()
	done := f.waitTerminal(t, queued.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
}
