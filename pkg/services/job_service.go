package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/repositories"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
	"github.com/ekaya-inc/edp-engine/pkg/services/workqueue"
)

// persistTimeout bounds the repository write and notifications of one transition.
const persistTimeout = 10 * time.Second

// JobService is the orchestrator facade used by the API and the retention
// scheduler. It owns the work queue; every call site gets it passed in.
type JobService interface {
	// Submit enqueues a profiling job for an asset reachable by location.
	// A full queue fails with BackpressureError and no job is created.
	Submit(ctx context.Context, req SubmitRequest) (*models.Job, error)
	// SubmitUpload stores uploaded bytes in the artifact store and enqueues them.
	SubmitUpload(ctx context.Context, upload Upload) (*models.Job, error)
	Status(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter repositories.JobFilter) ([]*models.Job, error)
	// Result returns the profile document of a completed job.
	Result(ctx context.Context, id uuid.UUID) ([]byte, error)
	// Log returns the job's log, live while it runs and stored once it ends.
	Log(ctx context.Context, id uuid.UUID) (string, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	// Delete removes a terminal job together with its artifacts.
	Delete(ctx context.Context, id uuid.UUID) error
	// PruneExpired deletes terminal jobs that finished before the cutoff.
	PruneExpired(ctx context.Context, before time.Time) (int, error)
	// Recover requeues jobs left queued by a previous process and fails the
	// ones it left running. Call it before Start.
	Recover(ctx context.Context) error
	Start()
	Stats() workqueue.Stats
	Shutdown(ctx context.Context) error
}

// SubmitRequest references an asset that the pipeline fetches itself.
type SubmitRequest struct {
	Asset     models.Asset
	Overrides *config.AnalysisOverrides
}

// Upload carries asset bytes received through the API.
type Upload struct {
	Filename     string
	DeclaredType string
	Name         string
	Data         []byte
	Overrides    *config.AnalysisOverrides
}

// JobRunner executes one attempt of a job. Pipeline implements it.
type JobRunner interface {
	Run(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error)
}

// JobServiceDeps contains dependencies for JobService.
type JobServiceDeps struct {
	Runner    JobRunner
	Repo      repositories.JobRepository
	Store     artifacts.Store
	Notifiers []JobNotifier
	Jobs      config.JobsConfig
	Analysis  config.AnalysisConfig
	Clock     func() time.Time // Optional: defaults to time.Now
	Logger    *zap.Logger
}

type jobService struct {
	queue     *workqueue.Queue
	runner    JobRunner
	repo      repositories.JobRepository
	store     artifacts.Store
	notifiers []JobNotifier
	analysis  config.AnalysisConfig
	locations artifacts.SubmitPolicy
	now       func() time.Time
	logger    *zap.Logger

	mu   sync.Mutex
	logs map[uuid.UUID]*jobLog
}

type jobLog struct {
	logger *zap.Logger
	text   *logging.JobLog
}

var _ JobService = (*jobService)(nil)

// NewJobService creates the orchestrator. Workers start with Start.
func NewJobService(deps *JobServiceDeps) JobService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	s := &jobService{
		runner:    deps.Runner,
		repo:      deps.Repo,
		store:     deps.Store,
		notifiers: deps.Notifiers,
		analysis:  deps.Analysis,
		locations: artifacts.SubmitPolicy{LocalRoots: deps.Jobs.LocalAssetRoots},
		now:       now,
		logger:    deps.Logger.Named("job-service"),
		logs:      make(map[uuid.UUID]*jobLog),
	}

	s.queue = workqueue.New(workqueue.ExecutorFunc(s.execute), deps.Logger,
		workqueue.WithWorkers(deps.Jobs.WorkerCount()),
		workqueue.WithCapacity(deps.Jobs.QueueCapacity),
		workqueue.WithTimeout(deps.Jobs.Timeout),
		workqueue.WithRetryConfig(&retry.Config{
			MaxRetries:   deps.Jobs.MaxRetries,
			InitialDelay: deps.Jobs.InitialBackoff,
			MaxDelay:     deps.Jobs.MaxBackoff,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}),
		workqueue.WithClock(workqueue.Clock(now)),
		workqueue.WithOnTransition(s.onTransition),
	)
	return s
}

func (s *jobService) Start() {
	s.queue.Start()
}

func (s *jobService) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if err := req.Asset.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidAsset, err)
	}
	if err := s.locations.Check(req.Asset.Location); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidAsset, err)
	}
	if _, err := s.analysis.WithOverrides(req.Overrides); err != nil {
		return nil, err
	}
	job := s.newJob(req.Asset, req.Overrides)
	if err := s.enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) SubmitUpload(ctx context.Context, upload Upload) (*models.Job, error) {
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", apperrors.ErrInvalidAsset)
	}
	if _, err := s.analysis.WithOverrides(upload.Overrides); err != nil {
		return nil, err
	}

	job := s.newJob(models.Asset{
		Filename:     upload.Filename,
		DeclaredType: upload.DeclaredType,
		Name:         upload.Name,
	}, upload.Overrides)
	id := job.ID.String()
	key := artifacts.UploadKey(id, upload.Filename)
	job.Asset.Location = artifacts.Location(key)

	if err := s.store.Put(ctx, key, upload.Data, upload.DeclaredType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.enqueue(job); err != nil {
		if delErr := s.store.DeletePrefix(context.WithoutCancel(ctx), artifacts.JobPrefix(id)); delErr != nil {
			s.logger.Warn("Failed to remove rejected upload",
				zap.String("job_id", id),
				zap.Error(delErr))
		}
		return nil, err
	}
	return job, nil
}

func (s *jobService) newJob(asset models.Asset, overrides *config.AnalysisOverrides) *models.Job {
	job := models.NewJob(asset, overrides, s.now())
	job.LogRef = artifacts.Location(artifacts.LogKey(job.ID.String()))
	return job
}

// enqueue hands job to the queue. The job log exists before the first
// transition so that nothing the job logs is lost.
func (s *jobService) enqueue(job *models.Job) error {
	s.openLog(job.ID)
	if err := s.queue.Submit(job); err != nil {
		s.dropLog(job.ID)
		return err
	}
	return nil
}

func (s *jobService) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job, ok := s.queue.Get(id); ok {
		return job, nil
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) List(ctx context.Context, filter repositories.JobFilter) ([]*models.Job, error) {
	return s.repo.List(ctx, filter)
}

func (s *jobService) Result(ctx context.Context, id uuid.UUID) ([]byte, error) {
	job, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateCompleted {
		return nil, apperrors.ErrNotCompleted
	}
	key, ok := artifacts.KeyOf(job.ProfileRef)
	if !ok {
		return nil, fmt.Errorf("job %s has no stored profile", id)
	}
	return s.store.Get(ctx, key)
}

func (s *jobService) Log(ctx context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	l, ok := s.logs[id]
	s.mu.Unlock()
	if ok {
		return l.text.String(), nil
	}

	if _, err := s.Status(ctx, id); err != nil {
		return "", err
	}
	data, err := s.store.Get(ctx, artifacts.LogKey(id.String()))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read job log: %w", err)
	}
	return string(data), nil
}

func (s *jobService) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.queue.Cancel(id)
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	// Jobs the queue has forgotten are terminal.
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return apperrors.ErrConflict
}

func (s *jobService) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := s.Status(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.IsTerminal() {
		return apperrors.ErrNotTerminal
	}

	if err := s.store.DeletePrefix(ctx, artifacts.JobPrefix(id.String())); err != nil {
		return fmt.Errorf("failed to delete job artifacts: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	if err := s.queue.Forget(id); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	s.dropLog(id)

	s.logger.Info("Job deleted", zap.String("job_id", id.String()))
	return nil
}

func (s *jobService) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	expired, err := s.repo.ListFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	deleted := 0
	var errs []error
	for _, job := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := s.Delete(ctx, job.ID); err != nil {
			s.logger.Error("Failed to prune job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (s *jobService) Recover(ctx context.Context) error {
	active, err := s.repo.List(ctx, repositories.JobFilter{
		States: []models.JobState{models.JobStateQueued, models.JobStateRunning},
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	// Oldest first keeps the FIFO order of the previous process.
	slices.Reverse(active)

	requeued, failed := 0, 0
	for _, job := range active {
		if job.State == models.JobStateQueued {
			err := s.enqueue(job)
			if err == nil {
				requeued++
				continue
			}
			s.logger.Warn("Failed to requeue job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			job.ErrorKind = string(apperrors.KindOf(err))
			job.ErrorMessage = apperrors.Message(err)
		} else {
			job.ErrorKind = string(apperrors.KindCancelled)
			job.ErrorMessage = "orchestrator restarted while the job was running"
		}
		if err := job.Transition(models.JobStateFailed, s.now()); err != nil {
			return err
		}
		s.onTransition(job)
		failed++
	}

	if requeued > 0 || failed > 0 {
		s.logger.Info("Recovered unfinished jobs",
			zap.Int("requeued", requeued),
			zap.Int("failed", failed))
	}
	return nil
}

func (s *jobService) Stats() workqueue.Stats {
	return s.queue.Stats()
}

func (s *jobService) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// execute is the queue's executor: one pipeline attempt with the job's logger.
func (s *jobService) execute(ctx context.Context, job *models.Job) (string, error) {
	return s.runner.Run(ctx, job, s.openLog(job.ID).logger)
}

// onTransition persists a transition, publishes it, and once the job is
// terminal stores its log and releases it from the queue.
func (s *jobService) onTransition(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	id := job.ID.String()
	l := s.lookupLog(job.ID)
	if l != nil {
		fields := []zap.Field{
			zap.String("state", string(job.State)),
			zap.Int64("version", job.Version),
		}
		if job.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", job.ErrorKind), zap.String("error", job.ErrorMessage))
		}
		l.logger.Info("Job state changed", fields...)
	}

	if job.State.IsTerminal() && l != nil {
		if err := s.store.Put(ctx, artifacts.LogKey(id), []byte(l.text.String()), "text/plain; charset=utf-8"); err != nil {
			s.logger.Error("Failed to store job log", zap.String("job_id", id), zap.Error(err))
		}
	}

	saved := true
	if err := s.repo.Save(ctx, job); err != nil {
		saved = false
		s.logger.Error("Failed to persist job transition",
			zap.String("job_id", id),
			zap.String("state", string(job.State)),
			zap.Error(err))
	}

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, job); err != nil {
			s.logger.Warn("Failed to publish job transition",
				zap.String("job_id", id),
				zap.Error(err))
		}
	}

	// An unsaved terminal job stays in the queue table so Status still finds it.
	if job.State.IsTerminal() && saved {
		_ = s.queue.Forget(job.ID)
		s.dropLog(job.ID)
	}
}

// openLog returns the job's log, creating it if needed.
func (s *jobService) openLog(id uuid.UUID) *jobLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[id]; ok {
		return l
	}
	logger, text := logging.NewJobLogger(s.logger, id.String())
	l := &jobLog{logger: logger, text: text}
	s.logs[id] = l
	return l
}

func (s *jobService) lookupLog(id uuid.UUID) *jobLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id]
}

func (s *jobService) dropLog(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, id)
}
