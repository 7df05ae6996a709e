// Package workqueue is the job orchestrator core: a bounded FIFO of queued
// jobs, a fixed pool of workers that claim them, and the job state table.
package workqueue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
)

// Queue owns every job it accepted until the job is forgotten. All state
// changes go through the queue lock, so a job has a single writer.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*entry
	jobs    map[uuid.UUID]*entry
	closed  bool
	started bool

	capacity    int
	workers     int
	timeout     time.Duration
	retryConfig *retry.Config
	executor    Executor
	now         Clock

	// onTransition receives a copy of the job after every state change.
	// It runs outside the queue lock, possibly concurrently for different
	// jobs; Job.Version orders the copies.
	onTransition func(*models.Job)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithCapacity bounds the number of queued jobs.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithTimeout sets the overall budget of one job, retries included.
// Zero disables it.
func WithTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.timeout = d
	}
}

// WithRetryConfig sets the retry policy for transient failures.
func WithRetryConfig(cfg *retry.Config) QueueOption {
	return func(q *Queue) {
		if cfg != nil {
			q.retryConfig = cfg
		}
	}
}

// WithOnTransition sets the transition callback.
func WithOnTransition(fn func(*models.Job)) QueueOption {
	return func(q *Queue) {
		q.onTransition = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now Clock) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New creates a queue. Workers start with Start.
func New(executor Executor, logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:        make(map[uuid.UUID]*entry),
		capacity:    64,
		workers:     1,
		retryConfig: retry.DefaultConfig(),
		executor:    executor,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Calling it twice has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("workqueue started",
		zap.Int("workers", q.workers),
		zap.Int("capacity", q.capacity),
		zap.Duration("timeout", q.timeout))
}

// Submit appends a queued job to the FIFO. A full queue rejects the job with
// BackpressureError and the job is not recorded.
func (q *Queue) Submit(job *models.Job) error {
	if job.State != models.JobStateQueued {
		return errors.New("only queued jobs can be submitted")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.ErrShuttingDown
	}
	if _, exists := q.jobs[job.ID]; exists {
		q.mu.Unlock()
		return apperrors.ErrConflict
	}
	if len(q.pending) >= q.capacity {
		q.mu.Unlock()
		q.logger.Warn("job rejected, queue full",
			zap.String("job_id", job.ID.String()),
			zap.Int("capacity", q.capacity))
		return apperrors.Backpressure(q.capacity)
	}

	e := newEntry(job.Clone())
	q.jobs[job.ID] = e
	q.pending = append(q.pending, e)
	snapshot := e.job.Clone()
	q.cond.Signal()
	q.mu.Unlock()

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("asset", logging.SanitizeLocation(job.Asset.Location)))
	q.notify(snapshot)
	return nil
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for {
		e, job, ctx, ok := q.claim()
		if !ok {
			return
		}
		q.logger.Info("starting job",
			zap.String("job_id", job.ID.String()),
			zap.Int("worker", n))
		q.notify(job)
		q.run(ctx, e, job)
	}
}

// claim takes the oldest queued job and marks it running. Claiming happens
// under the queue lock, so no two workers ever hold the same job.
func (q *Queue) claim() (*entry, *models.Job, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, nil, nil, false
	}

	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	var ctx context.Context
	if q.timeout > 0 {
		ctx, e.cancel = context.WithTimeout(q.ctx, q.timeout)
	} else {
		ctx, e.cancel = context.WithCancel(q.ctx)
	}
	// Pending entries are always queued.
	_ = e.job.Transition(models.JobStateRunning, q.now())
	return e, e.job.Clone(), ctx, true
}

type outcome struct {
	ref string
	err error
}

// run executes the job with retries. When the job's context ends first, the
// job fails at once; the worker still waits for the attempt to return
// before it claims the next job.
func (q *Queue) run(ctx context.Context, e *entry, job *models.Job) {
	result := make(chan outcome, 1)
	go func() {
		attempts := 0
		ref, err := retry.DoWithResult(ctx, q.retryConfig, func(ctx context.Context) (string, error) {
			attempts++
			q.setAttempts(e, attempts)
			return q.executor.Execute(ctx, job)
		}, func(attempt int, delay time.Duration, err error) {
			q.logger.Warn("retryable error, retrying job after backoff",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", delay),
				zap.String("error", logging.SanitizeError(err)))
		})
		result <- outcome{ref: ref, err: err}
	}()

	select {
	case o := <-result:
		q.finish(ctx, e, o)
	case <-ctx.Done():
		q.finish(ctx, e, outcome{err: ctx.Err()})
		<-result
	}
}

func (q *Queue) setAttempts(e *entry, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !e.job.State.IsTerminal() {
		e.job.Attempts = n
	}
}

// finish records the terminal state unless the job already has one.
func (q *Queue) finish(ctx context.Context, e *entry, o outcome) {
	q.mu.Lock()
	if e.job.State.IsTerminal() {
		q.mu.Unlock()
		return
	}
	err := o.err
	if err != nil && ctx.Err() != nil {
		err = q.interruption(ctx, e)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	now := q.now()
	if err == nil {
		e.job.ProfileRef = o.ref
		_ = e.job.Transition(models.JobStateCompleted, now)
	} else {
		e.job.ErrorKind = string(apperrors.KindOf(err))
		e.job.ErrorMessage = logging.SanitizeMessage(apperrors.Message(err))
		_ = e.job.Transition(models.JobStateFailed, now)
	}
	snapshot := e.job.Clone()
	q.mu.Unlock()

	if err == nil {
		q.logger.Info("job completed",
			zap.String("job_id", snapshot.ID.String()),
			zap.Int("attempts", snapshot.Attempts))
	} else {
		q.logger.Error("job failed",
			zap.String("job_id", snapshot.ID.String()),
			zap.String("kind", snapshot.ErrorKind),
			zap.Int("attempts", snapshot.Attempts),
			zap.String("error", snapshot.ErrorMessage))
	}
	q.notify(snapshot)
	// Waiters see the terminal state only after it has been published.
	close(e.done)
}

// interruption explains why a job's context ended. Must be called with lock held.
func (q *Queue) interruption(ctx context.Context, e *entry) error {
	switch {
	case e.cancelRequested:
		return apperrors.Cancelled("job cancelled while running")
	case q.ctx.Err() != nil:
		return apperrors.Cancelled("orchestrator shut down")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Timeout("job exceeded its %s budget", q.timeout)
	}
	return apperrors.Cancelled("job context cancelled")
}

// Cancel fails a queued job immediately and removes it from the FIFO. A
// running job has its context cancelled and fails as soon as the worker
// observes it.
func (q *Queue) Cancel(id uuid.UUID) error {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.ErrNotFound
	}

	switch e.job.State {
	case models.JobStateQueued:
		q.pending = slices.DeleteFunc(q.pending, func(p *entry) bool { return p == e })
		e.job.ErrorKind = string(apperrors.KindCancelled)
		e.job.ErrorMessage = "job cancelled before it started"
		_ = e.job.Transition(models.JobStateFailed, q.now())
		close(e.done)
		snapshot := e.job.Clone()
		q.mu.Unlock()

		q.logger.Info("queued job cancelled", zap.String("job_id", id.String()))
		q.notify(snapshot)
		return nil
	case models.JobStateRunning:
		e.cancelRequested = true
		if e.cancel != nil {
			e.cancel()
		}
		q.mu.Unlock()
		q.logger.Info("running job cancellation requested", zap.String("job_id", id.String()))
		return nil
	}
	q.mu.Unlock()
	return apperrors.ErrConflict
}

// Get returns a copy of the job.
func (q *Queue) Get(id uuid.UUID) (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

// Wait blocks until the job is terminal or ctx ends.
func (q *Queue) Wait(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	select {
	case <-e.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return e.job.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops a terminal job from the state table.
func (q *Queue) Forget(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !e.job.State.IsTerminal() {
		return apperrors.ErrNotTerminal
	}
	delete(q.jobs, id)
	return nil
}

// Stats counts the jobs in the state table.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Capacity: q.capacity, Workers: q.workers}
	for _, e := range q.jobs {
		switch e.job.State {
		case models.JobStateQueued:
			s.Queued++
		case models.JobStateRunning:
			s.Running++
		case models.JobStateCompleted:
			s.Completed++
		case models.JobStateFailed:
			s.Failed++
		}
	}
	return s
}

// Shutdown stops accepting jobs, fails the queued ones and waits for running
// jobs to finish. When ctx ends first, running jobs are cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	var snapshots []*models.Job
	now := q.now()
	for _, e := range pending {
		e.job.ErrorKind = string(apperrors.KindCancelled)
		e.job.ErrorMessage = "orchestrator shut down before the job started"
		_ = e.job.Transition(models.JobStateFailed, now)
		close(e.done)
		snapshots = append(snapshots, e.job.Clone())
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.logger.Info("workqueue shutting down", zap.Int("cancelled_queued", len(snapshots)))
	for _, s := range snapshots {
		q.notify(s)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.logger.Warn("shutdown deadline reached, cancelling running jobs")
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) notify(job *models.Job) {
	if q.onTransition != nil {
		q.onTransition(job)
	}
}
