package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is used when no retention window is configured.
const DefaultRetention = 7 * 24 * time.Hour

// RetentionService removes finished jobs once their retention window has passed.
type RetentionService interface {
	// Prune deletes terminal jobs that finished more than the retention
	// window ago. Returns the number of jobs deleted.
	Prune(ctx context.Context) (int, error)

	// RunScheduler starts a background goroutine that prunes on the given interval.
	// It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	jobs      JobService
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewRetentionService(jobs JobService, retention time.Duration, logger *zap.Logger) RetentionService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &retentionService{
		jobs:      jobs,
		retention: retention,
		now:       time.Now,
		logger:    logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Prune(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)

	deleted, err := s.jobs.PruneExpired(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to prune expired jobs: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Duration("retention", s.retention),
			zap.Time("cutoff", cutoff),
			zap.Int("jobs_deleted", deleted))
	}
	return deleted, nil
}

// RunScheduler starts a background loop that prunes expired jobs.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("retention", s.retention))

		// Run immediately on startup, then at each interval
		s.pruneOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.pruneOnce(ctx)
			}
		}
	}()
}

func (s *retentionService) pruneOnce(ctx context.Context) {
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Error("Retention scheduler: prune failed", zap.Error(err))
	}
}
