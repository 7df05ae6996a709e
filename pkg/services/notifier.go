package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// JobNotifier receives every job transition after it has been persisted.
type JobNotifier interface {
	Notify(ctx context.Context, job *models.Job) error
}

// JobEvent is the message published for a transition.
type JobEvent struct {
	JobID        string          `json:"jobId"`
	State        models.JobState `json:"state"`
	Version      int64           `json:"version"`
	Attempts     int             `json:"attempts"`
	ErrorKind    string          `json:"errorKind,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ProfileRef   string          `json:"profileRef,omitempty"`
	At           time.Time       `json:"at"`
}

// NewJobEvent builds the event for the job's current state.
func NewJobEvent(job *models.Job) JobEvent {
	return JobEvent{
		JobID:        job.ID.String(),
		State:        job.State,
		Version:      job.Version,
		Attempts:     job.Attempts,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		ProfileRef:   job.ProfileRef,
		At:           job.UpdatedAt,
	}
}

// LogJobNotifier writes transitions to the service log.
type LogJobNotifier struct {
	logger *zap.Logger
}

func NewLogJobNotifier(logger *zap.Logger) *LogJobNotifier {
	return &LogJobNotifier{logger: logger.Named("job-events")}
}

func (n *LogJobNotifier) Notify(_ context.Context, job *models.Job) error {
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("state", string(job.State)),
		zap.Int64("version", job.Version),
	}
	if job.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", job.ErrorKind))
	}
	n.logger.Debug("Job transition", fields...)
	return nil
}

// RedisJobNotifier publishes transitions as JSON on a pub/sub channel so
// other processes can follow jobs without polling.
type RedisJobNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisJobNotifier(client *redis.Client, channel string) *RedisJobNotifier {
	return &RedisJobNotifier{client: client, channel: channel}
}

func (n *RedisJobNotifier) Notify(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(NewJobEvent(job))
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}
