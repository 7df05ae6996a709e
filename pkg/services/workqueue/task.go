package workqueue

import (
	"context"
	"time"

	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// Executor runs one attempt of a job and returns the reference of the
// stored result. It must honour ctx cancellation at its checkpoints.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *models.Job) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

// entry is the queue's private record of one job. The job is only touched
// with the queue lock held.
type entry struct {
	job *models.Job

	// cancel stops the running attempt; nil unless the job is running.
	cancel context.CancelFunc
	// cancelRequested is set when Cancel hits a running job.
	cancelRequested bool
	// done is closed when the job reaches a terminal state.
	done chan struct{}
}

func newEntry(job *models.Job) *entry {
	return &entry{job: job, done: make(chan struct{})}
}

// Stats holds the number of jobs the queue knows per state.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Capacity  int `json:"capacity"`
	Workers   int `json:"workers"`
}

// Clock returns the current time; tests replace it.
type Clock func() time.Time
