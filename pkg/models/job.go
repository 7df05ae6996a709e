package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/edp-engine/pkg/config"
)

// ============================================================================
// Job State
// ============================================================================

// JobState is the lifecycle state of a profiling job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ValidJobStates contains all valid job states.
var ValidJobStates = []JobState{
	JobStateQueued,
	JobStateRunning,
	JobStateCompleted,
	JobStateFailed,
}

// IsValid checks if the state is one of the four lifecycle states.
func (s JobState) IsValid() bool {
	return slices.Contains(ValidJobStates, s)
}

// IsTerminal returns true if the state is a final state.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
// A queued job may fail directly when it is cancelled before a worker claims it.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStateQueued:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	}
	return false
}

// ============================================================================
// Job
// ============================================================================

// Job is one profiling request tracked through its lifecycle.
// Only the orchestrator mutates a Job; everyone else works on copies.
type Job struct {
	ID           uuid.UUID                 `json:"jobId"`
	State        JobState                  `json:"state"`
	Asset        Asset                     `json:"asset"`
	Overrides    *config.AnalysisOverrides `json:"overrides,omitempty"`
	Attempts     int                       `json:"attempts"`
	ErrorKind    string                    `json:"errorKind,omitempty"`
	ErrorMessage string                    `json:"errorMessage,omitempty"`
	ProfileRef   string                    `json:"profileRef,omitempty"`
	LogRef       string                    `json:"logRef,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	StartedAt    *time.Time                `json:"startedAt,omitempty"`
	FinishedAt   *time.Time                `json:"finishedAt,omitempty"`
	UpdatedAt    time.Time                 `json:"updatedAt"`

	// Version increases with every transition. Stores keep the highest version seen.
	Version int64 `json:"version"`
}

// NewJob creates a queued job for the asset.
func NewJob(asset Asset, overrides *config.AnalysisOverrides, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		State:     JobStateQueued,
		Asset:     asset,
		Overrides: overrides,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Transition moves the job to next, stamping timestamps and bumping the version.
func (j *Job) Transition(next JobState, now time.Time) error {
	if !j.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.State, next)
	}
	j.State = next
	j.UpdatedAt = now
	j.Version++
	switch next {
	case JobStateRunning:
		j.StartedAt = &now
	case JobStateCompleted, JobStateFailed:
		j.FinishedAt = &now
	}
	return nil
}

// Clone returns a deep copy safe to hand out of the orchestrator.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Overrides != nil {
		o := *j.Overrides
		c.Overrides = &o
	}
	return &c
}
