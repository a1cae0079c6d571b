// Package models holds the types shared between the pipeline, the run
// history store, metrics, and notifications.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	// RunCompleted means archive, upload, and both prune passes finished.
	// Recoverable prune failures do not demote a run from completed.
	RunCompleted RunStatus = "completed"
	// RunFailed means a fatal step (preflight, remote check, archive,
	// upload) aborted the run.
	RunFailed RunStatus = "failed"
)

// RunReport summarizes a single pipeline run. It feeds the history store,
// the metrics writer, and the notifier.
type RunReport struct {
	ID            string    `json:"id"`
	Job           string    `json:"job"`
	Status        RunStatus `json:"status"`
	Artifact      string    `json:"artifact,omitempty"`
	Error         string    `json:"error,omitempty"`
	ArchiveBytes  int64     `json:"archive_bytes"`
	PrunedLocal   int       `json:"pruned_local"`
	PrunedRemote  int       `json:"pruned_remote"`
	PruneFailures int       `json:"prune_failures"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// NewRunReport starts a report for a run of the given job.
func NewRunReport(job string) *RunReport {
	return &RunReport{
		ID:        uuid.New().String(),
		Job:       job,
		Status:    RunCompleted,
		StartedAt: time.Now(),
	}
}

// Duration is the wall-clock span of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run completed without a fatal error.
func (r *RunReport) Succeeded() bool {
	return r.Status == RunCompleted
}
