// Package ledger is the durable source of truth for job progress. Each job
// has exactly one ProgressRecord describing where it is right now, plus an
// append-only audit trail of per-attempt StageResults.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ProgressRecord is the ledger row for one job: the job's immutable
// submission attributes plus its current position and status. Percent is the
// overall job percent, monotonically non-decreasing for the job's lifetime.
type ProgressRecord struct {
	JobID        string    `json:"job_id"`
	ProjectID    string    `json:"project_id"`
	Stages       []string  `json:"stages"`
	StartStage   int       `json:"start_stage"`
	VideoPath    string    `json:"video_path,omitempty"`
	SubtitlePath string    `json:"subtitle_path,omitempty"`
	StageIndex   int       `json:"stage_index"`
	Stage        string    `json:"stage"`
	Percent      int       `json:"percent"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Message is the latest intra-stage progress message. It rides along
	// on broadcast deliveries and is not persisted.
	Message string `json:"message,omitempty"`
}

// Clone returns a copy safe to hand to observers.
func (r *ProgressRecord) Clone() *ProgressRecord {
	c := *r
	c.Stages = append([]string(nil), r.Stages...)
	return &c
}

const (
	StageResultSucceeded = "succeeded"
	StageResultFailed    = "failed"
)

// StageResult records one stage attempt. Retried attempts append new rows;
// earlier rows are retained for audit.
type StageResult struct {
	ID           int64         `json:"id"`
	JobID        string        `json:"job_id"`
	Stage        string        `json:"stage"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewJobID returns a fresh opaque job identifier.
func NewJobID() string {
	return uuid.NewString()
}
