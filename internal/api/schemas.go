package api

import (
	"time"

	"github.com/clipforge/clipforge-agent/internal/ledger"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	AgentID string `json:"agent_id"`
}

type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	JobsRunning int                  `json:"jobs_running"`
	ActiveJobs  []JobResponse        `json:"active_jobs,omitempty"`
	Pipelines   *PipelinesResponse   `json:"pipelines,omitempty"`
}

type PipelinesResponse struct {
	HasContent  bool   `json:"has_content"`
	HasFFmpeg   bool   `json:"has_ffmpeg"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type SubmitJobRequest struct {
	ProjectID    string `json:"project_id"`
	VideoPath    string `json:"video_path"`
	SubtitlePath string `json:"subtitle_path"`
	StartStage   string `json:"start_stage,omitempty"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	Stages     []string `json:"stages"`
	StageIndex int      `json:"stage_index"`
	Stage      string   `json:"stage"`
	Percent    int      `json:"percent"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	Message    string   `json:"message,omitempty"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type StageResultResponse struct {
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

type StageResultsResponse struct {
	JobID   string                `json:"job_id"`
	Results []StageResultResponse `json:"results"`
}

type ClipResponse struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	DurationMs int     `json:"duration_ms"`
	Score      float64 `json:"score,omitempty"`
}

type CollectionResponse struct {
	Name    string   `json:"name"`
	ClipIDs []string `json:"clip_ids"`
}

type ClipsResponse struct {
	ProjectID   string               `json:"project_id"`
	Clips       []ClipResponse       `json:"clips"`
	Collections []CollectionResponse `json:"collections,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func JobToResponse(rec *ledger.ProgressRecord) JobResponse {
	return JobResponse{
		ID:         rec.JobID,
		ProjectID:  rec.ProjectID,
		Stages:     rec.Stages,
		StageIndex: rec.StageIndex,
		Stage:      rec.Stage,
		Percent:    rec.Percent,
		Status:     string(rec.Status),
		Error:      rec.Error,
		Message:    rec.Message,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339),
	}
}

func StageResultToResponse(res *ledger.StageResult) StageResultResponse {
	return StageResultResponse{
		Stage:      res.Stage,
		Attempt:    res.Attempt,
		Status:     res.Status,
		Error:      res.Error,
		DurationMs: res.Duration.Milliseconds(),
		CreatedAt:  res.CreatedAt.Format(time.RFC3339),
	}
}
