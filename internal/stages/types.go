// Package stages holds the concrete stage implementations behind the
// orchestrator's stage contract: content-understanding stages executed as
// clipforge-content-pipelines subprocess commands, and the ffmpeg-backed
// cutting stage.
package stages

import "time"

// Capabilities represents what the installed environment can do, as reported
// by the `doctor --json` command plus a local ffmpeg probe.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Summary        SummaryInfo        `json:"summary"`

	HasContent bool      `json:"-"`
	HasFFmpeg  bool      `json:"-"`
	ProbedAt   time.Time `json:"-"`
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SummaryInfo summarises overall dependency status.
type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a content subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ClipPlan is the document shape the cutting stage consumes: the scored,
// titled, clustered clip list produced by the content stages.
type ClipPlan struct {
	ProjectID   string        `json:"project_id"`
	Clips       []PlannedClip `json:"clips"`
	Collections []Collection  `json:"collections,omitempty"`
}

// PlannedClip is one clip the content stages selected from the source video.
type PlannedClip struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	StartMs int     `json:"start_ms"`
	EndMs   int     `json:"end_ms"`
	Score   float64 `json:"score,omitempty"`
}

// Collection groups clips under a shared theme.
type Collection struct {
	Name    string   `json:"name"`
	ClipIDs []string `json:"clip_ids"`
}

// CutManifest is the cutting stage's output document: where each produced
// clip file landed.
type CutManifest struct {
	ProjectID   string       `json:"project_id"`
	Clips       []CutClip    `json:"clips"`
	Collections []Collection `json:"collections,omitempty"`
}

// CutClip describes one rendered clip file.
type CutClip struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	File       string  `json:"file"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	DurationMs int     `json:"duration_ms"`
	Score      float64 `json:"score,omitempty"`
}
