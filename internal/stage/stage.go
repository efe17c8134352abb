// Package stage defines the contract between the orchestrator and the
// content-processing stages it drives. The orchestrator treats every stage
// as an opaque unit of work: previous document in, new document out, with
// optional fractional progress along the way.
package stage

import "context"

// ReportFunc receives intra-stage progress. Stages may call it zero or more
// times with a monotonically non-decreasing percent in [0,100]; calls must be
// cheap and non-blocking from the stage's point of view.
type ReportFunc func(percent int, message string)

// Request is the typed input handed to a stage attempt.
type Request struct {
	ProjectID    string
	VideoPath    string
	SubtitlePath string

	// Input is the previous stage's published document, nil for the
	// first stage in the pipeline.
	Input []byte
}

// Stage executes one unit of pipeline work. Run must honour ctx cancellation
// between internally-checkpointable units; errors it wants retried must be
// classified with Transient.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request, report ReportFunc) ([]byte, error)
}

// Func adapts a function to the Stage interface, mainly for tests.
type Func struct {
	StageName string
	RunFunc   func(ctx context.Context, req Request, report ReportFunc) ([]byte, error)
}

func (f Func) Name() string { return f.StageName }

func (f Func) Run(ctx context.Context, req Request, report ReportFunc) ([]byte, error) {
	return f.RunFunc(ctx, req, report)
}
