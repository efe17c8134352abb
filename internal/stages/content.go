package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge-agent/internal/stage"
)

// Runner is the subset of ContentRunner the content stages need; tests
// substitute fakes.
type Runner interface {
	Exec(ctx context.Context, onProgress func(percent int, message string), args ...string) RunResult
	WorkDir() string
}

// ContentStage runs one content-understanding command (outline, timeline,
// scoring, titles, collections) as a subprocess. The prompt content and LLM
// vendor live entirely on the CLI side of this boundary.
type ContentStage struct {
	name   string
	runner Runner
}

func NewContentStage(name string, runner Runner) *ContentStage {
	return &ContentStage{name: name, runner: runner}
}

func (s *ContentStage) Name() string { return s.name }

// Run materialises the previous stage's document for the CLI, executes the
// command, and returns the produced document. EX_TEMPFAIL exits are
// classified transient; everything else is permanent.
func (s *ContentStage) Run(ctx context.Context, req stage.Request, report stage.ReportFunc) ([]byte, error) {
	scratch, err := os.MkdirTemp(s.runner.WorkDir(), s.name+".*")
	if err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	outPath := filepath.Join(scratch, "out.json")

	args := []string{s.name,
		"--project", req.ProjectID,
		"--video", req.VideoPath,
		"--subtitles", req.SubtitlePath,
		"--out", outPath,
	}

	if req.Input != nil {
		inPath := filepath.Join(scratch, "in.json")
		if err := os.WriteFile(inPath, req.Input, 0644); err != nil {
			return nil, fmt.Errorf("cannot write stage input: %w", err)
		}
		args = append(args, "--in", inPath)
	}

	result := s.runner.Exec(ctx, func(percent int, message string) {
		report(percent, message)
	}, args...)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if !result.IsSuccess() {
		err := fmt.Errorf("%s exited %d: %s", s.name, result.ExitCode, truncate(result.StderrTail, 512))
		if result.ExitCode == exitTempFail {
			return nil, stage.Transient(err)
		}
		return nil, err
	}

	doc, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%s produced no output: %w", s.name, err)
	}
	return doc, nil
}
