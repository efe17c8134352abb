package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge-agent/internal/export"
	"github.com/clipforge/clipforge-agent/internal/stage"
)

const maxClipFilenameLen = 80

// CuttingStageName is the stable stage identifier used in artifact keys.
const CuttingStageName = "cutting"

// CutStage renders the planned clips with ffmpeg and emits a manifest of the
// produced files. It checks cancellation between clips, so a cancel lands at
// the next clip boundary and never corrupts a finished file.
type CutStage struct {
	ffmpeg   FFmpeg
	clipsDir string
	logger   *slog.Logger
}

func NewCutStage(ffmpeg FFmpeg, clipsDir string, logger *slog.Logger) *CutStage {
	return &CutStage{ffmpeg: ffmpeg, clipsDir: clipsDir, logger: logger}
}

func (s *CutStage) Name() string { return CuttingStageName }

func (s *CutStage) Run(ctx context.Context, req stage.Request, report stage.ReportFunc) ([]byte, error) {
	var plan ClipPlan
	if err := json.Unmarshal(req.Input, &plan); err != nil {
		return nil, fmt.Errorf("cannot parse clip plan: %w", err)
	}
	if len(plan.Clips) == 0 {
		return nil, fmt.Errorf("clip plan contains no clips")
	}

	outDir := filepath.Join(s.clipsDir, req.ProjectID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create clips dir: %w", err)
	}

	// Clamp clip ends to the real container duration when ffprobe is
	// usable; a plan built from the transcript can overshoot slightly.
	durationMs, probeErr := s.ffmpeg.ProbeDurationMs(ctx, req.VideoPath)
	if probeErr != nil && s.logger != nil {
		s.logger.Warn("duration probe failed, skipping range clamp", "error", probeErr)
	}

	manifest := CutManifest{ProjectID: req.ProjectID, Collections: plan.Collections}

	for i, clip := range plan.Clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		startMs, endMs := clip.StartMs, clip.EndMs
		if probeErr == nil && durationMs > 0 && endMs > durationMs {
			endMs = durationMs
		}
		if endMs <= startMs {
			return nil, fmt.Errorf("clip %s has empty range [%d, %d)", clip.ID, startMs, endMs)
		}

		name := export.SanitizeName(clip.Title, maxClipFilenameLen)
		if name == "" {
			name = clip.ID
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%02d_%s.mp4", i+1, name))

		report(i*100/len(plan.Clips), fmt.Sprintf("cutting %s", clip.Title))

		// Write to a partial file and rename so a kill mid-encode
		// never leaves a playable-looking truncated clip behind.
		partPath := outPath + ".part"
		if err := s.ffmpeg.Cut(ctx, req.VideoPath, partPath, startMs, endMs); err != nil {
			os.Remove(partPath)
			return nil, fmt.Errorf("cut %s: %w", clip.ID, err)
		}
		if err := os.Rename(partPath, outPath); err != nil {
			os.Remove(partPath)
			return nil, fmt.Errorf("publish clip %s: %w", clip.ID, err)
		}

		if s.logger != nil {
			s.logger.Info("clip rendered", "clip_id", clip.ID, "file", filepath.Base(outPath))
		}

		manifest.Clips = append(manifest.Clips, CutClip{
			ID:         clip.ID,
			Title:      clip.Title,
			File:       outPath,
			StartMs:    startMs,
			EndMs:      endMs,
			DurationMs: endMs - startMs,
			Score:      clip.Score,
		})
	}

	report(100, "all clips rendered")

	doc, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("cannot encode cut manifest: %w", err)
	}
	return doc, nil
}
