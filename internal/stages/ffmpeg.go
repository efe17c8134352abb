package stages

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg is the encoder boundary the cutting stage talks to.
type FFmpeg interface {
	// Cut renders [startMs, endMs) of inPath into outPath.
	Cut(ctx context.Context, inPath, outPath string, startMs, endMs int) error
	// ProbeDurationMs returns the container duration of a media file.
	ProbeDurationMs(ctx context.Context, path string) (int, error)
}

// ExecFFmpeg shells out to the ffmpeg/ffprobe binaries.
type ExecFFmpeg struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewExecFFmpeg resolves the ffmpeg binary, preferring the configured path.
func NewExecFFmpeg(preferred string, logger *slog.Logger) (*ExecFFmpeg, error) {
	name := preferred
	if name == "" {
		name = "ffmpeg"
	}
	ffmpeg, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	// ffprobe normally ships alongside ffmpeg
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		ffprobe = ""
	}

	return &ExecFFmpeg{ffmpeg: ffmpeg, ffprobe: ffprobe, logger: logger}, nil
}

func (f *ExecFFmpeg) Cut(ctx context.Context, inPath, outPath string, startMs, endMs int) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", msToSeconds(startMs),
		"-to", msToSeconds(endMs),
		"-i", inPath,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y", outPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg cut failed: %v: %s", err, truncate(stderr.String(), 512))
	}
	return nil
}

func (f *ExecFFmpeg) ProbeDurationMs(ctx context.Context, path string) (int, error) {
	if f.ffprobe == "" {
		return 0, fmt.Errorf("ffprobe not available")
	}

	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return int(seconds * 1000), nil
}

func msToSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', 3, 64)
}
