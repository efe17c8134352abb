// Package inbox watches a drop directory for new source videos. A video
// file with a sibling subtitle file becomes a job submission; pairs already
// submitted are remembered in the config table so restarts do not resubmit.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge-agent/internal/logging"
	"github.com/clipforge/clipforge-agent/internal/orchestrator"
)

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
}

var subtitleExtensions = []string{".srt", ".vtt"}

// Submitter is the slice of the orchestrator the scanner needs.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
}

// ConfigStore remembers which inbox files have already been submitted.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type Scanner struct {
	dir       string
	submitter Submitter
	repo      ConfigStore
	logger    *slog.Logger
	interval  time.Duration
}

func NewScanner(dir string, submitter Submitter, repo ConfigStore, logger *slog.Logger) *Scanner {
	return &Scanner{
		dir:       dir,
		submitter: submitter,
		repo:      repo,
		logger:    logger,
		interval:  10 * time.Second,
	}
}

// Start polls the inbox directory until ctx is done.
func (s *Scanner) Start(ctx context.Context) {
	s.logger.Info("inbox scanner started", "dir", logging.SanitizePath(s.dir))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("inbox scanner stopping")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan submits one job per unprocessed video+subtitle pair.
func (s *Scanner) Scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read inbox dir", "error", err)
		}
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !videoExtensions[ext] {
			continue
		}

		subtitle := s.findSubtitle(name)
		if subtitle == "" {
			continue
		}

		key := "inbox:" + name
		done, err := s.repo.GetConfig(ctx, key)
		if err != nil || done != "" {
			continue
		}

		projectID := slug(strings.TrimSuffix(name, filepath.Ext(name)))
		jobID, err := s.submitter.Submit(ctx, orchestrator.SubmitRequest{
			ProjectID:    projectID,
			VideoPath:    filepath.Join(s.dir, name),
			SubtitlePath: subtitle,
		})
		if err != nil {
			if errors.Is(err, orchestrator.ErrAlreadyRunning) {
				continue
			}
			s.logger.Warn("inbox submission failed", "file", name, "error", err)
			continue
		}

		if err := s.repo.SetConfig(ctx, key, jobID); err != nil {
			s.logger.Warn("cannot mark inbox file processed", "file", name, "error", err)
		}
		s.logger.Info("inbox submission accepted", "file", name, "job_id", jobID, "project_id", projectID)
	}
}

func (s *Scanner) findSubtitle(videoName string) string {
	base := strings.TrimSuffix(videoName, filepath.Ext(videoName))
	for _, ext := range subtitleExtensions {
		candidate := filepath.Join(s.dir, base+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// slug maps a filename onto a safe project id.
func slug(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
