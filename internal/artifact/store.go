// Package artifact is the durable file store for stage outputs. Documents
// are keyed by (project id, stage name); content is opaque to the agent.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when reading a key that was never written.
var ErrNotFound = errors.New("artifact not found")

type Store struct {
	baseDir string
	logger  *slog.Logger
}

func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns the location an artifact lives at, whether or not it exists.
func (s *Store) Path(projectID, stageName string) string {
	return filepath.Join(s.baseDir, projectID, stageName+".json")
}

// Write publishes a stage document atomically: the document is written to a
// temp file in the same directory and renamed into place, so a reader never
// observes a partial artifact.
func (s *Store) Write(projectID, stageName string, doc []byte) error {
	path := s.Path(projectID, stageName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create project dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+stageName+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot close artifact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot publish artifact: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("artifact published", "project_id", projectID, "stage", stageName, "bytes", len(doc))
	}
	return nil
}

// Read returns the published document for (project, stage).
func (s *Store) Read(projectID, stageName string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(projectID, stageName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", projectID, stageName, ErrNotFound)
		}
		return nil, fmt.Errorf("cannot read artifact %s/%s: %w", projectID, stageName, err)
	}
	return data, nil
}

// Exists reports whether an artifact has been published for (project, stage).
func (s *Store) Exists(projectID, stageName string) bool {
	_, err := os.Stat(s.Path(projectID, stageName))
	return err == nil
}

// ListStages returns the stage names with a published artifact for a
// project, sorted by name. Temp files are ignored.
func (s *Store) ListStages(projectID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot list artifacts for %s: %w", projectID, err)
	}

	var stages []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		stages = append(stages, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(stages)
	return stages, nil
}

// ListProjects returns the project ids with at least one published artifact.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("cannot list projects: %w", err)
	}

	var projects []string
	for _, e := range entries {
		if e.IsDir() {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}
