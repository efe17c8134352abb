package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning rejects a submission while the project already has
	// an active executor. No state changes.
	ErrAlreadyRunning = errors.New("job already running for project")

	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
)

// MissingDependencyError rejects a mid-pipeline submission whose required
// prior-stage artifact has not been published. No state changes.
type MissingDependencyError struct {
	Stage string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency: no artifact for stage %q", e.Stage)
}

// IsMissingDependency reports whether err is a MissingDependencyError.
func IsMissingDependency(err error) bool {
	var mde *MissingDependencyError
	return errors.As(err, &mde)
}
