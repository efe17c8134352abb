// Package orchestrator drives jobs through the stage pipeline: one active
// executor per job, durable progress in the ledger, every ledger change
// pushed through the broadcaster. A job's failure never leaves its own
// ledger row.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/clipforge-agent/internal/artifact"
	"github.com/clipforge/clipforge-agent/internal/broadcast"
	"github.com/clipforge/clipforge-agent/internal/ledger"
	"github.com/clipforge/clipforge-agent/internal/stage"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
	defaultCoalesce    = 200 * time.Millisecond
)

// SubmitRequest describes one pipeline run to start.
type SubmitRequest struct {
	ProjectID    string
	VideoPath    string
	SubtitlePath string

	// StartStage names the first stage to execute; empty means the whole
	// pipeline. Artifacts for every earlier stage must already exist.
	StartStage string
}

// Options tune execution; zero values get defaults.
type Options struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Coalesce is the minimum interval between forwarded intra-stage
	// progress updates.
	Coalesce time.Duration
}

// Orchestrator owns the executor registry and the job lifecycle. Create one
// per process; Shutdown drains it.
type Orchestrator struct {
	stages      *stage.Registry
	store       *artifact.Store
	repo        ledger.Repository
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
	opts        Options

	// registry of active executors; the mutex guards membership only and
	// is never held across stage execution
	mu       sync.Mutex
	active   map[string]*executor // by job id
	projects map[string]string    // project id -> active job id
	draining bool

	wg sync.WaitGroup

	now func() time.Time
}

type executor struct {
	jobID  string
	cancel context.CancelFunc
}

func New(stages *stage.Registry, store *artifact.Store, repo ledger.Repository, broadcaster *broadcast.Broadcaster, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.Coalesce <= 0 {
		opts.Coalesce = defaultCoalesce
	}

	return &Orchestrator{
		stages:      stages,
		store:       store,
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		opts:        opts,
		active:      make(map[string]*executor),
		projects:    make(map[string]string),
		now:         time.Now,
	}
}

// Submit validates the request, persists a pending ledger record, and starts
// an asynchronous executor. It returns the new job id.
//
// A submission for a project with an active job fails with ErrAlreadyRunning.
// A mid-pipeline start whose prior artifacts are missing fails with
// MissingDependencyError. Neither failure mutates the ledger.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.ProjectID == "" {
		return "", fmt.Errorf("project id is required")
	}

	startIdx := 0
	if req.StartStage != "" {
		idx, ok := o.stages.Index(req.StartStage)
		if !ok {
			return "", fmt.Errorf("unknown stage %q", req.StartStage)
		}
		startIdx = idx
	}

	// Resuming mid-pipeline reuses earlier artifacts; all of them must
	// already be published.
	names := o.stages.Names()
	for i := 0; i < startIdx; i++ {
		if !o.store.Exists(req.ProjectID, names[i]) {
			return "", &MissingDependencyError{Stage: names[i]}
		}
	}

	jobID := ledger.NewJobID()
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := &executor{jobID: jobID, cancel: cancel}

	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("orchestrator is shutting down")
	}
	if activeJob, ok := o.projects[req.ProjectID]; ok {
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: job %s", ErrAlreadyRunning, activeJob)
	}
	o.active[jobID] = ex
	o.projects[req.ProjectID] = jobID
	o.wg.Add(1)
	o.mu.Unlock()

	now := o.now()
	rec := &ledger.ProgressRecord{
		JobID:        jobID,
		ProjectID:    req.ProjectID,
		Stages:       names,
		StartStage:   startIdx,
		VideoPath:    req.VideoPath,
		SubtitlePath: req.SubtitlePath,
		StageIndex:   startIdx,
		Stage:        names[startIdx],
		Percent:      overallPercent(startIdx, 0, len(names)),
		Status:       ledger.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := o.repo.Upsert(ctx, rec); err != nil {
		o.deregister(ex, req.ProjectID)
		o.wg.Done()
		cancel()
		return "", fmt.Errorf("persist job: %w", err)
	}
	o.broadcaster.Publish(rec)

	o.logger.Info("job submitted",
		"job_id", jobID,
		"project_id", req.ProjectID,
		"start_stage", names[startIdx],
	)

	go o.run(execCtx, ex, rec)

	return jobID, nil
}

// Cancel signals cooperative cancellation to a job's executor. The running
// stage stops at its next checkpoint; later stages are not attempted.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	ex, ok := o.active[jobID]
	o.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	o.logger.Info("cancellation requested", "job_id", jobID)
	ex.cancel()
	return nil
}

// GetStatus returns the job's current ledger record.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*ledger.ProgressRecord, error) {
	rec, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// IsActive reports whether a live executor exists for the job id. The
// reconciler uses this to tell genuinely running jobs from stale rows.
func (o *Orchestrator) IsActive(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// ActiveCount returns the number of live executors.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown cancels all executors and waits for them to finish or ctx to
// expire. New submissions are rejected once draining starts.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	for _, ex := range o.active {
		ex.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (o *Orchestrator) deregister(ex *executor, projectID string) {
	o.mu.Lock()
	delete(o.active, ex.jobID)
	if o.projects[projectID] == ex.jobID {
		delete(o.projects, projectID)
	}
	o.mu.Unlock()
}

// overallPercent maps (completed stages, intra-stage percent) onto the 0-100
// job scale: floor(100 * (completed + intra/100) / total).
func overallPercent(completed, intraPct, total int) int {
	if total == 0 {
		return 0
	}
	return (completed*100 + intraPct) / total
}
