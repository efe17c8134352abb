// Package reconcile repairs drift between the progress ledger, the artifact
// store, and the executors actually running, primarily after an abnormal
// restart. A reconcile pass is idempotent and safe to run at any time.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge-agent/internal/artifact"
	"github.com/clipforge/clipforge-agent/internal/broadcast"
	"github.com/clipforge/clipforge-agent/internal/ledger"
)

// ErrInterrupted is the last-error message stamped on jobs found running
// with no live executor. Such jobs are never silently resumed; resuming
// takes an explicit new submission, which reuses published artifacts.
const ErrInterrupted = "interrupted execution: no active executor after restart"

// ActiveSet answers whether a live in-process executor exists for a job.
type ActiveSet interface {
	IsActive(jobID string) bool
}

type Reconciler struct {
	repo        ledger.Repository
	store       *artifact.Store
	active      ActiveSet
	broadcaster *broadcast.Broadcaster
	retention   time.Duration
	logger      *slog.Logger

	now func() time.Time
}

func New(repo ledger.Repository, store *artifact.Store, active ActiveSet, broadcaster *broadcast.Broadcaster, retention time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:        repo,
		store:       store,
		active:      active,
		broadcaster: broadcaster,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile runs one repair pass: orphaned running records are failed,
// orphaned artifacts are inventoried (they stay valid and reusable), and
// expired terminal records are dropped.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.failOrphanedJobs(ctx); err != nil {
		return err
	}
	r.inventoryArtifacts()
	return r.expireTerminalJobs(ctx)
}

// Start runs Reconcile on a ticker until ctx is done. The startup pass is
// the caller's responsibility so wiring order stays explicit.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) failOrphanedJobs(ctx context.Context) error {
	records, err := r.repo.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}

	for _, rec := range records {
		if r.active.IsActive(rec.JobID) {
			continue
		}

		rec.Status = ledger.StatusFailed
		rec.Error = ErrInterrupted
		rec.UpdatedAt = r.now()

		if err := r.repo.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("fail orphaned job %s: %w", rec.JobID, err)
		}
		r.broadcaster.Publish(rec)

		r.logger.Warn("marked orphaned job as failed",
			"job_id", rec.JobID,
			"project_id", rec.ProjectID,
			"stage", rec.Stage,
		)
	}
	return nil
}

// inventoryArtifacts counts published artifacts per project. Artifacts
// without a recorded stage result are valid by construction (artifacts are
// written before results are recorded), so there is nothing to repair;
// the inventory only feeds the log.
func (r *Reconciler) inventoryArtifacts() {
	projects, err := r.store.ListProjects()
	if err != nil {
		r.logger.Warn("artifact inventory failed", "error", err)
		return
	}

	total := 0
	for _, p := range projects {
		stages, err := r.store.ListStages(p)
		if err != nil {
			r.logger.Warn("artifact inventory failed", "project_id", p, "error", err)
			continue
		}
		total += len(stages)
	}

	r.logger.Debug("artifact inventory", "projects", len(projects), "artifacts", total)
}

func (r *Reconciler) expireTerminalJobs(ctx context.Context) error {
	if r.retention <= 0 {
		return nil
	}

	cutoff := r.now().Add(-r.retention)
	ids, err := r.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire terminal jobs: %w", err)
	}

	for _, id := range ids {
		r.broadcaster.Forget(id)
	}
	if len(ids) > 0 {
		r.logger.Info("expired terminal jobs", "count", len(ids))
	}
	return nil
}
