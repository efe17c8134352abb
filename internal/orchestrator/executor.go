package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge-agent/internal/ledger"
	"github.com/clipforge/clipforge-agent/internal/stage"
)

// run drives one job to a terminal status. It is the only writer of the
// job's ledger row for the executor's lifetime.
func (o *Orchestrator) run(ctx context.Context, ex *executor, rec *ledger.ProgressRecord) {
	// Persistence must outlive stage cancellation so terminal state is
	// always recorded.
	persistCtx := context.WithoutCancel(ctx)

	defer o.wg.Done()
	defer o.deregister(ex, rec.ProjectID)
	defer func() {
		// A panicking stage is contained in this job's record and
		// never reaches other executors.
		if r := recover(); r != nil {
			o.logger.Error("executor panic", "job_id", rec.JobID, "panic", r)
			o.finalize(persistCtx, rec, ledger.StatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	logger := o.logger.With("job_id", rec.JobID, "project_id", rec.ProjectID)

	rec.Status = ledger.StatusRunning
	o.commit(persistCtx, rec)

	total := o.stages.Len()
	names := o.stages.Names()

	for i := rec.StartStage; i < total; i++ {
		if ctx.Err() != nil {
			o.finalize(persistCtx, rec, ledger.StatusCancelled, "cancelled before stage "+names[i])
			return
		}

		// Stage boundary: advance position, reset intra-stage progress
		// to this stage's starting bound.
		rec.StageIndex = i
		rec.Stage = names[i]
		o.advancePercent(rec, overallPercent(i, 0, total))
		o.commit(persistCtx, rec)

		var input []byte
		if i > 0 {
			doc, err := o.store.Read(rec.ProjectID, names[i-1])
			if err != nil {
				o.finalize(persistCtx, rec, ledger.StatusFailed,
					fmt.Sprintf("stage %s: input unavailable: %v", names[i], err))
				return
			}
			input = doc
		}

		req := stage.Request{
			ProjectID:    rec.ProjectID,
			VideoPath:    rec.VideoPath,
			SubtitlePath: rec.SubtitlePath,
			Input:        input,
		}

		if !o.runStage(ctx, persistCtx, rec, i, req, logger) {
			return // terminal state already committed
		}
	}

	rec.StageIndex = total - 1
	o.advancePercent(rec, 100)
	o.finalize(persistCtx, rec, ledger.StatusSucceeded, "")
	logger.Info("job succeeded", "stages", total)
}

// runStage executes one stage through its attempt budget. It returns true
// when the stage succeeded and the pipeline should continue; on false a
// terminal status has been committed.
func (o *Orchestrator) runStage(ctx, persistCtx context.Context, rec *ledger.ProgressRecord, idx int, req stage.Request, logger *slog.Logger) bool {
	spec := o.stages.At(idx)
	name := spec.Stage.Name()
	total := o.stages.Len()

	for attempt := 1; ; attempt++ {
		sink := newProgressSink(o, rec, idx, o.opts.Coalesce)

		// Per-attempt wall-clock budget, independent of the stage's
		// own checkpointing.
		attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
		start := o.now()
		doc, err := spec.Stage.Run(attemptCtx, req, sink.report)
		cancel()
		sink.stop()
		duration := o.now().Sub(start)

		result := &ledger.StageResult{
			JobID:     rec.JobID,
			Stage:     name,
			Attempt:   attempt,
			Duration:  duration,
			CreatedAt: o.now(),
		}

		if err == nil {
			// Publish before recording: an artifact on disk without
			// a result row is reusable, the reverse is not.
			if werr := o.store.Write(rec.ProjectID, name, doc); werr != nil {
				err = fmt.Errorf("publish artifact: %w", werr)
			}
		}

		if err == nil {
			result.Status = ledger.StageResultSucceeded
			result.ArtifactPath = o.store.Path(rec.ProjectID, name)
			o.recordResult(persistCtx, result)

			o.advancePercent(rec, overallPercent(idx+1, 0, total))
			o.commit(persistCtx, rec)
			logger.Info("stage succeeded", "stage", name, "attempt", attempt, "duration_ms", duration.Milliseconds())
			return true
		}

		result.Status = ledger.StageResultFailed
		result.Error = err.Error()
		o.recordResult(persistCtx, result)

		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			o.finalize(persistCtx, rec, ledger.StatusCancelled,
				fmt.Sprintf("cancelled during stage %s", name))
			return false
		}

		retryable := stage.IsTransient(err) && attempt < spec.MaxAttempts
		logger.Warn("stage attempt failed",
			"stage", name,
			"attempt", attempt,
			"transient", stage.IsTransient(err),
			"will_retry", retryable,
			"error", err,
		)

		if !retryable {
			o.finalize(persistCtx, rec, ledger.StatusFailed,
				fmt.Sprintf("stage %s failed: %v", name, err))
			return false
		}

		if !o.backoff(ctx, attempt) {
			o.finalize(persistCtx, rec, ledger.StatusCancelled,
				fmt.Sprintf("cancelled while retrying stage %s", name))
			return false
		}
	}
}

// backoff sleeps for the attempt's exponential backoff, capped. Returns
// false when cancelled while waiting.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) bool {
	delay := o.opts.BackoffBase << (attempt - 1)
	if delay > o.opts.BackoffCap || delay <= 0 {
		delay = o.opts.BackoffCap
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// advancePercent keeps the overall percent monotone for the job's lifetime.
func (o *Orchestrator) advancePercent(rec *ledger.ProgressRecord, pct int) {
	if pct > rec.Percent {
		rec.Percent = pct
	}
}

// commit persists the record and notifies observers.
func (o *Orchestrator) commit(ctx context.Context, rec *ledger.ProgressRecord) {
	rec.UpdatedAt = o.now()
	if err := o.repo.Upsert(ctx, rec); err != nil {
		o.logger.Error("failed to persist progress", "job_id", rec.JobID, "error", err)
	}
	o.broadcaster.Publish(rec)
}

// finalize commits a terminal status. The terminal record is the last event
// any subscriber sees.
func (o *Orchestrator) finalize(ctx context.Context, rec *ledger.ProgressRecord, status ledger.Status, errMsg string) {
	rec.Status = status
	rec.Error = errMsg
	rec.Message = ""
	o.commit(ctx, rec)

	if status != ledger.StatusSucceeded {
		o.logger.Info("job finished", "job_id", rec.JobID, "status", string(status), "error", errMsg)
	}
}

func (o *Orchestrator) recordResult(ctx context.Context, res *ledger.StageResult) {
	if err := o.repo.InsertStageResult(ctx, res); err != nil {
		o.logger.Error("failed to record stage result",
			"job_id", res.JobID, "stage", res.Stage, "error", err)
	}
}
