package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	Upsert(ctx context.Context, rec *ProgressRecord) error
	Get(ctx context.Context, jobID string) (*ProgressRecord, error)
	List(ctx context.Context, limit int) ([]*ProgressRecord, error)
	ListRunning(ctx context.Context) ([]*ProgressRecord, error)
	Delete(ctx context.Context, jobID string) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	InsertStageResult(ctx context.Context, res *StageResult) error
	ListStageResults(ctx context.Context, jobID string) ([]*StageResult, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, project_id, stages, start_stage, video_path, subtitle_path,
	stage_index, stage, percent, status, error, created_at, updated_at`

// Upsert atomically replaces the job's ledger row. The orchestrator is the
// only writer for a given job id, so last-write-wins is safe here.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *ProgressRecord) error {
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage_index = excluded.stage_index,
			stage = excluded.stage,
			percent = excluded.percent,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, rec.JobID, rec.ProjectID, string(stages), rec.StartStage, rec.VideoPath, rec.SubtitlePath,
		rec.StageIndex, rec.Stage, rec.Percent, string(rec.Status), nullString(rec.Error),
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, jobID string) (*ProgressRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = ?
	`, jobID)
	return scanJob(row)
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*ProgressRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListRunning(ctx context.Context) ([]*ProgressRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?) ORDER BY created_at
	`, string(StatusPending), string(StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", jobID)
	return err
}

// DeleteTerminalBefore removes terminal job rows last updated before cutoff
// and returns their ids. Running and pending rows are never touched.
func (r *SQLiteRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`, string(StatusSucceeded), string(StatusFailed), string(StatusCancelled),
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r *SQLiteRepository) InsertStageResult(ctx context.Context, res *StageResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stage_results (job_id, stage, attempt, status, artifact_path, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.JobID, res.Stage, res.Attempt, res.Status, res.ArtifactPath, nullString(res.Error),
		res.Duration.Milliseconds(), res.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListStageResults(ctx context.Context, jobID string) ([]*StageResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, stage, attempt, status, artifact_path, error, duration_ms, created_at
		FROM stage_results WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*StageResult
	for rows.Next() {
		var res StageResult
		var errMsg sql.NullString
		var durationMs int64
		var createdAt string

		if err := rows.Scan(&res.ID, &res.JobID, &res.Stage, &res.Attempt, &res.Status,
			&res.ArtifactPath, &errMsg, &durationMs, &createdAt); err != nil {
			return nil, err
		}
		res.Error = errMsg.String
		res.Duration = time.Duration(durationMs) * time.Millisecond
		res.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		results = append(results, &res)
	}
	return results, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRow(s rowScanner) (*ProgressRecord, error) {
	var rec ProgressRecord
	var stages, status, createdAt, updatedAt string
	var errMsg sql.NullString

	err := s.Scan(&rec.JobID, &rec.ProjectID, &stages, &rec.StartStage, &rec.VideoPath,
		&rec.SubtitlePath, &rec.StageIndex, &rec.Stage, &rec.Percent, &status, &errMsg,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stages), &rec.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	rec.Status = Status(status)
	rec.Error = errMsg.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func scanJob(row *sql.Row) (*ProgressRecord, error) {
	rec, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanJobs(rows *sql.Rows) ([]*ProgressRecord, error) {
	var records []*ProgressRecord
	for rows.Next() {
		rec, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
