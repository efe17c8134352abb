package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipforge/clipforge-agent/internal/db"
	"github.com/clipforge/clipforge-agent/internal/ledger"
)

func newTestRepo(t *testing.T) *ledger.SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return ledger.NewRepository(database.Conn())
}

func testRecord(jobID string) *ledger.ProgressRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &ledger.ProgressRecord{
		JobID:        jobID,
		ProjectID:    "proj1",
		Stages:       []string{"outline", "timeline", "cutting"},
		StartStage:   0,
		VideoPath:    "/videos/talk.mp4",
		SubtitlePath: "/videos/talk.srt",
		StageIndex:   0,
		Stage:        "outline",
		Percent:      0,
		Status:       ledger.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("job1")
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing job")
	}
	if got.ProjectID != "proj1" || got.Stage != "outline" || got.Status != ledger.StatusPending {
		t.Errorf("Get = %+v", got)
	}
	if len(got.Stages) != 3 || got.Stages[2] != "cutting" {
		t.Errorf("Stages round-trip = %v", got.Stages)
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("job1")
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec.StageIndex = 1
	rec.Stage = "timeline"
	rec.Percent = 40
	rec.Status = ledger.StatusRunning
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Second)
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != "timeline" || got.Percent != 40 || got.Status != ledger.StatusRunning {
		t.Errorf("updated row = %+v", got)
	}

	all, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List returned %d rows, want 1", len(all))
	}
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get for unknown id = %+v, want nil", got)
	}
}

func TestListRunning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	running := testRecord("job-running")
	running.Status = ledger.StatusRunning
	done := testRecord("job-done")
	done.ProjectID = "proj2"
	done.Status = ledger.StatusSucceeded

	for _, rec := range []*ledger.ProgressRecord{running, done} {
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := repo.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning: %v", err)
	}
	if len(got) != 1 || got[0].JobID != "job-running" {
		t.Errorf("ListRunning = %+v", got)
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := testRecord("job-old")
	old.Status = ledger.StatusSucceeded
	old.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)

	fresh := testRecord("job-fresh")
	fresh.ProjectID = "proj2"
	fresh.Status = ledger.StatusFailed

	stillRunning := testRecord("job-running")
	stillRunning.ProjectID = "proj3"
	stillRunning.Status = ledger.StatusRunning
	stillRunning.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)

	for _, rec := range []*ledger.ProgressRecord{old, fresh, stillRunning} {
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	deleted, err := repo.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "job-old" {
		t.Errorf("deleted = %v, want [job-old]", deleted)
	}

	// Old but non-terminal rows must survive.
	if got, _ := repo.Get(ctx, "job-running"); got == nil {
		t.Error("running job was deleted by retention")
	}
	if got, _ := repo.Get(ctx, "job-fresh"); got == nil {
		t.Error("fresh terminal job was deleted by retention")
	}
	if got, _ := repo.Get(ctx, "job-old"); got != nil {
		t.Error("expired job still present")
	}
}

func TestStageResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("job1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results := []*ledger.StageResult{
		{JobID: "job1", Stage: "outline", Attempt: 1, Status: ledger.StageResultFailed,
			Error: "transient: model timeout", Duration: 3 * time.Second, CreatedAt: time.Now()},
		{JobID: "job1", Stage: "outline", Attempt: 2, Status: ledger.StageResultSucceeded,
			ArtifactPath: "/artifacts/proj1/outline.json", Duration: 5 * time.Second, CreatedAt: time.Now()},
	}
	for _, res := range results {
		if err := repo.InsertStageResult(ctx, res); err != nil {
			t.Fatalf("InsertStageResult: %v", err)
		}
	}

	got, err := repo.ListStageResults(ctx, "job1")
	if err != nil {
		t.Fatalf("ListStageResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListStageResults returned %d rows, want 2", len(got))
	}
	if got[0].Attempt != 1 || got[0].Status != ledger.StageResultFailed || got[0].Error == "" {
		t.Errorf("first result = %+v", got[0])
	}
	if got[1].Attempt != 2 || got[1].Status != ledger.StageResultSucceeded {
		t.Errorf("second result = %+v", got[1])
	}
	if got[1].Duration != 5*time.Second {
		t.Errorf("duration round-trip = %v", got[1].Duration)
	}
}

func TestStageResultsCascadeOnDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("job1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	res := &ledger.StageResult{JobID: "job1", Stage: "outline", Attempt: 1,
		Status: ledger.StageResultSucceeded, CreatedAt: time.Now()}
	if err := repo.InsertStageResult(ctx, res); err != nil {
		t.Fatalf("InsertStageResult: %v", err)
	}

	if err := repo.Delete(ctx, "job1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := repo.ListStageResults(ctx, "job1")
	if err != nil {
		t.Fatalf("ListStageResults: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("stage results survived job deletion: %+v", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got != "" {
		t.Errorf("GetConfig on empty table = %q, want empty", got)
	}

	if err := repo.SetConfig(ctx, "auth_token", "secret1"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "secret2"); err != nil {
		t.Fatalf("SetConfig update: %v", err)
	}

	got, err = repo.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got != "secret2" {
		t.Errorf("GetConfig = %q, want secret2", got)
	}
}
