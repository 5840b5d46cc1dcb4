package db

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/model"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(conn), conn
}

func sampleMatrix() matrix.Matrix {
	return matrix.Matrix{ProjectID: "proj", Protocol: "static", Runs: []matrix.TestRun{
		{Number: 2, Job: "job2", OldJob: "job1", P: "1", L: "1", Pressure: matrix.Float(30)},
		{Number: 1, Job: "job1", OldJob: "-", P: "1", L: "1", Load: matrix.Float(4000)},
	}}
}

func TestImportAndLoadMatrix(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.ImportMatrix(ctx, sampleMatrix()); err != nil {
		t.Fatalf("import: %v", err)
	}
	m, err := store.LoadMatrix(ctx, "proj", "static")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Runs) != 2 || m.Runs[0].Job != "job1" || m.Runs[1].OldJob != "job1" {
		t.Fatalf("unexpected matrix: %+v", m.Runs)
	}
	if m.Runs[0].Load == nil || *m.Runs[0].Load != 4000 || m.Runs[0].Pressure != nil {
		t.Errorf("scalar fields not round-tripped: %+v", m.Runs[0])
	}

	// Re-importing updates rows in place.
	changed := sampleMatrix()
	changed.Runs[0].OldJob = "-"
	if err := store.ImportMatrix(ctx, changed); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	m, err = store.LoadMatrix(ctx, "proj", "static")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Runs) != 2 || m.Runs[1].OldJob != "-" {
		t.Errorf("re-import not applied: %+v", m.Runs)
	}
}

func TestSetRunStatus(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	if err := store.ImportMatrix(ctx, sampleMatrix()); err != nil {
		t.Fatal(err)
	}
	if err := store.SetRunStatus(ctx, "proj", "static", "job2", model.RunCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	var row model.TestRun
	if err := conn.Where("job = ?", "job2").First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Status != model.RunCompleted {
		t.Errorf("status = %s", row.Status)
	}
	// A job that is not a row is a no-op.
	if err := store.SetRunStatus(ctx, "proj", "static", "inflate", model.RunCompleted); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJobRecordLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	rec := &model.JobRecord{ExecutionID: "exec-1", ProjectID: "proj", Protocol: "static", Job: "job1"}
	if err := store.StartJob(ctx, rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	code := 3
	if err := store.FinishJob(ctx, rec, model.RunFailed, &code, errors.New("solver failed")); err != nil {
		t.Fatalf("finish: %v", err)
	}
	recs, err := store.JobRecords(ctx, "proj", "static", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	got := recs[0]
	if got.Status != model.RunFailed || got.ExitCode == nil || *got.ExitCode != 3 || got.Error != "solver failed" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not recorded")
	}
}

func TestSaveTydexReplacesByName(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	first := &model.TydexDocument{ProjectID: "proj", Protocol: "static", Name: "job1.tdx", Rows: 10, Content: "v1", Unresolved: "MZ"}
	if err := store.SaveTydex(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &model.TydexDocument{ProjectID: "proj", Protocol: "static", Name: "job1.tdx", Rows: 0, Content: "v2"}
	if err := store.SaveTydex(ctx, second); err != nil {
		t.Fatalf("save again: %v", err)
	}

	var docs []model.TydexDocument
	if err := conn.Find(&docs).Error; err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	got := []any{docs[0].Content, docs[0].Rows, docs[0].Unresolved}
	if diff := cmp.Diff([]any{"v2", 0, ""}, got); diff != "" {
		t.Errorf("document not replaced (-want +got):\n%s", diff)
	}
}
