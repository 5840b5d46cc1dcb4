//go:build !windows

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tyre-matrix/internal/batch"
	"tyre-matrix/internal/config"
	"tyre-matrix/internal/db"
	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/model"
	"tyre-matrix/internal/tydex"
	"tyre-matrix/internal/workspace"
)

const fakeSolver = `#!/bin/sh
echo "$*" >> calls.log
echo "solving $1"
[ -n "$FAKE_SOLVER_SLEEP" ] && sleep "$FAKE_SOLVER_SLEEP"
[ "$1" = "job=broken" ] && exit 2
exit 0
`

type testEnv struct {
	svc    *RunService
	store  *db.Store
	conn   *gorm.DB
	layout *workspace.Layout
}

func newTestEnv(t *testing.T, runs ...matrix.TestRun) *testEnv {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	solverPath := filepath.Join(root, "fake-solver.sh")
	if err := os.WriteFile(solverPath, []byte(fakeSolver), 0o755); err != nil {
		t.Fatal(err)
	}

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	store := db.NewStore(conn)
	if err := store.ImportMatrix(context.Background(), matrix.Matrix{ProjectID: "proj", Protocol: "static", Runs: runs}); err != nil {
		t.Fatal(err)
	}

	layout := workspace.New(nil, filepath.Join(root, "ws"), filepath.Join(root, "templates"))
	for _, r := range runs {
		if r.HasJob() {
			writeFile(t, layout.DeckTemplatePath("static", r.Job), "*HEADING\n")
		}
	}

	solverCfg := config.SolverConfig{
		Command:       []string{"sh", solverPath},
		ScriptRuntime: []string{},
		CPUs:          1,
		StopGrace:     time.Second,
		MaxParallel:   2,
	}
	emitter := batch.NewEmitter(layout, batch.Options{Command: []string{"abaqus"}, CPUs: 1})
	codec := tydex.NewCodec(layout, tydex.HeaderConfig{}, func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		svc:    NewRunService(store, layout, solverCfg, emitter, codec, quiet),
		store:  store,
		conn:   conn,
		layout: layout,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func chainRuns() []matrix.TestRun {
	return []matrix.TestRun{
		{Number: 1, Job: "job1", OldJob: "-", P: "1", L: "1"},
		{Number: 2, Job: "job2", OldJob: "job1", P: "1", L: "1"},
		{Number: 3, Job: "job3", OldJob: "job2", P: "1", L: "1"},
	}
}

func (e *testEnv) statuses(t *testing.T) map[string]string {
	t.Helper()
	var rows []model.TestRun
	if err := e.conn.Order("run_number").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	out := map[string]string{}
	for _, r := range rows {
		out[r.Job] = r.Status
	}
	return out
}

func TestResolveRunsChainAndRecordsResults(t *testing.T) {
	env := newTestEnv(t, chainRuns()...)
	ctx := context.Background()

	res, err := env.svc.Resolve(ctx, ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 3})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var names []string
	for _, j := range res.Jobs {
		names = append(names, j.Name+":"+j.Status)
	}
	if diff := cmp.Diff([]string{"job1:completed", "job2:completed", "job3:completed"}, names); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	want := map[string]string{"job1": model.RunCompleted, "job2": model.RunCompleted, "job3": model.RunCompleted}
	if diff := cmp.Diff(want, env.statuses(t)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	recs, err := env.store.JobRecords(ctx, "proj", "static", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("job records = %d, want 3", len(recs))
	}
	for _, r := range recs {
		if r.TriggerID != res.TriggerID || r.ExitCode == nil || *r.ExitCode != 0 {
			t.Errorf("unexpected record %+v", r)
		}
	}

	data, offset, err := env.svc.TailLog("proj", "static", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if offset == 0 || !strings.Contains(string(data), "[job3:stdout] solving job=job3") {
		t.Errorf("job log missing solver output:\n%s", data)
	}
	more, next, err := env.svc.TailLog("proj", "static", offset)
	if err != nil || len(more) != 0 || next != offset {
		t.Errorf("tail at end = (%q, %d, %v)", more, next, err)
	}
}

func TestResolveFailureRecordsExitCode(t *testing.T) {
	runs := []matrix.TestRun{
		{Number: 1, Job: "job1", OldJob: "-", P: "1", L: "1"},
		{Number: 2, Job: "broken", OldJob: "job1", P: "1", L: "1"},
	}
	env := newTestEnv(t, runs...)
	ctx := context.Background()

	_, err := env.svc.Resolve(ctx, ResolveRequest{ProjectID: "proj", Protocol: "static", JobName: "broken"})
	if err == nil {
		t.Fatal("expected failure")
	}
	want := map[string]string{"job1": model.RunCompleted, "broken": model.RunFailed}
	if diff := cmp.Diff(want, env.statuses(t)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	recs, err := env.store.JobRecords(ctx, "proj", "static", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Job != "broken" || recs[0].ExitCode == nil || *recs[0].ExitCode != 2 {
		t.Errorf("unexpected latest record %+v", recs)
	}
}

func TestResolveRejectsDuplicateTrigger(t *testing.T) {
	env := newTestEnv(t, chainRuns()...)
	release, err := env.svc.inflight.acquire(fingerprint("proj", "static", strconv.Itoa(1), "job1"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.svc.Resolve(context.Background(), ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 1})
	if !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("expected ErrDuplicateTrigger, got %v", err)
	}
	release()
	if _, err := env.svc.Resolve(context.Background(), ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 1}); err != nil {
		t.Fatalf("resolve after release: %v", err)
	}
}

// waitForFile polls until path exists.
func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func countCalls(t *testing.T, path, job string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "job="+job+" ") || line == "job="+job {
			n++
		}
	}
	return n
}

func TestOverlappingTriggersDoNotRunAJobTwice(t *testing.T) {
	t.Setenv("FAKE_SOLVER_SLEEP", "1")
	env := newTestEnv(t, chainRuns()...)
	calls := filepath.Join(env.layout.CellDir("proj", "static", matrix.Cell{P: "1", L: "1"}), "calls.log")

	first := make(chan error, 1)
	go func() {
		_, err := env.svc.Resolve(context.Background(), ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 3})
		first <- err
	}()
	waitForFile(t, calls)

	_, err := env.svc.Resolve(context.Background(), ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 2})
	if !errors.Is(err, ErrDuplicateTrigger) {
		t.Errorf("overlapping chain: expected ErrDuplicateTrigger, got %v", err)
	}
	_, err = env.svc.ResolveMatrix(context.Background(), "proj", "static")
	if !errors.Is(err, ErrDuplicateTrigger) {
		t.Errorf("matrix during chain: expected ErrDuplicateTrigger, got %v", err)
	}

	if err := <-first; err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	for _, job := range []string{"job1", "job2", "job3"} {
		if n := countCalls(t, calls, job); n != 1 {
			t.Errorf("%s ran %d times, want 1", job, n)
		}
	}

	// Once released, the same jobs can be triggered again.
	t.Setenv("FAKE_SOLVER_SLEEP", "")
	if _, err := env.svc.Resolve(context.Background(), ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 2}); err != nil {
		t.Fatalf("resolve after release: %v", err)
	}
}

func TestStopAllCancelsPendingMatrixGroups(t *testing.T) {
	t.Setenv("FAKE_SOLVER_SLEEP", "30")
	env := newTestEnv(t,
		matrix.TestRun{Number: 1, Job: "left", OldJob: "-", P: "1", L: "1"},
		matrix.TestRun{Number: 2, Job: "right", OldJob: "-", P: "2", L: "1"},
	)
	env.svc.solver.MaxParallel = 1
	leftCalls := filepath.Join(env.layout.CellDir("proj", "static", matrix.Cell{P: "1", L: "1"}), "calls.log")
	rightCalls := filepath.Join(env.layout.CellDir("proj", "static", matrix.Cell{P: "2", L: "1"}), "calls.log")

	result := make(chan error, 1)
	go func() {
		_, err := env.svc.ResolveMatrix(context.Background(), "proj", "static")
		result <- err
	}()
	waitForFile(t, leftCalls)

	if _, err := env.svc.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected the stopped matrix to report an error")
		}
	case <-time.After(15 * time.Second):
		t.Fatal("matrix resolution did not return after StopAll")
	}
	if _, err := os.Stat(rightCalls); err == nil {
		t.Error("second group ran after StopAll")
	}
	if got := env.statuses(t)["left"]; got != model.RunFailed {
		t.Errorf("stopped job status = %q, want %q", got, model.RunFailed)
	}
	if live := env.svc.Registry().Live(); len(live) != 0 {
		t.Errorf("processes still registered: %d", len(live))
	}
}

func TestResolveUnknownAndEmptyRows(t *testing.T) {
	env := newTestEnv(t, matrix.TestRun{Number: 1, Job: "-", P: "1", L: "1"})
	ctx := context.Background()

	_, err := env.svc.Resolve(ctx, ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 9})
	if !errors.Is(err, db.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	_, err = env.svc.Resolve(ctx, ResolveRequest{ProjectID: "proj", Protocol: "static", RunNumber: 1})
	if !errors.Is(err, ErrNoJob) {
		t.Errorf("expected ErrNoJob, got %v", err)
	}
}

func TestResolveMatrixRunsEveryJobOnce(t *testing.T) {
	runs := append(chainRuns(),
		matrix.TestRun{Number: 4, Job: "other1", OldJob: "-", P: "2", L: "1"},
		matrix.TestRun{Number: 5, Job: "", P: "2", L: "1"},
	)
	env := newTestEnv(t, runs...)

	res, err := env.svc.ResolveMatrix(context.Background(), "proj", "static")
	if err != nil {
		t.Fatalf("resolve matrix: %v", err)
	}
	if len(res.Jobs) != 4 {
		t.Fatalf("jobs = %+v", res.Jobs)
	}

	calls, err := os.ReadFile(filepath.Join(env.layout.CellDir("proj", "static", matrix.Cell{P: "1", L: "1"}), "calls.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "job=job1") || !strings.HasPrefix(lines[2], "job=job3") {
		t.Errorf("unexpected P1_L1 calls %v", lines)
	}
}

func TestEmitBatchWritesScript(t *testing.T) {
	env := newTestEnv(t, append(chainRuns(), matrix.TestRun{Number: 4, Job: "-", P: "1", L: "1"})...)
	script, path, err := env.svc.EmitBatch(context.Background(), "proj", "static")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if script.Summary.SolverCommands != 3 || script.Summary.Skipped != 1 {
		t.Errorf("summary = %+v", script.Summary)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != script.Text {
		t.Error("written script differs from returned text")
	}
}

func TestGenerateTydexStoresDocument(t *testing.T) {
	run := matrix.TestRun{Number: 1, Job: "job1", OldJob: "-", P: "1", L: "1", Pressure: matrix.Float(30), TydexTemplate: "static"}
	env := newTestEnv(t, run)
	cell := env.layout.CellDir("proj", "static", run.Cell())
	writeFile(t, env.layout.TydexTemplatePath("static"), "**CONSTANTS\nINFLPRES  Pressure  Pa  0\n**MEASURCHANNELS\nMEASNUMB\nFX\n**MEASURDATA 0\n0  0.0\n**END\n")
	writeFile(t, filepath.Join(cell, workspace.ParameterFile), "outer_diameter = 600\n")
	writeFile(t, filepath.Join(cell, "fx.csv"), "0,1\n0.1,2\n")

	doc, err := env.svc.GenerateTydex(context.Background(), "proj", "static", 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := "**CONSTANTS\nINFLPRES  Pressure  Pa  206843\n**MEASURCHANNELS\nMEASNUMB\nFX\n**MEASURDATA 2\n1  1.0000\n2  2.0000\n**END\n"
	if diff := cmp.Diff(want, doc.Content); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}

	var stored []model.TydexDocument
	if err := env.conn.Find(&stored).Error; err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Name != "job1.tdx" || stored[0].Rows != 2 {
		t.Errorf("unexpected stored documents %+v", stored)
	}
}
