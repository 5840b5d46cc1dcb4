package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"tyre-matrix/internal/batch"
	"tyre-matrix/internal/config"
	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/db"
	"tyre-matrix/internal/jobgraph"
	"tyre-matrix/internal/joblog"
	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/model"
	"tyre-matrix/internal/solver"
	"tyre-matrix/internal/tydex"
	"tyre-matrix/internal/workspace"
)

// ErrNoJob is returned when the requested row has a blank or sentinel job.
var ErrNoJob = errors.New("test run has no job to resolve")

type ResolveRequest struct {
	ProjectID string `json:"project_id"`
	Protocol  string `json:"protocol"`
	RunNumber int    `json:"run_number"`
	// JobName overrides RunNumber when set.
	JobName string `json:"job_name"`
}

type JobSummary struct {
	Name   string `json:"name"`
	OldJob string `json:"old_job,omitempty"`
	Dir    string `json:"dir"`
	Status string `json:"status"`
}

type ResolveResult struct {
	TriggerID string       `json:"trigger_id"`
	Jobs      []JobSummary `json:"jobs"`
}

// RunService resolves matrix rows, emits batch scripts and renders Tydex documents.
type RunService struct {
	store    *db.Store
	layout   *workspace.Layout
	solver   config.SolverConfig
	registry *solver.Registry
	emitter  *batch.Emitter
	codec    *tydex.Codec
	logger   *slog.Logger
	inflight *inflight

	sinkMu sync.Mutex
	sinks  map[string]*joblog.Sink

	activeMu   sync.Mutex
	nextActive int
	active     map[int]context.CancelFunc
}

func NewRunService(store *db.Store, layout *workspace.Layout, solverCfg config.SolverConfig, emitter *batch.Emitter, codec *tydex.Codec, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		store:    store,
		layout:   layout,
		solver:   solverCfg,
		registry: solver.NewRegistry(),
		emitter:  emitter,
		codec:    codec,
		logger:   logger,
		inflight: newInflight(),
		sinks:    map[string]*joblog.Sink{},
		active:   map[int]context.CancelFunc{},
	}
}

// Registry exposes the live child processes.
func (s *RunService) Registry() *solver.Registry { return s.registry }

// Resolve runs the restart chain ending at the requested row. The request
// is rejected when any job of its chain is already running.
func (s *RunService) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	m, err := s.store.LoadMatrix(ctx, req.ProjectID, req.Protocol)
	if err != nil {
		return nil, err
	}
	run, err := findRun(m, req)
	if err != nil {
		return nil, err
	}
	if !run.HasJob() {
		return nil, fmt.Errorf("%w: run %d", ErrNoJob, run.Number)
	}

	triggerID := uuid.NewString()
	ctx, resolver, err := s.prepare(ctx, m, triggerID)
	if err != nil {
		return nil, err
	}
	planned, err := resolver.Plan(run.Job)
	if err != nil {
		return nil, err
	}
	keys := append([]string{fingerprint(req.ProjectID, req.Protocol, strconv.Itoa(run.Number), run.Job)}, jobKeys(planned)...)
	release, err := s.inflight.acquire(keys...)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, done := s.track(ctx)
	defer done()

	ctx, logger := ctxlog.With(ctx, "run", run.Number, "job", run.Job)
	logger.Info("Resolving job.")

	chain, err := resolver.Resolve(ctx, run.Job)
	res := &ResolveResult{TriggerID: triggerID, Jobs: summarize(chain)}
	if err != nil {
		logger.Error("Resolution failed.", "error", err)
		return res, err
	}
	logger.Info("Resolution finished.", "jobs", len(chain))
	return res, nil
}

// ResolveMatrix runs every runnable row of a protocol once. Independent cell
// folders run concurrently up to the configured limit; a failure in one
// folder does not stop the others. StopAll cancels groups not yet started.
func (s *RunService) ResolveMatrix(ctx context.Context, projectID, protocol string) (*ResolveResult, error) {
	m, err := s.store.LoadMatrix(ctx, projectID, protocol)
	if err != nil {
		return nil, err
	}
	triggerID := uuid.NewString()
	ctx, resolver, err := s.prepare(ctx, m, triggerID)
	if err != nil {
		return nil, err
	}
	groups, err := resolver.Groups()
	if err != nil {
		return nil, err
	}
	keys := []string{fingerprint(projectID, protocol, "*")}
	for _, group := range groups {
		keys = append(keys, jobKeys(group)...)
	}
	release, err := s.inflight.acquire(keys...)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, done := s.track(ctx)
	defer done()
	logger := ctxlog.FromContext(ctx)
	logger.Info("Resolving matrix.", "groups", len(groups), "max_parallel", s.solver.MaxParallel)

	errs := make([]error, len(groups))
	var g errgroup.Group
	g.SetLimit(max(1, s.solver.MaxParallel))
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = resolver.RunGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()

	res := &ResolveResult{TriggerID: triggerID}
	var result *multierror.Error
	for i, group := range groups {
		res.Jobs = append(res.Jobs, summarize(group)...)
		if errs[i] != nil {
			result = multierror.Append(result, errs[i])
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Error("Matrix resolution finished with failures.", "failed_groups", result.Len())
		return res, err
	}
	logger.Info("Matrix resolution finished.", "jobs", len(res.Jobs))
	return res, nil
}

// prepare builds a resolver whose executor and logger write to the protocol's job log.
func (s *RunService) prepare(ctx context.Context, m matrix.Matrix, triggerID string) (context.Context, *jobgraph.Resolver, error) {
	sink, err := s.sink(m.ProjectID, m.Protocol)
	if err != nil {
		return nil, nil, err
	}
	logger := teeLogger(s.logger, sink).With("project", m.ProjectID, "protocol", m.Protocol, "trigger", triggerID)
	ctx = ctxlog.WithLogger(ctx, logger)

	executor := solver.NewExecutor(s.layout, solver.Config{
		Command:       s.solver.Command,
		ScriptRuntime: s.solver.ScriptRuntime,
		CPUs:          s.solver.CPUs,
		StopGrace:     s.solver.StopGrace,
		TailBytes:     s.solver.TailBytes,
	}, s.registry, sink)
	recorder := newStoreRecorder(s.store, m.ProjectID, m.Protocol, triggerID)
	resolver := jobgraph.NewResolver(s.layout, m, executor, recorder, jobgraph.Options{
		SkipCompletedUpstream: s.solver.SkipCompletedUpstream,
	})
	return ctx, resolver, nil
}

func (s *RunService) sink(projectID, protocol string) (*joblog.Sink, error) {
	path := s.layout.LogPath(projectID, protocol)
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if sink, ok := s.sinks[path]; ok {
		return sink, nil
	}
	sink, err := joblog.Open(s.layout.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	s.sinks[path] = sink
	return sink, nil
}

// EmitBatch writes the protocol's batch script and returns it.
func (s *RunService) EmitBatch(ctx context.Context, projectID, protocol string) (batch.Script, string, error) {
	m, err := s.store.LoadMatrix(ctx, projectID, protocol)
	if err != nil {
		return batch.Script{}, "", err
	}
	script, err := s.emitter.Emit(m)
	if err != nil {
		return batch.Script{}, "", err
	}
	path := filepath.Join(s.layout.ProtocolDir(projectID, protocol), script.Name)
	if err := s.layout.WriteFileAtomic(path, []byte(script.Text)); err != nil {
		return batch.Script{}, "", fmt.Errorf("write batch script: %w", err)
	}
	if err := s.layout.Fs.Chmod(path, 0o755); err != nil {
		return batch.Script{}, "", fmt.Errorf("chmod batch script: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Batch script written.", "path", path,
		"solver_commands", script.Summary.SolverCommands, "skipped", script.Summary.Skipped)
	return script, path, nil
}

// GenerateTydex renders the Tydex document of one row, writes it into the
// cell folder and stores it.
func (s *RunService) GenerateTydex(ctx context.Context, projectID, protocol string, runNumber int) (*model.TydexDocument, error) {
	m, err := s.store.LoadMatrix(ctx, projectID, protocol)
	if err != nil {
		return nil, err
	}
	run, err := findRun(m, ResolveRequest{RunNumber: runNumber})
	if err != nil {
		return nil, err
	}
	doc, err := s.codec.Generate(ctx, m, run)
	if err != nil {
		return nil, err
	}
	row := &model.TydexDocument{
		ProjectID:  projectID,
		Protocol:   protocol,
		Name:       doc.Name,
		RunNumber:  run.Number,
		Job:        run.Job,
		Template:   doc.Template,
		Path:       doc.Path,
		Rows:       doc.Rows,
		Unresolved: strings.Join(doc.Unresolved, ","),
		Content:    string(doc.Content),
	}
	if err := s.store.SaveTydex(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// JobRecords lists the recorded job attempts of a protocol, newest first.
func (s *RunService) JobRecords(ctx context.Context, projectID, protocol string, limit int) ([]model.JobRecord, error) {
	return s.store.JobRecords(ctx, projectID, protocol, limit)
}

// TailLog returns the protocol's job log after offset and the offset to poll from next.
func (s *RunService) TailLog(projectID, protocol string, offset int64) ([]byte, int64, error) {
	return joblog.Tail(s.layout.Fs, s.layout.LogPath(projectID, protocol), offset)
}

// track derives a context that StopAll cancels. done releases it.
func (s *RunService) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.activeMu.Lock()
	s.nextActive++
	id := s.nextActive
	s.active[id] = cancel
	s.activeMu.Unlock()
	return ctx, func() {
		s.activeMu.Lock()
		delete(s.active, id)
		s.activeMu.Unlock()
		cancel()
	}
}

// StopAll cancels every in-flight resolution, so nothing new is spawned,
// then terminates every running solver and post-processor.
func (s *RunService) StopAll(ctx context.Context) (int, error) {
	s.activeMu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.activeMu.Unlock()

	n, err := s.registry.StopAll(ctx, s.solver.StopGrace)
	s.logger.Info("Stop requested.", "processes", n, "error", err)
	return n, err
}

func findRun(m matrix.Matrix, req ResolveRequest) (matrix.TestRun, error) {
	if !matrix.IsNone(req.JobName) {
		if run, ok := m.ByJob(req.JobName); ok {
			return run, nil
		}
		return matrix.TestRun{}, fmt.Errorf("%w: job %s in %s/%s", db.ErrRunNotFound, req.JobName, m.ProjectID, m.Protocol)
	}
	if run, ok := m.ByNumber(req.RunNumber); ok {
		return run, nil
	}
	return matrix.TestRun{}, fmt.Errorf("%w: run %d in %s/%s", db.ErrRunNotFound, req.RunNumber, m.ProjectID, m.Protocol)
}

func summarize(nodes []*jobgraph.JobNode) []JobSummary {
	out := make([]JobSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, JobSummary{Name: n.Name, OldJob: n.OldJob, Dir: n.Dir, Status: string(n.Status)})
	}
	return out
}
