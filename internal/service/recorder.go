package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/db"
	"tyre-matrix/internal/jobgraph"
	"tyre-matrix/internal/model"
	"tyre-matrix/internal/solver"
)

// storeRecorder writes job status transitions back to the store: the
// owning row's status and one JobRecord per attempt.
type storeRecorder struct {
	store     *db.Store
	projectID string
	protocol  string
	triggerID string

	mu   sync.Mutex
	open map[string]*model.JobRecord
}

func newStoreRecorder(store *db.Store, projectID, protocol, triggerID string) *storeRecorder {
	return &storeRecorder{
		store:     store,
		projectID: projectID,
		protocol:  protocol,
		triggerID: triggerID,
		open:      map[string]*model.JobRecord{},
	}
}

func (r *storeRecorder) JobStatus(ctx context.Context, node *jobgraph.JobNode, jobErr error) {
	logger := ctxlog.FromContext(ctx)
	// A stopped job still gets its failure written.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SetRunStatus(ctx, r.projectID, r.protocol, node.Name, string(node.Status)); err != nil {
		logger.Warn("Could not record run status.", "job", node.Name, "error", err)
	}

	key := node.Key()
	switch node.Status {
	case jobgraph.StatusRunning:
		rec := &model.JobRecord{
			ExecutionID: uuid.NewString(),
			TriggerID:   r.triggerID,
			ProjectID:   r.projectID,
			Protocol:    r.protocol,
			Job:         node.Name,
			OldJob:      node.OldJob,
			Dir:         node.Dir,
		}
		if node.Run != nil {
			rec.RunNumber = node.Run.Number
		}
		if err := r.store.StartJob(ctx, rec); err != nil {
			logger.Warn("Could not record job start.", "job", node.Name, "error", err)
			return
		}
		r.mu.Lock()
		r.open[key] = rec
		r.mu.Unlock()

	case jobgraph.StatusCompleted, jobgraph.StatusFailed:
		r.mu.Lock()
		rec, ok := r.open[key]
		delete(r.open, key)
		r.mu.Unlock()
		if !ok {
			return
		}
		if err := r.store.FinishJob(ctx, rec, string(node.Status), exitCode(jobErr), jobErr); err != nil {
			logger.Warn("Could not record job result.", "job", node.Name, "error", err)
		}
	}
}

func exitCode(err error) *int {
	var solverErr *solver.SolverFailedError
	if errors.As(err, &solverErr) {
		return &solverErr.ExitCode
	}
	var postErr *solver.PostProcessorFailedError
	if errors.As(err, &postErr) {
		return &postErr.ExitCode
	}
	if err == nil {
		zero := 0
		return &zero
	}
	return nil
}
