package jobgraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/workspace"
)

// Options tune a Resolver.
type Options struct {
	// SkipCompletedUpstream skips predecessors whose primary artifact already
	// exists, so a failed step can be retried without re-running its chain.
	SkipCompletedUpstream bool
}

// Resolver walks restart chains of one matrix and runs them.
type Resolver struct {
	layout   *workspace.Layout
	matrix   matrix.Matrix
	runner   JobRunner
	recorder StatusRecorder
	opts     Options
}

func NewResolver(layout *workspace.Layout, m matrix.Matrix, runner JobRunner, recorder StatusRecorder, opts Options) *Resolver {
	return &Resolver{layout: layout, matrix: m, runner: runner, recorder: recorder, opts: opts}
}

// Plan returns the restart chain ending at jobName, dependency first. It
// only reads the matrix; a cycle is reported before anything is touched on disk.
func (r *Resolver) Plan(jobName string) ([]*JobNode, error) {
	name := strings.TrimSpace(jobName)
	run, ok := r.matrix.ByJob(name)
	if matrix.IsNone(name) || !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, jobName)
	}

	var chain []*JobNode
	seen := visited{}
	cur := &run
	dir := r.cellDir(run)
	for {
		if seen.contains(name) {
			return nil, &CircularDependencyError{Path: seen.path(name)}
		}
		seen = seen.with(name)

		node := &JobNode{Name: name, Dir: dir, Deck: workspace.DeckPath(dir, name), Run: cur, Status: StatusPending}
		if cur != nil && cur.HasRestart() {
			node.OldJob = strings.TrimSpace(cur.OldJob)
		}
		chain = append(chain, node)
		if node.OldJob == "" {
			break
		}

		name = node.OldJob
		if pred, ok := r.matrix.ByJob(name); ok {
			cur = &pred
			dir = r.cellDir(pred)
		} else {
			// Not a matrix row: a plain deck next to the dependent, with no restart of its own.
			cur = nil
		}
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Resolve runs the restart chain ending at jobName, predecessors first.
// The first failure aborts the chain; finished predecessors stay on disk.
func (r *Resolver) Resolve(ctx context.Context, jobName string) ([]*JobNode, error) {
	chain, err := r.Plan(jobName)
	if err != nil {
		return nil, err
	}
	last := len(chain) - 1
	skip := func(i int, n *JobNode) bool {
		return r.opts.SkipCompletedUpstream && i != last && r.layout.Exists(filepath.Join(n.Dir, workspace.ArtifactName(n.Name)))
	}
	return chain, r.execute(ctx, chain, skip)
}

// Groups plans every runnable row of the matrix and partitions the jobs
// into groups that share no working folder and no restart edge. Each group
// is in dependency-first order and lists every job once.
func (r *Resolver) Groups() ([][]*JobNode, error) {
	var order []*JobNode
	index := map[string]int{}
	uf := newUnionFind()

	for _, run := range r.matrix.Sorted() {
		if !run.HasJob() {
			continue
		}
		chain, err := r.Plan(run.Job)
		if err != nil {
			return nil, err
		}
		var prev string
		for _, n := range chain {
			key := nodeKey(n)
			if _, ok := index[key]; !ok {
				index[key] = len(order)
				order = append(order, n)
			}
			uf.union(key, "dir:"+n.Dir)
			if prev != "" {
				uf.union(prev, key)
			}
			prev = key
		}
	}

	var groups [][]*JobNode
	slot := map[string]int{}
	for _, n := range order {
		root := uf.find(nodeKey(n))
		i, ok := slot[root]
		if !ok {
			i = len(groups)
			slot[root] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], n)
	}
	return groups, nil
}

// RunGroup executes an already planned group, one job at a time.
func (r *Resolver) RunGroup(ctx context.Context, group []*JobNode) error {
	return r.execute(ctx, group, func(int, *JobNode) bool { return false })
}

func (r *Resolver) execute(ctx context.Context, chain []*JobNode, skip func(int, *JobNode) bool) error {
	logger := ctxlog.FromContext(ctx)

	// Decks are staged up front so a missing one fails before any solver time is spent.
	for _, n := range chain {
		seeded, err := r.layout.SeedDeck(r.matrix.Protocol, n.Dir, n.Name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &MissingInputDeckError{Job: n.Name, Path: n.Deck}
			}
			return fmt.Errorf("prepare deck for job %s: %w", n.Name, err)
		}
		if seeded {
			logger.Info("Input deck seeded from template store.", "job", n.Name, "deck", n.Deck)
		}
	}

	for i, n := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip(i, n) {
			n.Status = StatusSkipped
			r.record(ctx, n, nil)
			logger.Info("Upstream job already completed, skipping.", "job", n.Name)
			continue
		}

		n.Status = StatusRunning
		r.record(ctx, n, nil)
		logger.Info("Running job.", "job", n.Name, "old_job", n.OldJob, "step", i+1, "of", len(chain))
		if err := r.runner.RunJob(ctx, n); err != nil {
			n.Status = StatusFailed
			r.record(ctx, n, err)
			logger.Error("Job failed.", "job", n.Name, "error", err)
			return err
		}
		n.Status = StatusCompleted
		r.record(ctx, n, nil)
	}
	return nil
}

func (r *Resolver) record(ctx context.Context, n *JobNode, err error) {
	if r.recorder != nil {
		r.recorder.JobStatus(ctx, n, err)
	}
}

func (r *Resolver) cellDir(run matrix.TestRun) string {
	return r.layout.CellDir(r.matrix.ProjectID, r.matrix.Protocol, run.Cell())
}

func nodeKey(n *JobNode) string { return "job:" + n.Key() }

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind { return &unionFind{parent: map[string]string{}} }

func (u *unionFind) find(x string) string {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
