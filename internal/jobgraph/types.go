// Package jobgraph resolves restart chains of a test matrix and executes them
// dependency-first. Each job restarts from at most one predecessor, so a
// chain is a simple list; cycles are detected before anything runs.
package jobgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tyre-matrix/internal/matrix"
)

// Status is the lifecycle state of a JobNode.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// JobNode is one solver execution bound to a matrix row.
type JobNode struct {
	Name string
	// OldJob is the restart predecessor, empty when the job starts fresh.
	OldJob string
	Dir    string
	Deck   string
	// Run is nil for a predecessor that only exists as a deck in the dependent's folder.
	Run    *matrix.TestRun
	Status Status
}

// Key identifies the node's job within its working folder.
func (n *JobNode) Key() string { return n.Dir + "|" + n.Name }

// JobRunner executes one node; it blocks until every step of the node finished.
type JobRunner interface {
	RunJob(ctx context.Context, node *JobNode) error
}

// StatusRecorder is told about every status transition. Implementations must not block for long.
type StatusRecorder interface {
	JobStatus(ctx context.Context, node *JobNode, err error)
}

var ErrJobNotFound = errors.New("job not found in matrix")

// CircularDependencyError reports a restart chain that loops back on itself.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return "circular restart dependency: " + strings.Join(e.Path, " -> ")
}

// MissingInputDeckError reports a job whose deck is neither in its working
// folder nor in the protocol template store.
type MissingInputDeckError struct {
	Job  string
	Path string
}

func (e *MissingInputDeckError) Error() string {
	return fmt.Sprintf("input deck for job %s not found at %s or in the template store", e.Job, e.Path)
}

// visited is an append-only set of job names. with never mutates the receiver.
type visited struct {
	names []string
}

func (v visited) with(name string) visited {
	names := make([]string, len(v.names), len(v.names)+1)
	copy(names, v.names)
	return visited{names: append(names, name)}
}

func (v visited) contains(name string) bool {
	for _, n := range v.names {
		if n == name {
			return true
		}
	}
	return false
}

func (v visited) path(next string) []string {
	out := make([]string, 0, len(v.names)+1)
	out = append(out, v.names...)
	return append(out, next)
}
