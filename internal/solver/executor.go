// Package solver drives the external CAE solver for one job: it stages the
// user subroutine, runs the solver and then the post-processing script, all
// blocking, with output streamed to the job log.
package solver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tyre-matrix/internal/ctxlog"
	"tyre-matrix/internal/jobgraph"
	"tyre-matrix/internal/workspace"
)

// Config describes how the solver is invoked.
type Config struct {
	// Command is the solver launcher, e.g. ["abaqus"] or ["cmd", "/c", "abaqus"].
	Command []string
	// ScriptRuntime follows Command to start the bundled scripting runtime, e.g. ["python"].
	ScriptRuntime []string
	CPUs          int
	// StopGrace is how long a terminated child gets before it is killed.
	StopGrace time.Duration
	// TailBytes bounds the stderr kept for error reports.
	TailBytes int64
}

func (c Config) withDefaults() Config {
	if len(c.Command) == 0 {
		c.Command = []string{"abaqus"}
	}
	if c.ScriptRuntime == nil {
		c.ScriptRuntime = []string{"python"}
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.TailBytes <= 0 {
		c.TailBytes = 4096
	}
	return c
}

// Executor runs job nodes. It is safe for concurrent use on distinct working folders.
type Executor struct {
	layout   *workspace.Layout
	cfg      Config
	registry *Registry
	sink     LineSink
}

func NewExecutor(layout *workspace.Layout, cfg Config, registry *Registry, sink LineSink) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Executor{layout: layout, cfg: cfg.withDefaults(), registry: registry, sink: sink}
}

// Registry returns the registry tracking this executor's children.
func (e *Executor) Registry() *Registry { return e.registry }

// RunJob stages the subroutine, runs the solver and then the post-processor for node.
func (e *Executor) RunJob(ctx context.Context, node *jobgraph.JobNode) error {
	logger := ctxlog.FromContext(ctx).With("job", node.Name, "dir", node.Dir)

	var subroutine, script string
	var postArgs []string
	if run := node.Run; run != nil {
		if run.HasSubroutine() {
			subroutine = strings.TrimSpace(run.Subroutine)
		}
		if run.HasPostScript() {
			script = strings.TrimSpace(run.PostScript)
			args, err := PostProcessorArgs(script, node.Name)
			if err != nil {
				return err
			}
			postArgs = args
		}
	}

	if subroutine != "" {
		dst, err := e.layout.CopyShared(subroutine, node.Dir)
		if err != nil {
			return fmt.Errorf("stage subroutine for job %s: %w", node.Name, err)
		}
		logger.Info("Subroutine staged.", "path", dst)
	}

	argv := append(append([]string{}, e.cfg.Command...), SolverArgs(node.Name, node.OldJob, e.cfg.CPUs, subroutine)...)
	logger.Info("Starting solver.", "args", argv)
	res, err := e.spawn(ctx, node.Name, node.Dir, argv)
	if err != nil {
		return fmt.Errorf("run solver for job %s: %w", node.Name, err)
	}
	if res.ExitCode != 0 {
		return &SolverFailedError{Job: node.Name, ExitCode: res.ExitCode, StderrTail: res.StderrTail}
	}
	logger.Info("Solver finished.")

	if script == "" {
		return nil
	}
	scriptPath, err := filepath.Abs(e.layout.SharedPath(script))
	if err != nil {
		return err
	}
	argv = append(append(append([]string{}, e.cfg.Command...), e.cfg.ScriptRuntime...), scriptPath)
	argv = append(argv, postArgs...)
	logger.Info("Starting post-processor.", "script", script, "args", argv)
	res, err = e.spawn(ctx, node.Name+":post", node.Dir, argv)
	if err != nil {
		return fmt.Errorf("run post-processor %s for job %s: %w", script, node.Name, err)
	}
	if res.ExitCode != 0 {
		return &PostProcessorFailedError{Job: node.Name, Script: script, ExitCode: res.ExitCode, StderrTail: res.StderrTail}
	}
	logger.Info("Post-processor finished.", "script", script)
	return nil
}

type discardSink struct{}

func (discardSink) Line(string, string) error { return nil }
