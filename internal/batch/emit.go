// Package batch serializes a whole test matrix into a replayable shell
// script that runs every job in the same order and with the same
// arguments as the resolver would.
package batch

import (
	"fmt"
	"strings"

	"github.com/apparentlymart/go-shquot/shquot"

	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/solver"
	"tyre-matrix/internal/workspace"
)

// Dialect selects the shell the script is written for.
type Dialect string

const (
	DialectSh  Dialect = "sh"
	DialectCmd Dialect = "cmd"
)

// ParseDialect accepts "sh" or "cmd"; empty means sh.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case "", DialectSh:
		return DialectSh, nil
	case DialectCmd:
		return DialectCmd, nil
	}
	return "", fmt.Errorf("unknown batch dialect %q", s)
}

// ScriptName is the file name the script is saved under in the protocol folder.
func (d Dialect) ScriptName() string {
	if d == DialectCmd {
		return "run_all.bat"
	}
	return "run_all.sh"
}

type dialect struct {
	quote    shquot.Q
	comment  string
	newline  string
	preamble []string
	cd       []string
	cp       []string
	call     []string
}

var dialects = map[Dialect]dialect{
	DialectSh: {
		quote:    shquot.POSIXShell,
		comment:  "#",
		newline:  "\n",
		preamble: []string{"#!/bin/sh"},
		cd:       []string{"cd"},
		cp:       []string{"cp", "-f"},
	},
	DialectCmd: {
		quote:    shquot.WindowsCmdExe(shquot.WindowsArgv),
		comment:  "REM",
		newline:  "\r\n",
		preamble: []string{"@echo off"},
		cd:       []string{"cd", "/d"},
		cp:       []string{"copy", "/Y"},
		// The solver launcher is itself a batch file on Windows.
		call: []string{"call"},
	},
}

// Options configure the emitted commands.
type Options struct {
	Dialect       Dialect
	Command       []string
	ScriptRuntime []string
	CPUs          int
}

// Summary counts what a script contains.
type Summary struct {
	SolverCommands int
	PostCommands   int
	Skipped        int
}

// Script is the emitted text plus its summary.
type Script struct {
	Name    string
	Text    string
	Summary Summary
}

// Emitter renders matrices against one workspace layout.
type Emitter struct {
	layout *workspace.Layout
	opts   Options
}

func NewEmitter(layout *workspace.Layout, opts Options) *Emitter {
	if opts.Dialect == "" {
		opts.Dialect = DialectSh
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"abaqus"}
	}
	if opts.ScriptRuntime == nil {
		opts.ScriptRuntime = []string{"python"}
	}
	return &Emitter{layout: layout, opts: opts}
}

// Emit renders the script for m. It never touches the filesystem, so the
// same matrix always yields the same text.
func (e *Emitter) Emit(m matrix.Matrix) (Script, error) {
	d, ok := dialects[e.opts.Dialect]
	if !ok {
		return Script{}, fmt.Errorf("unknown batch dialect %q", e.opts.Dialect)
	}

	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteString(d.newline)
	}
	comment := func(format string, args ...any) {
		line(d.comment + " " + fmt.Sprintf(format, args...))
	}
	command := func(argv ...[]string) {
		var all []string
		all = append(all, d.call...)
		for _, a := range argv {
			all = append(all, a...)
		}
		line(d.quote(all))
	}

	for _, p := range d.preamble {
		line(p)
	}
	comment("Batch run for project %s, protocol %s", m.ProjectID, m.Protocol)

	var sum Summary
	folder := ""
	for _, run := range m.Sorted() {
		if !run.HasJob() {
			sum.Skipped++
			continue
		}
		job := strings.TrimSpace(run.Job)
		dir := e.layout.CellDir(m.ProjectID, m.Protocol, run.Cell())
		if f := run.Cell().Folder(); f != folder {
			folder = f
			line("")
			comment("Folder %s", folder)
		}
		comment("Run %d: %s", run.Number, job)
		line(d.quote(append(append([]string{}, d.cd...), dir)))

		subroutine := ""
		if run.HasSubroutine() {
			subroutine = strings.TrimSpace(run.Subroutine)
			line(d.quote(append(append([]string{}, d.cp...), e.layout.SharedPath(subroutine), ".")))
		}

		command(e.opts.Command, solver.SolverArgs(job, run.OldJob, e.opts.CPUs, subroutine))
		sum.SolverCommands++

		if run.HasPostScript() {
			script := strings.TrimSpace(run.PostScript)
			args, err := solver.PostProcessorArgs(script, job)
			if err != nil {
				return Script{}, fmt.Errorf("run %d: %w", run.Number, err)
			}
			command(e.opts.Command, e.opts.ScriptRuntime, []string{e.layout.SharedPath(script)}, args)
			sum.PostCommands++
		}
	}

	line("")
	comment("Summary: %d commands emitted (%d solver, %d post-processor), %d rows skipped",
		sum.SolverCommands+sum.PostCommands, sum.SolverCommands, sum.PostCommands, sum.Skipped)

	return Script{Name: e.opts.Dialect.ScriptName(), Text: b.String(), Summary: sum}, nil
}
