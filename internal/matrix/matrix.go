// Package matrix holds the test-matrix row type shared by the resolver, the
// batch emitter and the Tydex codec.
package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// Sentinel is the placeholder written in matrix fields meaning "no dependency / no override".
const Sentinel = "-"

// IsNone reports whether a matrix field is blank or the sentinel.
func IsNone(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == Sentinel
}

// TestRun is one row of a test matrix.
type TestRun struct {
	Number int    `yaml:"number"`
	Job    string `yaml:"job"`
	OldJob string `yaml:"old_job"`

	// Scalar physical parameters. Nil means the row does not specify the value.
	Load        *float64 `yaml:"load"`        // N
	Pressure    *float64 `yaml:"pressure"`    // PSI
	Inclination *float64 `yaml:"inclination"` // deg
	SlipAngle   *float64 `yaml:"slip_angle"`  // deg
	SlipRatio   *float64 `yaml:"slip_ratio"`  // %
	Velocity    *float64 `yaml:"velocity"`    // km/h

	P string `yaml:"p"`
	L string `yaml:"l"`

	TydexTemplate string `yaml:"tydex_template"`
	TydexName     string `yaml:"tydex_name"`

	// Only set for protocols that compile a user subroutine or run a post-processor.
	Subroutine string `yaml:"subroutine"`
	PostScript string `yaml:"post_script"`
}

// HasJob reports whether the row names a runnable job.
func (r TestRun) HasJob() bool { return !IsNone(r.Job) }

// HasRestart reports whether the row restarts from a predecessor job.
func (r TestRun) HasRestart() bool { return !IsNone(r.OldJob) }

// HasSubroutine reports whether the row compiles a user subroutine.
func (r TestRun) HasSubroutine() bool { return !IsNone(r.Subroutine) }

// HasPostScript reports whether the row runs a post-processor after the solver.
func (r TestRun) HasPostScript() bool { return !IsNone(r.PostScript) }

// Cell is the (P, L) working-folder coordinate of the row.
func (r TestRun) Cell() Cell { return Cell{P: strings.TrimSpace(r.P), L: strings.TrimSpace(r.L)} }

// Cell addresses one matrix cell folder.
type Cell struct {
	P string
	L string
}

// Folder is the cell's directory name.
func (c Cell) Folder() string { return fmt.Sprintf("P%s_L%s", c.P, c.L) }

// Matrix is the set of rows for one project protocol.
type Matrix struct {
	ProjectID string
	Protocol  string
	Runs      []TestRun
}

// Sorted returns the rows ordered by run number. The receiver is not modified.
func (m Matrix) Sorted() []TestRun {
	out := make([]TestRun, len(m.Runs))
	copy(out, m.Runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ByJob returns the first row (in run-number order) whose job is name.
func (m Matrix) ByJob(name string) (TestRun, bool) {
	name = strings.TrimSpace(name)
	for _, r := range m.Sorted() {
		if strings.TrimSpace(r.Job) == name {
			return r, true
		}
	}
	return TestRun{}, false
}

// ByNumber returns the row with the given run number.
func (m Matrix) ByNumber(n int) (TestRun, bool) {
	for _, r := range m.Runs {
		if r.Number == n {
			return r, true
		}
	}
	return TestRun{}, false
}

// Float returns a pointer to v, for building rows in code.
func Float(v float64) *float64 { return &v }
