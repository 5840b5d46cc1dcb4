package solver

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tyre-matrix/internal/matrix"
	"tyre-matrix/internal/workspace"
)

// SolverArgs builds the solver argument list for one job. oldJob and
// subroutine are omitted when blank or the sentinel.
func SolverArgs(job, oldJob string, cpus int, subroutine string) []string {
	args := []string{"job=" + job}
	if !matrix.IsNone(oldJob) {
		args = append(args, "oldjob="+strings.TrimSpace(oldJob))
	}
	args = append(args, "input="+filepath.Base(workspace.DeckPath("", job)))
	if cpus > 0 {
		args = append(args, "cpus="+strconv.Itoa(cpus))
	}
	args = append(args, "interactive")
	if !matrix.IsNone(subroutine) {
		args = append(args, "user="+filepath.Base(strings.TrimSpace(subroutine)))
	}
	return args
}

// ArgArtifact stands for the completed job's primary artifact in a calling convention.
const ArgArtifact = "{artifact}"

// conventions maps a post-processing script to the arguments it expects
// after its own path. Lookups never guess: an unlisted script is an error.
var conventions = map[string][]string{
	"deflection.py":           {ArgArtifact, "speed"},
	"od_growth.py":            {ArgArtifact},
	"extract_element_sets.py": {},
}

// PostProcessorArgs resolves the argument list for script run after job.
func PostProcessorArgs(script, job string) ([]string, error) {
	key := strings.ToLower(filepath.Base(strings.TrimSpace(script)))
	tmpl, ok := conventions[key]
	if !ok {
		return nil, &UnknownPostProcessorError{Script: script}
	}
	args := make([]string, 0, len(tmpl))
	for _, a := range tmpl {
		switch a {
		case ArgArtifact:
			args = append(args, workspace.ArtifactName(job))
		default:
			args = append(args, a)
		}
	}
	return args, nil
}

// KnownPostProcessors lists the scripts with a registered calling convention.
func KnownPostProcessors() []string {
	out := make([]string, 0, len(conventions))
	for k := range conventions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
