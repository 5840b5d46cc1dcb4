package solver

import "fmt"

// SolverFailedError is returned when the solver exits non-zero.
type SolverFailedError struct {
	Job        string
	ExitCode   int
	StderrTail string
}

func (e *SolverFailedError) Error() string {
	msg := fmt.Sprintf("solver failed for job %s with exit code %d", e.Job, e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

// PostProcessorFailedError is returned when a post-processing script exits non-zero.
type PostProcessorFailedError struct {
	Job        string
	Script     string
	ExitCode   int
	StderrTail string
}

func (e *PostProcessorFailedError) Error() string {
	msg := fmt.Sprintf("post-processor %s failed for job %s with exit code %d", e.Script, e.Job, e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

// UnknownPostProcessorError is returned for a script with no calling convention.
type UnknownPostProcessorError struct {
	Script string
}

func (e *UnknownPostProcessorError) Error() string {
	return fmt.Sprintf("no calling convention registered for post-processor %q", e.Script)
}
