package tydex

import "fmt"

// TemplateNotFoundError is returned when a run names a Tydex template the store does not hold.
type TemplateNotFoundError struct {
	Template string
	Path     string
}

func (e *TemplateNotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("tydex template %q not found", e.Template)
	}
	return fmt.Sprintf("tydex template %q not found at %s", e.Template, e.Path)
}

// ChannelSourceNotFoundError is returned for a declared channel that has no
// source binding and is not the measurement-number pseudo-channel.
type ChannelSourceNotFoundError struct {
	Channel string
}

func (e *ChannelSourceNotFoundError) Error() string {
	return fmt.Sprintf("no source bound to tydex channel %s", e.Channel)
}

// ParameterFileUnreadableError is returned when the per-cell parameter file
// is missing or one of its assignments cannot be evaluated.
type ParameterFileUnreadableError struct {
	Path string
	Err  error
}

func (e *ParameterFileUnreadableError) Error() string {
	return fmt.Sprintf("parameter file %s unreadable: %v", e.Path, e.Err)
}

func (e *ParameterFileUnreadableError) Unwrap() error { return e.Err }
