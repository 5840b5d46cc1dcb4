// Package joblog implements the append-only job log that solver output is
// streamed into, and the read-only tail used to follow it.
package joblog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Sink appends tagged lines to a log file. It is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	now  func() time.Time
}

// Open prepares a sink at path, creating the parent folder if needed.
func Open(fsys afero.Fs, path string) (*Sink, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log folder: %w", err)
	}
	return &Sink{fs: fsys, path: path, now: time.Now}, nil
}

// Path returns the file the sink appends to.
func (s *Sink) Path() string { return s.path }

// Line appends one line tagged with tag. Embedded newlines are flattened.
func (s *Sink) Line(tag, text string) error {
	text = strings.TrimRight(text, "\r\n")
	text = strings.ReplaceAll(text, "\n", " ")
	line := fmt.Sprintf("%s [%s] %s\n", s.now().Format(time.RFC3339), tag, text)
	_, err := s.append([]byte(line))
	return err
}

// Write appends p verbatim, so the sink can back a slog handler.
func (s *Sink) Write(p []byte) (int, error) {
	return s.append(p)
}

func (s *Sink) append(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
