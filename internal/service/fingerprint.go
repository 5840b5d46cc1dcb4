package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"tyre-matrix/internal/jobgraph"
)

// ErrDuplicateTrigger is returned when an identical request is still in flight.
var ErrDuplicateTrigger = errors.New("an identical request is already running")

// fingerprint hashes the identifying fields of a trigger.
func fingerprint(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x00")))
	return hex.EncodeToString(sum[:])
}

// inflight admits at most one holder per key. A request claims its own
// fingerprint together with every job it is about to run, so overlapping
// requests are rejected before either spawns anything.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: map[string]struct{}{}}
}

// acquire claims all keys or none and returns the release func, or
// ErrDuplicateTrigger when any key is already held.
func (f *inflight) acquire(keys ...string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		if _, ok := f.keys[key]; ok {
			return nil, ErrDuplicateTrigger
		}
	}
	for _, key := range keys {
		f.keys[key] = struct{}{}
	}
	return func() {
		f.mu.Lock()
		for _, key := range keys {
			delete(f.keys, key)
		}
		f.mu.Unlock()
	}, nil
}

func jobKeys(nodes []*jobgraph.JobNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, "job:"+n.Key())
	}
	return out
}
