package solver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Handle is one live child process tracked by a Registry.
type Handle struct {
	ID      uuid.UUID
	Tag     string
	Pid     int
	Started time.Time

	process *os.Process
	done    chan struct{}
}

// Done is closed once the process has exited and been unregistered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Registry tracks every spawned child so that they can be stopped together.
// Handles are added right after spawn and removed right after exit.
type Registry struct {
	mu    sync.Mutex
	procs map[uuid.UUID]*Handle
}

func NewRegistry() *Registry {
	return &Registry{procs: map[uuid.UUID]*Handle{}}
}

// Register records a started process.
func (r *Registry) Register(tag string, p *os.Process) *Handle {
	h := &Handle{
		ID:      uuid.New(),
		Tag:     tag,
		Pid:     p.Pid,
		Started: time.Now(),
		process: p,
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.procs[h.ID] = h
	r.mu.Unlock()
	return h
}

// Unregister drops a handle after its process exited.
func (r *Registry) Unregister(h *Handle) {
	r.mu.Lock()
	_, ok := r.procs[h.ID]
	delete(r.procs, h.ID)
	r.mu.Unlock()
	if ok {
		close(h.done)
	}
}

// Live returns a snapshot of the registered handles, oldest first.
func (r *Registry) Live() []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.procs))
	for _, h := range r.procs {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// StopAll asks every live process to terminate, then kills whatever is
// still running after grace. It returns the number of processes signalled.
// Nothing that already finished is touched.
func (r *Registry) StopAll(ctx context.Context, grace time.Duration) (int, error) {
	handles := r.Live()
	var result *multierror.Error

	for _, h := range handles {
		if err := terminate(h.process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("terminate %s (pid %d): %w", h.Tag, h.Pid, err))
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	expired := false
	for _, h := range handles {
		if !expired {
			select {
			case <-h.done:
				continue
			case <-timer.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		select {
		case <-h.done:
			continue
		default:
		}
		if err := kill(h.process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("kill %s (pid %d): %w", h.Tag, h.Pid, err))
		}
	}
	return len(handles), result.ErrorOrNil()
}
