package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/mitchellh/go-linereader"
)

// LineSink receives child output one tagged line at a time.
type LineSink interface {
	Line(tag, text string) error
}

type procResult struct {
	ExitCode   int
	StderrTail string
}

// spawn runs argv in dir, streams its output to the sink and blocks until it exits.
// A non-zero exit is reported through procResult, not as an error.
func (e *Executor) spawn(ctx context.Context, tag, dir string, argv []string) (procResult, error) {
	if len(argv) == 0 {
		return procResult{}, errors.New("empty command")
	}
	_ = e.sink.Line(tag, "$ "+strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = e.cfg.StopGrace

	tail, err := circbuf.NewBuffer(e.cfg.TailBytes)
	if err != nil {
		return procResult{}, err
	}
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = io.MultiWriter(errW, tail)

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, outR, e.sink, tag+":stdout")
	go streamLines(&wg, errR, e.sink, tag+":stderr")

	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		wg.Wait()
		return procResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	handle := e.registry.Register(tag, cmd.Process)
	started := time.Now()

	waitErr := cmd.Wait()
	e.registry.Unregister(handle)
	outW.Close()
	errW.Close()
	wg.Wait()

	res := procResult{StderrTail: strings.TrimSpace(string(tail.Bytes()))}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s cancelled: %w", tag, ctx.Err())
		}
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait %s: %w", argv[0], waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	_ = e.sink.Line(tag, fmt.Sprintf("exit code %d after %s", res.ExitCode, time.Since(started).Round(time.Millisecond)))
	return res, nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader, sink LineSink, tag string) {
	defer wg.Done()
	lr := linereader.New(r)
	for line := range lr.Ch {
		_ = sink.Line(tag, line)
	}
}
