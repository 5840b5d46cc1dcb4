package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"tyre-matrix/internal/service"
)

type ResolveCommand struct {
	Meta
}

func (c *ResolveCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix resolve -project=id -protocol=name (-run=N | -job=name | -all)

  Runs a job and its restart predecessors, predecessors first. With -all
  every runnable row of the protocol runs once. Interrupting the command
  terminates the running solver; finished jobs stay on disk.
`)
}

func (c *ResolveCommand) Synopsis() string { return "Run a job and its restart chain" }

func (c *ResolveCommand) Run(args []string) int {
	fs, configPath := c.flagSet("resolve")
	project := fs.String("project", "", "project id")
	protocol := fs.String("protocol", "", "protocol name")
	run := fs.Int("run", 0, "run number")
	job := fs.String("job", "", "job name, instead of -run")
	all := fs.Bool("all", false, "resolve every row of the protocol")
	if err := fs.Parse(args); err != nil {
		return c.usage(err)
	}
	if err := requireFlags(map[string]string{"project": *project, "protocol": *protocol}); err != nil {
		return c.usage(err)
	}
	if !*all && *run == 0 && *job == "" {
		return c.usage(errors.New("one of -run, -job or -all is required"))
	}

	svcCtx, _, err := c.services(*configPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var res *service.ResolveResult
	if *all {
		res, err = svcCtx.RunService.ResolveMatrix(ctx, *project, *protocol)
	} else {
		res, err = svcCtx.RunService.Resolve(ctx, service.ResolveRequest{
			ProjectID: *project, Protocol: *protocol, RunNumber: *run, JobName: *job,
		})
	}
	if res != nil {
		out, _ := json.MarshalIndent(res, "", "  ")
		c.Ui.Output(string(out))
	}
	if err != nil {
		return c.fail(fmt.Errorf("resolve failed: %w", err))
	}
	return 0
}
