package command

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tyre-matrix/internal/joblog"
)

type LogsCommand struct {
	Meta
}

func (c *LogsCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix logs -project=id -protocol=name [-follow] [-offset=N]

  Prints the protocol's job log. With -follow it keeps polling for new
  output until interrupted.
`)
}

func (c *LogsCommand) Synopsis() string { return "Print or follow a protocol's job log" }

func (c *LogsCommand) Run(args []string) int {
	fs, configPath := c.flagSet("logs")
	project := fs.String("project", "", "project id")
	protocol := fs.String("protocol", "", "protocol name")
	follow := fs.Bool("follow", false, "keep polling for new output")
	offset := fs.Int64("offset", 0, "byte offset to start from")
	interval := fs.Duration("interval", time.Second, "poll interval with -follow")
	if err := fs.Parse(args); err != nil {
		return c.usage(err)
	}
	if err := requireFlags(map[string]string{"project": *project, "protocol": *protocol}); err != nil {
		return c.usage(err)
	}

	svcCtx, _, err := c.services(*configPath)
	if err != nil {
		return c.fail(err)
	}
	show := func(data []byte) {
		c.Ui.Output(strings.TrimRight(string(data), "\n"))
	}

	if !*follow {
		data, _, err := svcCtx.RunService.TailLog(*project, *protocol, *offset)
		if err != nil {
			return c.fail(err)
		}
		if len(data) > 0 {
			show(data)
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	path := svcCtx.Layout.LogPath(*project, *protocol)
	if err := joblog.Follow(ctx, svcCtx.Layout.Fs, path, *offset, *interval, show); err != nil {
		return c.fail(err)
	}
	return 0
}
