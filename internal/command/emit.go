package command

import (
	"context"
	"fmt"
	"strings"
)

type EmitCommand struct {
	Meta
}

func (c *EmitCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix emit -project=id -protocol=name [-print]

  Writes a batch script that runs the whole matrix unattended into the
  protocol folder. The dialect (sh or cmd) comes from the config.
`)
}

func (c *EmitCommand) Synopsis() string { return "Write the batch script for a matrix" }

func (c *EmitCommand) Run(args []string) int {
	fs, configPath := c.flagSet("emit")
	project := fs.String("project", "", "project id")
	protocol := fs.String("protocol", "", "protocol name")
	show := fs.Bool("print", false, "also print the script")
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
	script, path, err := svcCtx.RunService.EmitBatch(context.Background(), *project, *protocol)
	if err != nil {
		return c.fail(err)
	}
	if *show {
		c.Ui.Output(script.Text)
	}
	c.Ui.Output(fmt.Sprintf("Wrote %s: %d solver and %d post-processor commands, %d rows skipped.",
		path, script.Summary.SolverCommands, script.Summary.PostCommands, script.Summary.Skipped))
	return 0
}
