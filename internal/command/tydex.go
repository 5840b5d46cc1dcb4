package command

import (
	"context"
	"fmt"
	"strings"
)

type TydexCommand struct {
	Meta
}

func (c *TydexCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix tydex -project=id -protocol=name -run=N

  Renders the Tydex document of one run from its template, parameter file
  and channel extracts, and writes it into the run's cell folder.
`)
}

func (c *TydexCommand) Synopsis() string { return "Generate the Tydex document of a run" }

func (c *TydexCommand) Run(args []string) int {
	fs, configPath := c.flagSet("tydex")
	project := fs.String("project", "", "project id")
	protocol := fs.String("protocol", "", "protocol name")
	run := fs.Int("run", 0, "run number")
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
	doc, err := svcCtx.RunService.GenerateTydex(context.Background(), *project, *protocol, *run)
	if err != nil {
		return c.fail(err)
	}
	c.Ui.Output(fmt.Sprintf("Wrote %s (%d rows).", doc.Path, doc.Rows))
	if doc.Unresolved != "" {
		c.Ui.Warn("Channels left at template values: " + doc.Unresolved)
	}
	return 0
}
