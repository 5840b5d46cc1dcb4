package command

import (
	"context"
	"fmt"
	"strings"

	"tyre-matrix/internal/matrix"
)

type ImportCommand struct {
	Meta
}

func (c *ImportCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix import -file=matrix.yaml [-project=id] [-config=path]

  Loads a YAML test matrix into the store. Rows are matched on project,
  protocol and run number; existing rows are updated in place.
`)
}

func (c *ImportCommand) Synopsis() string { return "Import a YAML test matrix" }

func (c *ImportCommand) Run(args []string) int {
	fs, configPath := c.flagSet("import")
	file := fs.String("file", "", "YAML matrix file")
	project := fs.String("project", "", "project id, overrides the file's")
	if err := fs.Parse(args); err != nil {
		return c.usage(err)
	}
	if err := requireFlags(map[string]string{"file": *file}); err != nil {
		return c.usage(err)
	}

	m, err := matrix.LoadFile(*file)
	if err != nil {
		return c.fail(err)
	}
	if *project != "" {
		m.ProjectID = *project
	}
	if m.ProjectID == "" {
		return c.usage(fmt.Errorf("the matrix file names no project; pass -project"))
	}

	svcCtx, _, err := c.services(*configPath)
	if err != nil {
		return c.fail(err)
	}
	if err := svcCtx.Store.ImportMatrix(context.Background(), m); err != nil {
		return c.fail(err)
	}
	c.Ui.Output(fmt.Sprintf("Imported %d rows into %s/%s.", len(m.Runs), m.ProjectID, m.Protocol))
	return 0
}
