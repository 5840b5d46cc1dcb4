package main

import (
	"os"

	"github.com/mitchellh/cli"

	"tyre-matrix/internal/command"
)

const version = "0.1.0"

func main() {
	meta := command.Meta{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		ConfigPath: "config/config.yaml",
		LogOutput:  os.Stderr,
	}

	c := cli.NewCLI("tyre-matrix", version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"serve":   func() (cli.Command, error) { return &command.ServeCommand{Meta: meta}, nil },
		"import":  func() (cli.Command, error) { return &command.ImportCommand{Meta: meta}, nil },
		"resolve": func() (cli.Command, error) { return &command.ResolveCommand{Meta: meta}, nil },
		"emit":    func() (cli.Command, error) { return &command.EmitCommand{Meta: meta}, nil },
		"tydex":   func() (cli.Command, error) { return &command.TydexCommand{Meta: meta}, nil },
		"logs":    func() (cli.Command, error) { return &command.LogsCommand{Meta: meta}, nil },
	}

	code, err := c.Run()
	if err != nil {
		meta.Ui.Error(err.Error())
	}
	os.Exit(code)
}
