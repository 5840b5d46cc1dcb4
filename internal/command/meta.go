// Package command implements the tyre-matrix subcommands.
package command

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/mitchellh/cli"
	"gorm.io/gorm"

	"tyre-matrix/internal/config"
	"tyre-matrix/internal/db"
	"tyre-matrix/internal/service"
)

// Meta is shared by every command.
type Meta struct {
	Ui cli.Ui
	// ConfigPath is used when a command is not given -config.
	ConfigPath string
	// LogOutput receives console logs; nil discards them.
	LogOutput io.Writer
	// OpenDB connects the store. Nil means MySQL through db.InitDB.
	OpenDB func(cfg *config.Config) (*gorm.DB, error)
}

// flagSet returns a flag set whose errors go to the Ui.
func (m *Meta) flagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", m.ConfigPath, "path to the yaml config file")
	return fs, path
}

// services loads the config and wires the service layer.
func (m *Meta) services(configPath string) (*service.ServiceContext, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	out := m.LogOutput
	if out == nil {
		out = io.Discard
	}
	logger, err := service.NewLogger(cfg.Log, out)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	open := m.OpenDB
	if open == nil {
		open = func(cfg *config.Config) (*gorm.DB, error) {
			if err := db.InitDB(cfg); err != nil {
				return nil, err
			}
			return db.DB, nil
		}
	}
	conn, err := open(cfg)
	if err != nil {
		return nil, nil, err
	}
	svcCtx, err := service.NewServiceContext(cfg, conn, logger)
	if err != nil {
		return nil, nil, err
	}
	return svcCtx, logger, nil
}

// fail reports err on the Ui and returns exit code 1.
func (m *Meta) fail(err error) int {
	m.Ui.Error(err.Error())
	return 1
}

// usage reports a flag problem and asks the CLI to print the command help.
func (m *Meta) usage(err error) int {
	m.Ui.Error(err.Error())
	return cli.RunResultHelp
}

func requireFlags(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
}
