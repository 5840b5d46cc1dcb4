package service

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"tyre-matrix/internal/config"
)

// NewLogger builds the console logger from the log section of the config.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// teeLogger sends every record to the console logger and to the protocol's job log.
func teeLogger(console *slog.Logger, jobLog io.Writer) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		console.Handler(),
		slog.NewTextHandler(jobLog, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
}
