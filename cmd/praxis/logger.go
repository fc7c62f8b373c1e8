package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/praxisworks/praxis/pkg/config"
)

// initLogger installs the global slog handler.
// Priority: CLI flags > environment variables > config file > defaults.
func initLogger(cli *CLI, cfg config.LoggerConfig) (func(), error) {
	level := firstNonEmpty(cli.LogLevel, os.Getenv("LOG_LEVEL"), cfg.Level)
	file := firstNonEmpty(cli.LogFile, os.Getenv("LOG_FILE"), cfg.File)
	format := firstNonEmpty(cli.LogFormat, os.Getenv("LOG_FORMAT"), cfg.Format)

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	var out io.Writer = os.Stderr
	cleanup := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", file, err)
		}
		out = f
		cleanup = func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
