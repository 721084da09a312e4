// Package logger provides structured logging initialization for keepalive.
// It configures log/slog from LoggingConfig, supporting JSON and text output,
// configurable levels and stdout, stderr or file destinations.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"keepalive/internal/models"
	"keepalive/internal/version"
)

// Setup creates a structured logger for the given LoggingConfig. Every record
// carries the build version and the instance ID, so runs from different
// runners can be told apart in aggregated logs.
//
// The returned io.Closer is non-nil only for file output and must be closed by the caller.
func Setup(cfg models.LoggingConfig, ver version.Info) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, closer, err := openWriter(cfg.Output, cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	return New(writer, cfg.Format, level, ver), closer, nil
}

// New builds a logger writing to w. Any format other than "json" yields text.
func New(w io.Writer, format string, level slog.Level, ver version.Info) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", "keepalive"),
		slog.String("version", ver.Version),
		slog.String("git_commit", ver.GitCommit),
		slog.String("instance_id", ver.InstanceID),
	)
}

// secretKeys are attribute names whose values never reach the log.
var secretKeys = map[string]bool{
	"token":         true,
	"api_key":       true,
	"authorization": true,
	"private_key":   true,
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.String() != "" {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// Discard returns a logger that drops every record. Used where a component
// is constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// parseLevel converts a level string to an slog.Level.
// Supported values: debug, info, warn, error (case-insensitive).
func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", level)
	}
}

// openWriter returns the io.Writer for the configured output.
// For file output the file is also the closer. For stdout/stderr closer is nil.
func openWriter(output, filePath string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if filePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}
