// Package logging builds the structured loggers used across the bridge.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/enginebridge/internal/config"
)

// Runtime is the process-wide logger and the file behind it, if any.
type Runtime struct {
	Logger *log.Logger
	file   *os.File
	path   string
}

// New builds a logger from cfg. Output goes to cfg.File when set and to w
// otherwise.
func New(cfg config.LogConfig, w io.Writer) (*Runtime, error) {
	level, err := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	formatter, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	r := &Runtime{}
	out := w
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		// #nosec G304 -- the path comes from the user's own configuration.
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		r.file, r.path = file, cfg.File
		out = file
	}
	if out == nil {
		out = os.Stderr
	}

	r.Logger = log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})

	if r.path != "" {
		r.Logger.Debug("logger initialized", "log_file", r.path)
	}
	return r, nil
}

// Close closes the log file, if any.
func (r *Runtime) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the log file path, or "" when logging to a writer.
func (r *Runtime) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Component returns a child logger labelled with a component name.
func Component(logger *log.Logger, name string) *log.Logger {
	if logger == nil {
		return Discard()
	}
	return logger.WithPrefix(name)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}
