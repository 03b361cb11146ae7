package config

import (
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dshills/enginebridge/internal/progress"
)

// Validate checks the merged configuration and returns ValidationErrors
// listing every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Field: field, Message: msg, Value: value, Code: code})
	}

	switch c.Channel.Transport {
	case TransportStdio:
		if c.Engine.Executable == "" {
			add("engine.executable", "required for the stdio transport", nil, ErrCodeRequiredMissing)
		}
	case TransportTCP, TransportUnix:
		if c.Channel.Address == "" {
			add("channel.address", "required for the "+c.Channel.Transport+" transport", nil, ErrCodeRequiredMissing)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Channel.Address, "ws://") && !strings.HasPrefix(c.Channel.Address, "wss://") {
			add("channel.address", "must be a ws:// or wss:// URL", c.Channel.Address, ErrCodeInvalidEnum)
		}
	default:
		add("channel.transport", "must be one of stdio, tcp, unix, websocket", c.Channel.Transport, ErrCodeInvalidEnum)
	}
	if c.Channel.MaxFrameSize < 0 {
		add("channel.max_frame_size", "must not be negative", c.Channel.MaxFrameSize, ErrCodeOutOfRange)
	}

	if c.Engine.PackageDir != "" && c.Engine.PackageDirEnv == "" {
		add("engine.package_dir_env", "required when engine.package_dir is set", nil, ErrCodeRequiredMissing)
	}
	if c.Engine.MaxRestarts < 0 {
		add("engine.max_restarts", "must not be negative", c.Engine.MaxRestarts, ErrCodeOutOfRange)
	}
	if c.Engine.InitialBackoff.Duration <= 0 {
		add("engine.initial_backoff", "must be positive", c.Engine.InitialBackoff, ErrCodeOutOfRange)
	}
	if c.Engine.MaxBackoff.Duration < c.Engine.InitialBackoff.Duration {
		add("engine.max_backoff", "must not be less than engine.initial_backoff", c.Engine.MaxBackoff, ErrCodeOutOfRange)
	}

	if c.Terminal.QuietPeriod.Duration <= 0 {
		add("terminal.quiet_period", "must be positive", c.Terminal.QuietPeriod, ErrCodeOutOfRange)
	}

	if _, err := progress.ParseMode(c.Progress.Mode); err != nil {
		add("progress.mode", "must be status or notification", c.Progress.Mode, ErrCodeInvalidEnum)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "must be debug, info, warn, error or fatal", c.Log.Level, ErrCodeInvalidEnum)
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		add("log.format", "must be text, json or logfmt", c.Log.Format, ErrCodeInvalidEnum)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
