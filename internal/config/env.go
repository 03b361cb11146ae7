package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "ENGINEBRIDGE_"

// envEngineEnvPrefix adds entries to engine.env.
const envEngineEnvPrefix = EnvPrefix + "ENGINE_ENV_"

// envMapping maps variable names, without the prefix, to the setting they
// override.
var envMapping = map[string]func(c *Config) any{
	"ENGINE_EXECUTABLE":      func(c *Config) any { return &c.Engine.Executable },
	"ENGINE_ARGS":            func(c *Config) any { return &c.Engine.Args },
	"ENGINE_SCRIPTS_DIR":     func(c *Config) any { return &c.Engine.ScriptsDir },
	"ENGINE_ENTRY_SCRIPT":    func(c *Config) any { return &c.Engine.EntryScript },
	"ENGINE_HOME_DIR":        func(c *Config) any { return &c.Engine.HomeDir },
	"ENGINE_PACKAGE_DIR":     func(c *Config) any { return &c.Engine.PackageDir },
	"ENGINE_PACKAGE_DIR_ENV": func(c *Config) any { return &c.Engine.PackageDirEnv },
	"ENGINE_RESPAWN":         func(c *Config) any { return &c.Engine.Respawn },
	"ENGINE_MAX_RESTARTS":    func(c *Config) any { return &c.Engine.MaxRestarts },
	"ENGINE_INITIAL_BACKOFF": func(c *Config) any { return &c.Engine.InitialBackoff },
	"ENGINE_MAX_BACKOFF":     func(c *Config) any { return &c.Engine.MaxBackoff },

	"CHANNEL_TRANSPORT":      func(c *Config) any { return &c.Channel.Transport },
	"CHANNEL_ADDRESS":        func(c *Config) any { return &c.Channel.Address },
	"CHANNEL_MAX_FRAME_SIZE": func(c *Config) any { return &c.Channel.MaxFrameSize },

	"TERMINAL_QUIET_PERIOD":       func(c *Config) any { return &c.Terminal.QuietPeriod },
	"TERMINAL_SOFT_CLOSE_TIMEOUT": func(c *Config) any { return &c.Terminal.SoftCloseTimeout },
	"TERMINAL_SHOW_COMMAND":       func(c *Config) any { return &c.Terminal.ShowCommand },
	"TERMINAL_SHOW_DEFAULT_ERROR": func(c *Config) any { return &c.Terminal.ShowDefaultError },

	"PROGRESS_MODE": func(c *Config) any { return &c.Progress.Mode },

	"LOG_LEVEL":  func(c *Config) any { return &c.Log.Level },
	"LOG_FORMAT": func(c *Config) any { return &c.Log.Format },
	"LOG_FILE":   func(c *Config) any { return &c.Log.File },
}

// ApplyEnv overlays settings from environ, a list of KEY=VALUE entries
// as returned by os.Environ. Empty values count as set.
func (c *Config) ApplyEnv(environ []string) error {
	var errs ValidationErrors

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}

		if key, found := strings.CutPrefix(name, envEngineEnvPrefix); found && key != "" {
			if c.Engine.Env == nil {
				c.Engine.Env = make(map[string]string)
			}
			c.Engine.Env[key] = value
			continue
		}

		field, known := envMapping[strings.TrimPrefix(name, EnvPrefix)]
		if !known {
			continue
		}
		if err := assign(field(c), value); err != nil {
			errs = append(errs, &ValidationError{
				Field:   envToPath(name),
				Message: fmt.Sprintf("from %s: %v", name, err),
				Value:   value,
				Code:    ErrCodeTypeMismatch,
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// envToPath converts ENGINEBRIDGE_TERMINAL_QUIET_PERIOD to
// terminal.quiet_period.
func envToPath(name string) string {
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, key, ok := strings.Cut(rest, "_")
	if !ok {
		return rest
	}
	return section + "." + key
}

func assign(target any, raw string) error {
	switch p := target.(type) {
	case *string:
		*p = raw
	case *bool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		*p = v
	case *int:
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		*p = v
	case *Duration:
		return p.UnmarshalText([]byte(strings.TrimSpace(raw)))
	case *[]string:
		*p = strings.Fields(raw)
	default:
		return fmt.Errorf("unsupported setting type %T", target)
	}
	return nil
}
