package config

import (
	"path/filepath"
	"time"

	"github.com/dshills/enginebridge/internal/integration/process"
)

// Config is the complete bridge configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Channel  ChannelConfig  `toml:"channel" yaml:"channel"`
	Terminal TerminalConfig `toml:"terminal" yaml:"terminal"`
	Progress ProgressConfig `toml:"progress" yaml:"progress"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// EngineConfig describes how the engine process is started and restarted.
type EngineConfig struct {
	// Executable is the engine interpreter or binary.
	Executable string `toml:"executable" yaml:"executable"`

	// Args are passed before the entry script.
	Args []string `toml:"args" yaml:"args"`

	// ScriptsDir is the working directory and the base for EntryScript.
	ScriptsDir string `toml:"scripts_dir" yaml:"scripts_dir"`

	// EntryScript is the bundled script the engine runs.
	EntryScript string `toml:"entry_script" yaml:"entry_script"`

	// HomeDir overrides HOME for the engine.
	HomeDir string `toml:"home_dir" yaml:"home_dir"`

	// PackageDir is exported under PackageDirEnv.
	PackageDir    string `toml:"package_dir" yaml:"package_dir"`
	PackageDirEnv string `toml:"package_dir_env" yaml:"package_dir_env"`

	// Env holds extra environment overrides.
	Env map[string]string `toml:"env" yaml:"env"`

	// Respawn restarts the engine eagerly after an unexpected exit.
	Respawn        bool     `toml:"respawn" yaml:"respawn"`
	MaxRestarts    int      `toml:"max_restarts" yaml:"max_restarts"`
	InitialBackoff Duration `toml:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff" yaml:"max_backoff"`
}

// Command builds the spawn command for the engine.
func (e EngineConfig) Command() process.Command {
	args := append([]string(nil), e.Args...)
	if e.EntryScript != "" {
		script := e.EntryScript
		if e.ScriptsDir != "" && !filepath.IsAbs(script) {
			script = filepath.Join(e.ScriptsDir, script)
		}
		args = append(args, script)
	}

	env := make(map[string]string, len(e.Env)+2)
	for k, v := range e.Env {
		env[k] = v
	}
	if e.HomeDir != "" {
		env["HOME"] = e.HomeDir
	}
	if e.PackageDir != "" && e.PackageDirEnv != "" {
		env[e.PackageDirEnv] = e.PackageDir
	}

	return process.Command{
		Path: e.Executable,
		Args: args,
		Dir:  e.ScriptsDir,
		Env:  env,
	}
}

// Transport names.
const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportUnix      = "unix"
	TransportWebSocket = "websocket"
)

// ChannelConfig selects how the request channel reaches the engine.
type ChannelConfig struct {
	// Transport is stdio, tcp, unix or websocket. With stdio the bridge
	// spawns the engine itself.
	Transport string `toml:"transport" yaml:"transport"`

	// Address is the host:port, socket path or ws:// URL for the other
	// transports.
	Address string `toml:"address" yaml:"address"`

	// MaxFrameSize bounds a single buffered envelope in bytes.
	MaxFrameSize int `toml:"max_frame_size" yaml:"max_frame_size"`
}

// TerminalConfig tunes the pseudo-terminal adapter.
type TerminalConfig struct {
	QuietPeriod      Duration `toml:"quiet_period" yaml:"quiet_period"`
	SoftCloseTimeout Duration `toml:"soft_close_timeout" yaml:"soft_close_timeout"`
	ShowCommand      bool     `toml:"show_command" yaml:"show_command"`
	ShowDefaultError bool     `toml:"show_default_error" yaml:"show_default_error"`
}

// ProgressConfig selects the progress presentation.
type ProgressConfig struct {
	// Mode is "status" or "notification".
	Mode string `toml:"mode" yaml:"mode"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" yaml:"format"`

	// File receives log output instead of stderr when set.
	File string `toml:"file" yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PackageDirEnv:  "ENGINE_PACKAGE_DIR",
			MaxRestarts:    5,
			InitialBackoff: Dur(500 * time.Millisecond),
			MaxBackoff:     Dur(30 * time.Second),
		},
		Channel: ChannelConfig{
			Transport:    TransportStdio,
			MaxFrameSize: 16 << 20,
		},
		Terminal: TerminalConfig{
			QuietPeriod:      Dur(250 * time.Millisecond),
			SoftCloseTimeout: Dur(30 * time.Second),
			ShowDefaultError: true,
		},
		Progress: ProgressConfig{
			Mode: "status",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
