// Package config loads the bridge configuration.
//
// Configuration is layered, with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← ENGINEBRIDGE_*, highest priority
//	├─────────────────────────────┤
//	│  2. Config File             │  ← TOML or YAML, chosen by extension
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The merged result is validated before it is returned.
//
// # Basic Usage
//
//	cfg, err := config.Load("enginebridge.toml")
//	if err != nil {
//	    return err
//	}
//	cmd := cfg.Engine.Command()
//
// # Environment Variables
//
// Every scalar setting has a variable named after its section and key:
//
//	ENGINEBRIDGE_ENGINE_EXECUTABLE=/usr/local/bin/engine
//	ENGINEBRIDGE_TERMINAL_QUIET_PERIOD=500ms
//	ENGINEBRIDGE_LOG_LEVEL=debug
//
// Variables named ENGINEBRIDGE_ENGINE_ENV_<NAME> add NAME to the engine's
// environment.
//
// # Live Reload
//
// A Watcher reloads the file when it changes. Bursts of file system events
// (editors often write, rename and chmod in quick succession) are coalesced
// into one reload.
package config
