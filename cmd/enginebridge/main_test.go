package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams(nil)
	require.NoError(t, err)
	assert.Len(t, params, 1)
	assert.Nil(t, params[0])

	params, err = parseParams([]string{`{"path":"a.lua"}`, `[1,2]`})
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.JSONEq(t, `{"path":"a.lua"}`, string(params[0]))

	_, err = parseParams([]string{`{"path":`})
	assert.ErrorContains(t, err, "params 1 is not valid JSON")
}

func TestFormatJSON(t *testing.T) {
	in := []byte(`{"a":1,"b":[true,null]}`)

	assert.Equal(t, `{"a":1,"b":[true,null]}`, string(formatJSON(in, true, false)))

	pretty := string(formatJSON(in, false, false))
	assert.Contains(t, pretty, "\n")
	assert.NotEqual(t, byte('\n'), pretty[len(pretty)-1])
	assert.JSONEq(t, string(in), pretty)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "enginebridge dev")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte("[channel]\ntransport = \"smoke-signal\"\n"), 0o600))

	assert.Equal(t, 1, run([]string{"status", "--config", path}))
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Equal(t, 1, run([]string{"no-such-command"}))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  executable: /bin/cat\n"), 0o600))

	flags := &globalFlags{configPath: path, logLevel: "debug", logFormat: "json"}
	cfg, err := flags.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/bin/cat", cfg.Engine.Executable)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	flags.logLevel = "chatty"
	_, err = flags.loadConfig()
	assert.Error(t, err)
}
