package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/enginebridge/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	rt, err := New(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	defer rt.Close()

	rt.Logger.Debug("hidden")
	Component(rt.Logger, "channel").Info("connected", "generation", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "connected", rec["msg"])
	assert.Equal(t, "abc", rec["generation"])
	assert.Contains(t, fmt.Sprint(rec["prefix"]), "channel")
	assert.Contains(t, rec, "time")
	assert.Empty(t, rt.Path())
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	rt, err := New(config.LogConfig{Level: "debug", Format: "logfmt", File: path}, nil)
	require.NoError(t, err)

	rt.Logger.Warn("engine restarting", "attempt", 2)
	require.NoError(t, rt.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine restarting")
	assert.Contains(t, string(data), "attempt=2")
	assert.Equal(t, path, rt.Path())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty"}, nil)
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Error("dropped")
		Component(nil, "x").Info("dropped")
	})
}
