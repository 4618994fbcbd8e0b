package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gemini-kit/gk/pkg/config"
)

func TestShowConfigCmd(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	require.NoError(t, showConfigCmd(a, false, &out))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "info", decoded["log_level"])

	out.Reset()
	require.NoError(t, showConfigCmd(a, true, &out))
	assert.Contains(t, out.String(), "KEY")
	assert.Contains(t, out.String(), "session.max_depth")
	assert.Contains(t, out.String(), config.LayerDefault)
}

func TestGetConfigCmd(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	require.NoError(t, getConfigCmd(a, "session.max_depth", &out))
	assert.Equal(t, "5\n", out.String())

	out.Reset()
	require.NoError(t, getConfigCmd(a, "mmio.models", &out))
	assert.Contains(t, out.String(), "analyze: gemini-3-flash-preview")

	err := getConfigCmd(a, "no.such.key", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestSetConfigCmd(t *testing.T) {
	a := newTestApp(t)
	localFile := config.DefaultLayerPath(filepath.Join(a.projectRoot, ".gk"))

	t.Run("dry run leaves the file alone", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, setConfigCmd(a, "session.max_depth", "3", &ConfigSetConfig{DryRun: true}, &out))
		assert.Contains(t, out.String(), "+")
		assert.Contains(t, out.String(), "max_depth: 3")

		_, err := os.Stat(localFile)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("writes the local layer", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, setConfigCmd(a, "session.max_depth", "3", NewConfigSetConfig(), &out))

		b, err := loadAppAt(&GlobalConfig{ConfigDir: a.cfg.StateDir}, a.projectRoot)
		require.NoError(t, err)
		assert.Equal(t, 3, b.cfg.Session.MaxDepth)
		assert.Equal(t, config.LayerLocal, b.loaded.Origin("session.max_depth"))
	})

	t.Run("global flag writes the state directory", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, setConfigCmd(a, "notify.retries", "5", &ConfigSetConfig{Global: true}, &out))

		_, err := os.Stat(config.DefaultLayerPath(a.cfg.StateDir))
		require.NoError(t, err)
	})
}

func TestLeafKeys(t *testing.T) {
	m := map[string]any{
		"log_level": "info",
		"session": map[string]any{
			"max_depth": 5,
			"nested":    map[string]any{"deep": true},
		},
		"empty": map[string]any{},
	}
	assert.Equal(t, []string{"empty", "log_level", "session.max_depth", "session.nested.deep"}, leafKeys(m, ""))
}
