package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	stateDir := t.TempDir()

	loaded, err := Load(LoadOptions{StateDir: stateDir})
	require.NoError(t, err)

	cfg := loaded.Config
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, stateDir, cfg.StateDir)
	assert.Equal(t, 5, cfg.Session.MaxDepth)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Hooks.Timeout)
	assert.Equal(t, 15, cfg.MMIO.FileAPIThresholdMB)
	assert.Equal(t, "veo-3.1-generate-preview", cfg.MMIO.Models.Video)
	assert.Len(t, loaded.Layers, 1)
}

func TestLoadCascade(t *testing.T) {
	stateDir := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(stateDir, "config.yaml"), `
log_level: debug
session:
  max_depth: 3
  retention_days: 7
notify:
  enabled: true
  events: [session_end]
  discord:
    username: global-bot
`)
	writeFile(t, filepath.Join(project, ".gk", "config.json"), `{
  "session": {"max_depth": 2},
  "notify": {"discord": {"mention": "@here"}}
}`)

	loaded, err := Load(LoadOptions{StateDir: stateDir, ProjectRoot: project})
	require.NoError(t, err)

	cfg := loaded.Config
	assert.Equal(t, "debug", cfg.LogLevel, "global beats default")
	assert.Equal(t, 2, cfg.Session.MaxDepth, "local beats global")
	assert.Equal(t, 7, cfg.Session.RetentionDays, "sibling keys survive a partial override")
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, []string{"session_end"}, cfg.Notify.Events)
	assert.Equal(t, "global-bot", cfg.Notify.Discord.Username)
	assert.Equal(t, "@here", cfg.Notify.Discord.Mention)

	require.Len(t, loaded.Layers, 3)
	assert.Equal(t, []string{LayerDefault, LayerGlobal, LayerLocal},
		[]string{loaded.Layers[0].Name, loaded.Layers[1].Name, loaded.Layers[2].Name})

	assert.Equal(t, LayerLocal, loaded.Origin("session.max_depth"))
	assert.Equal(t, LayerGlobal, loaded.Origin("session.retention_days"))
	assert.Equal(t, LayerDefault, loaded.Origin("hooks.timeout"))
	assert.Equal(t, "", loaded.Origin("no.such.key"))
}

func TestLoadEnvironmentOverride(t *testing.T) {
	stateDir := t.TempDir()
	writeFile(t, filepath.Join(stateDir, "config.yaml"), "session:\n  max_depth: 3\n")

	t.Setenv("GK_SESSION_MAX_DEPTH", "9")
	t.Setenv("GK_NOTIFY_DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")

	loaded, err := Load(LoadOptions{StateDir: stateDir})
	require.NoError(t, err)

	assert.Equal(t, 9, loaded.Config.Session.MaxDepth)
	assert.Equal(t, "https://discord.com/api/webhooks/1/tok", loaded.Config.Notify.Discord.WebhookURL)
	assert.Equal(t, LayerEnv, loaded.Origin("session.max_depth"))

	v, ok := loaded.Get("session.max_depth")
	require.True(t, ok)
	assert.Equal(t, "9", v)
}

func TestLoadInvalidLayer(t *testing.T) {
	stateDir := t.TempDir()
	writeFile(t, filepath.Join(stateDir, "config.yaml"), "session: [unclosed\n")

	_, err := Load(LoadOptions{StateDir: stateDir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read global config")
}

func TestFindLayerFile(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", FindLayerFile(dir))
	assert.Equal(t, filepath.Join(dir, "config.yaml"), DefaultLayerPath(dir))

	writeFile(t, filepath.Join(dir, "config.toml"), "log_level = \"warn\"\n")
	assert.Equal(t, filepath.Join(dir, "config.toml"), FindLayerFile(dir))

	writeFile(t, filepath.Join(dir, "config.yml"), "log_level: warn\n")
	assert.Equal(t, filepath.Join(dir, "config.yml"), FindLayerFile(dir), "yaml spellings are preferred")
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "GK_NOTIFY_DISCORD_WEBHOOK_URL", EnvVar("notify.discord.webhook_url"))
	assert.Equal(t, "GK_LOG_LEVEL", EnvVar("log_level"))
}
