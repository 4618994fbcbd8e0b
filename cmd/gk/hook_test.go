package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-kit/gk/pkg/hooks"
	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/session"
)

func runTestHook(t *testing.T, global *GlobalConfig, event string, payload any) *hooks.Response {
	t.Helper()
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(payload))

	var out bytes.Buffer
	runHook(context.Background(), global, event, &in, &out)

	var resp hooks.Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	return &resp
}

func TestRunHook(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(func() { logger.SetLogOutput(os.Stderr) })

	project := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(project, ".git"), 0o755))
	stateDir := t.TempDir()
	global := &GlobalConfig{ConfigDir: stateDir}
	ctx := context.Background()

	resp := runTestHook(t, global, "SessionStart", map[string]string{
		"session_id": "host-abc",
		"cwd":        project,
		"source":     "startup",
	})
	assert.True(t, resp.Continue)

	m := session.NewManager(stateDir)
	rec, err := m.ActiveSession(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, "host-abc", rec.HostSessionID)
	assert.Equal(t, session.StatusActive, rec.Status)

	resp = runTestHook(t, global, "subagent_start", map[string]string{
		"session_id": "host-abc",
		"cwd":        project,
		"agent_name": "reviewer",
	})
	assert.True(t, resp.Continue)

	rec, err = m.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, rec.Agents, 2)

	resp = runTestHook(t, global, "session_end", map[string]string{
		"session_id": "host-abc",
		"cwd":        project,
		"reason":     "exit",
	})
	assert.True(t, resp.Continue)

	rec, err = m.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, rec.Status)

	_, err = os.Stat(paths.LogFile(stateDir))
	assert.NoError(t, err)
}

func TestRunHookAlwaysContinues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(func() { logger.SetLogOutput(os.Stderr) })
	global := &GlobalConfig{ConfigDir: t.TempDir()}

	t.Run("unknown event", func(t *testing.T) {
		resp := runTestHook(t, global, "teleport", map[string]string{})
		assert.True(t, resp.Continue)
	})

	t.Run("unreadable payload", func(t *testing.T) {
		var out bytes.Buffer
		runHook(context.Background(), global, "notification", strings.NewReader("{not json"), &out)

		var resp hooks.Response
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.True(t, resp.Continue)
	})

	t.Run("invalid log level", func(t *testing.T) {
		var out bytes.Buffer
		broken := &GlobalConfig{ConfigDir: global.ConfigDir, LogLevel: "chatty"}
		runHook(context.Background(), broken, "notification", strings.NewReader("{}"), &out)
		assert.JSONEq(t, `{"continue":true}`, out.String())
	})
}
