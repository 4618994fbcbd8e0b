package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-kit/gk/pkg/envfile"
	"github.com/gemini-kit/gk/pkg/notify"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/session"
)

type captureNotifier struct {
	events []notify.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) error {
	c.events = append(c.events, e)
	return c.err
}

type handlerFixture struct {
	handler  *Handler
	sessions *session.Manager
	notifier *captureNotifier
	state    string
	project  string
	envFile  string
}

func newHandlerFixture(t *testing.T, hooks HookManager) *handlerFixture {
	t.Helper()
	state := t.TempDir()
	project := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(project, ".git"), 0o755))

	sessions := session.NewManager(state, session.WithProcessChecker(func(int) bool { return false }))
	n := &captureNotifier{}
	envFile := filepath.Join(t.TempDir(), "host.env")

	h := NewHandler(HandlerOptions{
		Sessions:  sessions,
		Notifier:  n,
		UserHooks: hooks,
		StateDir:  state,
		EnvFile:   envFile,
		Skills:    func() []string { return []string{"mmio", "review"} },
		HostPID:   func() int { return 999 },
	})
	return &handlerFixture{handler: h, sessions: sessions, notifier: n, state: state, project: project, envFile: envFile}
}

func (f *handlerFixture) handle(t *testing.T, event Event, p Payload) *Response {
	t.Helper()
	resp, err := f.handler.Handle(context.Background(), event, &p)
	require.NoError(t, err)
	require.True(t, resp.Continue)
	return resp
}

func (f *handlerFixture) handoff(t *testing.T) map[string]string {
	t.Helper()
	hash, err := paths.ProjectHash(f.project)
	require.NoError(t, err)
	vars, err := envfile.NewHandoff(paths.HandoffFile(f.state, hash)).Read()
	require.NoError(t, err)
	return vars
}

func TestHandlerSessionLifecycle(t *testing.T) {
	f := newHandlerFixture(t, HookManager{})
	sub := filepath.Join(f.project, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	resp := f.handle(t, EventSessionStart, Payload{SessionID: "s1", CWD: sub, Source: "startup", HookEventName: "SessionStart"})
	require.NotNil(t, resp.HookSpecificOutput)
	assert.Equal(t, "SessionStart", resp.HookSpecificOutput.HookEventName)
	assert.Contains(t, resp.HookSpecificOutput.AdditionalContext, "-s1 is active")
	assert.Contains(t, resp.HookSpecificOutput.AdditionalContext, "Available skills: mmio, review.")

	vars := f.handoff(t)
	sessionID := vars[envfile.VarSessionID]
	assert.Contains(t, sessionID, "-s1")
	assert.Equal(t, "s1", vars[envfile.VarHostSessionID])
	assert.Equal(t, session.MainAgentID, vars[envfile.VarAgentID])

	exported, err := os.ReadFile(f.envFile)
	require.NoError(t, err)
	assert.Contains(t, string(exported), `export GK_SESSION_ID="`+sessionID+`"`)

	rec, err := f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 999, rec.HostPID)

	f.handle(t, EventSubagentStart, Payload{SessionID: "s1", CWD: f.project, AgentName: "tester", Prompt: "run the tests"})
	agentID := f.handoff(t)[envfile.VarAgentID]
	assert.NotEqual(t, session.MainAgentID, agentID)

	f.handle(t, EventSubagentStop, Payload{SessionID: "s1", CWD: f.project, AgentName: "tester", Result: "3 failures", Status: "failed"})
	assert.Equal(t, session.MainAgentID, f.handoff(t)[envfile.VarAgentID])

	rec, err = f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.AgentFailed, rec.Agents[agentID].Status)
	assert.Equal(t, "3 failures", rec.Agents[agentID].Result)

	f.handle(t, EventSessionEnd, Payload{SessionID: "s1", CWD: f.project, Reason: "logout"})
	rec, err = f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, rec.Status)
	assert.Equal(t, "logout", rec.EndReason)
	assert.Empty(t, f.handoff(t))

	types := make([]string, 0, len(f.notifier.events))
	for _, e := range f.notifier.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"session_start", "subagent_start", "subagent_stop", "session_end"}, types)

	stop := f.notifier.events[2]
	assert.Equal(t, "tester", stop.Agent)
	assert.Equal(t, "failed", stop.Status)
	assert.Equal(t, "3 failures", stop.Message)
	assert.Equal(t, sessionID, stop.SessionID)

	end := f.notifier.events[3]
	assert.Equal(t, "ended", end.Status)
	assert.Equal(t, "logout", end.Message)
}

func TestHandlerUsesHandoffWithoutSessionID(t *testing.T) {
	f := newHandlerFixture(t, HookManager{})
	f.handle(t, EventSessionStart, Payload{SessionID: "s1", CWD: f.project})

	f.handle(t, EventSubagentStart, Payload{CWD: f.project, AgentName: "helper"})
	rec, err := f.sessions.ActiveSession(context.Background(), f.project)
	require.NoError(t, err)
	assert.Len(t, rec.Agents, 2)

	f.handle(t, EventSessionEnd, Payload{CWD: f.project})
	_, err = f.sessions.ActiveSession(context.Background(), f.project)
	assert.True(t, errors.Is(err, session.ErrNoActiveSession))
}

func TestHandlerStartsMissingSession(t *testing.T) {
	f := newHandlerFixture(t, HookManager{})
	f.handle(t, EventBeforeAgent, Payload{SessionID: "late", CWD: f.project})

	rec, err := f.sessions.ActiveSession(context.Background(), f.project)
	require.NoError(t, err)
	assert.Equal(t, "late", rec.HostSessionID)
}

func TestHandlerNotificationOutsideSession(t *testing.T) {
	f := newHandlerFixture(t, HookManager{})
	resp := f.handle(t, EventNotification, Payload{CWD: f.project, Message: "needs input"})
	assert.Nil(t, resp.HookSpecificOutput)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "needs input", f.notifier.events[0].Message)
	assert.Empty(t, f.notifier.events[0].SessionID)
}

func TestHandlerErrorsStillContinue(t *testing.T) {
	f := newHandlerFixture(t, HookManager{})
	f.notifier.err = errors.New("discord down")

	resp, err := f.handler.Handle(context.Background(), EventSubagentStop, &Payload{SessionID: "nope", CWD: f.project})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply subagent_stop")
	assert.Contains(t, err.Error(), "discord down")
	require.NotNil(t, resp)
	assert.True(t, resp.Continue)
}

func TestHandlerRunsUserHooks(t *testing.T) {
	dir := t.TempDir()
	captured := filepath.Join(dir, "payload.json")
	writeHook(t, dir, "ctx", "subagent_start", "cat > "+captured+"\necho '{\"additionalContext\":\"remember the style guide\",\"systemMessage\":\"audited\"}'")
	hooks, err := NewHookManager(WithHookDirs(dir))
	require.NoError(t, err)

	f := newHandlerFixture(t, hooks)
	f.handle(t, EventSessionStart, Payload{SessionID: "s1", CWD: f.project})
	resp := f.handle(t, EventSubagentStart, Payload{SessionID: "s1", CWD: f.project, AgentName: "writer", HookEventName: "SubagentStart"})

	require.NotNil(t, resp.HookSpecificOutput)
	assert.Equal(t, "SubagentStart", resp.HookSpecificOutput.HookEventName)
	assert.Equal(t, "remember the style guide", resp.HookSpecificOutput.AdditionalContext)
	assert.Equal(t, "audited", resp.SystemMessage)

	data, err := os.ReadFile(captured)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"subagent_start"`)
	assert.Contains(t, string(data), `"invoked_by":"subagent"`)
	assert.Contains(t, string(data), `"agent_name":"writer"`)
}

func TestAgentStatus(t *testing.T) {
	assert.Equal(t, session.AgentFailed, agentStatus("ERROR"))
	assert.Equal(t, session.AgentInterrupted, agentStatus("cancelled"))
	assert.Equal(t, session.AgentCompleted, agentStatus(""))
	assert.Equal(t, session.AgentCompleted, agentStatus("success"))
}
