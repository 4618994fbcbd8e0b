package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-kit/gk/pkg/paths"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so records get distinct timestamps.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	mgr     *Manager
	clock   *testClock
	project string
	state   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := newTestClock()
	state := t.TempDir()
	base := []Option{
		WithClock(clock.Now),
		WithProcessChecker(func(int) bool { return false }),
	}
	return &fixture{
		mgr:     NewManager(state, append(base, opts...)...),
		clock:   clock,
		project: t.TempDir(),
		state:   state,
	}
}

func (f *fixture) start(t *testing.T, hostID string) *StartResult {
	t.Helper()
	res, err := f.mgr.StartSession(context.Background(), StartOptions{
		ProjectPath:   f.project,
		HostSessionID: hostID,
		Source:        SourceStartup,
		PID:           4242,
	})
	require.NoError(t, err)
	return res
}

func TestStartSessionCreates(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "host-1")

	hash, err := paths.ProjectHash(f.project)
	require.NoError(t, err)

	assert.False(t, res.Resumed)
	assert.Equal(t, hash[:8]+"-host-1", res.Session.ID)
	assert.Equal(t, "host-1", res.Session.HostSessionID)
	assert.Equal(t, hash, res.Session.ProjectID)
	assert.Equal(t, StatusActive, res.Session.Status)
	assert.Equal(t, 4242, res.Session.HostPID)

	root := res.Session.Root()
	require.NotNil(t, root)
	assert.Equal(t, MainAgentID, root.ID)
	assert.Equal(t, KindMain, root.Kind)
	assert.Equal(t, AgentRunning, root.Status)

	assert.Equal(t, hash, res.Project.ID)
	assert.Equal(t, res.Session.ID, res.Project.ActiveSessionID)
	assert.Equal(t, []string{res.Session.ID}, res.Project.SessionIDs)
}

func TestStartSessionWithoutHostID(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "")

	_, host, err := ParseCompositeID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, host, res.Session.HostSessionID)
}

func TestStartSessionRejectsUnsafeHostID(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.StartSession(context.Background(), StartOptions{ProjectPath: f.project, HostSessionID: "../etc"})
	assert.True(t, errors.Is(err, ErrInvalidSessionID))
}

func TestStartSessionResumeReconciles(t *testing.T) {
	f := newFixture(t, WithProcessChecker(func(pid int) bool { return pid == 222 }))
	ctx := context.Background()
	first := f.start(t, "host-1")
	id := first.Session.ID

	dead, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "researcher", PID: 111})
	require.NoError(t, err)
	alive, err := f.mgr.StartAgent(ctx, id, AgentStart{ParentID: MainAgentID, Name: "reviewer", PID: 222})
	require.NoError(t, err)

	res, err := f.mgr.StartSession(ctx, StartOptions{ProjectPath: f.project, HostSessionID: "host-1", Source: SourceResume, PID: 5000})
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	assert.Equal(t, 1, res.Session.ResumeCount)
	assert.Equal(t, SourceResume, res.Session.Source)
	assert.Equal(t, 5000, res.Session.HostPID)
	assert.Equal(t, []string{id}, res.Project.SessionIDs)

	assert.Equal(t, AgentRunning, res.Session.Root().Status)
	assert.Equal(t, AgentInterrupted, res.Session.Agents[dead.ID].Status)
	assert.NotNil(t, res.Session.Agents[dead.ID].EndedAt)
	assert.Equal(t, AgentRunning, res.Session.Agents[alive.ID].Status)
	assert.Nil(t, res.Session.Agents[alive.ID].EndedAt)
}

func TestResumeAfterEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.start(t, "host-1")

	_, err := f.mgr.EndSession(ctx, first.Session.ID, "exit")
	require.NoError(t, err)

	res, err := f.mgr.Resume(ctx, first.Session.ID, 7)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, StatusActive, res.Session.Status)
	assert.Nil(t, res.Session.EndedAt)
	assert.Empty(t, res.Session.EndReason)
	assert.Equal(t, AgentRunning, res.Session.Root().Status)
	assert.Nil(t, res.Session.Root().EndedAt)
	assert.Equal(t, first.Session.ID, res.Project.ActiveSessionID)
}

func TestStartSessionInterruptsAbandonedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.start(t, "old")
	_, err := f.mgr.StartAgent(ctx, old.Session.ID, AgentStart{Name: "worker"})
	require.NoError(t, err)

	f.start(t, "new")

	rec, err := f.mgr.GetSession(ctx, old.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, rec.Status)
	assert.Equal(t, "superseded", rec.EndReason)
	assert.Empty(t, rec.Running())
}

func TestStartSessionKeepsLiveConcurrentSession(t *testing.T) {
	f := newFixture(t, WithProcessChecker(func(pid int) bool { return pid == 4242 }))
	ctx := context.Background()
	old := f.start(t, "old")
	f.start(t, "new")

	rec, err := f.mgr.GetSession(ctx, old.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "host-1")
	agent, err := f.mgr.StartAgent(ctx, res.Session.ID, AgentStart{Name: "worker"})
	require.NoError(t, err)

	rec, err := f.mgr.EndSession(ctx, res.Session.ID, "logout")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, rec.Status)
	assert.Equal(t, "logout", rec.EndReason)
	require.NotNil(t, rec.EndedAt)
	assert.Equal(t, AgentCompleted, rec.Root().Status)
	assert.Equal(t, AgentInterrupted, rec.Agents[agent.ID].Status)

	project, err := f.mgr.GetProject(ctx, f.project)
	require.NoError(t, err)
	assert.Empty(t, project.ActiveSessionID)

	again, err := f.mgr.EndSession(ctx, res.Session.ID, "other")
	require.NoError(t, err)
	assert.Equal(t, "logout", again.EndReason)
	require.NotNil(t, again.EndedAt)
	assert.True(t, rec.EndedAt.Equal(*again.EndedAt))
}

func TestEndSessionUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.EndSession(context.Background(), "0123abcd-missing", "exit")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStartAgentNesting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	a, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "planner", Prompt: "plan it"})
	require.NoError(t, err)
	assert.Equal(t, MainAgentID, a.ParentID)
	assert.Equal(t, 1, a.Depth)
	assert.Equal(t, KindSubagent, a.Kind)
	assert.Equal(t, "plan it", a.Prompt)
	assert.Equal(t, 4242, a.HostPID)

	b, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "coder"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ParentID)
	assert.Equal(t, 2, b.Depth)

	rec, err := f.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, rec.Root().Children)
	assert.Equal(t, []string{b.ID}, rec.Agents[a.ID].Children)
	assert.Equal(t, b.ID, CurrentAgent(rec).ID)
}

func TestStartAgentMaxDepth(t *testing.T) {
	f := newFixture(t, WithMaxDepth(2))
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	_, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "one"})
	require.NoError(t, err)
	_, err = f.mgr.StartAgent(ctx, id, AgentStart{Name: "two"})
	require.NoError(t, err)
	_, err = f.mgr.StartAgent(ctx, id, AgentStart{Name: "three"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxDepth))

	rec, err := f.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Agents, 3)
}

func TestStartAgentParentErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	_, err := f.mgr.StartAgent(ctx, id, AgentStart{ParentID: "sa-missing"})
	assert.True(t, errors.Is(err, ErrAgentNotFound))

	done, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "done"})
	require.NoError(t, err)
	_, err = f.mgr.StopAgent(ctx, id, done.ID, AgentCompleted, "ok")
	require.NoError(t, err)

	_, err = f.mgr.StartAgent(ctx, id, AgentStart{ParentID: done.ID})
	assert.True(t, errors.Is(err, ErrAgentNotRunning))
}

func TestStartAgentOnEndedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID
	_, err := f.mgr.EndSession(ctx, id, "exit")
	require.NoError(t, err)

	_, err = f.mgr.StartAgent(ctx, id, AgentStart{Name: "late"})
	assert.True(t, errors.Is(err, ErrSessionNotActive))
}

func TestStartAgentIdempotentWithHostID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	first, err := f.mgr.StartAgent(ctx, id, AgentStart{ID: "task-1", Name: "worker"})
	require.NoError(t, err)
	second, err := f.mgr.StartAgent(ctx, id, AgentStart{ID: "task-1", Name: "worker"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.StartedAt.Equal(second.StartedAt))

	rec, err := f.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Agents, 2)
	assert.Equal(t, []string{"task-1"}, rec.Root().Children)
}

func TestStartAgentGeneratedIDs(t *testing.T) {
	n := 0
	f := newFixture(t, WithAgentIDGenerator(func() string {
		n++
		return fmt.Sprintf("sa-%012d", n)
	}))
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	a, err := f.mgr.StartAgent(ctx, id, AgentStart{})
	require.NoError(t, err)
	assert.Equal(t, "sa-000000000001", a.ID)
	assert.Equal(t, "subagent", a.Name)
}

func TestStopAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	parent, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "parent"})
	require.NoError(t, err)
	child, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "child"})
	require.NoError(t, err)

	stopped, err := f.mgr.StopAgent(ctx, id, parent.ID, AgentFailed, "boom")
	require.NoError(t, err)
	assert.Equal(t, AgentFailed, stopped.Status)
	assert.Equal(t, "boom", stopped.Result)
	assert.NotNil(t, stopped.EndedAt)

	rec, err := f.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AgentInterrupted, rec.Agents[child.ID].Status)
	assert.Equal(t, AgentRunning, rec.Root().Status)

	again, err := f.mgr.StopAgent(ctx, id, parent.ID, AgentCompleted, "late")
	require.NoError(t, err)
	assert.Equal(t, AgentFailed, again.Status)
	assert.Equal(t, "boom", again.Result)
}

func TestStopAgentResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	_, err := f.mgr.StopAgent(ctx, id, "", "", "")
	assert.True(t, errors.Is(err, ErrNoRunningAgent))

	a, err := f.mgr.StartAgent(ctx, id, AgentStart{ParentID: MainAgentID, Name: "reviewer"})
	require.NoError(t, err)
	b, err := f.mgr.StartAgent(ctx, id, AgentStart{ParentID: MainAgentID, Name: "tester"})
	require.NoError(t, err)

	byName, err := f.mgr.StopAgent(ctx, id, "reviewer", "", "lgtm")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)
	assert.Equal(t, AgentCompleted, byName.Status)

	current, err := f.mgr.StopAgent(ctx, id, "", AgentCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, current.ID)

	_, err = f.mgr.StopAgent(ctx, id, "nobody", AgentCompleted, "")
	assert.True(t, errors.Is(err, ErrAgentNotFound))
}

func TestStopAgentRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	_, err := f.mgr.StopAgent(ctx, id, MainAgentID, AgentCompleted, "")
	assert.True(t, errors.Is(err, ErrRootAgent))

	_, err = f.mgr.StopAgent(ctx, id, MainAgentID, AgentRunning, "")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestStopAgentTruncatesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID
	a, err := f.mgr.StartAgent(ctx, id, AgentStart{Name: "verbose"})
	require.NoError(t, err)

	long := make([]rune, 3000)
	for i := range long {
		long[i] = 'é'
	}
	stopped, err := f.mgr.StopAgent(ctx, id, a.ID, AgentCompleted, string(long))
	require.NoError(t, err)
	assert.Len(t, []rune(stopped.Result), maxTextLength)
	assert.Contains(t, stopped.Result, "...")
}

func TestConcurrentStartAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "host-1").Session.ID

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mgr.StartAgent(ctx, id, AgentStart{ParentID: MainAgentID, Name: fmt.Sprintf("w%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := f.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Agents, workers+1)
	assert.Len(t, rec.Root().Children, workers)
}

func TestActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.ActiveSession(ctx, f.project)
	assert.True(t, errors.Is(err, ErrProjectNotFound))

	res := f.start(t, "host-1")
	active, err := f.mgr.ActiveSession(ctx, f.project)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, active.ID)

	_, err = f.mgr.EndSession(ctx, res.Session.ID, "exit")
	require.NoError(t, err)
	_, err = f.mgr.ActiveSession(ctx, f.project)
	assert.True(t, errors.Is(err, ErrNoActiveSession))
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, WithProcessChecker(func(int) bool { return true }))
	ctx := context.Background()
	a := f.start(t, "a").Session.ID
	b := f.start(t, "b").Session.ID
	c := f.start(t, "c").Session.ID
	_, err := f.mgr.EndSession(ctx, b, "exit")
	require.NoError(t, err)

	all, err := f.mgr.ListSessions(ctx, f.project, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{b, c, a}, []string{all[0].ID, all[1].ID, all[2].ID})

	active, err := f.mgr.ListSessions(ctx, f.project, ListOptions{Status: StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, c, active[0].ID)

	limited, err := f.mgr.ListSessions(ctx, f.project, ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, b, limited[0].ID)
}

func TestListProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "one")

	other := t.TempDir()
	_, err := f.mgr.StartSession(ctx, StartOptions{ProjectPath: other, HostSessionID: "two"})
	require.NoError(t, err)

	projects, err := f.mgr.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	otherCanonical, err := paths.Canonical(other)
	require.NoError(t, err)
	assert.Equal(t, otherCanonical, projects[0].Path)
}

func TestResetProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "host-1")

	removed, err := f.mgr.ResetProject(ctx, f.project)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = os.Stat(paths.ProjectDir(f.state, res.Project.ID))
	assert.True(t, os.IsNotExist(err))

	_, err = f.mgr.GetSession(ctx, res.Session.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	removed, err = f.mgr.ResetProject(ctx, f.project)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPrune(t *testing.T) {
	f := newFixture(t, WithProcessChecker(func(int) bool { return true }))
	ctx := context.Background()
	old := f.start(t, "old").Session.ID
	_, err := f.mgr.EndSession(ctx, old, "exit")
	require.NoError(t, err)
	live := f.start(t, "live").Session.ID

	f.clock.Advance(48 * time.Hour)
	recent := f.start(t, "recent").Session.ID
	_, err = f.mgr.EndSession(ctx, recent, "exit")
	require.NoError(t, err)

	n, err := f.mgr.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.mgr.GetSession(ctx, old)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = f.mgr.GetSession(ctx, live)
	require.NoError(t, err)

	project, err := f.mgr.GetProject(ctx, f.project)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{live, recent}, project.SessionIDs)
}

func TestGetSessionInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.GetSession(context.Background(), "nonsense")
	assert.True(t, errors.Is(err, ErrInvalidSessionID))
}
