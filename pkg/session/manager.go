package session

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/osutil"
	"github.com/gemini-kit/gk/pkg/paths"
)

// DefaultMaxDepth bounds sub-agent nesting when no limit is configured.
const DefaultMaxDepth = 5

const maxTextLength = 2000

// Errors returned by Manager operations.
var (
	ErrMaxDepth         = errors.New("maximum agent depth exceeded")
	ErrRootAgent        = errors.New("the main agent cannot be stopped, end the session instead")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAgentNotRunning  = errors.New("agent is not running")
	ErrNoRunningAgent   = errors.New("no running sub-agent")
	ErrNoActiveSession  = errors.New("no active session")
	ErrSessionNotActive = errors.New("session is not active")
	ErrInvalidStatus    = errors.New("invalid terminal status")
)

// Manager applies host lifecycle events to the session store.
type Manager struct {
	store      *Store
	maxDepth   int
	now        func() time.Time
	alive      func(pid int) bool
	newAgentID func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDepth sets the deepest allowed sub-agent level. Zero or less
// disables the check.
func WithMaxDepth(depth int) Option {
	return func(m *Manager) {
		m.maxDepth = depth
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithProcessChecker overrides how host PIDs are checked for liveness.
func WithProcessChecker(alive func(pid int) bool) Option {
	return func(m *Manager) {
		m.alive = alive
	}
}

// WithAgentIDGenerator overrides sub-agent ID generation.
func WithAgentIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.newAgentID = gen
	}
}

// NewManager returns a manager storing state under stateDir.
func NewManager(stateDir string, opts ...Option) *Manager {
	m := &Manager{
		store:      NewStore(stateDir),
		maxDepth:   DefaultMaxDepth,
		now:        func() time.Time { return time.Now().UTC() },
		alive:      osutil.IsProcessAlive,
		newAgentID: NewSubagentID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying record store.
func (m *Manager) Store() *Store {
	return m.store
}

// StartOptions describes a session start reported by the host.
type StartOptions struct {
	ProjectPath   string
	HostSessionID string
	Source        Source
	PID           int
}

// StartResult is the outcome of StartSession.
type StartResult struct {
	Session *SessionRecord
	Project *ProjectRecord
	Resumed bool
}

// StartSession creates the session, or resumes and reconciles it when a
// record with the same ID already exists, and marks it as the project's
// active session.
func (m *Manager) StartSession(ctx context.Context, opts StartOptions) (*StartResult, error) {
	if opts.HostSessionID != "" && !validAgentID(opts.HostSessionID) {
		return nil, errors.Wrapf(ErrInvalidSessionID, "host session id %q", opts.HostSessionID)
	}
	if opts.Source == "" {
		opts.Source = SourceStartup
	}

	canonical, err := paths.Canonical(opts.ProjectPath)
	if err != nil {
		return nil, err
	}
	hash := paths.HashString(canonical)
	id := CompositeID(hash, opts.HostSessionID)
	_, hostID, err := ParseCompositeID(id)
	if err != nil {
		return nil, err
	}

	unlock, err := m.store.Lock(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	log := logger.G(ctx).WithField("project", hash).WithField("session", id)

	resumed := false
	rec, err := m.store.CreateOrUpdateSession(hash, id, func(rec *SessionRecord, exists bool) error {
		if exists {
			resumed = true
			m.reconcile(ctx, rec, opts, now)
			return nil
		}
		*rec = SessionRecord{
			ID:            id,
			HostSessionID: hostID,
			ProjectID:     hash,
			ProjectPath:   canonical,
			Status:        StatusActive,
			Source:        opts.Source,
			HostPID:       opts.PID,
			CreatedAt:     now,
			UpdatedAt:     now,
			RootAgentID:   MainAgentID,
			Agents:        map[string]*AgentRecord{MainAgentID: newMainAgent(opts.PID, now)},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var previous string
	project, err := m.store.UpdateProject(hash, func(p *ProjectRecord) error {
		if p.ID == "" {
			p.ID = hash
			p.CreatedAt = now
		}
		previous = p.ActiveSessionID
		p.Path = canonical
		p.Name = filepath.Base(canonical)
		p.UpdatedAt = now
		p.ActiveSessionID = id
		p.addSession(id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != "" && previous != id {
		m.interruptAbandoned(ctx, hash, previous, now)
	}

	log.WithField("resumed", resumed).WithField("source", opts.Source).Info("session started")
	return &StartResult{Session: rec, Project: project, Resumed: resumed}, nil
}

// Resume restarts a known session as if the host had resumed it.
func (m *Manager) Resume(ctx context.Context, id string, pid int) (*StartResult, error) {
	rec, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.StartSession(ctx, StartOptions{
		ProjectPath:   rec.ProjectPath,
		HostSessionID: rec.HostSessionID,
		Source:        SourceResume,
		PID:           pid,
	})
}

// reconcile brings a resumed record back to a consistent running state.
// Sub-agents still marked running survive only if the process that started
// them is alive.
func (m *Manager) reconcile(ctx context.Context, rec *SessionRecord, opts StartOptions, now time.Time) {
	rec.ResumeCount++
	rec.Status = StatusActive
	rec.Source = opts.Source
	rec.EndedAt = nil
	rec.EndReason = ""
	rec.UpdatedAt = now
	if opts.PID > 0 {
		rec.HostPID = opts.PID
	}
	if rec.Agents == nil {
		rec.Agents = map[string]*AgentRecord{}
	}
	if rec.RootAgentID == "" {
		rec.RootAgentID = MainAgentID
	}

	root := rec.Root()
	if root == nil {
		root = newMainAgent(rec.HostPID, now)
		rec.Agents[rec.RootAgentID] = root
	}
	root.Status = AgentRunning
	root.EndedAt = nil
	root.HostPID = rec.HostPID

	interrupted := 0
	for _, a := range rec.Agents {
		if a.Kind == KindMain || a.Status != AgentRunning {
			continue
		}
		if a.HostPID > 0 && m.alive(a.HostPID) {
			continue
		}
		a.finish(AgentInterrupted, now)
		interrupted++
	}

	logger.G(ctx).WithField("session", rec.ID).
		WithField("resume_count", rec.ResumeCount).
		WithField("interrupted", interrupted).
		Debug("reconciled resumed session")
}

// interruptAbandoned marks a previously active session interrupted when its
// host process is gone. Sessions whose host still runs are left alone since
// two hosts may share a project.
func (m *Manager) interruptAbandoned(ctx context.Context, hash, id string, now time.Time) {
	_, err := m.store.UpdateSession(hash, id, func(rec *SessionRecord) error {
		if rec.Status != StatusActive || (rec.HostPID > 0 && m.alive(rec.HostPID)) {
			return nil
		}
		rec.Status = StatusInterrupted
		rec.EndedAt = timePtr(now)
		rec.EndReason = "superseded"
		rec.UpdatedAt = now
		for _, a := range rec.Agents {
			if a.Status == AgentRunning {
				a.finish(AgentInterrupted, now)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		logger.G(ctx).WithError(err).WithField("session", id).Warn("failed to interrupt previous session")
	}
}

// EndSession closes a session. The main agent completes and any sub-agents
// still running are interrupted. Ending an ended session is a no-op.
func (m *Manager) EndSession(ctx context.Context, id, reason string) (*SessionRecord, error) {
	hash, err := m.store.FindSession(id)
	if err != nil {
		return nil, err
	}

	unlock, err := m.store.Lock(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	rec, err := m.store.UpdateSession(hash, id, func(rec *SessionRecord) error {
		if rec.Status == StatusEnded {
			return nil
		}
		rec.Status = StatusEnded
		rec.EndedAt = timePtr(now)
		rec.EndReason = reason
		rec.UpdatedAt = now
		for _, a := range rec.Agents {
			if a.Status != AgentRunning {
				continue
			}
			if a.Kind == KindMain {
				a.finish(AgentCompleted, now)
			} else {
				a.finish(AgentInterrupted, now)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.store.UpdateProject(hash, func(p *ProjectRecord) error {
		if p.ActiveSessionID == id {
			p.ActiveSessionID = ""
		}
		p.UpdatedAt = now
		return nil
	}); err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("session", id).WithField("reason", reason).Info("session ended")
	return rec, nil
}

// AgentStart describes a sub-agent launch. ID is optional and lets hosts
// that assign their own agent IDs deliver the same start twice safely.
type AgentStart struct {
	ID       string
	ParentID string
	Name     string
	Prompt   string
	PID      int
}

// StartAgent adds a running sub-agent below its parent. An empty ParentID
// nests the agent under the current (deepest running) agent.
func (m *Manager) StartAgent(ctx context.Context, sessionID string, start AgentStart) (*AgentRecord, error) {
	if start.ID != "" && !validAgentID(start.ID) {
		return nil, errors.Errorf("invalid agent id %q", start.ID)
	}

	hash, err := m.store.FindSession(sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var agentID string
	rec, err := m.store.UpdateSession(hash, sessionID, func(rec *SessionRecord) error {
		if rec.Status != StatusActive {
			return errors.Wrapf(ErrSessionNotActive, "session %s is %s", rec.ID, rec.Status)
		}
		if start.ID != "" {
			if _, ok := rec.Agents[start.ID]; ok {
				agentID = start.ID
				return nil
			}
		}

		var parent *AgentRecord
		if start.ParentID == "" {
			parent = CurrentAgent(rec)
			if parent == nil {
				return errors.Wrap(ErrAgentNotRunning, "no running agent to nest under")
			}
		} else {
			p, ok := rec.Agents[start.ParentID]
			if !ok {
				return errors.Wrapf(ErrAgentNotFound, "parent %s", start.ParentID)
			}
			if p.Status != AgentRunning {
				return errors.Wrapf(ErrAgentNotRunning, "parent %s is %s", p.ID, p.Status)
			}
			parent = p
		}

		depth := parent.Depth + 1
		if m.maxDepth > 0 && depth > m.maxDepth {
			return errors.Wrapf(ErrMaxDepth, "depth %d exceeds limit %d", depth, m.maxDepth)
		}

		agentID = start.ID
		if agentID == "" {
			agentID = m.newAgentID()
		}
		name := start.Name
		if name == "" {
			name = string(KindSubagent)
		}
		pid := start.PID
		if pid <= 0 {
			pid = rec.HostPID
		}

		rec.Agents[agentID] = &AgentRecord{
			ID:        agentID,
			ParentID:  parent.ID,
			Name:      name,
			Kind:      KindSubagent,
			Depth:     depth,
			Status:    AgentRunning,
			Prompt:    truncate(start.Prompt, maxTextLength),
			HostPID:   pid,
			StartedAt: now,
			Children:  []string{},
		}
		parent.Children = append(parent.Children, agentID)
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	agent := rec.Agents[agentID]
	logger.G(ctx).WithField("session", sessionID).
		WithField("agent", agent.ID).
		WithField("parent", agent.ParentID).
		WithField("depth", agent.Depth).
		Info("agent started")
	return agent, nil
}

// StopAgent finishes a sub-agent with a terminal status and marks its
// running descendants interrupted. ref is an agent ID or the name of a
// running agent; empty means the current agent. Stopping an agent that
// already finished returns it unchanged.
func (m *Manager) StopAgent(ctx context.Context, sessionID, ref string, status AgentStatus, result string) (*AgentRecord, error) {
	if status == "" {
		status = AgentCompleted
	}
	if !status.Terminal() {
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", status)
	}

	hash, err := m.store.FindSession(sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var agentID string
	rec, err := m.store.UpdateSession(hash, sessionID, func(rec *SessionRecord) error {
		agent, err := resolveAgent(rec, ref)
		if err != nil {
			return err
		}
		if agent.Kind == KindMain {
			return ErrRootAgent
		}
		agentID = agent.ID
		if agent.Status.Terminal() {
			return nil
		}

		agent.finish(status, now)
		agent.Result = truncate(result, maxTextLength)
		for _, d := range rec.Descendants(agent.ID) {
			if d.Status == AgentRunning {
				d.finish(AgentInterrupted, now)
			}
		}
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	agent := rec.Agents[agentID]
	logger.G(ctx).WithField("session", sessionID).
		WithField("agent", agent.ID).
		WithField("status", agent.Status).
		Info("agent stopped")
	return agent, nil
}

func resolveAgent(rec *SessionRecord, ref string) (*AgentRecord, error) {
	if ref == "" {
		current := CurrentAgent(rec)
		if current == nil || current.Kind == KindMain {
			return nil, ErrNoRunningAgent
		}
		return current, nil
	}
	if agent, ok := rec.Agents[ref]; ok {
		return agent, nil
	}

	var match *AgentRecord
	for _, a := range rec.Agents {
		if a.Name != ref || a.Status != AgentRunning {
			continue
		}
		if match == nil || startedBefore(match, a) {
			match = a
		}
	}
	if match == nil {
		return nil, errors.Wrapf(ErrAgentNotFound, "%q", ref)
	}
	return match, nil
}

// GetSession loads a session by composite ID.
func (m *Manager) GetSession(_ context.Context, id string) (*SessionRecord, error) {
	hash, err := m.store.FindSession(id)
	if err != nil {
		return nil, err
	}
	return m.store.LoadSession(hash, id)
}

// GetProject loads the record of the project at path.
func (m *Manager) GetProject(_ context.Context, projectPath string) (*ProjectRecord, error) {
	hash, err := paths.ProjectHash(projectPath)
	if err != nil {
		return nil, err
	}
	return m.store.LoadProject(hash)
}

// ActiveSession returns the project's active session.
func (m *Manager) ActiveSession(ctx context.Context, projectPath string) (*SessionRecord, error) {
	project, err := m.GetProject(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	if project.ActiveSessionID == "" {
		return nil, errors.Wrapf(ErrNoActiveSession, "project %s", project.Path)
	}
	return m.store.LoadSession(project.ID, project.ActiveSessionID)
}

// ListOptions filters ListSessions.
type ListOptions struct {
	Status Status
	Limit  int
}

// ListSessions returns the project's sessions, most recently updated first.
func (m *Manager) ListSessions(ctx context.Context, projectPath string, opts ListOptions) ([]*SessionRecord, error) {
	hash, err := paths.ProjectHash(projectPath)
	if err != nil {
		return nil, err
	}

	all, err := m.store.ListSessions(ctx, hash)
	if err != nil {
		return nil, err
	}

	var records []*SessionRecord
	for _, rec := range all {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// ListProjects returns every known project, most recently updated first.
func (m *Manager) ListProjects(ctx context.Context) ([]*ProjectRecord, error) {
	projects, err := m.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
		}
		return projects[i].Path < projects[j].Path
	})
	return projects, nil
}

// ResetProject deletes all state kept for the project at projectPath. It
// reports whether there was anything to delete.
func (m *Manager) ResetProject(ctx context.Context, projectPath string) (bool, error) {
	hash, err := paths.ProjectHash(projectPath)
	if err != nil {
		return false, err
	}

	unlock, err := m.store.Lock(ctx, hash)
	if err != nil {
		return false, err
	}
	defer unlock()

	removed, err := m.store.DeleteProject(hash)
	if err != nil {
		return false, err
	}
	logger.G(ctx).WithField("project", hash).WithField("removed", removed).Info("project state reset")
	return removed, nil
}

// Prune deletes ended and interrupted sessions not updated within
// olderThan and returns how many were removed.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	projects, err := m.store.ListProjects(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-olderThan)
	total := 0
	for _, project := range projects {
		n, err := m.pruneProject(ctx, project.ID, cutoff)
		total += n
		if err != nil {
			return total, err
		}
	}
	logger.G(ctx).WithField("removed", total).Info("pruned sessions")
	return total, nil
}

func (m *Manager) pruneProject(ctx context.Context, hash string, cutoff time.Time) (int, error) {
	unlock, err := m.store.Lock(ctx, hash)
	if err != nil {
		return 0, err
	}
	defer unlock()

	sessions, err := m.store.ListSessions(ctx, hash)
	if err != nil {
		return 0, err
	}

	var removed []string
	for _, rec := range sessions {
		if rec.Status == StatusActive || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.store.DeleteSession(hash, rec.ID); err != nil {
			return len(removed), err
		}
		removed = append(removed, rec.ID)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	_, err = m.store.UpdateProject(hash, func(p *ProjectRecord) error {
		for _, id := range removed {
			p.removeSession(id)
		}
		return nil
	})
	return len(removed), err
}

func newMainAgent(pid int, now time.Time) *AgentRecord {
	return &AgentRecord{
		ID:        MainAgentID,
		Name:      MainAgentID,
		Kind:      KindMain,
		Status:    AgentRunning,
		HostPID:   pid,
		StartedAt: now,
		Children:  []string{},
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func timePtr(t time.Time) *time.Time {
	return &t
}
