// Package session keeps per-project session state on disk: which host
// sessions exist for a project, which one is active, and the tree of agents
// (the main agent plus any sub-agents it spawned) inside each session.
package session

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusActive      Status = "active"
	StatusEnded       Status = "ended"
	StatusInterrupted Status = "interrupted"
)

// Source says why the host (re)started a session.
type Source string

// Session sources reported by the host.
const (
	SourceStartup Source = "startup"
	SourceResume  Source = "resume"
	SourceClear   Source = "clear"
	SourceCompact Source = "compact"
)

// ParseSource maps a host-supplied source onto a known Source, defaulting to
// startup.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceResume, SourceClear, SourceCompact:
		return Source(s)
	default:
		return SourceStartup
	}
}

// AgentKind distinguishes the root agent from spawned sub-agents.
type AgentKind string

// Agent kinds.
const (
	KindMain     AgentKind = "main"
	KindSubagent AgentKind = "subagent"
)

// AgentStatus is the lifecycle state of a single agent.
type AgentStatus string

// Agent statuses.
const (
	AgentRunning     AgentStatus = "running"
	AgentCompleted   AgentStatus = "completed"
	AgentFailed      AgentStatus = "failed"
	AgentInterrupted AgentStatus = "interrupted"
)

// Terminal reports whether s is a final status.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed || s == AgentInterrupted
}

// MainAgentID is the ID of every session's root agent.
const MainAgentID = "main"

// ProjectRecord is stored as projects/<hash>/project.json.
type ProjectRecord struct {
	ID              string    `json:"id"`
	Path            string    `json:"path"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ActiveSessionID string    `json:"active_session_id,omitempty"`
	SessionIDs      []string  `json:"session_ids"`
}

func (p *ProjectRecord) addSession(id string) {
	for _, existing := range p.SessionIDs {
		if existing == id {
			return
		}
	}
	p.SessionIDs = append(p.SessionIDs, id)
}

func (p *ProjectRecord) removeSession(id string) {
	kept := p.SessionIDs[:0]
	for _, existing := range p.SessionIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	p.SessionIDs = kept
	if p.ActiveSessionID == id {
		p.ActiveSessionID = ""
	}
}

// AgentRecord is a node in a session's agent tree.
type AgentRecord struct {
	ID        string      `json:"id"`
	ParentID  string      `json:"parent_id,omitempty"`
	Name      string      `json:"name"`
	Kind      AgentKind   `json:"kind"`
	Depth     int         `json:"depth"`
	Status    AgentStatus `json:"status"`
	Prompt    string      `json:"prompt,omitempty"`
	Result    string      `json:"result,omitempty"`
	HostPID   int         `json:"host_pid,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Children  []string    `json:"children"`
}

// Duration is the time the agent ran, or has been running as of now.
func (a *AgentRecord) Duration(now time.Time) time.Duration {
	end := now
	if a.EndedAt != nil {
		end = *a.EndedAt
	}
	return end.Sub(a.StartedAt)
}

func (a *AgentRecord) finish(status AgentStatus, at time.Time) {
	a.Status = status
	ended := at
	a.EndedAt = &ended
}

// SessionRecord is stored as projects/<hash>/sessions/<id>.json.
type SessionRecord struct {
	ID            string                  `json:"id"`
	HostSessionID string                  `json:"host_session_id"`
	ProjectID     string                  `json:"project_id"`
	ProjectPath   string                  `json:"project_path"`
	Status        Status                  `json:"status"`
	Source        Source                  `json:"source"`
	HostPID       int                     `json:"host_pid,omitempty"`
	ResumeCount   int                     `json:"resume_count"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	EndedAt       *time.Time              `json:"ended_at,omitempty"`
	EndReason     string                  `json:"end_reason,omitempty"`
	RootAgentID   string                  `json:"root_agent_id"`
	Agents        map[string]*AgentRecord `json:"agents"`
}

// Agent returns the agent with the given ID.
func (r *SessionRecord) Agent(id string) (*AgentRecord, bool) {
	a, ok := r.Agents[id]
	return a, ok
}

// Root returns the main agent.
func (r *SessionRecord) Root() *AgentRecord {
	return r.Agents[r.RootAgentID]
}

// Running returns the running agents ordered by depth, then start time.
func (r *SessionRecord) Running() []*AgentRecord {
	var running []*AgentRecord
	for _, a := range r.Agents {
		if a.Status == AgentRunning {
			running = append(running, a)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].Depth != running[j].Depth {
			return running[i].Depth < running[j].Depth
		}
		return startedBefore(running[i], running[j])
	})
	return running
}

// Descendants returns every agent below id, depth first.
func (r *SessionRecord) Descendants(id string) []*AgentRecord {
	parent, ok := r.Agents[id]
	if !ok {
		return nil
	}
	var out []*AgentRecord
	for _, childID := range parent.Children {
		child, ok := r.Agents[childID]
		if !ok {
			continue
		}
		out = append(out, child)
		out = append(out, r.Descendants(childID)...)
	}
	return out
}

// CurrentAgent returns the deepest running agent. Ties go to the agent
// started most recently, then to the lowest ID. It returns nil when nothing
// is running.
func CurrentAgent(r *SessionRecord) *AgentRecord {
	var current *AgentRecord
	for _, a := range r.Agents {
		if a.Status != AgentRunning {
			continue
		}
		if current == nil || a.Depth > current.Depth {
			current = a
			continue
		}
		if a.Depth < current.Depth {
			continue
		}
		if a.StartedAt.After(current.StartedAt) ||
			(a.StartedAt.Equal(current.StartedAt) && a.ID < current.ID) {
			current = a
		}
	}
	return current
}

func startedBefore(a, b *AgentRecord) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.ID < b.ID
}
