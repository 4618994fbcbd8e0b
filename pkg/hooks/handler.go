package hooks

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/envfile"
	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/notify"
	"github.com/gemini-kit/gk/pkg/osutil"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/session"
)

// ErrNoSession is returned when an event cannot be tied to a session.
var ErrNoSession = errors.New("no session id in payload or handoff file")

// HandlerOptions wires a Handler.
type HandlerOptions struct {
	Sessions  *session.Manager
	Notifier  notify.Notifier
	UserHooks HookManager
	StateDir  string
	// EnvFile receives export lines after a session starts, if set.
	EnvFile string
	// Skills lists skill names advertised at session start.
	Skills  func() []string
	HostPID func() int
}

// Handler applies host events to gk's state.
type Handler struct {
	sessions  *session.Manager
	notifier  notify.Notifier
	userHooks HookManager
	stateDir  string
	envFile   string
	skills    func() []string
	hostPID   func() int
	now       func() time.Time
}

// NewHandler returns a handler. A nil notifier disables notifications.
func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		sessions:  opts.Sessions,
		notifier:  opts.Notifier,
		userHooks: opts.UserHooks,
		stateDir:  opts.StateDir,
		envFile:   opts.EnvFile,
		skills:    opts.Skills,
		hostPID:   opts.HostPID,
		now:       time.Now,
	}
	if h.notifier == nil {
		h.notifier = notify.Nop{}
	}
	if h.skills == nil {
		h.skills = func() []string { return nil }
	}
	if h.hostPID == nil {
		h.hostPID = osutil.HostPID
	}
	return h
}

// state is what applying an event learned about the session.
type state struct {
	projectRoot string
	projectID   string
	session     *session.SessionRecord
	agent       *session.AgentRecord
	context     string
}

// Handle processes one event. The returned response is always usable; the
// error aggregates every failure along the way and is meant for logging.
func (h *Handler) Handle(ctx context.Context, event Event, p *Payload) (*Response, error) {
	if p == nil {
		p = &Payload{}
	}
	hostEvent := p.HookEventName
	if hostEvent == "" {
		hostEvent = event.HostName()
	}

	log := logger.G(ctx).WithField("event", event).WithField("host_session", p.SessionID)
	ctx = logger.WithLogger(ctx, log)

	resp := ContinueResponse()
	var result *multierror.Error

	st, err := h.apply(ctx, event, p)
	if err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to apply %s", event))
	}
	resp.AddContext(hostEvent, st.context)

	if err := h.notifier.Notify(ctx, h.notification(event, p, st)); err != nil {
		result = multierror.Append(result, err)
	}

	outputs, err := h.userHooks.Execute(ctx, event, h.userPayload(event, p, st))
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, out := range outputs {
		resp.AddContext(hostEvent, out.AdditionalContext)
		resp.AddSystemMessage(out.SystemMessage)
	}

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Warn("hook completed with errors")
		return resp, err
	}
	log.Debug("hook completed")
	return resp, nil
}

func (h *Handler) apply(ctx context.Context, event Event, p *Payload) (*state, error) {
	cwd := p.CWD
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return &state{}, errors.Wrap(err, "failed to get working directory")
		}
		cwd = wd
	}

	root, err := paths.FindProjectRoot(cwd)
	if err != nil {
		return &state{}, err
	}
	hash, err := paths.ProjectHash(root)
	if err != nil {
		return &state{}, err
	}
	st := &state{projectRoot: root, projectID: hash}

	switch event {
	case EventSessionStart:
		return st, h.startSession(ctx, st, p)
	case EventSessionEnd:
		return st, h.endSession(ctx, st, p)
	case EventSubagentStart:
		return st, h.startAgent(ctx, st, p)
	case EventSubagentStop:
		return st, h.stopAgent(ctx, st, p)
	case EventBeforeAgent:
		_, err := h.ensureSession(ctx, st, p)
		return st, err
	default:
		id, err := h.sessionID(st, p)
		if err != nil {
			// Informational events outside a tracked session are fine.
			return st, nil
		}
		rec, err := h.sessions.GetSession(ctx, id)
		if err == nil {
			st.session = rec
			st.agent = session.CurrentAgent(rec)
		}
		return st, nil
	}
}

func (h *Handler) startSession(ctx context.Context, st *state, p *Payload) error {
	res, err := h.sessions.StartSession(ctx, session.StartOptions{
		ProjectPath:   st.projectRoot,
		HostSessionID: p.SessionID,
		Source:        session.ParseSource(p.Source),
		PID:           h.hostPID(),
	})
	if err != nil {
		return err
	}
	st.session = res.Session
	st.agent = session.CurrentAgent(res.Session)
	st.context = h.sessionContext(res)

	vars := HandoffVars(res.Session, st.agent)
	var result *multierror.Error
	if err := h.handoff(st).Write(vars); err != nil {
		result = multierror.Append(result, err)
	}
	if h.envFile != "" {
		if err := envfile.AppendExports(h.envFile, vars); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (h *Handler) endSession(ctx context.Context, st *state, p *Payload) error {
	id, err := h.sessionID(st, p)
	if err != nil {
		return err
	}
	reason := p.Reason
	if reason == "" {
		reason = "exit"
	}

	rec, err := h.sessions.EndSession(ctx, id, reason)
	if err != nil {
		return err
	}
	st.session = rec
	st.agent = rec.Root()
	return h.handoff(st).Clear()
}

func (h *Handler) startAgent(ctx context.Context, st *state, p *Payload) error {
	rec, err := h.ensureSession(ctx, st, p)
	if err != nil {
		return err
	}

	agent, err := h.sessions.StartAgent(ctx, rec.ID, session.AgentStart{
		ID:     p.AgentID,
		Name:   p.AgentName,
		Prompt: p.Prompt,
		PID:    h.hostPID(),
	})
	if err != nil {
		return err
	}
	st.agent = agent
	return h.handoff(st).Update(map[string]string{envfile.VarAgentID: agent.ID})
}

func (h *Handler) stopAgent(ctx context.Context, st *state, p *Payload) error {
	id, err := h.sessionID(st, p)
	if err != nil {
		return err
	}

	ref := p.AgentID
	if ref == "" {
		ref = p.AgentName
	}
	agent, err := h.sessions.StopAgent(ctx, id, ref, agentStatus(p.Status), p.Result)
	if err != nil {
		return err
	}
	st.agent = agent

	rec, err := h.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	st.session = rec
	current := session.MainAgentID
	if c := session.CurrentAgent(rec); c != nil {
		current = c.ID
	}
	return h.handoff(st).Update(map[string]string{envfile.VarAgentID: current})
}

// ensureSession returns the payload's session, starting it when the host
// skipped session_start.
func (h *Handler) ensureSession(ctx context.Context, st *state, p *Payload) (*session.SessionRecord, error) {
	id, err := h.sessionID(st, p)
	if err == nil {
		rec, err := h.sessions.GetSession(ctx, id)
		if err == nil {
			st.session = rec
			st.agent = session.CurrentAgent(rec)
			return rec, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	}
	if p.SessionID == "" {
		return nil, ErrNoSession
	}

	logger.G(ctx).Info("session unknown, starting it")
	if err := h.startSession(ctx, st, p); err != nil {
		return nil, err
	}
	return st.session, nil
}

// sessionID derives the composite ID from the payload, falling back to the
// handoff file.
func (h *Handler) sessionID(st *state, p *Payload) (string, error) {
	if p.SessionID != "" {
		return session.CompositeID(st.projectID, p.SessionID), nil
	}
	vars, err := h.handoff(st).Read()
	if err != nil {
		return "", err
	}
	if id := vars[envfile.VarSessionID]; id != "" {
		return id, nil
	}
	return "", ErrNoSession
}

func (h *Handler) handoff(st *state) *envfile.Handoff {
	return envfile.NewHandoff(paths.HandoffFile(h.stateDir, st.projectID))
}

func (h *Handler) sessionContext(res *session.StartResult) string {
	rec := res.Session
	var b strings.Builder
	fmt.Fprintf(&b, "gk session %s is active for %s.", rec.ID, rec.ProjectPath)
	if res.Resumed {
		interrupted := 0
		for _, a := range rec.Agents {
			if a.Status == session.AgentInterrupted {
				interrupted++
			}
		}
		fmt.Fprintf(&b, " Resumed %d time(s); %d sub-agent(s) were interrupted.", rec.ResumeCount, interrupted)
	}
	if skills := h.skills(); len(skills) > 0 {
		fmt.Fprintf(&b, "\nAvailable skills: %s.", strings.Join(skills, ", "))
	}
	return b.String()
}

func (h *Handler) notification(event Event, p *Payload, st *state) notify.Event {
	e := notify.Event{
		Type:      string(event),
		Project:   st.projectRoot,
		Timestamp: h.now(),
	}

	switch event {
	case EventSubagentStart:
		e.Message = p.Prompt
	case EventSubagentStop:
		e.Message = p.Result
	case EventSessionEnd:
		e.Message = p.Reason
	default:
		e.Message = p.Message
	}

	if st.session != nil {
		e.SessionID = st.session.ID
		if event == EventSessionEnd {
			e.Status = string(st.session.Status)
			if st.session.EndedAt != nil {
				e.Duration = st.session.EndedAt.Sub(st.session.CreatedAt)
			}
		}
	}
	if st.agent != nil && event != EventSessionEnd {
		e.Agent = st.agent.Name
		if st.agent.Kind == session.KindSubagent {
			e.Status = string(st.agent.Status)
			if st.agent.EndedAt != nil {
				e.Duration = st.agent.Duration(*st.agent.EndedAt)
			}
		}
	}
	return e
}

func (h *Handler) userPayload(event Event, p *Payload, st *state) UserHookPayload {
	up := UserHookPayload{
		Payload:   *p,
		Event:     event,
		ProjectID: st.projectID,
		InvokedBy: InvokedByMain,
	}
	if st.session != nil {
		up.GKSessionID = st.session.ID
	}
	if st.agent != nil {
		up.CurrentID = st.agent.ID
		if st.agent.Kind == session.KindSubagent {
			up.InvokedBy = InvokedBySubagent
		}
	}
	return up
}

// HandoffVars are the variables passed to later hook invocations and to the
// host's shell once a session is known.
func HandoffVars(rec *session.SessionRecord, current *session.AgentRecord) map[string]string {
	agentID := session.MainAgentID
	if current != nil {
		agentID = current.ID
	}
	return map[string]string{
		envfile.VarSessionID:     rec.ID,
		envfile.VarHostSessionID: rec.HostSessionID,
		envfile.VarProjectID:     rec.ProjectID,
		envfile.VarProjectPath:   rec.ProjectPath,
		envfile.VarAgentID:       agentID,
	}
}

func agentStatus(s string) session.AgentStatus {
	switch strings.ToLower(s) {
	case "failed", "failure", "error":
		return session.AgentFailed
	case "interrupted", "cancelled", "canceled", "aborted":
		return session.AgentInterrupted
	default:
		return session.AgentCompleted
	}
}
