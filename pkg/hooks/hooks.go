// Package hooks connects gk to the host CLI's lifecycle hooks. The host
// runs `gk hook <event>` with a JSON payload on stdin; the Handler applies
// the event to session state, sends notifications, and runs any
// user-provided hook executables for the same event.
package hooks

import (
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

// Event is a lifecycle event in gk's canonical snake_case spelling.
type Event string

// Lifecycle events understood by gk.
const (
	EventSessionStart  Event = "session_start"
	EventSessionEnd    Event = "session_end"
	EventSubagentStart Event = "subagent_start"
	EventSubagentStop  Event = "subagent_stop"
	EventNotification  Event = "notification"
	EventBeforeAgent   Event = "before_agent"
	EventAfterAgent    Event = "after_agent"
	EventPreCompress   Event = "pre_compress"
)

// Events lists every known event.
var Events = []Event{
	EventSessionStart,
	EventSessionEnd,
	EventSubagentStart,
	EventSubagentStop,
	EventNotification,
	EventBeforeAgent,
	EventAfterAgent,
	EventPreCompress,
}

// aliases maps other hosts' event names onto gk's.
var aliases = map[string]Event{
	"sub_agent_start":    EventSubagentStart,
	"sub_agent_stop":     EventSubagentStop,
	"user_prompt_submit": EventBeforeAgent,
	"stop":               EventAfterAgent,
	"pre_compact":        EventPreCompress,
}

// ErrUnknownEvent is returned by ParseEvent for names it cannot map.
var ErrUnknownEvent = errors.New("unknown hook event")

// ParseEvent normalises a host event name such as "SessionStart",
// "session-start" or "session_start".
func ParseEvent(name string) (Event, error) {
	normalized := toSnake(strings.TrimSpace(name))
	for _, e := range Events {
		if string(e) == normalized {
			return e, nil
		}
	}
	if e, ok := aliases[normalized]; ok {
		return e, nil
	}
	return "", errors.Wrapf(ErrUnknownEvent, "%q", name)
}

// HostName returns the CamelCase spelling hosts use, e.g. SessionStart.
func (e Event) HostName() string {
	var b strings.Builder
	for _, part := range strings.Split(string(e), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && runes[i-1] != '-' && !unicode.IsUpper(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// InvokedBy indicates whether the event happened in the main agent or in a
// sub-agent.
type InvokedBy string

// InvokedBy values.
const (
	InvokedByMain     InvokedBy = "main"
	InvokedBySubagent InvokedBy = "subagent"
)

// Hook is a discovered user hook executable.
type Hook struct {
	Name  string // Filename of the executable
	Path  string // Full path to the executable
	Event Event  // Event reported by the "hook" command
}

// HookManager holds the user hooks found on disk.
type HookManager struct {
	hooks   map[Event][]*Hook
	timeout time.Duration
}

// DefaultTimeout bounds a single user hook run.
const DefaultTimeout = 30 * time.Second

// NewHookManager discovers hooks with the given options.
func NewHookManager(opts ...DiscoveryOption) (HookManager, error) {
	discovery, err := NewDiscovery(opts...)
	if err != nil {
		return HookManager{}, err
	}

	hooks, err := discovery.DiscoverHooks()
	if err != nil {
		return HookManager{}, err
	}

	return HookManager{
		hooks:   hooks,
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout sets the execution timeout for hooks.
func (m *HookManager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// HasHooks reports whether any hook handles event.
func (m HookManager) HasHooks(event Event) bool {
	return len(m.hooks[event]) > 0
}

// GetHooks returns the hooks registered for event.
func (m HookManager) GetHooks(event Event) []*Hook {
	return m.hooks[event]
}
