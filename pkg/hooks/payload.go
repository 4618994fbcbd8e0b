package hooks

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Payload is the JSON document the host writes to stdin. Hosts send
// different subsets; unknown fields are ignored.
type Payload struct {
	SessionID      string `json:"session_id,omitempty"`
	CWD            string `json:"cwd,omitempty"`
	HookEventName  string `json:"hook_event_name,omitempty"`
	Source         string `json:"source,omitempty"`
	Reason         string `json:"reason,omitempty"`
	AgentName      string `json:"agent_name,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Result         string `json:"result,omitempty"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// ReadPayload decodes a payload from r. Empty input yields an empty
// payload, since some hosts send nothing for simple events.
func ReadPayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read hook payload")
	}

	p := &Payload{}
	if strings.TrimSpace(string(data)) == "" {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "failed to decode hook payload")
	}
	return p, nil
}

// UserHookPayload is sent to user hook executables: the host payload plus
// what gk knows about the session.
type UserHookPayload struct {
	Payload
	Event       Event     `json:"event"`
	GKSessionID string    `json:"gk_session_id,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	CurrentID   string    `json:"current_agent_id,omitempty"`
	InvokedBy   InvokedBy `json:"invoked_by"`
}

// Response is printed to stdout for the host. Continue is always true: gk
// never blocks the host.
type Response struct {
	Continue           bool                `json:"continue"`
	SystemMessage      string              `json:"systemMessage,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries context the host injects into the model.
type HookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// ContinueResponse is the response used when there is nothing to add.
func ContinueResponse() *Response {
	return &Response{Continue: true}
}

// AddContext appends text to the additional context for hostEvent.
func (r *Response) AddContext(hostEvent, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if r.HookSpecificOutput == nil {
		r.HookSpecificOutput = &HookSpecificOutput{HookEventName: hostEvent}
	}
	r.HookSpecificOutput.AdditionalContext = joinNonEmpty(r.HookSpecificOutput.AdditionalContext, text)
}

// AddSystemMessage appends a user-visible message.
func (r *Response) AddSystemMessage(text string) {
	r.SystemMessage = joinNonEmpty(r.SystemMessage, strings.TrimSpace(text))
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
