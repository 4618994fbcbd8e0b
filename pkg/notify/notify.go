// Package notify delivers session lifecycle events to external services.
// Discord webhooks are the only remote sink; filtering and fan-out are
// composed around the Notifier interface.
package notify

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/gemini-kit/gk/pkg/logger"
)

// Event is a single notification.
type Event struct {
	Type      string        `json:"type"`
	Title     string        `json:"title,omitempty"`
	Message   string        `json:"message,omitempty"`
	Project   string        `json:"project,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Agent     string        `json:"agent,omitempty"`
	Status    string        `json:"status,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Notifier sends events somewhere.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Nop drops every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error {
	return nil
}

// Log records every event in the structured log.
type Log struct{}

// Notify writes event at debug level.
func (Log) Notify(ctx context.Context, event Event) error {
	logger.G(ctx).WithFields(logrus.Fields{
		"event":      event.Type,
		"project":    event.Project,
		"session_id": event.SessionID,
		"agent":      event.Agent,
		"status":     event.Status,
	}).Debug(event.Title)
	return nil
}

// Multi fans an event out to every notifier and reports all failures.
type Multi []Notifier

// Notify sends event to each notifier even if earlier ones fail.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var result *multierror.Error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
