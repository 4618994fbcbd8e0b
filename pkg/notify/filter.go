package notify

import (
	"context"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// Filter forwards only events whose type matches one of its patterns.
type Filter struct {
	next     Notifier
	patterns []glob.Glob
}

// NewFilter wraps next with glob patterns such as "session_*". No patterns
// means every event passes.
func NewFilter(next Notifier, patterns []string) (*Filter, error) {
	f := &Filter{next: next}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid event pattern %q", p)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Allows reports whether events of this type are forwarded.
func (f *Filter) Allows(eventType string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(eventType) {
			return true
		}
	}
	return false
}

// Notify forwards event when it matches.
func (f *Filter) Notify(ctx context.Context, event Event) error {
	if !f.Allows(event.Type) {
		return nil
	}
	return f.next.Notify(ctx, event)
}
