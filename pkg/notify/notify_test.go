package notify

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-kit/gk/pkg/logger"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recorder{}
	bad1 := &recorder{err: errors.New("first down")}
	bad2 := &recorder{err: errors.New("second down")}

	err := Multi{bad1, ok, bad2}.Notify(context.Background(), Event{Type: "session_end"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first down")
	assert.Contains(t, err.Error(), "second down")
	assert.Len(t, ok.events, 1)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), Event{Type: "x"}))
	assert.NoError(t, Multi{}.Notify(context.Background(), Event{Type: "x"}))
}

func TestLogNotifier(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	ctx := logger.WithLogger(context.Background(), logrus.NewEntry(l))

	err := Multi{Log{}, Nop{}}.Notify(ctx, Event{Type: "session_end", Title: "Session finished", SessionID: "abc-1", Status: "done"})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "Session finished", entry.Message)
	assert.Equal(t, "session_end", entry.Data["event"])
	assert.Equal(t, "abc-1", entry.Data["session_id"])
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), Event{Type: "session_start"}))
}

func TestNotifierFunc(t *testing.T) {
	var got string
	n := NotifierFunc(func(_ context.Context, e Event) error {
		got = e.Type
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), Event{Type: "notification"}))
	assert.Equal(t, "notification", got)
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		event    string
		want     bool
	}{
		{name: "no patterns allows all", event: "session_start", want: true},
		{name: "exact match", patterns: []string{"session_end"}, event: "session_end", want: true},
		{name: "glob match", patterns: []string{"subagent_*"}, event: "subagent_stop", want: true},
		{name: "no match", patterns: []string{"subagent_*"}, event: "session_start", want: false},
		{name: "alternatives", patterns: []string{"{session_end,notification}"}, event: "notification", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			f, err := NewFilter(rec, tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Allows(tt.event))

			require.NoError(t, f.Notify(context.Background(), Event{Type: tt.event}))
			assert.Equal(t, tt.want, len(rec.events) == 1)
		})
	}
}

func TestFilterInvalidPattern(t *testing.T) {
	_, err := NewFilter(Nop{}, []string{"session_[start"})
	assert.Error(t, err)
}
