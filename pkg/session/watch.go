package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/paths"
)

// Watch calls fn with the fresh record every time a session file of the
// project changes, until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, projectHash string, fn func(*SessionRecord)) error {
	dir := paths.SessionsDir(m.store.StateDir(), projectHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create sessions directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	log := logger.G(ctx).WithField("dir", dir)
	log.Debug("watching sessions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if filepath.Ext(name) != ".json" {
				continue
			}
			rec, err := m.store.LoadSession(projectHash, strings.TrimSuffix(name, ".json"))
			if err != nil {
				// The file may be mid-write, the next event will carry it.
				log.WithError(err).Debug("skipping session change")
				continue
			}
			fn(rec)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("file watcher error")
		}
	}
}
