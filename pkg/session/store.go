package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/paths"
)

const (
	projectFileName = "project.json"
	lockRetryDelay  = 25 * time.Millisecond
)

// Sentinel errors returned by the store and manager.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Store persists project and session records as JSON files under the state
// directory. Each record is rewritten in place under an OS file lock, so
// concurrent readers never observe a half-written file.
type Store struct {
	stateDir string
}

// NewStore returns a store rooted at stateDir.
func NewStore(stateDir string) *Store {
	return &Store{stateDir: stateDir}
}

// StateDir returns the root directory of the store.
func (s *Store) StateDir() string {
	return s.stateDir
}

func (s *Store) projectFile(hash string) string {
	return filepath.Join(paths.ProjectDir(s.stateDir, hash), projectFileName)
}

func (s *Store) sessionFile(hash, id string) string {
	return filepath.Join(paths.SessionsDir(s.stateDir, hash), id+".json")
}

func (s *Store) lockFile(hash string) string {
	return filepath.Join(paths.ProjectsDir(s.stateDir), hash+".lock")
}

// Lock takes the project-wide lock used by operations spanning several
// files. The lock file lives next to, not inside, the project directory so
// that a reset can remove the directory while holding it.
func (s *Store) Lock(ctx context.Context, hash string) (func(), error) {
	if err := os.MkdirAll(paths.ProjectsDir(s.stateDir), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create projects directory")
	}

	fl := flock.New(s.lockFile(hash))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock project %s", hash)
	}
	if !locked {
		return nil, errors.Errorf("could not acquire lock for project %s", hash)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			logger.G(ctx).WithError(err).WithField("project", hash).Warn("failed to release project lock")
		}
	}, nil
}

// LoadProject reads a project record.
func (s *Store) LoadProject(hash string) (*ProjectRecord, error) {
	var rec ProjectRecord
	if err := readJSON(s.projectFile(hash), &rec); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrProjectNotFound, "project %s", hash)
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateProject applies fn to the project record, creating an empty one
// when it does not exist yet, and writes the result back.
func (s *Store) UpdateProject(hash string, fn func(rec *ProjectRecord) error) (*ProjectRecord, error) {
	if err := os.MkdirAll(paths.ProjectDir(s.stateDir, hash), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create project directory")
	}

	var out ProjectRecord
	err := lockedfile.Transform(s.projectFile(hash), func(data []byte) ([]byte, error) {
		if len(data) > 0 {
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, errors.Wrap(err, "failed to decode project record")
			}
		}
		if err := fn(&out); err != nil {
			return nil, err
		}
		return json.MarshalIndent(&out, "", "  ")
	})
	if err != nil {
		removeIfEmpty(s.projectFile(hash))
		return nil, errors.Wrapf(err, "failed to update project %s", hash)
	}
	return &out, nil
}

// LoadSession reads a session record.
func (s *Store) LoadSession(hash, id string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := readJSON(s.sessionFile(hash, id), &rec); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
		}
		return nil, err
	}
	return &rec, nil
}

// CreateOrUpdateSession applies fn to the session record. exists tells fn
// whether a record was already on disk.
func (s *Store) CreateOrUpdateSession(hash, id string, fn func(rec *SessionRecord, exists bool) error) (*SessionRecord, error) {
	if err := os.MkdirAll(paths.SessionsDir(s.stateDir, hash), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create sessions directory")
	}
	return s.transformSession(hash, id, fn)
}

// UpdateSession applies fn to an existing session record. It fails with
// ErrSessionNotFound without touching the disk when the record is missing.
func (s *Store) UpdateSession(hash, id string, fn func(rec *SessionRecord) error) (*SessionRecord, error) {
	if _, err := os.Stat(s.sessionFile(hash, id)); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
		}
		return nil, errors.Wrap(err, "failed to stat session file")
	}
	return s.transformSession(hash, id, func(rec *SessionRecord, _ bool) error {
		return fn(rec)
	})
}

func (s *Store) transformSession(hash, id string, fn func(rec *SessionRecord, exists bool) error) (*SessionRecord, error) {
	var out SessionRecord
	err := lockedfile.Transform(s.sessionFile(hash, id), func(data []byte) ([]byte, error) {
		exists := len(data) > 0
		if exists {
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, errors.Wrap(err, "failed to decode session record")
			}
		}
		if err := fn(&out, exists); err != nil {
			return nil, err
		}
		return json.MarshalIndent(&out, "", "  ")
	})
	if err != nil {
		removeIfEmpty(s.sessionFile(hash, id))
		return nil, errors.Wrapf(err, "failed to update session %s", id)
	}
	return &out, nil
}

// ListSessions reads every session record of a project. Unreadable records
// are logged and skipped.
func (s *Store) ListSessions(ctx context.Context, hash string) ([]*SessionRecord, error) {
	entries, err := os.ReadDir(paths.SessionsDir(s.stateDir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read sessions directory")
	}

	var records []*SessionRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := s.LoadSession(hash, id)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("session", id).Warn("skipping unreadable session record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListProjects reads every project record under the state directory.
func (s *Store) ListProjects(ctx context.Context) ([]*ProjectRecord, error) {
	entries, err := os.ReadDir(paths.ProjectsDir(s.stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read projects directory")
	}

	var records []*ProjectRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.LoadProject(entry.Name())
		if err != nil {
			logger.G(ctx).WithError(err).WithField("project", entry.Name()).Debug("skipping project without record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// FindSession locates the project hash owning a composite session ID.
func (s *Store) FindSession(id string) (string, error) {
	prefix, _, err := ParseCompositeID(id)
	if err != nil {
		return "", err
	}

	pattern := filepath.Join(paths.ProjectsDir(s.stateDir), prefix+"*", "sessions", id+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", errors.Wrap(err, "failed to search session files")
	}
	if len(matches) == 0 {
		return "", errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	sort.Strings(matches)
	return filepath.Base(filepath.Dir(filepath.Dir(matches[0]))), nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(hash, id string) error {
	if err := os.Remove(s.sessionFile(hash, id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove session %s", id)
	}
	return nil
}

// DeleteProject removes the project directory and everything in it. It
// reports whether anything was there.
func (s *Store) DeleteProject(hash string) (bool, error) {
	dir := paths.ProjectDir(s.stateDir, hash)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.Wrapf(err, "failed to remove project directory %s", dir)
	}
	return true, nil
}

func readJSON(path string, v any) error {
	data, err := lockedfile.Read(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if len(data) == 0 {
		return errors.Wrapf(os.ErrNotExist, "%s is empty", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

// removeIfEmpty drops the placeholder file lockedfile.Transform creates when
// a first write is rejected.
func removeIfEmpty(path string) {
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		_ = os.Remove(path)
	}
}
