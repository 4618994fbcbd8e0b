// Package paths resolves gk's on-disk layout: the state directory, the
// per-project directories keyed by a hash of the project path, and the
// project root a working directory belongs to.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// StateDirEnv overrides the default state directory.
	StateDirEnv = "GK_STATE_DIR"
	// LocalDirName is the per-repository directory holding local config,
	// skills, agents, commands and hooks.
	LocalDirName = ".gk"

	hashLength = 16
)

// StateDir returns the directory gk keeps global state in.
func StateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(homeDir, LocalDirName), nil
}

// Canonical returns the absolute, cleaned form of path with symlinks
// resolved where possible.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// ProjectHash derives the stable directory name for a project path.
func ProjectHash(path string) (string, error) {
	canonical, err := Canonical(path)
	if err != nil {
		return "", err
	}
	return HashString(canonical), nil
}

// HashString hashes an already-canonical path.
func HashString(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// ProjectsDir returns the directory holding all project state.
func ProjectsDir(stateDir string) string {
	return filepath.Join(stateDir, "projects")
}

// ProjectDir returns the state directory for one project.
func ProjectDir(stateDir, hash string) string {
	return filepath.Join(ProjectsDir(stateDir), hash)
}

// SessionsDir returns the directory holding a project's session records.
func SessionsDir(stateDir, hash string) string {
	return filepath.Join(ProjectDir(stateDir, hash), "sessions")
}

// HandoffFile returns the env file used to pass session IDs between hook
// invocations for a project.
func HandoffFile(stateDir, hash string) string {
	return filepath.Join(ProjectDir(stateDir, hash), "session.env")
}

// LogFile returns the log file hook invocations write to.
func LogFile(stateDir string) string {
	return filepath.Join(stateDir, "logs", "gk.log")
}

// FindProjectRoot walks up from dir to the nearest directory containing
// .git or .gk. It returns the canonical dir itself when neither is found.
// A .gk directory that is gk's own state directory, such as ~/.gk, is not
// a project marker.
func FindProjectRoot(dir string) (string, error) {
	start, err := Canonical(dir)
	if err != nil {
		return "", err
	}
	ignored := stateMarkers()

	for current := start; ; {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current, nil
		}
		local := filepath.Join(current, LocalDirName)
		if _, err := os.Stat(local); err == nil && !ignored[local] {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return start, nil
		}
		current = parent
	}
}

// stateMarkers lists the canonical .gk directories holding global state
// rather than marking a project.
func stateMarkers() map[string]bool {
	markers := map[string]bool{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		if c, err := Canonical(filepath.Join(homeDir, LocalDirName)); err == nil {
			markers[c] = true
		}
	}
	if stateDir, err := StateDir(); err == nil {
		if c, err := Canonical(stateDir); err == nil {
			markers[c] = true
		}
	}
	return markers
}

// LocalDir returns the .gk directory of a project root.
func LocalDir(projectRoot string) string {
	return filepath.Join(projectRoot, LocalDirName)
}
