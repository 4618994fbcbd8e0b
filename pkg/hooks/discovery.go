package hooks

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/paths"
)

const queryTimeout = 5 * time.Second

// Discovery handles hook discovery from configured directories
type Discovery struct {
	hookDirs []string
}

// DiscoveryOption is a function that configures a Discovery
type DiscoveryOption func(*Discovery) error

// WithDefaultDirs searches the repo-local hooks directory, then the
// user-global one.
func WithDefaultDirs() DiscoveryOption {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.hookDirs = []string{
			filepath.Join(".", paths.LocalDirName, "hooks"),
			filepath.Join(homeDir, paths.LocalDirName, "hooks"),
		}
		return nil
	}
}

// WithHookDirs sets custom hook directories
func WithHookDirs(dirs ...string) DiscoveryOption {
	return func(d *Discovery) error {
		d.hookDirs = dirs
		return nil
	}
}

// WithExtraDirs appends directories searched after the existing ones.
func WithExtraDirs(dirs ...string) DiscoveryOption {
	return func(d *Discovery) error {
		d.hookDirs = append(d.hookDirs, dirs...)
		return nil
	}
}

// NewDiscovery creates a new hook discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	d := &Discovery{}

	if len(opts) == 0 {
		opts = []DiscoveryOption{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// DiscoverHooks finds all available hooks from configured directories.
// Earlier directories win when two hooks share a filename.
func (d *Discovery) DiscoverHooks() (map[Event][]*Hook, error) {
	hooks := make(map[Event][]*Hook)
	seen := make(map[string]bool)

	for _, dir := range d.hookDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read hook directory %s", dir)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.Mode()&0o111 == 0 {
				continue
			}

			if seen[entry.Name()] {
				continue
			}
			seen[entry.Name()] = true

			hookPath := filepath.Join(dir, entry.Name())
			event, err := queryHookEvent(hookPath)
			if err != nil {
				continue
			}

			hooks[event] = append(hooks[event], &Hook{
				Name:  entry.Name(),
				Path:  hookPath,
				Event: event,
			})
		}
	}

	return hooks, nil
}

// queryHookEvent runs the hook with the "hook" argument; it must print the
// event it handles.
func queryHookEvent(hookPath string) (Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, hookPath, "hook").Output()
	if err != nil {
		return "", errors.Wrap(err, "failed to query hook event")
	}

	return ParseEvent(strings.TrimSpace(string(output)))
}
