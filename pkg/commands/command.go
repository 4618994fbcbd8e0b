// Package commands loads slash-command templates and renders them into
// prompts. Commands are TOML files with description and prompt keys, or
// markdown files whose frontmatter carries the description and whose body
// is the prompt. Nested directories namespace the command name.
package commands

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/markdown"
	"github.com/gemini-kit/gk/pkg/paths"
)

const (
	extTOML     = ".toml"
	extMarkdown = ".md"

	// NamespaceSeparator joins nested directory names into a command name.
	NamespaceSeparator = ":"
)

// ErrNotFound is returned when no directory holds the requested command.
var ErrNotFound = errors.New("command not found")

// Format is the file format a command was loaded from.
type Format string

const (
	FormatTOML     Format = "toml"
	FormatMarkdown Format = "markdown"
)

// Command is a loaded slash-command template.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"-"`
	Path        string `json:"path"`
	Format      Format `json:"format"`
}

type tomlCommand struct {
	Description string `toml:"description"`
	Prompt      string `toml:"prompt"`
}

// CommandProcessor handles command discovery, loading and rendering
type CommandProcessor struct {
	commandDirs []string
	renderer    *Renderer
}

// CommandProcessorOption is a function that configures a CommandProcessor
type CommandProcessorOption func(*CommandProcessor) error

// WithCommandDirs sets custom command directories
func WithCommandDirs(dirs ...string) CommandProcessorOption {
	return func(cp *CommandProcessor) error {
		if len(dirs) == 0 {
			return errors.New("at least one command directory must be specified")
		}
		cp.commandDirs = dirs
		return nil
	}
}

// WithDefaultDirs sets the default command directories (./.gk/commands, ~/.gk/commands)
func WithDefaultDirs() CommandProcessorOption {
	return func(cp *CommandProcessor) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		cp.commandDirs = []string{
			filepath.Join(".", paths.LocalDirName, "commands"),
			filepath.Join(homeDir, paths.LocalDirName, "commands"),
		}
		return nil
	}
}

// WithExtraDirs appends directories searched after the ones already set.
func WithExtraDirs(dirs ...string) CommandProcessorOption {
	return func(cp *CommandProcessor) error {
		cp.commandDirs = append(cp.commandDirs, dirs...)
		return nil
	}
}

// WithRenderer replaces the renderer used by Render.
func WithRenderer(r *Renderer) CommandProcessorOption {
	return func(cp *CommandProcessor) error {
		cp.renderer = r
		return nil
	}
}

// NewCommandProcessor creates a new command processor with optional configuration
func NewCommandProcessor(opts ...CommandProcessorOption) (*CommandProcessor, error) {
	cp := &CommandProcessor{}
	if len(opts) == 0 {
		opts = []CommandProcessorOption{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(cp); err != nil {
			return nil, errors.Wrap(err, "failed to apply command processor option")
		}
	}
	if cp.renderer == nil {
		cp.renderer = NewRenderer("")
	}
	return cp, nil
}

// Dirs returns the search directories in precedence order.
func (cp *CommandProcessor) Dirs() []string {
	return cp.commandDirs
}

// findCommandFile maps a namespaced name to a file. TOML is preferred over
// markdown within one directory.
func (cp *CommandProcessor) findCommandFile(name string) (string, error) {
	rel := filepath.Join(strings.Split(name, NamespaceSeparator)...)
	for _, dir := range cp.commandDirs {
		for _, ext := range []string{extTOML, extMarkdown} {
			fullPath := filepath.Join(dir, rel+ext)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}
	return "", errors.Wrapf(ErrNotFound, "command '%s' not found in directories: %v", name, cp.commandDirs)
}

// LoadCommand loads a single command by its namespaced name.
func (cp *CommandProcessor) LoadCommand(ctx context.Context, name string) (*Command, error) {
	if !validName(name) {
		return nil, errors.Errorf("invalid command name %q", name)
	}

	path, err := cp.findCommandFile(name)
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("path", path).Debug("found command file")

	cmd, err := loadCommandFile(path)
	if err != nil {
		return nil, err
	}
	cmd.Name = name
	return cmd, nil
}

// ListCommands returns every command, sorted by name. Earlier directories
// shadow later ones.
func (cp *CommandProcessor) ListCommands(ctx context.Context) ([]*Command, error) {
	seen := make(map[string]bool)
	var cmds []*Command

	for _, dir := range cp.commandDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}

			name, ok := commandName(dir, path)
			if !ok || seen[name] {
				return nil
			}

			cmd, err := cp.LoadCommand(ctx, name)
			if err != nil {
				logger.G(ctx).WithField("command", name).WithError(err).Warn("failed to load command, skipping")
				return nil
			}
			seen[name] = true
			cmds = append(cmds, cmd)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk command directory %s", dir)
		}
	}

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds, nil
}

// Render loads a command and expands its prompt with args.
func (cp *CommandProcessor) Render(ctx context.Context, name, args string) (string, error) {
	cmd, err := cp.LoadCommand(ctx, name)
	if err != nil {
		return "", err
	}
	return cp.renderer.Render(ctx, cmd.Prompt, args), nil
}

func commandName(root, path string) (string, bool) {
	ext := filepath.Ext(path)
	if ext != extTOML && ext != extMarkdown {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ext)
	return strings.ReplaceAll(rel, "/", NamespaceSeparator), true
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, NamespaceSeparator) {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return false
		}
	}
	return true
}

func loadCommandFile(path string) (*Command, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read command file '%s'", path)
	}

	cmd := &Command{Path: path}
	switch filepath.Ext(path) {
	case extTOML:
		var tc tomlCommand
		if err := toml.Unmarshal(content, &tc); err != nil {
			return nil, errors.Wrapf(err, "failed to parse command file '%s'", path)
		}
		cmd.Format = FormatTOML
		cmd.Description = strings.TrimSpace(tc.Description)
		cmd.Prompt = tc.Prompt
	default:
		doc, err := markdown.Parse(content)
		if err != nil && !errors.Is(err, markdown.ErrNoFrontmatter) {
			return nil, errors.Wrapf(err, "failed to parse command file '%s'", path)
		}
		cmd.Format = FormatMarkdown
		cmd.Description = doc.String("description")
		cmd.Prompt = doc.Body
	}

	if strings.TrimSpace(cmd.Prompt) == "" {
		return nil, errors.Errorf("command file '%s' has an empty prompt", path)
	}
	return cmd, nil
}
