// Package agents loads agent personas: markdown files whose frontmatter
// describes the persona and whose body is the persona's system prompt.
package agents

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/markdown"
	"github.com/gemini-kit/gk/pkg/paths"
)

const (
	agentExt = ".md"

	minTemperature = 0.0
	maxTemperature = 2.0
)

// AgentMetadata represents the YAML frontmatter of a persona file
type AgentMetadata struct {
	Name        string   `mapstructure:"name" json:"name"`
	Description string   `mapstructure:"description" json:"description"`
	Model       string   `mapstructure:"model" json:"model,omitempty"`
	Tools       []string `mapstructure:"tools" json:"tools,omitempty"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty"`
	MaxTurns    int      `mapstructure:"max_turns" json:"max_turns,omitempty"`
}

// Agent represents a loaded persona with its metadata, system prompt, and file path
type Agent struct {
	Metadata     AgentMetadata `json:"metadata"`
	SystemPrompt string        `json:"-"`
	Path         string        `json:"path"`
}

// Validate checks the fields every persona must carry.
func (a *Agent) Validate() error {
	if strings.TrimSpace(a.Metadata.Name) == "" {
		return errors.New("agent name is required")
	}
	if strings.TrimSpace(a.Metadata.Description) == "" {
		return errors.Errorf("agent '%s' has no description", a.Metadata.Name)
	}
	if strings.TrimSpace(a.SystemPrompt) == "" {
		return errors.Errorf("agent '%s' system prompt cannot be empty", a.Metadata.Name)
	}
	if t := a.Metadata.Temperature; t != nil && (*t < minTemperature || *t > maxTemperature) {
		return errors.Errorf("agent '%s' temperature %v is outside [%v, %v]", a.Metadata.Name, *t, minTemperature, maxTemperature)
	}
	if a.Metadata.MaxTurns < 0 {
		return errors.Errorf("agent '%s' max_turns must not be negative", a.Metadata.Name)
	}
	return nil
}

// AgentProcessor handles loading and processing of agent definitions from disk
type AgentProcessor struct {
	agentDirs []string
}

// AgentProcessorOption configures an AgentProcessor
type AgentProcessorOption func(*AgentProcessor) error

// WithAgentDirs sets custom agent directories
func WithAgentDirs(dirs ...string) AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		if len(dirs) == 0 {
			return errors.New("at least one agent directory must be specified")
		}
		ap.agentDirs = dirs
		return nil
	}
}

// WithDefaultDirs sets the default agent directories (./.gk/agents, ~/.gk/agents)
func WithDefaultDirs() AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		ap.agentDirs = []string{
			filepath.Join(".", paths.LocalDirName, "agents"),
			filepath.Join(homeDir, paths.LocalDirName, "agents"),
		}
		return nil
	}
}

// WithExtraDirs appends directories searched after the ones already set.
func WithExtraDirs(dirs ...string) AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		ap.agentDirs = append(ap.agentDirs, dirs...)
		return nil
	}
}

// NewAgentProcessor creates a new agent processor with optional configuration
func NewAgentProcessor(opts ...AgentProcessorOption) (*AgentProcessor, error) {
	ap := &AgentProcessor{}
	if len(opts) == 0 {
		opts = []AgentProcessorOption{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(ap); err != nil {
			return nil, errors.Wrap(err, "failed to apply agent processor option")
		}
	}
	return ap, nil
}

// Dirs returns the search directories in precedence order.
func (ap *AgentProcessor) Dirs() []string {
	return ap.agentDirs
}

func (ap *AgentProcessor) findAgentFile(agentName string) (string, error) {
	for _, dir := range ap.agentDirs {
		for _, name := range []string{agentName + agentExt, agentName} {
			fullPath := filepath.Join(dir, name)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}
	return "", errors.Errorf("agent '%s' not found in directories: %v", agentName, ap.agentDirs)
}

// LoadAgent loads a single agent by file name. A persona without a name in
// its frontmatter is named after its file.
func (ap *AgentProcessor) LoadAgent(ctx context.Context, agentName string) (*Agent, error) {
	agentPath, err := ap.findAgentFile(agentName)
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("path", agentPath).Debug("found agent file")

	content, err := os.ReadFile(agentPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read agent file '%s'", agentPath)
	}

	agent, err := parseAgent(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse agent '%s'", agentPath)
	}
	if agent.Metadata.Name == "" {
		agent.Metadata.Name = agentName
	}
	agent.Path = agentPath
	return agent, nil
}

// ListAgents returns all agents from the configured directories, sorted by
// name. Earlier directories shadow later ones.
func (ap *AgentProcessor) ListAgents(ctx context.Context) ([]*Agent, error) {
	var agents []*Agent
	seen := make(map[string]bool)

	for _, dir := range ap.agentDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.G(ctx).WithField("dir", dir).Debug("agent directory not found, skipping")
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), agentExt) {
				continue
			}
			fileName := strings.TrimSuffix(entry.Name(), agentExt)
			if seen[fileName] {
				continue
			}

			agent, err := ap.LoadAgent(ctx, fileName)
			if err != nil {
				logger.G(ctx).WithField("agent", fileName).WithError(err).Warn("failed to load agent, skipping")
				continue
			}
			seen[fileName] = true
			agents = append(agents, agent)
		}
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Metadata.Name < agents[j].Metadata.Name
	})
	return agents, nil
}

func parseAgent(content []byte) (*Agent, error) {
	doc, err := markdown.Parse(content)
	if err != nil && !errors.Is(err, markdown.ErrNoFrontmatter) {
		return nil, err
	}

	agent := &Agent{SystemPrompt: doc.Body}
	if doc.Meta == nil {
		return agent, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(stringToListHook),
		WeaklyTypedInput: true,
		Result:           &agent.Metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(doc.Meta); err != nil {
		return nil, errors.Wrap(err, "invalid agent frontmatter")
	}

	agent.Metadata.Name = strings.TrimSpace(agent.Metadata.Name)
	agent.Metadata.Description = strings.TrimSpace(agent.Metadata.Description)
	agent.Metadata.Tools = trimList(agent.Metadata.Tools)
	return agent, nil
}

// stringToListHook accepts a comma-separated string wherever a list of
// strings is expected.
func stringToListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
		return data, nil
	}
	return strings.Split(data.(string), ","), nil
}

func trimList(items []string) []string {
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
