package agents

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
)

// AgentManager holds the valid personas found by a processor.
type AgentManager struct {
	processor *AgentProcessor
	agents    []*Agent
	invalid   map[string]error
}

// NewAgentManager creates a manager around processor. A nil processor uses
// the default directories.
func NewAgentManager(processor *AgentProcessor) (*AgentManager, error) {
	if processor == nil {
		p, err := NewAgentProcessor()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create agent processor")
		}
		processor = p
	}
	return &AgentManager{processor: processor, invalid: map[string]error{}}, nil
}

// LoadAllAgents loads every persona and keeps the ones that validate.
func (am *AgentManager) LoadAllAgents(ctx context.Context) error {
	agents, err := am.processor.ListAgents(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list agents")
	}

	am.agents = nil
	am.invalid = map[string]error{}
	for _, agent := range agents {
		if err := agent.Validate(); err != nil {
			logger.G(ctx).WithField("agent", agent.Metadata.Name).WithError(err).Warn("invalid agent configuration, skipping")
			am.invalid[agent.Path] = err
			continue
		}
		am.agents = append(am.agents, agent)
	}

	logger.G(ctx).WithField("count", len(am.agents)).Debug("loaded agents")
	return nil
}

// Agents returns the loaded personas sorted by name.
func (am *AgentManager) Agents() []*Agent {
	return am.agents
}

// Invalid returns the validation error of each rejected persona file.
func (am *AgentManager) Invalid() map[string]error {
	return am.invalid
}

// GetAgent returns a specific agent by name
func (am *AgentManager) GetAgent(name string) (*Agent, error) {
	for _, agent := range am.agents {
		if agent.Metadata.Name == name {
			return agent, nil
		}
	}
	return nil, errors.Errorf("agent '%s' not found", name)
}

// ListAgentNames returns the names of all loaded agents
func (am *AgentManager) ListAgentNames() []string {
	names := make([]string, 0, len(am.agents))
	for _, agent := range am.agents {
		names = append(names, agent.Metadata.Name)
	}
	return names
}

// LoadAgents creates a manager for processor and loads it.
func LoadAgents(ctx context.Context, processor *AgentProcessor) (*AgentManager, error) {
	manager, err := NewAgentManager(processor)
	if err != nil {
		return nil, err
	}
	if err := manager.LoadAllAgents(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load agents")
	}
	return manager, nil
}
