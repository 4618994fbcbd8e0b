package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgent(t *testing.T, dir, file, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func floatPtr(f float64) *float64 { return &f }

func TestAgentProcessor_LoadAgent(t *testing.T) {
	tempDir := t.TempDir()
	agentFile := writeAgent(t, tempDir, "reviewer.md", `---
name: reviewer
description: Reviews Go changes for correctness
model: gemini-2.5-pro
tools: [read_file, grep, " shell "]
temperature: 0.2
max_turns: 12
---

You are a careful reviewer.
Point out bugs before style.
`)

	processor, err := NewAgentProcessor(WithAgentDirs(tempDir))
	require.NoError(t, err)

	agent, err := processor.LoadAgent(context.Background(), "reviewer")
	require.NoError(t, err)

	assert.Equal(t, "reviewer", agent.Metadata.Name)
	assert.Equal(t, "Reviews Go changes for correctness", agent.Metadata.Description)
	assert.Equal(t, "gemini-2.5-pro", agent.Metadata.Model)
	assert.Equal(t, []string{"read_file", "grep", "shell"}, agent.Metadata.Tools)
	require.NotNil(t, agent.Metadata.Temperature)
	assert.InDelta(t, 0.2, *agent.Metadata.Temperature, 1e-9)
	assert.Equal(t, 12, agent.Metadata.MaxTurns)
	assert.Equal(t, "You are a careful reviewer.\nPoint out bugs before style.\n", agent.SystemPrompt)
	assert.Equal(t, agentFile, agent.Path)
	assert.NoError(t, agent.Validate())
}

func TestAgentProcessor_ToolsAsString(t *testing.T) {
	tempDir := t.TempDir()
	writeAgent(t, tempDir, "writer.md", `---
name: writer
description: Writes docs
tools: "read_file, write_file,,  web_fetch"
temperature: 1
---

Write clearly.
`)

	processor, err := NewAgentProcessor(WithAgentDirs(tempDir))
	require.NoError(t, err)

	agent, err := processor.LoadAgent(context.Background(), "writer")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file", "write_file", "web_fetch"}, agent.Metadata.Tools)
	require.NotNil(t, agent.Metadata.Temperature)
	assert.InDelta(t, 1.0, *agent.Metadata.Temperature, 1e-9)
}

func TestAgentProcessor_LoadAgentDefaultsName(t *testing.T) {
	tempDir := t.TempDir()
	writeAgent(t, tempDir, "planner.md", "---\ndescription: Plans work\n---\n\nPlan first.\n")
	writeAgent(t, tempDir, "bare.md", "Just a prompt.\n")

	processor, err := NewAgentProcessor(WithAgentDirs(tempDir))
	require.NoError(t, err)

	agent, err := processor.LoadAgent(context.Background(), "planner")
	require.NoError(t, err)
	assert.Equal(t, "planner", agent.Metadata.Name)

	bare, err := processor.LoadAgent(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", bare.Metadata.Name)
	assert.Equal(t, "Just a prompt.\n", bare.SystemPrompt)
	assert.Error(t, bare.Validate())

	_, err = processor.LoadAgent(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAgentProcessor_InvalidFrontmatter(t *testing.T) {
	tempDir := t.TempDir()
	writeAgent(t, tempDir, "broken.md", "---\nname: broken\nmax_turns: lots\n---\n\nPrompt.\n")

	processor, err := NewAgentProcessor(WithAgentDirs(tempDir))
	require.NoError(t, err)

	_, err = processor.LoadAgent(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid agent frontmatter")
}

func TestAgentProcessor_ListAgents(t *testing.T) {
	tempDir := t.TempDir()
	writeAgent(t, tempDir, "zeta.md", "---\nname: zeta\ndescription: Z\n---\nZ prompt\n")
	writeAgent(t, tempDir, "alpha.md", "---\nname: alpha\ndescription: A\n---\nA prompt\n")
	writeAgent(t, tempDir, "notes.txt", "not an agent")
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "nested.md"), 0o755))

	processor, err := NewAgentProcessor(WithAgentDirs(tempDir, filepath.Join(tempDir, "missing")))
	require.NoError(t, err)

	agents, err := processor.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "alpha", agents[0].Metadata.Name)
	assert.Equal(t, "zeta", agents[1].Metadata.Name)
}

func TestAgent_Validate(t *testing.T) {
	valid := func() *Agent {
		return &Agent{
			Metadata: AgentMetadata{
				Name:        "reviewer",
				Description: "Reviews code",
				Temperature: floatPtr(0.7),
				MaxTurns:    5,
			},
			SystemPrompt: "Review the diff.",
		}
	}

	tests := []struct {
		name   string
		mutate func(a *Agent)
		errMsg string
	}{
		{name: "valid", mutate: func(*Agent) {}},
		{name: "no temperature", mutate: func(a *Agent) { a.Metadata.Temperature = nil }},
		{name: "temperature at bounds", mutate: func(a *Agent) { a.Metadata.Temperature = floatPtr(2) }},
		{name: "missing name", mutate: func(a *Agent) { a.Metadata.Name = " " }, errMsg: "agent name is required"},
		{name: "missing description", mutate: func(a *Agent) { a.Metadata.Description = "" }, errMsg: "has no description"},
		{name: "empty prompt", mutate: func(a *Agent) { a.SystemPrompt = "\n\t" }, errMsg: "system prompt cannot be empty"},
		{name: "temperature too high", mutate: func(a *Agent) { a.Metadata.Temperature = floatPtr(2.5) }, errMsg: "temperature"},
		{name: "temperature negative", mutate: func(a *Agent) { a.Metadata.Temperature = floatPtr(-0.1) }, errMsg: "temperature"},
		{name: "negative max turns", mutate: func(a *Agent) { a.Metadata.MaxTurns = -1 }, errMsg: "max_turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := valid()
			tt.mutate(agent)
			err := agent.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAgentProcessor_DirectoryPrecedence(t *testing.T) {
	repoDir := t.TempDir()
	homeDir := t.TempDir()
	writeAgent(t, repoDir, "shared.md", "---\nname: shared\ndescription: Repository version\n---\nRepo prompt\n")
	writeAgent(t, homeDir, "shared.md", "---\nname: shared\ndescription: Home version\n---\nHome prompt\n")
	writeAgent(t, homeDir, "home-only.md", "---\nname: home-only\ndescription: Home\n---\nHome prompt\n")

	processor, err := NewAgentProcessor(WithAgentDirs(repoDir), WithExtraDirs(homeDir))
	require.NoError(t, err)

	agent, err := processor.LoadAgent(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "Repository version", agent.Metadata.Description)

	agents, err := processor.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestNewAgentProcessor(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	processor, err := NewAgentProcessor()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(".gk", "agents"),
		filepath.Join("/home/tester", ".gk", "agents"),
	}, processor.Dirs())

	_, err = NewAgentProcessor(WithAgentDirs())
	assert.Error(t, err)
}
