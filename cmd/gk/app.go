package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/agents"
	"github.com/gemini-kit/gk/pkg/commands"
	"github.com/gemini-kit/gk/pkg/config"
	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/presenter"
	"github.com/gemini-kit/gk/pkg/session"
	"github.com/gemini-kit/gk/pkg/skills"
)

// app is the state every subcommand starts from: the merged configuration
// and the project the command runs in.
type app struct {
	loaded      *config.Loaded
	cfg         *config.Config
	workDir     string
	projectRoot string
}

func loadApp(global *GlobalConfig) (*app, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	return loadAppAt(global, workDir)
}

func loadAppAt(global *GlobalConfig, workDir string) (*app, error) {
	root, err := paths.FindProjectRoot(workDir)
	if err != nil {
		return nil, err
	}

	loaded, err := config.Load(config.LoadOptions{StateDir: global.ConfigDir, ProjectRoot: root})
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	level := firstNonEmpty(global.LogLevel, cfg.LogLevel)
	format := firstNonEmpty(global.LogFormat, cfg.LogFormat)
	if err := logger.Configure(level, format); err != nil {
		return nil, err
	}

	return &app{
		loaded:      loaded,
		cfg:         cfg,
		workDir:     workDir,
		projectRoot: root,
	}, nil
}

// mustLoadApp is the entry point of interactive commands.
func mustLoadApp() *app {
	a, err := loadApp(globalConfig)
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		os.Exit(1)
	}
	return a
}

func (a *app) sessions() *session.Manager {
	return session.NewManager(a.cfg.StateDir, session.WithMaxDepth(a.cfg.Session.MaxDepth))
}

func (a *app) skillDiscovery() (*skills.Discovery, error) {
	return skills.NewDiscovery(
		skills.WithDefaultDirs(),
		skills.WithExtraDirs(a.cfg.Skills.Dirs...),
		skills.WithInclude(a.cfg.Skills.Include...),
	)
}

// skillNames lists the available skills, logging instead of failing.
func (a *app) skillNames(ctx context.Context) []string {
	discovery, err := a.skillDiscovery()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to set up skill discovery")
		return nil
	}
	names, err := discovery.ListSkillNames()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to list skills")
		return nil
	}
	return names
}

func (a *app) agentProcessor() (*agents.AgentProcessor, error) {
	return agents.NewAgentProcessor(
		agents.WithDefaultDirs(),
		agents.WithExtraDirs(a.cfg.Agents.Dirs...),
	)
}

func (a *app) commandProcessor() (*commands.CommandProcessor, error) {
	return commands.NewCommandProcessor(
		commands.WithDefaultDirs(),
		commands.WithExtraDirs(a.cfg.Commands.Dirs...),
		commands.WithRenderer(commands.NewRenderer(a.workDir)),
	)
}

// resolveSessionID returns id, or the project's active session when id is
// empty.
func (a *app) resolveSessionID(ctx context.Context, m *session.Manager, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	rec, err := m.ActiveSession(ctx, a.projectRoot)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func exitOnError(err error, context string) {
	if err == nil {
		return
	}
	presenter.Error(err, context)
	os.Exit(1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
