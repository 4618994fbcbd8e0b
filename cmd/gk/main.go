package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/presenter"
)

type GlobalConfig struct {
	LogLevel  string
	LogFormat string
	ConfigDir string
	Quiet     bool
}

func NewGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		LogLevel:  "",
		LogFormat: "",
		ConfigDir: "",
		Quiet:     false,
	}
}

var globalConfig = NewGlobalConfig()

var rootCmd = &cobra.Command{
	Use:   "gk",
	Short: "Session, catalogue and multimodal companion for AI coding agents",
	Long: `gk tracks the sessions and sub-agents of a host AI CLI, loads skills, agent
personas and slash-command templates, sends lifecycle notifications, and talks
to Gemini for multimodal work.

The host runs 'gk hook <event>' from its hook configuration. Everything else is
meant for people.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		presenter.SetQuiet(globalConfig.Quiet)
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func init() {
	defaults := NewGlobalConfig()
	rootCmd.PersistentFlags().StringVar(&globalConfig.LogLevel, "log-level", defaults.LogLevel, "Log level (trace, debug, info, warn, error); overrides log_level")
	rootCmd.PersistentFlags().StringVar(&globalConfig.LogFormat, "log-format", defaults.LogFormat, "Log format (fmt, json); overrides log_format")
	rootCmd.PersistentFlags().StringVar(&globalConfig.ConfigDir, "config-dir", defaults.ConfigDir, "State and global config directory (default $GK_STATE_DIR or ~/.gk)")
	rootCmd.PersistentFlags().BoolVarP(&globalConfig.Quiet, "quiet", "q", defaults.Quiet, "Only print errors and command results")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.G(ctx).WithError(err).Debug("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
