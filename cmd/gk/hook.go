package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/hooks"
	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/notify"
	"github.com/gemini-kit/gk/pkg/paths"
)

var hookCmd = &cobra.Command{
	Use:   "hook <event>",
	Short: "Handle a lifecycle event from the host CLI",
	Long: `Handle a lifecycle event from the host CLI. The JSON payload is read from
stdin and a JSON response is written to stdout.

Supported events: session_start, session_end, subagent_start, subagent_stop,
notification, before_agent, after_agent, pre_compress. Host spellings such
as SessionStart are accepted.

The command always exits 0 so that a failure never blocks the host. Errors
are written to the gk log file.

Example hook configuration:
  "SessionStart": [{"hooks": [{"type": "command", "command": "gk hook session_start"}]}]`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runHook(cmd.Context(), globalConfig, args[0], os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// runHook never fails: whatever happens, a continue response is written.
func runHook(ctx context.Context, global *GlobalConfig, eventName string, in io.Reader, out io.Writer) {
	resp := hooks.ContinueResponse()
	defer func() {
		if err := json.NewEncoder(out).Encode(resp); err != nil {
			logger.G(ctx).WithError(err).Error("failed to write hook response")
		}
	}()

	a, err := loadApp(global)
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to load configuration")
		return
	}

	// stdout belongs to the host, so logs go to a file.
	closer, err := logger.SetLogFile(paths.LogFile(a.cfg.StateDir))
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to open log file")
	} else {
		defer closer.Close()
	}

	log := logger.G(ctx).WithField("hook", eventName)
	event, err := hooks.ParseEvent(eventName)
	if err != nil {
		log.WithError(err).Warn("ignoring hook")
		return
	}

	payload, err := hooks.ReadPayload(in)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable payload")
		payload = &hooks.Payload{}
	}

	handler := a.hookHandler(ctx)
	result, err := handler.Handle(ctx, event, payload)
	if err != nil {
		log.WithError(err).Error("hook handled with errors")
	}
	if result != nil {
		resp = result
	}
}

func (a *app) hookHandler(ctx context.Context) *hooks.Handler {
	log := logger.G(ctx)

	notifier, err := notify.FromConfig(ctx, a.cfg.Notify)
	if err != nil {
		log.WithError(err).Warn("notifications disabled")
		notifier = notify.Nop{}
	}

	userHooks, err := hooks.NewHookManager(hooks.WithDefaultDirs(), hooks.WithExtraDirs(a.cfg.Hooks.Dirs...))
	if err != nil {
		log.WithError(err).Warn("user hooks disabled")
	}
	if a.cfg.Hooks.Timeout > 0 {
		userHooks.SetTimeout(a.cfg.Hooks.Timeout)
	}

	return hooks.NewHandler(hooks.HandlerOptions{
		Sessions:  a.sessions(),
		Notifier:  notifier,
		UserHooks: userHooks,
		StateDir:  a.cfg.StateDir,
		EnvFile:   a.cfg.Session.EnvFile,
		Skills:    func() []string { return a.skillNames(ctx) },
	})
}
