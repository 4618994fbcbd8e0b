package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/envfile"
	"github.com/gemini-kit/gk/pkg/hooks"
	"github.com/gemini-kit/gk/pkg/osutil"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/presenter"
	"github.com/gemini-kit/gk/pkg/session"
)

type SessionStartConfig struct {
	HostID string
	Source string
	JSON   bool
}

func NewSessionStartConfig() *SessionStartConfig {
	return &SessionStartConfig{
		HostID: "",
		Source: string(session.SourceStartup),
		JSON:   false,
	}
}

type SessionListConfig struct {
	Status string
	Limit  int
	JSON   bool
}

func NewSessionListConfig() *SessionListConfig {
	return &SessionListConfig{
		Status: "",
		Limit:  20,
		JSON:   false,
	}
}

type AgentStartConfig struct {
	SessionID string
	ID        string
	Parent    string
	Name      string
	Prompt    string
}

func NewAgentStartConfig() *AgentStartConfig {
	return &AgentStartConfig{}
}

type AgentStopConfig struct {
	SessionID string
	Status    string
	Result    string
}

func NewAgentStopConfig() *AgentStopConfig {
	return &AgentStopConfig{
		Status: string(session.AgentCompleted),
	}
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage gk sessions",
	Long: `Inspect and manage the sessions gk tracks for the current project.

Sessions are normally created by 'gk hook session_start'. These commands let
you drive the same lifecycle by hand, look at the agent hierarchy, and clean
up old state.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start or resume a session for the current project",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		config := getSessionStartConfigFromFlags(cmd)
		exitOnError(startSessionCmd(cmd.Context(), a, config, os.Stdout), "Failed to start session")
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session (defaults to the active one)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		reason, _ := cmd.Flags().GetString("reason")
		exitOnError(endSessionCmd(cmd.Context(), a, argOrEmpty(args), reason), "Failed to end session")
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session record as JSON",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(showSessionCmd(cmd.Context(), a, argOrEmpty(args), os.Stdout), "Failed to show session")
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sessions of the current project",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		config := getSessionListConfigFromFlags(cmd)
		exitOnError(listSessionsCmd(cmd.Context(), a, config, os.Stdout), "Failed to list sessions")
	},
}

var sessionTreeCmd = &cobra.Command{
	Use:   "tree [session-id]",
	Short: "Show the agent hierarchy of a session",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(treeSessionCmd(cmd.Context(), a, argOrEmpty(args), os.Stdout), "Failed to show session tree")
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a session, interrupting sub-agents whose process is gone",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(resumeSessionCmd(cmd.Context(), a, args[0], os.Stdout), "Failed to resume session")
	},
}

var sessionAgentStartCmd = &cobra.Command{
	Use:   "agent-start",
	Short: "Record a sub-agent start",
	Long: `Record a sub-agent start in a session. Without --parent the agent is nested
under the deepest running agent.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		config := getAgentStartConfigFromFlags(cmd)
		exitOnError(agentStartCmd(cmd.Context(), a, config, os.Stdout), "Failed to start agent")
	},
}

var sessionAgentStopCmd = &cobra.Command{
	Use:   "agent-stop [agent-id-or-name]",
	Short: "Record a sub-agent stop",
	Long: `Record a sub-agent stop. The agent is referenced by ID or by the name of a
running agent; without an argument the current agent is stopped. Running
descendants of the agent are marked interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		config := getAgentStopConfigFromFlags(cmd)
		exitOnError(agentStopCmd(cmd.Context(), a, argOrEmpty(args), config, os.Stdout), "Failed to stop agent")
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the sessions of the current project live",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(watchSessionsCmd(cmd.Context(), a, os.Stdout), "Failed to watch sessions")
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all session state of the current project",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !presenter.Confirm(fmt.Sprintf("Delete all gk state for %s?", a.projectRoot)) {
				presenter.Info("Aborted")
				return
			}
		}
		exitOnError(resetSessionsCmd(cmd.Context(), a), "Failed to reset project state")
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished sessions older than the retention period",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		exitOnError(pruneSessionsCmd(cmd.Context(), a, olderThan), "Failed to prune sessions")
	},
}

var sessionEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the session handoff variables as shell exports",
	Long: `Print the session handoff variables of the current project as shell exports.

Example:
  eval "$(gk session env)"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(sessionEnvCmdRun(a, os.Stdout), "Failed to read session handoff")
	},
}

func init() {
	startDefaults := NewSessionStartConfig()
	sessionStartCmd.Flags().String("host-id", startDefaults.HostID, "Session ID assigned by the host (generated when empty)")
	sessionStartCmd.Flags().String("source", startDefaults.Source, "Why the session starts (startup, resume, clear, compact)")
	sessionStartCmd.Flags().Bool("json", startDefaults.JSON, "Output the session record as JSON")

	sessionEndCmd.Flags().String("reason", "exit", "Reason recorded for ending the session")

	listDefaults := NewSessionListConfig()
	sessionListCmd.Flags().String("status", listDefaults.Status, "Only list sessions with this status (active, ended, interrupted)")
	sessionListCmd.Flags().Int("limit", listDefaults.Limit, "Maximum number of sessions to list (0 for all)")
	sessionListCmd.Flags().Bool("json", listDefaults.JSON, "Output as JSON")

	agentStartDefaults := NewAgentStartConfig()
	sessionAgentStartCmd.Flags().String("session", agentStartDefaults.SessionID, "Session ID (defaults to the active session)")
	sessionAgentStartCmd.Flags().String("id", agentStartDefaults.ID, "Agent ID (generated when empty)")
	sessionAgentStartCmd.Flags().String("parent", agentStartDefaults.Parent, "Parent agent ID (defaults to the current agent)")
	sessionAgentStartCmd.Flags().String("name", agentStartDefaults.Name, "Agent name")
	sessionAgentStartCmd.Flags().String("prompt", agentStartDefaults.Prompt, "Prompt the agent was started with")

	agentStopDefaults := NewAgentStopConfig()
	sessionAgentStopCmd.Flags().String("session", agentStopDefaults.SessionID, "Session ID (defaults to the active session)")
	sessionAgentStopCmd.Flags().String("status", agentStopDefaults.Status, "Final status (completed, failed, interrupted)")
	sessionAgentStopCmd.Flags().String("result", agentStopDefaults.Result, "Result summary of the agent")

	sessionResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	sessionPruneCmd.Flags().Duration("older-than", 0, "Age threshold (defaults to session.retention_days)")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionTreeCmd)
	sessionCmd.AddCommand(sessionResumeCmd)
	sessionCmd.AddCommand(sessionAgentStartCmd)
	sessionCmd.AddCommand(sessionAgentStopCmd)
	sessionCmd.AddCommand(sessionWatchCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	sessionCmd.AddCommand(sessionPruneCmd)
	sessionCmd.AddCommand(sessionEnvCmd)
	rootCmd.AddCommand(sessionCmd)
}

func getSessionStartConfigFromFlags(cmd *cobra.Command) *SessionStartConfig {
	config := NewSessionStartConfig()
	if hostID, err := cmd.Flags().GetString("host-id"); err == nil {
		config.HostID = hostID
	}
	if source, err := cmd.Flags().GetString("source"); err == nil {
		config.Source = source
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = jsonOutput
	}
	return config
}

func getSessionListConfigFromFlags(cmd *cobra.Command) *SessionListConfig {
	config := NewSessionListConfig()
	if status, err := cmd.Flags().GetString("status"); err == nil {
		config.Status = status
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = jsonOutput
	}
	return config
}

func getAgentStartConfigFromFlags(cmd *cobra.Command) *AgentStartConfig {
	config := NewAgentStartConfig()
	config.SessionID, _ = cmd.Flags().GetString("session")
	config.ID, _ = cmd.Flags().GetString("id")
	config.Parent, _ = cmd.Flags().GetString("parent")
	config.Name, _ = cmd.Flags().GetString("name")
	config.Prompt, _ = cmd.Flags().GetString("prompt")
	return config
}

func getAgentStopConfigFromFlags(cmd *cobra.Command) *AgentStopConfig {
	config := NewAgentStopConfig()
	config.SessionID, _ = cmd.Flags().GetString("session")
	if status, err := cmd.Flags().GetString("status"); err == nil {
		config.Status = status
	}
	config.Result, _ = cmd.Flags().GetString("result")
	return config
}

func startSessionCmd(ctx context.Context, a *app, config *SessionStartConfig, out io.Writer) error {
	m := a.sessions()
	res, err := m.StartSession(ctx, session.StartOptions{
		ProjectPath:   a.projectRoot,
		HostSessionID: config.HostID,
		Source:        session.ParseSource(config.Source),
		PID:           osutil.HostPID(),
	})
	if err != nil {
		return err
	}

	vars := hooks.HandoffVars(res.Session, session.CurrentAgent(res.Session))
	if err := a.handoff(res.Session.ProjectID).Write(vars); err != nil {
		return err
	}

	if config.JSON {
		return writeJSON(out, res.Session)
	}
	fmt.Fprintln(out, res.Session.ID)
	return nil
}

func endSessionCmd(ctx context.Context, a *app, id, reason string) error {
	m := a.sessions()
	id, err := a.resolveSessionID(ctx, m, id)
	if err != nil {
		return err
	}
	rec, err := m.EndSession(ctx, id, reason)
	if err != nil {
		return err
	}
	if err := a.handoff(rec.ProjectID).Clear(); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Session %s ended (%s)", rec.ID, rec.EndReason))
	return nil
}

func showSessionCmd(ctx context.Context, a *app, id string, out io.Writer) error {
	rec, err := a.loadSession(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(out, rec)
}

func listSessionsCmd(ctx context.Context, a *app, config *SessionListConfig, out io.Writer) error {
	records, err := a.sessions().ListSessions(ctx, a.projectRoot, session.ListOptions{
		Status: session.Status(config.Status),
		Limit:  config.Limit,
	})
	if err != nil {
		return err
	}
	if config.JSON {
		if records == nil {
			records = []*session.SessionRecord{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAGENTS\tRESUMES\tUPDATED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			rec.ID, rec.Status, len(rec.Agents), rec.ResumeCount, rec.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func treeSessionCmd(ctx context.Context, a *app, id string, out io.Writer) error {
	rec, err := a.loadSession(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s [%s]\n", rec.ID, rec.Status)
	fmt.Fprintln(out, session.RenderTree(rec, time.Now()))
	return nil
}

func resumeSessionCmd(ctx context.Context, a *app, id string, out io.Writer) error {
	res, err := a.sessions().Resume(ctx, id, osutil.HostPID())
	if err != nil {
		return err
	}
	vars := hooks.HandoffVars(res.Session, session.CurrentAgent(res.Session))
	if err := a.handoff(res.Session.ProjectID).Write(vars); err != nil {
		return err
	}
	fmt.Fprintf(out, "Resumed %s (resume #%d)\n", res.Session.ID, res.Session.ResumeCount)
	fmt.Fprintln(out, session.RenderTree(res.Session, time.Now()))
	return nil
}

func agentStartCmd(ctx context.Context, a *app, config *AgentStartConfig, out io.Writer) error {
	m := a.sessions()
	id, err := a.resolveSessionID(ctx, m, config.SessionID)
	if err != nil {
		return err
	}
	agent, err := m.StartAgent(ctx, id, session.AgentStart{
		ID:       config.ID,
		ParentID: config.Parent,
		Name:     config.Name,
		Prompt:   config.Prompt,
		PID:      osutil.HostPID(),
	})
	if err != nil {
		return err
	}

	if rec, err := m.GetSession(ctx, id); err == nil {
		a.updateHandoffAgent(rec.ProjectID, agent.ID)
	}
	fmt.Fprintln(out, agent.ID)
	return nil
}

func agentStopCmd(ctx context.Context, a *app, ref string, config *AgentStopConfig, out io.Writer) error {
	m := a.sessions()
	id, err := a.resolveSessionID(ctx, m, config.SessionID)
	if err != nil {
		return err
	}
	agent, err := m.StopAgent(ctx, id, ref, session.AgentStatus(config.Status), config.Result)
	if err != nil {
		return err
	}

	if rec, err := m.GetSession(ctx, id); err == nil {
		current := session.MainAgentID
		if c := session.CurrentAgent(rec); c != nil {
			current = c.ID
		}
		a.updateHandoffAgent(rec.ProjectID, current)
	}
	fmt.Fprintf(out, "%s %s\n", agent.ID, agent.Status)
	return nil
}

func watchSessionsCmd(ctx context.Context, a *app, out io.Writer) error {
	hash, err := paths.ProjectHash(a.projectRoot)
	if err != nil {
		return err
	}
	m := a.sessions()
	if rec, err := m.ActiveSession(ctx, a.projectRoot); err == nil {
		printWatchFrame(out, rec)
	}
	presenter.Info("Watching for session changes, press Ctrl+C to stop")
	return m.Watch(ctx, hash, func(rec *session.SessionRecord) {
		printWatchFrame(out, rec)
	})
}

func printWatchFrame(out io.Writer, rec *session.SessionRecord) {
	fmt.Fprintf(out, "\n%s  %s [%s]\n", time.Now().Format(time.TimeOnly), rec.ID, rec.Status)
	fmt.Fprintln(out, session.RenderTree(rec, time.Now()))
}

func resetSessionsCmd(ctx context.Context, a *app) error {
	removed, err := a.sessions().ResetProject(ctx, a.projectRoot)
	if err != nil {
		return err
	}
	if !removed {
		presenter.Info("Nothing to reset")
		return nil
	}
	presenter.Success(fmt.Sprintf("Removed gk state for %s", a.projectRoot))
	return nil
}

func pruneSessionsCmd(ctx context.Context, a *app, olderThan time.Duration) error {
	if olderThan <= 0 {
		days := a.cfg.Session.RetentionDays
		if days <= 0 {
			return errors.New("session.retention_days must be positive, or pass --older-than")
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}
	n, err := a.sessions().Prune(ctx, olderThan)
	if err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Pruned %d session(s)", n))
	return nil
}

func sessionEnvCmdRun(a *app, out io.Writer) error {
	hash, err := paths.ProjectHash(a.projectRoot)
	if err != nil {
		return err
	}
	vars, err := a.handoff(hash).Read()
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, envfile.FormatExports(vars))
	return err
}

func (a *app) loadSession(ctx context.Context, id string) (*session.SessionRecord, error) {
	m := a.sessions()
	if id == "" {
		return m.ActiveSession(ctx, a.projectRoot)
	}
	return m.GetSession(ctx, id)
}

func (a *app) handoff(projectHash string) *envfile.Handoff {
	return envfile.NewHandoff(paths.HandoffFile(a.cfg.StateDir, projectHash))
}

func (a *app) updateHandoffAgent(projectHash, agentID string) {
	h := a.handoff(projectHash)
	if _, err := os.Stat(h.Path()); err != nil {
		return
	}
	if err := h.Update(map[string]string{envfile.VarAgentID: agentID}); err != nil {
		presenter.Warning(fmt.Sprintf("Failed to update session handoff: %v", err))
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode JSON")
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
