package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/agents"
	"github.com/gemini-kit/gk/pkg/presenter"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "List and show agent personas",
	Long: `List and show agent personas. Personas are markdown files with frontmatter
under ./.gk/agents, ~/.gk/agents and the directories in agents.dirs.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all valid agent personas",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(listAgentsCmd(cmd.Context(), a, os.Stdout), "Failed to list agents")
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print an agent persona",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(showAgentCmd(cmd.Context(), a, args[0], os.Stdout), "Failed to show agent")
	},
}

func init() {
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentShowCmd)
	rootCmd.AddCommand(agentCmd)
}

func listAgentsCmd(ctx context.Context, a *app, out io.Writer) error {
	processor, err := a.agentProcessor()
	if err != nil {
		return err
	}
	manager, err := agents.LoadAgents(ctx, processor)
	if err != nil {
		return err
	}

	invalid := manager.Invalid()
	invalidPaths := make([]string, 0, len(invalid))
	for path := range invalid {
		invalidPaths = append(invalidPaths, path)
	}
	sort.Strings(invalidPaths)
	for _, path := range invalidPaths {
		presenter.Warning(fmt.Sprintf("Skipping %s: %v", path, invalid[path]))
	}

	all := manager.Agents()
	if len(all) == 0 {
		fmt.Fprintln(out, "No agents found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tTOOLS\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t-----\t-----\t-----------")
	for _, agent := range all {
		model := agent.Metadata.Model
		if model == "" {
			model = "-"
		}
		tools := "-"
		if len(agent.Metadata.Tools) > 0 {
			tools = strings.Join(agent.Metadata.Tools, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", agent.Metadata.Name, model, tools, truncateText(agent.Metadata.Description, 60))
	}
	return tw.Flush()
}

func showAgentCmd(ctx context.Context, a *app, name string, out io.Writer) error {
	processor, err := a.agentProcessor()
	if err != nil {
		return err
	}
	agent, err := processor.LoadAgent(ctx, name)
	if err != nil {
		return err
	}
	if err := agent.Validate(); err != nil {
		presenter.Warning(err.Error())
	}

	meta := agent.Metadata
	fmt.Fprintf(out, "Name:        %s\n", meta.Name)
	fmt.Fprintf(out, "Description: %s\n", meta.Description)
	if meta.Model != "" {
		fmt.Fprintf(out, "Model:       %s\n", meta.Model)
	}
	if len(meta.Tools) > 0 {
		fmt.Fprintf(out, "Tools:       %s\n", strings.Join(meta.Tools, ", "))
	}
	if meta.Temperature != nil {
		fmt.Fprintf(out, "Temperature: %g\n", *meta.Temperature)
	}
	if meta.MaxTurns > 0 {
		fmt.Fprintf(out, "Max turns:   %d\n", meta.MaxTurns)
	}
	fmt.Fprintf(out, "Path:        %s\n\n", agent.Path)
	fmt.Fprintln(out, agent.SystemPrompt)
	return nil
}
