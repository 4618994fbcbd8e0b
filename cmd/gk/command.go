package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "List and render slash-command templates",
	Long: `List and render slash-command templates. Templates are TOML or markdown files
under ./.gk/commands, ~/.gk/commands and the directories in commands.dirs.
Nested directories become namespaces: git/commit.toml is git:commit.

Templates may use {{args}} for the arguments, !{cmd} for shell output and
@{path} for file contents.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var commandListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available commands",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(listCommandsCmd(cmd.Context(), a, os.Stdout), "Failed to list commands")
	},
}

var commandRenderCmd = &cobra.Command{
	Use:   "render <name> [args...]",
	Short: "Render a command template to stdout",
	Long: `Render a command template to stdout.

Examples:
  gk command render git:commit
  gk command render review src/main.go "focus on error handling"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(renderCommandCmd(cmd.Context(), a, args[0], strings.Join(args[1:], " "), os.Stdout), "Failed to render command")
	},
}

func init() {
	commandCmd.AddCommand(commandListCmd)
	commandCmd.AddCommand(commandRenderCmd)
	rootCmd.AddCommand(commandCmd)
}

func listCommandsCmd(ctx context.Context, a *app, out io.Writer) error {
	processor, err := a.commandProcessor()
	if err != nil {
		return err
	}
	all, err := processor.ListCommands(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "No commands found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORMAT\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t------\t-----------")
	for _, c := range all {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Format, truncateText(c.Description, 60))
	}
	return tw.Flush()
}

func renderCommandCmd(ctx context.Context, a *app, name, args string, out io.Writer) error {
	processor, err := a.commandProcessor()
	if err != nil {
		return err
	}
	rendered, err := processor.Render(ctx, name, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}
