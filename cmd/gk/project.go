package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/session"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect projects known to gk",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every project with recorded sessions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		jsonOutput, _ := cmd.Flags().GetBool("json")
		exitOnError(listProjectsCmd(cmd.Context(), a, jsonOutput, os.Stdout), "Failed to list projects")
	},
}

func init() {
	projectListCmd.Flags().Bool("json", false, "Output as JSON")

	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

func listProjectsCmd(ctx context.Context, a *app, jsonOutput bool, out io.Writer) error {
	projects, err := a.sessions().ListProjects(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if projects == nil {
			projects = []*session.ProjectRecord{}
		}
		return writeJSON(out, projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSESSIONS\tACTIVE\tPATH\tUPDATED")
	for _, p := range projects {
		active := p.ActiveSessionID
		if active == "" {
			active = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.Name, len(p.SessionIDs), active, p.Path, p.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
