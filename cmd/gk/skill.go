package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "List and show skills",
	Long: `List and show skills. Skills are directories with a SKILL.md file under
./.gk/skills, ~/.gk/skills and the directories in skills.dirs.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available skills",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		a := mustLoadApp()
		exitOnError(listSkillsCmd(a, os.Stdout), "Failed to list skills")
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a skill and its reference files",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(showSkillCmd(a, args[0], os.Stdout), "Failed to show skill")
	},
}

func init() {
	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	rootCmd.AddCommand(skillCmd)
}

func listSkillsCmd(a *app, out io.Writer) error {
	discovery, err := a.skillDiscovery()
	if err != nil {
		return err
	}
	allSkills, err := discovery.DiscoverSkills()
	if err != nil {
		return err
	}

	if len(allSkills) == 0 {
		fmt.Fprintln(out, "No skills installed")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDIRECTORY\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t---------\t-----------")
	for _, name := range skills.Names(allSkills) {
		skill := allSkills[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", skill.Name, skill.Directory, truncateText(skill.Description, 60))
	}
	return tw.Flush()
}

func showSkillCmd(a *app, name string, out io.Writer) error {
	discovery, err := a.skillDiscovery()
	if err != nil {
		return err
	}
	skill, err := discovery.GetSkill(name)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "# %s\n\n%s\n\nDirectory: %s\n\n", skill.Name, skill.Description, skill.Directory)
	fmt.Fprintln(out, skill.Content)

	refs, err := skill.References()
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		fmt.Fprintln(out, "\nReferences:")
		for _, ref := range refs {
			fmt.Fprintf(out, "  - %s\n", ref)
		}
	}
	return nil
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
