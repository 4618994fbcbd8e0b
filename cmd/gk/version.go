package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of gk",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		info := version.Resolve()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			out, err := info.JSON()
			exitOnError(err, "Failed to encode version")
			fmt.Println(out)
			return
		}
		fmt.Println(info.String())
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(versionCmd)
}
