package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"skusync.evalgo.org/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "skusync %s (%s)\n", info.Version, info.GoVersion)

			if deps, _ := cmd.Flags().GetBool("deps"); deps {
				for _, dep := range info.Dependencies {
					line := fmt.Sprintf("  %s %s", dep.Path, dep.Version)
					if dep.Replace != "" {
						line += " => " + dep.Replace
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("deps", false, "also list linked module versions")
	return cmd
}
