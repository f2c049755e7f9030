package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects you can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := login(cmd.Context())
		if err != nil {
			return err
		}
		projects, err := b.api.ListProjects(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTEAM")
		for _, p := range projects {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, p.Name, p.TeamName)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}
