package commands

import (
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/mutation"
)

var boardFlags struct {
	name        string
	description string
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Edit board details",
}

var boardUpdateCmd = &cobra.Command{
	Use:   "update <boardID>",
	Short: "Rename a board or change its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, err := parseID(args[0], "board")
		if err != nil {
			return err
		}
		var a mutation.UpdateBoard
		if cmd.Flags().Changed("name") {
			a.Name = &boardFlags.name
		}
		if cmd.Flags().Changed("description") {
			a.Description = &boardFlags.description
		}
		return dispatch(cmd.Context(), boardID, a)
	},
}

func init() {
	boardUpdateCmd.Flags().StringVar(&boardFlags.name, "name", "", "New name")
	boardUpdateCmd.Flags().StringVar(&boardFlags.description, "description", "", "New description")

	boardCmd.AddCommand(boardUpdateCmd)
	rootCmd.AddCommand(boardCmd)
}
