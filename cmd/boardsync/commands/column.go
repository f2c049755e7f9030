package commands

import (
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/mutation"
)

var columnFlags struct {
	name     string
	position int
}

var columnCmd = &cobra.Command{
	Use:   "column",
	Short: "Create, rename, reorder or delete columns",
}

var columnCreateCmd = &cobra.Command{
	Use:   "create <boardID>",
	Short: "Add a column, after the others unless --position is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, err := parseID(args[0], "board")
		if err != nil {
			return err
		}
		a := mutation.CreateColumn{Name: columnFlags.name}
		if cmd.Flags().Changed("position") {
			a.Position = &columnFlags.position
		}
		return dispatch(cmd.Context(), boardID, a)
	},
}

var columnUpdateCmd = &cobra.Command{
	Use:   "update <boardID> <columnID>",
	Short: "Rename or reposition a column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, columnID, err := parseTwoIDs(args, "column")
		if err != nil {
			return err
		}
		a := mutation.UpdateColumn{ColumnID: columnID}
		if cmd.Flags().Changed("name") {
			a.Name = &columnFlags.name
		}
		if cmd.Flags().Changed("position") {
			a.Position = &columnFlags.position
		}
		return dispatch(cmd.Context(), boardID, a)
	},
}

var columnDeleteCmd = &cobra.Command{
	Use:   "delete <boardID> <columnID>",
	Short: "Delete a column and its cards",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, columnID, err := parseTwoIDs(args, "column")
		if err != nil {
			return err
		}
		return dispatch(cmd.Context(), boardID, mutation.DeleteColumn{ColumnID: columnID})
	},
}

func init() {
	columnCreateCmd.Flags().StringVar(&columnFlags.name, "name", "", "Column name (required)")
	columnCreateCmd.Flags().IntVar(&columnFlags.position, "position", 0, "Render position")
	_ = columnCreateCmd.MarkFlagRequired("name")

	columnUpdateCmd.Flags().StringVar(&columnFlags.name, "name", "", "New name")
	columnUpdateCmd.Flags().IntVar(&columnFlags.position, "position", 0, "New render position")

	columnCmd.AddCommand(columnCreateCmd, columnUpdateCmd, columnDeleteCmd)
	rootCmd.AddCommand(columnCmd)
}
