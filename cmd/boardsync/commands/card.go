package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/mutation"
)

var cardFlags struct {
	column      int64
	to          int64
	title       string
	description string
	assignee    string
	due         string
	status      string
	clearDue    bool
}

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Create, edit, move, assign or delete cards",
	Long: `Card commands open the board, apply the change optimistically and wait
until the backend confirms it. A rejected change is rolled back and the
backend's reason is printed.`,
}

var cardCreateCmd = &cobra.Command{
	Use:   "create <boardID>",
	Short: "Add a card to a column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, err := parseID(args[0], "board")
		if err != nil {
			return err
		}
		due, err := parseDue(cardFlags.due)
		if err != nil {
			return err
		}
		return dispatch(cmd.Context(), boardID, mutation.CreateCard{
			ColumnID:    cardFlags.column,
			Title:       cardFlags.title,
			Description: cardFlags.description,
			Assignee:    parseAssignee(cardFlags.assignee),
			DueAt:       due,
			Status:      domain.CardStatus(cardFlags.status),
		})
	},
}

var cardUpdateCmd = &cobra.Command{
	Use:   "update <boardID> <cardID>",
	Short: "Change a card's fields",
	Long:  "Only the flags you pass are changed.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, cardID, err := parseTwoIDs(args, "card")
		if err != nil {
			return err
		}

		a := mutation.UpdateCard{CardID: cardID, ClearDueAt: cardFlags.clearDue}
		flags := cmd.Flags()
		if flags.Changed("title") {
			a.Title = &cardFlags.title
		}
		if flags.Changed("description") {
			a.Description = &cardFlags.description
		}
		if flags.Changed("status") {
			s := domain.CardStatus(cardFlags.status)
			a.Status = &s
		}
		if flags.Changed("due") {
			if a.DueAt, err = parseDue(cardFlags.due); err != nil {
				return err
			}
		}
		return dispatch(cmd.Context(), boardID, a)
	},
}

var cardMoveCmd = &cobra.Command{
	Use:   "move <boardID> <cardID>",
	Short: "Move a card to another column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, cardID, err := parseTwoIDs(args, "card")
		if err != nil {
			return err
		}
		return dispatch(cmd.Context(), boardID, mutation.MoveCard{CardID: cardID, ToColumnID: cardFlags.to})
	},
}

var cardAssignCmd = &cobra.Command{
	Use:   "assign <boardID> <cardID>",
	Short: "Assign a card, or unassign it with an empty --assignee",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, cardID, err := parseTwoIDs(args, "card")
		if err != nil {
			return err
		}
		return dispatch(cmd.Context(), boardID, mutation.AssignCard{CardID: cardID, Assignee: parseAssignee(cardFlags.assignee)})
	},
}

var cardDeleteCmd = &cobra.Command{
	Use:   "delete <boardID> <cardID>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, cardID, err := parseTwoIDs(args, "card")
		if err != nil {
			return err
		}
		return dispatch(cmd.Context(), boardID, mutation.DeleteCard{CardID: cardID})
	},
}

func init() {
	cardCreateCmd.Flags().Int64Var(&cardFlags.column, "column", 0, "Column to add the card to (required)")
	cardCreateCmd.Flags().StringVar(&cardFlags.title, "title", "", "Card title (required)")
	cardCreateCmd.Flags().StringVar(&cardFlags.description, "description", "", "Card description")
	cardCreateCmd.Flags().StringVar(&cardFlags.assignee, "assignee", "", "User name or id")
	cardCreateCmd.Flags().StringVar(&cardFlags.due, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	cardCreateCmd.Flags().StringVar(&cardFlags.status, "status", "", "pending, in_progress or completed")
	_ = cardCreateCmd.MarkFlagRequired("column")
	_ = cardCreateCmd.MarkFlagRequired("title")

	cardUpdateCmd.Flags().StringVar(&cardFlags.title, "title", "", "New title")
	cardUpdateCmd.Flags().StringVar(&cardFlags.description, "description", "", "New description")
	cardUpdateCmd.Flags().StringVar(&cardFlags.status, "status", "", "pending, in_progress or completed")
	cardUpdateCmd.Flags().StringVar(&cardFlags.due, "due", "", "New due date (YYYY-MM-DD or RFC 3339)")
	cardUpdateCmd.Flags().BoolVar(&cardFlags.clearDue, "clear-due", false, "Remove the due date")
	cardUpdateCmd.MarkFlagsMutuallyExclusive("due", "clear-due")

	cardMoveCmd.Flags().Int64Var(&cardFlags.to, "to", 0, "Destination column (required)")
	_ = cardMoveCmd.MarkFlagRequired("to")

	cardAssignCmd.Flags().StringVar(&cardFlags.assignee, "assignee", "", "User name or id; empty unassigns")

	cardCmd.AddCommand(cardCreateCmd, cardUpdateCmd, cardMoveCmd, cardAssignCmd, cardDeleteCmd)
	rootCmd.AddCommand(cardCmd)
}

func parseTwoIDs(args []string, what string) (int64, int64, error) {
	boardID, err := parseID(args[0], "board")
	if err != nil {
		return 0, 0, err
	}
	id, err := parseID(args[1], what)
	if err != nil {
		return 0, 0, err
	}
	return boardID, id, nil
}

// parseAssignee reads a bare user id or a user name. Empty means nobody.
func parseAssignee(s string) *domain.Assignee {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return &domain.Assignee{ID: id}
	}
	return &domain.Assignee{Name: s}
}

func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid due date %q: use YYYY-MM-DD or RFC 3339", s)
}
