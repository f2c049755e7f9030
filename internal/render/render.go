// Package render prints board views for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/gosuda/boardsync/internal/boardview"
	"github.com/gosuda/boardsync/internal/channel"
	"github.com/gosuda/boardsync/internal/domain"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Board writes one full frame: header, columns in render order, then notices.
func Board(w io.Writer, u boardview.Update) {
	title := u.Board.Name
	if title == "" {
		title = fmt.Sprintf("board %d", u.Board.ID)
	}
	bold.Fprint(w, title)
	fmt.Fprintf(w, "  %s", Status(u.Status))
	if u.Loading {
		faint.Fprint(w, "  loading…")
	}
	if u.Pending > 0 {
		yellow.Fprintf(w, "  %d pending", u.Pending)
	}
	fmt.Fprintln(w)
	if u.Board.Description != "" {
		faint.Fprintln(w, u.Board.Description)
	}

	for _, col := range u.Board.SortedColumns() {
		fmt.Fprintln(w)
		cyan.Fprintf(w, "%s (%d)\n", col.Name, len(col.Cards))
		for _, c := range col.Cards {
			fmt.Fprintf(w, "  %s\n", Card(c))
		}
	}

	if len(u.Notices) > 0 {
		fmt.Fprintln(w)
	}
	for _, n := range u.Notices {
		Notice(w, n)
	}
}

// Status renders the connection indicator.
func Status(st channel.Status) string {
	switch {
	case st.State == channel.StateOpen:
		return green.Sprint("● live")
	case st.Offline:
		if st.Reason == "" {
			return red.Sprint("● offline")
		}
		return red.Sprint("● offline: " + st.Reason)
	case st.State == channel.StateDisconnected:
		return yellow.Sprintf("● reconnecting (attempt %d in %s)", st.Attempt, st.Delay)
	case st.State == channel.StateConnecting:
		return yellow.Sprint("● connecting")
	default:
		return faint.Sprint("● " + st.State.String())
	}
}

// Card renders one card line. Cards not yet confirmed by the backend carry
// a negative id and are marked as saving.
func Card(c domain.Card) string {
	var b strings.Builder
	if c.ID < 0 {
		b.WriteString(faint.Sprint("saving "))
	} else {
		b.WriteString(faint.Sprintf("#%d ", c.ID))
	}
	b.WriteString(c.Title)

	if label := c.Assignee.Label(); label != "" {
		b.WriteString("  ")
		b.WriteString(cyan.Sprint("@" + label))
	}
	if c.DueAt != nil {
		b.WriteString("  ")
		b.WriteString(faint.Sprint("due " + c.DueAt.Format("2006-01-02")))
	}
	switch c.Status {
	case domain.CardStatusInProgress:
		b.WriteString("  ")
		b.WriteString(yellow.Sprint("[in progress]"))
	case domain.CardStatusCompleted:
		b.WriteString("  ")
		b.WriteString(green.Sprint("[done]"))
	}
	return b.String()
}

// Notice writes one dismissible notice with its id.
func Notice(w io.Writer, n boardview.Notice) {
	c := yellow
	if n.Level == boardview.NoticeError {
		c = red
	}
	c.Fprintf(w, "[%d] %s: %s\n", n.ID, n.Level, n.Message)
}

// Success prints a confirmation line in green.
func Success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

// Error prints a failure line in red.
func Error(w io.Writer, err error) {
	red.Fprintf(w, "error: %v\n", err)
}
