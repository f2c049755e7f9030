// Package board applies events to board snapshots.
//
// Apply is pure: it never mutates its input and never fails. Events that
// reference an unknown card or column are no-ops, because the backend is
// authoritative and the referenced entity may have been removed concurrently.
package board

import (
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
)

// Apply returns the snapshot that results from applying e to b.
func Apply(b domain.Board, e event.Event) domain.Board {
	if e == nil {
		return b
	}
	r := reducer{in: b, out: b}
	e.Accept(&r)
	return r.out
}

// ApplyAll applies events in order.
func ApplyAll(b domain.Board, events ...event.Event) domain.Board {
	for _, e := range events {
		b = Apply(b, e)
	}
	return b
}

type reducer struct {
	in  domain.Board
	out domain.Board
}

var _ event.Visitor = (*reducer)(nil)

func (r *reducer) CardCreated(e event.CardCreated) {
	dst := r.in.ColumnIndex(e.Card.ColumnID)
	if dst < 0 {
		return
	}

	card := e.Card
	if col, idx, ok := r.in.FindCard(card.ID); ok {
		if col == dst {
			r.out = replaceCard(r.in, col, idx, card)
			return
		}
		r.out = appendCard(removeCard(r.in, col, idx), dst, card)
		return
	}
	r.out = appendCard(r.in, dst, card)
}

func (r *reducer) CardUpdated(e event.CardUpdated) {
	col, idx, ok := r.in.FindCard(e.Card.ID)
	if !ok {
		return
	}

	card := e.Card.Merge(r.in.Columns[col].Cards[idx])
	if e.Card.ColumnID != nil && *e.Card.ColumnID != r.in.Columns[col].ID {
		if dst := r.in.ColumnIndex(*e.Card.ColumnID); dst >= 0 {
			card.ColumnID = r.in.Columns[dst].ID
			r.out = appendCard(removeCard(r.in, col, idx), dst, card)
			return
		}
	}
	r.out = replaceCard(r.in, col, idx, card)
}

func (r *reducer) CardDeleted(e event.CardDeleted) {
	col, idx, ok := r.in.FindCard(e.CardID)
	if !ok {
		return
	}
	r.out = removeCard(r.in, col, idx)
}

func (r *reducer) CardMoved(e event.CardMoved) {
	col, idx, ok := r.in.FindCard(e.CardID)
	if !ok {
		return
	}
	dst := r.in.ColumnIndex(e.ToColumnID)
	if dst < 0 {
		return
	}

	card := r.in.Columns[col].Cards[idx]
	if e.Card != nil {
		card = e.Card.Merge(card)
	}
	card.ColumnID = e.ToColumnID

	if col == dst {
		if e.Card != nil {
			r.out = replaceCard(r.in, col, idx, card)
		}
		return
	}
	r.out = appendCard(removeCard(r.in, col, idx), dst, card)
}

func (r *reducer) CardAssigned(e event.CardAssigned) {
	col, idx, ok := r.in.FindCard(e.CardID)
	if !ok {
		return
	}

	card := r.in.Columns[col].Cards[idx]
	card.Assignee = nil
	if e.Assignee != nil {
		a := *e.Assignee
		card.Assignee = &a
	}
	r.out = replaceCard(r.in, col, idx, card)
}

func (r *reducer) ColumnCreated(e event.ColumnCreated) {
	column := e.Column
	if idx := r.in.ColumnIndex(column.ID); idx >= 0 {
		existing := r.in.Columns[idx]
		existing.Name = column.Name
		existing.Position = column.Position
		r.out = replaceColumn(r.in, idx, existing)
		return
	}

	cards := make([]domain.Card, len(column.Cards))
	for i, c := range column.Cards {
		c.ColumnID = column.ID
		cards[i] = c
	}
	column.Cards = cards

	out := r.in
	out.Columns = make([]domain.Column, len(r.in.Columns), len(r.in.Columns)+1)
	copy(out.Columns, r.in.Columns)
	out.Columns = append(out.Columns, column)
	r.out = out
}

func (r *reducer) ColumnUpdated(e event.ColumnUpdated) {
	idx := r.in.ColumnIndex(e.Column.ID)
	if idx < 0 {
		return
	}
	r.out = replaceColumn(r.in, idx, e.Column.Merge(r.in.Columns[idx]))
}

// ColumnDeleted drops the column together with its cards; orphaned cards
// are not retained anywhere in the snapshot.
func (r *reducer) ColumnDeleted(e event.ColumnDeleted) {
	idx := r.in.ColumnIndex(e.ColumnID)
	if idx < 0 {
		return
	}

	out := r.in
	out.Columns = make([]domain.Column, 0, len(r.in.Columns)-1)
	out.Columns = append(out.Columns, r.in.Columns[:idx]...)
	out.Columns = append(out.Columns, r.in.Columns[idx+1:]...)
	r.out = out
}

func (r *reducer) BoardUpdated(e event.BoardUpdated) {
	r.out = e.Board.Merge(r.in)
}

// Error events only feed user notifications.
func (r *reducer) Error(event.Error) {}

// The helpers below copy the column slice and the one card slice they touch.

func replaceColumn(b domain.Board, idx int, col domain.Column) domain.Board {
	out := b
	out.Columns = make([]domain.Column, len(b.Columns))
	copy(out.Columns, b.Columns)
	out.Columns[idx] = col
	return out
}

func replaceCard(b domain.Board, col, idx int, card domain.Card) domain.Board {
	column := b.Columns[col]
	cards := make([]domain.Card, len(column.Cards))
	copy(cards, column.Cards)
	cards[idx] = card
	column.Cards = cards
	return replaceColumn(b, col, column)
}

func removeCard(b domain.Board, col, idx int) domain.Board {
	column := b.Columns[col]
	cards := make([]domain.Card, 0, len(column.Cards)-1)
	cards = append(cards, column.Cards[:idx]...)
	cards = append(cards, column.Cards[idx+1:]...)
	column.Cards = cards
	return replaceColumn(b, col, column)
}

func appendCard(b domain.Board, col int, card domain.Card) domain.Board {
	column := b.Columns[col]
	card.ColumnID = column.ID
	cards := make([]domain.Card, len(column.Cards), len(column.Cards)+1)
	copy(cards, column.Cards)
	cards = append(cards, card)
	column.Cards = cards
	return replaceColumn(b, col, column)
}
