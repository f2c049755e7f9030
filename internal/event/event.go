// Package event defines the closed set of board events exchanged over the
// push channel and their JSON wire encoding.
package event

import (
	"github.com/gosuda/boardsync/internal/domain"
)

type Type string

const (
	TypeCardCreated   Type = "card.created"
	TypeCardUpdated   Type = "card.updated"
	TypeCardDeleted   Type = "card.deleted"
	TypeCardMoved     Type = "card.moved"
	TypeCardAssigned  Type = "card.assigned"
	TypeColumnCreated Type = "column.created"
	TypeColumnUpdated Type = "column.updated"
	TypeColumnDeleted Type = "column.deleted"
	TypeBoardUpdated  Type = "board.updated"
	TypeError         Type = "error"
)

// Event is one board mutation (or a backend error notice). The set of
// implementations is closed: every variant has a Visitor method, so a new
// variant does not compile until each visitor handles it.
type Event interface {
	Type() Type
	Accept(v Visitor)
}

// Visitor handles every Event variant.
type Visitor interface {
	CardCreated(e CardCreated)
	CardUpdated(e CardUpdated)
	CardDeleted(e CardDeleted)
	CardMoved(e CardMoved)
	CardAssigned(e CardAssigned)
	ColumnCreated(e ColumnCreated)
	ColumnUpdated(e ColumnUpdated)
	ColumnDeleted(e ColumnDeleted)
	BoardUpdated(e BoardUpdated)
	Error(e Error)
}

type CardCreated struct {
	Card domain.Card `json:"card"`
}

type CardUpdated struct {
	Card CardPatch `json:"card"`
}

type CardDeleted struct {
	CardID int64 `json:"card_id"`
}

// CardMoved carries identifiers only. Card, when present, is an
// authoritative overwrite of the fields it carries.
type CardMoved struct {
	CardID       int64      `json:"card_id"`
	FromColumnID int64      `json:"old_column_id,omitempty"`
	ToColumnID   int64      `json:"new_column_id"`
	Card         *CardPatch `json:"card,omitempty"`
}

// CardAssigned sets the assignee of a card. A nil Assignee unassigns it.
type CardAssigned struct {
	CardID   int64            `json:"card_id"`
	Assignee *domain.Assignee `json:"assignee"`
}

type ColumnCreated struct {
	Column domain.Column `json:"column"`
}

type ColumnUpdated struct {
	Column ColumnPatch `json:"column"`
}

type ColumnDeleted struct {
	ColumnID int64 `json:"column_id"`
}

type BoardUpdated struct {
	Board BoardPatch `json:"board"`
}

// Error is a backend-originated warning for the user. It never changes board state.
type Error struct {
	Message string `json:"message"`
}

func (CardCreated) Type() Type   { return TypeCardCreated }
func (CardUpdated) Type() Type   { return TypeCardUpdated }
func (CardDeleted) Type() Type   { return TypeCardDeleted }
func (CardMoved) Type() Type     { return TypeCardMoved }
func (CardAssigned) Type() Type  { return TypeCardAssigned }
func (ColumnCreated) Type() Type { return TypeColumnCreated }
func (ColumnUpdated) Type() Type { return TypeColumnUpdated }
func (ColumnDeleted) Type() Type { return TypeColumnDeleted }
func (BoardUpdated) Type() Type  { return TypeBoardUpdated }
func (Error) Type() Type         { return TypeError }

func (e CardCreated) Accept(v Visitor)   { v.CardCreated(e) }
func (e CardUpdated) Accept(v Visitor)   { v.CardUpdated(e) }
func (e CardDeleted) Accept(v Visitor)   { v.CardDeleted(e) }
func (e CardMoved) Accept(v Visitor)     { v.CardMoved(e) }
func (e CardAssigned) Accept(v Visitor)  { v.CardAssigned(e) }
func (e ColumnCreated) Accept(v Visitor) { v.ColumnCreated(e) }
func (e ColumnUpdated) Accept(v Visitor) { v.ColumnUpdated(e) }
func (e ColumnDeleted) Accept(v Visitor) { v.ColumnDeleted(e) }
func (e BoardUpdated) Accept(v Visitor)  { v.BoardUpdated(e) }
func (e Error) Accept(v Visitor)         { v.Error(e) }
