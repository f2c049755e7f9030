package mutation

import (
	"context"
	"strings"
	"time"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
)

// Backend is the durable side of a mutation. internal/api.Client implements it.
type Backend interface {
	CreateCard(ctx context.Context, c domain.Card) (domain.Card, error)
	UpdateCard(ctx context.Context, p event.CardPatch) (event.CardPatch, error)
	DeleteCard(ctx context.Context, cardID int64) error
	MoveCard(ctx context.Context, cardID, fromColumnID, toColumnID int64) (*event.CardPatch, error)
	AssignCard(ctx context.Context, cardID int64, assignee *domain.Assignee) (*event.CardPatch, error)
	CreateColumn(ctx context.Context, boardID int64, col domain.Column) (domain.Column, error)
	UpdateColumn(ctx context.Context, p event.ColumnPatch) (event.ColumnPatch, error)
	DeleteColumn(ctx context.Context, columnID int64) error
	UpdateBoard(ctx context.Context, boardID int64, p event.BoardPatch) (event.BoardPatch, error)
}

// Update methods return only the fields the backend sent back. The confirmed
// event is the requested change with those fields on top, so a partial
// response never clears local values.

// Action is a user-initiated mutation. The set is closed.
type Action interface {
	// Kind names the action for logs and metrics, e.g. "move_card".
	Kind() string
	// Validate checks local constraints without looking at the board.
	Validate() error

	plan(view domain.Board, tempID int64) (plan, error)
}

type plan struct {
	optimistic event.Event
	submit     func(ctx context.Context, b Backend) (event.Event, error)
}

type CreateCard struct {
	ColumnID    int64
	Title       string
	Description string
	Assignee    *domain.Assignee
	DueAt       *time.Time
	Status      domain.CardStatus
}

type UpdateCard struct {
	CardID      int64
	Title       *string
	Description *string
	Status      *domain.CardStatus
	DueAt       *time.Time
	ClearDueAt  bool
}

type DeleteCard struct {
	CardID int64
}

type MoveCard struct {
	CardID     int64
	ToColumnID int64
}

// AssignCard sets the assignee. A nil Assignee unassigns the card.
type AssignCard struct {
	CardID   int64
	Assignee *domain.Assignee
}

// CreateColumn appends a column. A nil Position places it after every
// existing column.
type CreateColumn struct {
	Name     string
	Position *int
}

type UpdateColumn struct {
	ColumnID int64
	Name     *string
	Position *int
}

type DeleteColumn struct {
	ColumnID int64
}

type UpdateBoard struct {
	Name        *string
	Description *string
}

func (CreateCard) Kind() string   { return "create_card" }
func (UpdateCard) Kind() string   { return "update_card" }
func (DeleteCard) Kind() string   { return "delete_card" }
func (MoveCard) Kind() string     { return "move_card" }
func (AssignCard) Kind() string   { return "assign_card" }
func (CreateColumn) Kind() string { return "create_column" }
func (UpdateColumn) Kind() string { return "update_column" }
func (DeleteColumn) Kind() string { return "delete_column" }
func (UpdateBoard) Kind() string  { return "update_board" }

func (a CreateCard) Validate() error {
	if a.ColumnID <= 0 {
		return domain.Invalid("column_id", "must reference a saved column")
	}
	if strings.TrimSpace(a.Title) == "" {
		return domain.Invalid("title", "must not be empty")
	}
	return nil
}

func (a UpdateCard) Validate() error {
	if a.CardID <= 0 {
		return domain.Invalid("card_id", "must reference a saved card")
	}
	if a.Title != nil && strings.TrimSpace(*a.Title) == "" {
		return domain.Invalid("title", "must not be empty")
	}
	if a.patch().Empty() {
		return domain.Invalid("card", "no fields to update")
	}
	return nil
}

func (a DeleteCard) Validate() error {
	if a.CardID <= 0 {
		return domain.Invalid("card_id", "must reference a saved card")
	}
	return nil
}

func (a MoveCard) Validate() error {
	if a.CardID <= 0 {
		return domain.Invalid("card_id", "must reference a saved card")
	}
	if a.ToColumnID <= 0 {
		return domain.Invalid("column_id", "must reference a saved column")
	}
	return nil
}

func (a AssignCard) Validate() error {
	if a.CardID <= 0 {
		return domain.Invalid("card_id", "must reference a saved card")
	}
	if a.Assignee != nil && a.Assignee.ID == 0 && strings.TrimSpace(a.Assignee.Name) == "" {
		return domain.Invalid("assignee", "needs an id or a name")
	}
	return nil
}

func (a CreateColumn) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return domain.Invalid("name", "must not be empty")
	}
	return nil
}

func (a UpdateColumn) Validate() error {
	if a.ColumnID <= 0 {
		return domain.Invalid("column_id", "must reference a saved column")
	}
	if a.Name != nil && strings.TrimSpace(*a.Name) == "" {
		return domain.Invalid("name", "must not be empty")
	}
	if a.Name == nil && a.Position == nil {
		return domain.Invalid("column", "no fields to update")
	}
	return nil
}

func (a DeleteColumn) Validate() error {
	if a.ColumnID <= 0 {
		return domain.Invalid("column_id", "must reference a saved column")
	}
	return nil
}

func (a UpdateBoard) Validate() error {
	if a.Name != nil && strings.TrimSpace(*a.Name) == "" {
		return domain.Invalid("name", "must not be empty")
	}
	if a.Name == nil && a.Description == nil {
		return domain.Invalid("board", "no fields to update")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Plans: the optimistic event plus the request that confirms it.
// ---------------------------------------------------------------------------

func (a CreateCard) plan(view domain.Board, tempID int64) (plan, error) {
	if view.ColumnIndex(a.ColumnID) < 0 {
		return plan{}, domain.ErrNotFound
	}
	card := domain.Card{
		Title:       strings.TrimSpace(a.Title),
		Description: a.Description,
		ColumnID:    a.ColumnID,
		Assignee:    a.Assignee,
		DueAt:       a.DueAt,
		Status:      a.Status,
	}
	if card.Status == "" {
		card.Status = domain.CardStatusPending
	}
	guess := card
	guess.ID = tempID

	return plan{
		optimistic: event.CardCreated{Card: guess},
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			created, err := b.CreateCard(ctx, card)
			if err != nil {
				return nil, err
			}
			if created.ColumnID == 0 {
				created.ColumnID = card.ColumnID
			}
			return event.CardCreated{Card: created}, nil
		},
	}, nil
}

func (a UpdateCard) patch() event.CardPatch {
	return event.CardPatch{
		ID:          a.CardID,
		Title:       a.Title,
		Description: a.Description,
		Status:      a.Status,
		DueAt:       a.DueAt,
		ClearDueAt:  a.ClearDueAt && a.DueAt == nil,
	}
}

func (a UpdateCard) plan(view domain.Board, _ int64) (plan, error) {
	if _, _, ok := view.FindCard(a.CardID); !ok {
		return plan{}, domain.ErrNotFound
	}
	p := a.patch()
	return plan{
		optimistic: event.CardUpdated{Card: p},
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			updated, err := b.UpdateCard(ctx, p)
			if err != nil {
				return nil, err
			}
			confirmed := p.Overlay(updated)
			confirmed.ID = a.CardID
			return event.CardUpdated{Card: confirmed}, nil
		},
	}, nil
}

func (a DeleteCard) plan(view domain.Board, _ int64) (plan, error) {
	if _, _, ok := view.FindCard(a.CardID); !ok {
		return plan{}, domain.ErrNotFound
	}
	ev := event.CardDeleted{CardID: a.CardID}
	return plan{
		optimistic: ev,
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			if err := b.DeleteCard(ctx, a.CardID); err != nil {
				return nil, err
			}
			return ev, nil
		},
	}, nil
}

func (a MoveCard) plan(view domain.Board, _ int64) (plan, error) {
	col, _, ok := view.FindCard(a.CardID)
	if !ok || view.ColumnIndex(a.ToColumnID) < 0 {
		return plan{}, domain.ErrNotFound
	}
	from := view.Columns[col].ID
	ev := event.CardMoved{CardID: a.CardID, FromColumnID: from, ToColumnID: a.ToColumnID}

	return plan{
		optimistic: ev,
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			moved, err := b.MoveCard(ctx, a.CardID, from, a.ToColumnID)
			if err != nil {
				return nil, err
			}
			confirmed := ev
			if moved != nil {
				c := *moved
				c.ID = a.CardID
				c.ColumnID = nil
				if !c.Empty() {
					confirmed.Card = &c
				}
			}
			return confirmed, nil
		},
	}, nil
}

func (a AssignCard) plan(view domain.Board, _ int64) (plan, error) {
	if _, _, ok := view.FindCard(a.CardID); !ok {
		return plan{}, domain.ErrNotFound
	}
	ev := event.CardAssigned{CardID: a.CardID, Assignee: a.Assignee}

	return plan{
		optimistic: ev,
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			card, err := b.AssignCard(ctx, a.CardID, a.Assignee)
			if err != nil {
				return nil, err
			}
			if card != nil && (card.Assignee != nil || card.ClearAssignee) {
				return event.CardAssigned{CardID: a.CardID, Assignee: card.Assignee}, nil
			}
			return ev, nil
		},
	}, nil
}

func (a CreateColumn) plan(view domain.Board, tempID int64) (plan, error) {
	col := domain.Column{Name: strings.TrimSpace(a.Name), Cards: []domain.Card{}}
	if a.Position != nil {
		col.Position = *a.Position
	} else {
		col.Position = nextPosition(view)
	}
	guess := col
	guess.ID = tempID

	return plan{
		optimistic: event.ColumnCreated{Column: guess},
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			created, err := b.CreateColumn(ctx, view.ID, col)
			if err != nil {
				return nil, err
			}
			if created.Cards == nil {
				created.Cards = []domain.Card{}
			}
			return event.ColumnCreated{Column: created}, nil
		},
	}, nil
}

func (a UpdateColumn) plan(view domain.Board, _ int64) (plan, error) {
	if view.ColumnIndex(a.ColumnID) < 0 {
		return plan{}, domain.ErrNotFound
	}
	p := event.ColumnPatch{ID: a.ColumnID, Name: a.Name, Position: a.Position}

	return plan{
		optimistic: event.ColumnUpdated{Column: p},
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			updated, err := b.UpdateColumn(ctx, p)
			if err != nil {
				return nil, err
			}
			confirmed := p.Overlay(updated)
			confirmed.ID = a.ColumnID
			return event.ColumnUpdated{Column: confirmed}, nil
		},
	}, nil
}

func (a DeleteColumn) plan(view domain.Board, _ int64) (plan, error) {
	if view.ColumnIndex(a.ColumnID) < 0 {
		return plan{}, domain.ErrNotFound
	}
	ev := event.ColumnDeleted{ColumnID: a.ColumnID}
	return plan{
		optimistic: ev,
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			if err := b.DeleteColumn(ctx, a.ColumnID); err != nil {
				return nil, err
			}
			return ev, nil
		},
	}, nil
}

func (a UpdateBoard) plan(view domain.Board, _ int64) (plan, error) {
	p := event.BoardPatch{Name: a.Name, Description: a.Description}
	return plan{
		optimistic: event.BoardUpdated{Board: p},
		submit: func(ctx context.Context, b Backend) (event.Event, error) {
			updated, err := b.UpdateBoard(ctx, view.ID, p)
			if err != nil {
				return nil, err
			}
			return event.BoardUpdated{Board: p.Overlay(updated)}, nil
		},
	}, nil
}

func nextPosition(b domain.Board) int {
	if len(b.Columns) == 0 {
		return 0
	}
	highest := b.Columns[0].Position
	for _, c := range b.Columns[1:] {
		highest = max(highest, c.Position)
	}
	return highest + 1
}
