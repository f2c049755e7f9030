package domain

import "sort"

// Board is one snapshot of a kanban board. Snapshots are treated as
// immutable once published: derive a new one instead of editing in place.
type Board struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

type Column struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Cards    []Card `json:"cards"`
}

// ColumnIndex returns the index of the column with the given id, or -1.
func (b Board) ColumnIndex(id int64) int {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCard locates a card by id across all columns.
func (b Board) FindCard(id int64) (col, idx int, ok bool) {
	for c := range b.Columns {
		for i := range b.Columns[c].Cards {
			if b.Columns[c].Cards[i].ID == id {
				return c, i, true
			}
		}
	}
	return -1, -1, false
}

// CardCount returns the number of cards on the board.
func (b Board) CardCount() int {
	n := 0
	for i := range b.Columns {
		n += len(b.Columns[i].Cards)
	}
	return n
}

// SortedColumns returns the columns in render order: ascending position,
// ties kept in sequence order.
func (b Board) SortedColumns() []Column {
	out := make([]Column, len(b.Columns))
	copy(out, b.Columns)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// Normalize returns a copy where every card slice is non-nil and every card
// carries the id of the column holding it.
func (b Board) Normalize() Board {
	out := b.Clone()
	if out.Columns == nil {
		out.Columns = []Column{}
	}
	for i := range out.Columns {
		if out.Columns[i].Cards == nil {
			out.Columns[i].Cards = []Card{}
		}
		for j := range out.Columns[i].Cards {
			out.Columns[i].Cards[j].ColumnID = out.Columns[i].ID
		}
	}
	return out
}

// Clone returns a deep copy of the board's column and card slices.
func (b Board) Clone() Board {
	out := b
	if b.Columns == nil {
		return out
	}
	out.Columns = make([]Column, len(b.Columns))
	for i, col := range b.Columns {
		out.Columns[i] = col
		if col.Cards != nil {
			out.Columns[i].Cards = make([]Card, len(col.Cards))
			copy(out.Columns[i].Cards, col.Cards)
		}
	}
	return out
}
