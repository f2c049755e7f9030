package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosuda/boardsync/internal/domain"
)

// CardPatch lists the card fields an update carries. Nil pointers are
// absent fields. Assignee and DueAt can also be explicitly cleared.
type CardPatch struct {
	ID            int64
	Title         *string
	Description   *string
	ColumnID      *int64
	Status        *domain.CardStatus
	Assignee      *domain.Assignee
	ClearAssignee bool
	DueAt         *time.Time
	ClearDueAt    bool
}

// Overlay returns p with every field present in o applied on top. The id
// stays p's unless p has none.
func (p CardPatch) Overlay(o CardPatch) CardPatch {
	if p.ID == 0 {
		p.ID = o.ID
	}
	if o.Title != nil {
		p.Title = o.Title
	}
	if o.Description != nil {
		p.Description = o.Description
	}
	if o.ColumnID != nil {
		p.ColumnID = o.ColumnID
	}
	if o.Status != nil {
		p.Status = o.Status
	}
	if o.Assignee != nil || o.ClearAssignee {
		p.Assignee, p.ClearAssignee = o.Assignee, o.ClearAssignee
	}
	if o.DueAt != nil || o.ClearDueAt {
		p.DueAt, p.ClearDueAt = o.DueAt, o.ClearDueAt
	}
	return p
}

// Empty reports whether the patch carries no field besides the id.
func (p CardPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.ColumnID == nil && p.Status == nil &&
		p.Assignee == nil && !p.ClearAssignee && p.DueAt == nil && !p.ClearDueAt
}

// Merge returns c with every present field of p applied. ColumnID is not
// merged; relocating a card is the reducer's decision.
func (p CardPatch) Merge(c domain.Card) domain.Card {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	switch {
	case p.Assignee != nil:
		a := *p.Assignee
		c.Assignee = &a
	case p.ClearAssignee:
		c.Assignee = nil
	}
	switch {
	case p.DueAt != nil:
		d := *p.DueAt
		c.DueAt = &d
	case p.ClearDueAt:
		c.DueAt = nil
	}
	return c
}

func (p CardPatch) MarshalJSON() ([]byte, error) {
	m := map[string]any{"id": p.ID}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.ColumnID != nil {
		m["column_id"] = *p.ColumnID
	}
	if p.Status != nil {
		m["status"] = *p.Status
	}
	switch {
	case p.Assignee != nil:
		m["assignee"] = p.Assignee
	case p.ClearAssignee:
		m["assignee"] = nil
	}
	switch {
	case p.DueAt != nil:
		m["due_date"] = p.DueAt
	case p.ClearDueAt:
		m["due_date"] = nil
	}
	return json.Marshal(m)
}

func (p *CardPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("event.CardPatch.UnmarshalJSON: %w", err)
	}

	out := CardPatch{}
	fields := []struct {
		key string
		dst any
	}{
		{"id", &out.ID},
		{"title", &out.Title},
		{"description", &out.Description},
		{"column_id", &out.ColumnID},
		{"status", &out.Status},
	}
	// REST responses name the column "column".
	if _, ok := raw["column_id"]; !ok {
		fields = append(fields, struct {
			key string
			dst any
		}{"column", &out.ColumnID})
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || isNull(v) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("event.CardPatch.UnmarshalJSON: %s: %w", f.key, err)
		}
	}

	if v, ok := raw["assignee"]; ok {
		if isNull(v) {
			out.ClearAssignee = true
		} else {
			a := &domain.Assignee{}
			if err := json.Unmarshal(v, a); err != nil {
				return fmt.Errorf("event.CardPatch.UnmarshalJSON: assignee: %w", err)
			}
			out.Assignee = a
		}
	}
	if v, ok := raw["due_date"]; ok {
		if isNull(v) {
			out.ClearDueAt = true
		} else {
			var d time.Time
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("event.CardPatch.UnmarshalJSON: due_date: %w", err)
			}
			out.DueAt = &d
		}
	}

	*p = out
	return nil
}

// ColumnPatch lists the column fields an update carries.
type ColumnPatch struct {
	ID       int64   `json:"id"`
	Name     *string `json:"name,omitempty"`
	Position *int    `json:"position,omitempty"`
}

// Merge returns c with every present field of p applied.
func (p ColumnPatch) Merge(c domain.Column) domain.Column {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Position != nil {
		c.Position = *p.Position
	}
	return c
}

// Overlay returns p with every field present in o applied on top.
func (p ColumnPatch) Overlay(o ColumnPatch) ColumnPatch {
	if p.ID == 0 {
		p.ID = o.ID
	}
	if o.Name != nil {
		p.Name = o.Name
	}
	if o.Position != nil {
		p.Position = o.Position
	}
	return p
}

// BoardPatch lists the board metadata fields an update carries.
type BoardPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Merge returns b with every present field of p applied.
func (p BoardPatch) Merge(b domain.Board) domain.Board {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	return b
}

// Overlay returns p with every field present in o applied on top.
func (p BoardPatch) Overlay(o BoardPatch) BoardPatch {
	if o.Name != nil {
		p.Name = o.Name
	}
	if o.Description != nil {
		p.Description = o.Description
	}
	return p
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
