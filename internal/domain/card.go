package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type CardStatus string

const (
	CardStatusPending    CardStatus = "pending"
	CardStatusInProgress CardStatus = "in_progress"
	CardStatusCompleted  CardStatus = "completed"
)

type Card struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ColumnID    int64      `json:"column_id"`
	Assignee    *Assignee  `json:"assignee,omitempty"`
	DueAt       *time.Time `json:"due_date,omitempty"`
	Status      CardStatus `json:"status,omitempty"`
}

// Assignee identifies the user a card is assigned to. Backends disagree on the
// shape, so it decodes from a bare name, a bare user id, or an object.
type Assignee struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Label returns a human-readable name for the assignee.
func (a *Assignee) Label() string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	if a.ID != 0 {
		return "#" + strconv.FormatInt(a.ID, 10)
	}
	return ""
}

func (a *Assignee) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("domain.Assignee.UnmarshalJSON: %w", err)
		}
		*a = Assignee{Name: name}
		return nil
	case '{':
		type plain Assignee
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("domain.Assignee.UnmarshalJSON: %w", err)
		}
		*a = Assignee(p)
		return nil
	default:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("domain.Assignee.UnmarshalJSON: %w", err)
		}
		*a = Assignee{ID: id}
		return nil
	}
}
