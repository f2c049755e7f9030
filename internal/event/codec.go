package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed   = errors.New("event: malformed payload")
	ErrUnknownType = errors.New("event: unknown type")
)

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one wire message. Unparseable input and known tags missing
// their identifiers are ErrMalformed; unrecognized tags are ErrUnknownType.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event.Decode: %w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event.Decode: %w: missing type", ErrMalformed)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeCardCreated:
		ev, err = decodeAs[CardCreated](data)
	case TypeCardUpdated:
		ev, err = decodeAs[CardUpdated](data)
	case TypeCardDeleted:
		ev, err = decodeAs[CardDeleted](data)
	case TypeCardMoved:
		ev, err = decodeAs[CardMoved](data)
	case TypeCardAssigned:
		ev, err = decodeAs[CardAssigned](data)
	case TypeColumnCreated:
		ev, err = decodeAs[ColumnCreated](data)
	case TypeColumnUpdated:
		ev, err = decodeAs[ColumnUpdated](data)
	case TypeColumnDeleted:
		ev, err = decodeAs[ColumnDeleted](data)
	case TypeBoardUpdated:
		ev, err = decodeAs[BoardUpdated](data)
	case TypeError:
		ev, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("event.Decode: %w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("event.Decode: %s: %w: %w", env.Type, ErrMalformed, err)
	}

	if err := validate(ev); err != nil {
		return nil, fmt.Errorf("event.Decode: %s: %w: %w", env.Type, ErrMalformed, err)
	}
	return ev, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// validate checks that an event carries the identifiers the reducer needs.
func validate(ev Event) error {
	switch e := ev.(type) {
	case CardCreated:
		if e.Card.ID == 0 || e.Card.ColumnID == 0 {
			return errors.New("card.id and card.column_id are required")
		}
	case CardUpdated:
		if e.Card.ID == 0 {
			return errors.New("card.id is required")
		}
	case CardDeleted:
		if e.CardID == 0 {
			return errors.New("card_id is required")
		}
	case CardMoved:
		if e.CardID == 0 || e.ToColumnID == 0 {
			return errors.New("card_id and new_column_id are required")
		}
	case CardAssigned:
		if e.CardID == 0 {
			return errors.New("card_id is required")
		}
	case ColumnCreated:
		if e.Column.ID == 0 {
			return errors.New("column.id is required")
		}
	case ColumnUpdated:
		if e.Column.ID == 0 {
			return errors.New("column.id is required")
		}
	case ColumnDeleted:
		if e.ColumnID == 0 {
			return errors.New("column_id is required")
		}
	}
	return nil
}

// Encode renders an event in its wire form, with the type tag first.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("event.Encode: nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event.Encode: %s: %w", ev.Type(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString(`{"type":`)
	tag, _ := json.Marshal(ev.Type())
	buf.Write(tag)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Relayable reports whether a tag describes a board mutation (as opposed to
// an error notice) and may be fanned out to other viewers.
func Relayable(t Type) bool {
	s := string(t)
	return strings.HasPrefix(s, "card.") || strings.HasPrefix(s, "column.") || strings.HasPrefix(s, "board.")
}
