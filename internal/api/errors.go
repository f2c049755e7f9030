package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gosuda/boardsync/internal/domain"
)

// Error is a non-success response from the backend.
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
}

// Unwrap maps the status onto the domain sentinels so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	default:
		return nil
	}
}

const maxDetail = 200

// detailFrom extracts a human-readable message from an error body. The
// backend sends {"detail": "..."}; field errors arrive as {"field": ["..."]}.
func detailFrom(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		var detail string
		if raw, ok := payload["detail"]; ok && json.Unmarshal(raw, &detail) == nil {
			return detail
		}
		for field, raw := range payload {
			var msgs []string
			if json.Unmarshal(raw, &msgs) == nil && len(msgs) > 0 {
				return field + ": " + strings.Join(msgs, "; ")
			}
		}
	}

	s := string(body)
	if len(s) > maxDetail {
		s = s[:maxDetail] + "..."
	}
	return s
}
