// Package api is the client for the board backend's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
)

const maxBody = 4 << 20

// Client talks to the backend. Authentication is the http.Client's job:
// pass one from session.Session.HTTPClient for authenticated calls, or a
// plain client for the token endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// TokenPair is the answer of the credential exchange.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (c *Client) ObtainToken(ctx context.Context, username, password string) (TokenPair, error) {
	var out TokenPair
	in := map[string]string{"username": username, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/token/", in, &out); err != nil {
		return TokenPair{}, fmt.Errorf("api.Client.ObtainToken: %w", err)
	}
	if out.Access == "" {
		return TokenPair{}, fmt.Errorf("api.Client.ObtainToken: empty access token: %w", domain.ErrUnauthorized)
	}
	return out, nil
}

func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	var out TokenPair
	if _, err := c.do(ctx, http.MethodPost, "/token/refresh/", map[string]string{"refresh": refresh}, &out); err != nil {
		return "", fmt.Errorf("api.Client.RefreshToken: %w", err)
	}
	if out.Access == "" {
		return "", fmt.Errorf("api.Client.RefreshToken: empty access token: %w", domain.ErrUnauthorized)
	}
	return out.Access, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	if _, err := c.do(ctx, http.MethodGet, "/projects/", nil, &out); err != nil {
		return nil, fmt.Errorf("api.Client.ListProjects: %w", err)
	}
	return out, nil
}

// FetchBoard loads the board and its columns (with nested cards) and
// returns the normalized full state.
func (c *Client) FetchBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	var b domain.Board
	if _, err := c.do(ctx, http.MethodGet, "/boards/"+id(boardID)+"/", nil, &b); err != nil {
		return domain.Board{}, fmt.Errorf("api.Client.FetchBoard: %w", err)
	}

	var cols []domain.Column
	if _, err := c.do(ctx, http.MethodGet, "/boards/"+id(boardID)+"/columns/", nil, &cols); err != nil {
		return domain.Board{}, fmt.Errorf("api.Client.FetchBoard: columns: %w", err)
	}
	if b.ID == 0 {
		b.ID = boardID
	}
	b.Columns = cols

	return b.Normalize(), nil
}

// Update responses are decoded as patches: only the fields the backend
// sends back are authoritative.

func (c *Client) UpdateBoard(ctx context.Context, boardID int64, p event.BoardPatch) (event.BoardPatch, error) {
	var out event.BoardPatch
	if _, err := c.do(ctx, http.MethodPut, "/boards/"+id(boardID)+"/", p, &out); err != nil {
		return event.BoardPatch{}, fmt.Errorf("api.Client.UpdateBoard: %w", err)
	}
	return out, nil
}

type cardRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ColumnID    int64             `json:"column_id"`
	Assignee    *domain.Assignee  `json:"assignee,omitempty"`
	DueAt       *time.Time        `json:"due_date,omitempty"`
	Status      domain.CardStatus `json:"status,omitempty"`
}

func (c *Client) CreateCard(ctx context.Context, card domain.Card) (domain.Card, error) {
	in := cardRequest{
		Title:       card.Title,
		Description: card.Description,
		ColumnID:    card.ColumnID,
		Assignee:    card.Assignee,
		DueAt:       card.DueAt,
		Status:      card.Status,
	}
	var out event.CardPatch
	if _, err := c.do(ctx, http.MethodPost, "/cards/", in, &out); err != nil {
		return domain.Card{}, fmt.Errorf("api.Client.CreateCard: %w", err)
	}
	// Fields the response leaves out keep the values that were sent.
	created := out.Merge(card)
	created.ID = out.ID
	if out.ColumnID != nil {
		created.ColumnID = *out.ColumnID
	}
	return created, nil
}

func (c *Client) UpdateCard(ctx context.Context, p event.CardPatch) (event.CardPatch, error) {
	var out event.CardPatch
	if _, err := c.do(ctx, http.MethodPatch, "/cards/"+id(p.ID)+"/", p, &out); err != nil {
		return event.CardPatch{}, fmt.Errorf("api.Client.UpdateCard: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteCard(ctx context.Context, cardID int64) error {
	if _, err := c.do(ctx, http.MethodDelete, "/cards/"+id(cardID)+"/", nil, nil); err != nil {
		return fmt.Errorf("api.Client.DeleteCard: %w", err)
	}
	return nil
}

// MoveCard returns the updated card fields when the backend sends them back.
func (c *Client) MoveCard(ctx context.Context, cardID, fromColumnID, toColumnID int64) (*event.CardPatch, error) {
	in := map[string]int64{"old_column_id": fromColumnID, "new_column_id": toColumnID}
	var out event.CardPatch
	ok, err := c.do(ctx, http.MethodPut, "/cards/"+id(cardID)+"/move/", in, &out)
	if err != nil {
		return nil, fmt.Errorf("api.Client.MoveCard: %w", err)
	}
	if !ok || out.ID == 0 {
		return nil, nil
	}
	return &out, nil
}

// AssignCard returns the updated card fields when the backend sends them back.
func (c *Client) AssignCard(ctx context.Context, cardID int64, assignee *domain.Assignee) (*event.CardPatch, error) {
	in := struct {
		Assignee *domain.Assignee `json:"assignee"`
	}{assignee}
	var out event.CardPatch
	ok, err := c.do(ctx, http.MethodPut, "/cards/"+id(cardID)+"/assign/", in, &out)
	if err != nil {
		return nil, fmt.Errorf("api.Client.AssignCard: %w", err)
	}
	if !ok || out.ID == 0 {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) CreateColumn(ctx context.Context, boardID int64, col domain.Column) (domain.Column, error) {
	in := struct {
		Board    int64  `json:"board"`
		Name     string `json:"name"`
		Position int    `json:"position"`
	}{boardID, col.Name, col.Position}

	var out event.ColumnPatch
	if _, err := c.do(ctx, http.MethodPost, "/columns/", in, &out); err != nil {
		return domain.Column{}, fmt.Errorf("api.Client.CreateColumn: %w", err)
	}
	created := out.Merge(col)
	created.ID = out.ID
	return created, nil
}

func (c *Client) UpdateColumn(ctx context.Context, p event.ColumnPatch) (event.ColumnPatch, error) {
	var out event.ColumnPatch
	if _, err := c.do(ctx, http.MethodPatch, "/columns/"+id(p.ID)+"/", p, &out); err != nil {
		return event.ColumnPatch{}, fmt.Errorf("api.Client.UpdateColumn: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteColumn(ctx context.Context, columnID int64) error {
	if _, err := c.do(ctx, http.MethodDelete, "/columns/"+id(columnID)+"/", nil, nil); err != nil {
		return fmt.Errorf("api.Client.DeleteColumn: %w", err)
	}
	return nil
}

// do sends one request. It reports whether a response body was decoded into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (bool, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return false, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &Error{Method: method, Path: path, Status: resp.StatusCode, Detail: detailFrom(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return true, nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }
