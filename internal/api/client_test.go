package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/api"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
	"github.com/gosuda/boardsync/internal/mutation"
)

var _ mutation.Backend = (*api.Client)(nil)

func ptr[T any](v T) *T { return &v }

type recorded struct {
	method string
	path   string
	body   map[string]any
	header http.Header
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recorded
}

func (l *requestLog) All() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recorded(nil), l.reqs...)
}

// newBackend serves mux and records every request body it receives.
func newBackend(t *testing.T, mux *http.ServeMux) (*api.Client, *requestLog) {
	t.Helper()

	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, header: r.Header.Clone()}
		data, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(data))
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		log.mu.Lock()
		log.reqs = append(log.reqs, rec)
		log.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return api.New(srv.URL+"/", srv.Client()), log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_FetchBoard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boards/4/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 4, "name": "Roadmap", "project": 1})
	})
	mux.HandleFunc("GET /boards/4/columns/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id": 1, "name": "To Do", "position": 0, "cards": [
				{"id": 10, "title": "Write docs", "column": 1, "assignee": {"id": 3, "username": "alice", "name": "alice"}}
			]},
			{"id": 2, "name": "Done", "position": 1}
		]`)
	})

	client, reqs := newBackend(t, mux)
	b, err := client.FetchBoard(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, int64(4), b.ID)
	assert.Equal(t, "Roadmap", b.Name)
	require.Len(t, b.Columns, 2)
	require.Len(t, b.Columns[0].Cards, 1)

	card := b.Columns[0].Cards[0]
	assert.Equal(t, int64(1), card.ColumnID, "cards are stamped with their column")
	assert.Equal(t, "alice", card.Assignee.Label())
	assert.NotNil(t, b.Columns[1].Cards, "normalized to an empty slice")

	require.Len(t, reqs.All(), 2)
	for _, r := range reqs.All() {
		_, err := uuid.Parse(r.header.Get("X-Request-ID"))
		require.NoError(t, err, "every request carries a request id")
	}
}

func TestClient_Mutations(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cards/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 77, "title": "New", "column_id": 2})
	})
	mux.HandleFunc("PATCH /cards/77/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 77, "title": "Renamed", "column_id": 2})
	})
	mux.HandleFunc("PUT /cards/77/move/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /cards/77/assign/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 77, "column_id": 3, "assignee": "bob"})
	})
	mux.HandleFunc("DELETE /cards/77/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /columns/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 9, "name": "Review", "position": 4})
	})
	mux.HandleFunc("PATCH /columns/9/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 9, "name": "QA", "position": 4})
	})
	mux.HandleFunc("DELETE /columns/9/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /boards/4/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 4, "name": "Relaunch", "description": "q3"})
	})

	client, reqs := newBackend(t, mux)
	ctx := context.Background()

	created, err := client.CreateCard(ctx, domain.Card{Title: "New", ColumnID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(77), created.ID)

	updated, err := client.UpdateCard(ctx, event.CardPatch{ID: 77, Title: ptr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, ptr("Renamed"), updated.Title)
	assert.Nil(t, updated.Status, "absent in the response")

	moved, err := client.MoveCard(ctx, 77, 2, 3)
	require.NoError(t, err)
	assert.Nil(t, moved, "an empty response body means no authoritative card")

	assigned, err := client.AssignCard(ctx, 77, &domain.Assignee{Name: "bob"})
	require.NoError(t, err)
	require.NotNil(t, assigned)
	require.NotNil(t, assigned.Assignee)
	assert.Equal(t, "bob", assigned.Assignee.Label())

	require.NoError(t, client.DeleteCard(ctx, 77))

	col, err := client.CreateColumn(ctx, 4, domain.Column{Name: "Review", Position: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(9), col.ID)

	colPatch, err := client.UpdateColumn(ctx, event.ColumnPatch{ID: 9, Name: ptr("QA")})
	require.NoError(t, err)
	assert.Equal(t, event.ColumnPatch{ID: 9, Name: ptr("QA"), Position: ptr(4)}, colPatch)

	require.NoError(t, client.DeleteColumn(ctx, 9))

	b, err := client.UpdateBoard(ctx, 4, event.BoardPatch{Name: ptr("Relaunch")})
	require.NoError(t, err)
	assert.Equal(t, event.BoardPatch{Name: ptr("Relaunch"), Description: ptr("q3")}, b)

	got := reqs.All()
	require.Len(t, got, 9)
	assert.Equal(t, map[string]any{"title": "New", "description": "", "column_id": float64(2)}, got[0].body)
	assert.Equal(t, "Renamed", got[1].body["title"])
	assert.Equal(t, map[string]any{"old_column_id": float64(2), "new_column_id": float64(3)}, got[2].body)
	assert.Equal(t, map[string]any{"name": "bob"}, got[3].body["assignee"])
	assert.Equal(t, map[string]any{"board": float64(4), "name": "Review", "position": float64(4)}, got[5].body)
	assert.Equal(t, map[string]any{"name": "Relaunch"}, got[8].body)
	assert.Equal(t, "application/json", got[0].header.Get("Content-Type"))
}

// The backend's serializers leave out some fields. Partial responses must not
// read as zero values.
func TestClient_PartialResponses(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cards/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 78, "title": "New", "description": "", "column": 2, "assignee": nil})
	})
	mux.HandleFunc("POST /columns/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 10, "name": "Review", "board": 4, "cards": []any{}})
	})
	mux.HandleFunc("PATCH /columns/10/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 10, "name": "QA", "board": 4, "cards": []any{}})
	})
	mux.HandleFunc("PUT /cards/78/move/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 78, "title": "New", "column": 3})
	})

	client, _ := newBackend(t, mux)
	ctx := context.Background()

	created, err := client.CreateCard(ctx, domain.Card{Title: "New", ColumnID: 2, Status: domain.CardStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, domain.Card{ID: 78, Title: "New", ColumnID: 2, Status: domain.CardStatusInProgress}, created)

	col, err := client.CreateColumn(ctx, 4, domain.Column{Name: "Review", Position: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, col.Position, "the requested position stands when the response omits it")
	assert.Equal(t, int64(10), col.ID)

	patch, err := client.UpdateColumn(ctx, event.ColumnPatch{ID: 10, Name: ptr("QA")})
	require.NoError(t, err)
	assert.Nil(t, patch.Position)

	moved, err := client.MoveCard(ctx, 78, 2, 3)
	require.NoError(t, err)
	require.NotNil(t, moved)
	require.NotNil(t, moved.ColumnID)
	assert.Equal(t, int64(3), *moved.ColumnID)
	assert.Nil(t, moved.Status)
	assert.False(t, moved.ClearDueAt)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		sentinel   error
		wantDetail string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Given token not valid"}`, domain.ErrUnauthorized, "Given token not valid"},
		{"forbidden", http.StatusForbidden, `{"detail":"nope"}`, domain.ErrForbidden, "nope"},
		{"not found", http.StatusNotFound, `{"detail":"Not found."}`, domain.ErrNotFound, "Not found."},
		{"conflict", http.StatusConflict, ``, domain.ErrConflict, ""},
		{"field errors", http.StatusBadRequest, `{"title":["This field may not be blank."]}`, domain.ErrValidation, "title: This field may not be blank."},
		{"plain text", http.StatusInternalServerError, `boom`, nil, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("DELETE /cards/5/", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			client, _ := newBackend(t, mux)

			err := client.DeleteCard(context.Background(), 5)
			require.Error(t, err)

			var apiErr *api.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, http.MethodDelete, apiErr.Method)
			assert.Equal(t, "/cards/5/", apiErr.Path)
			assert.Equal(t, tt.wantDetail, apiErr.Detail)
			if tt.sentinel != nil {
				require.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestClient_Tokens(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token/", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found"})
			return
		}
		writeJSON(w, http.StatusOK, api.TokenPair{Access: "acc", Refresh: "ref"})
	})
	mux.HandleFunc("POST /token/refresh/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access": "acc2"})
	})

	client, _ := newBackend(t, mux)
	ctx := context.Background()

	pair, err := client.ObtainToken(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, api.TokenPair{Access: "acc", Refresh: "ref"}, pair)

	_, err = client.ObtainToken(ctx, "alice", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	access, err := client.RefreshToken(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, "acc2", access)
}

func TestClient_ListProjects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "name": "Website", "team": 2},
			{"id": 2, "name": "Mobile", "team": 2},
		})
	})
	client, _ := newBackend(t, mux)

	projects, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Website", projects[0].Name)
}
