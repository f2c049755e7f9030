package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/domain"
)

// ---------------------------------------------------------------------------
// 1. Assignee decoding: every shape the backend has been seen to send.
// ---------------------------------------------------------------------------

func TestAssignee_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want *domain.Assignee
	}{
		{"bare name", `{"assignee":"alice"}`, &domain.Assignee{Name: "alice"}},
		{"bare id", `{"assignee":42}`, &domain.Assignee{ID: 42}},
		{"object", `{"assignee":{"id":7,"name":"bob"}}`, &domain.Assignee{ID: 7, Name: "bob"}},
		{"null", `{"assignee":null}`, nil},
		{"absent", `{}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var card domain.Card
			require.NoError(t, json.Unmarshal([]byte(tt.in), &card))
			assert.Equal(t, tt.want, card.Assignee)
		})
	}
}

func TestAssignee_UnmarshalJSON_Invalid(t *testing.T) {
	t.Parallel()

	var card domain.Card
	err := json.Unmarshal([]byte(`{"assignee":true}`), &card)
	require.Error(t, err)
}

func TestAssignee_Label(t *testing.T) {
	t.Parallel()

	var nilAssignee *domain.Assignee
	assert.Empty(t, nilAssignee.Label())
	assert.Equal(t, "alice", (&domain.Assignee{ID: 3, Name: "alice"}).Label())
	assert.Equal(t, "#3", (&domain.Assignee{ID: 3}).Label())
	assert.Empty(t, (&domain.Assignee{}).Label())
}

// ---------------------------------------------------------------------------
// 2. Board helpers.
// ---------------------------------------------------------------------------

func sampleBoard() domain.Board {
	return domain.Board{
		ID:   1,
		Name: "Roadmap",
		Columns: []domain.Column{
			{ID: 10, Name: "Done", Position: 2, Cards: []domain.Card{{ID: 100, Title: "ship"}}},
			{ID: 20, Name: "Todo", Position: 0},
			{ID: 30, Name: "Doing", Position: 1, Cards: []domain.Card{{ID: 300}, {ID: 301}}},
			{ID: 40, Name: "Also todo", Position: 0},
		},
	}
}

func TestBoard_FindCard(t *testing.T) {
	t.Parallel()

	b := sampleBoard()

	col, idx, ok := b.FindCard(301)
	require.True(t, ok)
	assert.Equal(t, 2, col)
	assert.Equal(t, 1, idx)

	_, _, ok = b.FindCard(999)
	assert.False(t, ok)

	assert.Equal(t, 1, b.ColumnIndex(20))
	assert.Equal(t, -1, b.ColumnIndex(99))
	assert.Equal(t, 3, b.CardCount())
}

func TestBoard_SortedColumns(t *testing.T) {
	t.Parallel()

	b := sampleBoard()
	sorted := b.SortedColumns()

	ids := make([]int64, 0, len(sorted))
	for _, c := range sorted {
		ids = append(ids, c.ID)
	}
	// Equal positions keep sequence order.
	assert.Equal(t, []int64{20, 40, 30, 10}, ids)
	assert.Equal(t, int64(10), b.Columns[0].ID, "receiver must not be reordered")
}

func TestBoard_Normalize(t *testing.T) {
	t.Parallel()

	b := sampleBoard()
	n := b.Normalize()

	for _, col := range n.Columns {
		require.NotNil(t, col.Cards, "column %d", col.ID)
		for _, c := range col.Cards {
			assert.Equal(t, col.ID, c.ColumnID)
		}
	}
	assert.Nil(t, b.Columns[1].Cards, "receiver must not be modified")
	assert.Zero(t, b.Columns[0].Cards[0].ColumnID, "receiver must not be modified")

	empty := domain.Board{ID: 2}.Normalize()
	assert.NotNil(t, empty.Columns)
}

func TestBoard_Clone(t *testing.T) {
	t.Parallel()

	b := sampleBoard()
	c := b.Clone()
	require.Equal(t, b, c)

	c.Columns[0].Name = "changed"
	c.Columns[2].Cards[0].Title = "changed"

	assert.Equal(t, "Done", b.Columns[0].Name)
	assert.Empty(t, b.Columns[2].Cards[0].Title)
	assert.Nil(t, c.Columns[1].Cards, "nil card slices stay nil")
}

// ---------------------------------------------------------------------------
// 3. Sentinel errors and wrapping.
// ---------------------------------------------------------------------------

func TestSentinelErrors_Distinct(t *testing.T) {
	t.Parallel()

	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrUnauthorized,
		domain.ErrForbidden,
		domain.ErrValidation,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b, "%v must not match %v", a, b)
		}
	}
}

func TestSentinelErrors_Wrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("api.Client.FetchBoard: %w", domain.ErrNotFound)
	require.ErrorIs(t, wrapped, domain.ErrNotFound)
	assert.NotErrorIs(t, wrapped, domain.ErrConflict)
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := domain.Invalid("title", "must not be empty")
	assert.Equal(t, "domain: invalid title: must not be empty", err.Error())
	require.ErrorIs(t, err, domain.ErrValidation)

	var verr *domain.ValidationError
	require.ErrorAs(t, fmt.Errorf("mutation: %w", err), &verr)
	assert.Equal(t, "title", verr.Field)
}
