// Package mutation applies user actions optimistically and reconciles them
// with the backend's answer.
//
// A Coordinator keeps two things: the confirmed board, which only changes
// through authoritative input (a fetch, an inbound event, a settled
// mutation), and the ordered list of mutations still waiting on the
// backend. The snapshot users see is the pending optimistic events folded
// over the confirmed board. Rolling a mutation back is therefore just
// dropping it from the list; nothing is inverted.
package mutation

import (
	"context"
	"fmt"
	"slices"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
)

// Mutation is one action between Begin and Settle.
type Mutation struct {
	action Action
	tempID int64
	plan   plan
}

func (m *Mutation) Action() Action { return m.action }

// TempID is the temporary id given to the entity a create action makes, or 0.
func (m *Mutation) TempID() int64 { return m.tempID }

// Optimistic is the event applied locally while the request is in flight.
func (m *Mutation) Optimistic() event.Event { return m.plan.optimistic }

// Submit performs the backend request and returns the authoritative event
// to settle with. It touches no coordinator state and may run on any goroutine.
func (m *Mutation) Submit(ctx context.Context, b Backend) (event.Event, error) {
	ev, err := m.plan.submit(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("mutation.%s: %w", m.action.Kind(), err)
	}
	return ev, nil
}

// Coordinator is not safe for concurrent use. The board view drives it from
// a single goroutine.
type Coordinator struct {
	confirmed domain.Board
	pending   []*Mutation
	view      domain.Board
	lastTemp  int64
}

func New(b domain.Board) *Coordinator {
	return &Coordinator{confirmed: b, view: b}
}

// Snapshot returns the board as the user should see it.
func (c *Coordinator) Snapshot() domain.Board { return c.view }

// Confirmed returns the board without any pending optimistic changes.
func (c *Coordinator) Confirmed() domain.Board { return c.confirmed }

// Pending returns the number of unsettled mutations.
func (c *Coordinator) Pending() int { return len(c.pending) }

// Reset replaces the confirmed board, e.g. after a full refetch. Pending
// mutations are replayed on top of it.
func (c *Coordinator) Reset(b domain.Board) {
	c.confirmed = b
	c.rebuild()
}

// ApplyRemote applies an authoritative inbound event.
func (c *Coordinator) ApplyRemote(ev event.Event) {
	c.confirmed = board.Apply(c.confirmed, ev)
	c.rebuild()
}

// Begin validates a, applies its optimistic event and returns the handle to
// submit and settle. On error nothing changes.
func (c *Coordinator) Begin(a Action) (*Mutation, error) {
	if a == nil {
		return nil, domain.Invalid("action", "required")
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("mutation.Coordinator.Begin: %w", err)
	}

	var tempID int64
	switch a.(type) {
	case CreateCard, CreateColumn:
		c.lastTemp--
		tempID = c.lastTemp
	}

	p, err := a.plan(c.view, tempID)
	if err != nil {
		return nil, fmt.Errorf("mutation.Coordinator.Begin: %s: %w", a.Kind(), err)
	}

	m := &Mutation{action: a, tempID: tempID, plan: p}
	c.pending = append(c.pending, m)
	c.view = board.Apply(c.view, p.optimistic)
	return m, nil
}

// Settle finishes m. With a nil cause the authoritative event joins the
// confirmed board, replacing the optimistic guess. Otherwise the guess is
// dropped, which rolls the snapshot back. Settling twice is a no-op.
func (c *Coordinator) Settle(m *Mutation, authoritative event.Event, cause error) {
	i := slices.Index(c.pending, m)
	if i < 0 {
		return
	}
	c.pending = slices.Delete(c.pending, i, i+1)

	if cause == nil && authoritative != nil {
		c.confirmed = board.Apply(c.confirmed, authoritative)
	}
	c.rebuild()
}

func (c *Coordinator) rebuild() {
	v := c.confirmed
	for _, m := range c.pending {
		v = board.Apply(v, m.plan.optimistic)
	}
	c.view = v
}
