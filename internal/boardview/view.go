// Package boardview ties the sync core together for one open board: the
// initial fetch, the push channel, the reducer and the optimistic
// coordinator.
//
// Every state change of a View happens on its loop goroutine, one closure
// at a time. Channel callbacks, fetch results, mutation results and user
// dispatches all enter through the same unbounded mailbox, so snapshots are
// only ever observed fully applied.
package boardview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/channel"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
	"github.com/gosuda/boardsync/internal/metrics"
	"github.com/gosuda/boardsync/internal/mutation"
)

// ErrClosed is returned for work submitted to, or outstanding on, a closed view.
var ErrClosed = errors.New("boardview: view closed")

// Backend is the REST side of the board. internal/api.Client implements it.
type Backend interface {
	mutation.Backend
	FetchBoard(ctx context.Context, boardID int64) (domain.Board, error)
}

// Session supplies channel credentials. internal/session.Session implements it.
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	IsAuthenticated() bool
	Invalidate()
}

// Channel is the push channel of one board. channel.Manager implements it.
type Channel interface {
	Connect(boardID int64, token string) error
	Send(ctx context.Context, ev event.Event) error
	Disconnect()
}

// Update is one published state of the view.
type Update struct {
	Board   domain.Board
	Status  channel.Status
	Loading bool
	Pending int
	Notices []Notice
}

// Opener opens board views. NewChannel is called once per view with the
// handler the channel must report to.
type Opener struct {
	Backend         Backend
	Session         Session
	NewChannel      func(h channel.Handler) Channel
	MutationTimeout time.Duration
	Metrics         *metrics.Metrics
}

type View struct {
	boardID int64
	backend Backend
	session Session
	ch      Channel
	metrics *metrics.Metrics
	timeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	mbox      *mailbox
	updates   chan Update
	latest    atomic.Pointer[Update]
	closeOnce sync.Once
	done      chan struct{}
	sends     sync.WaitGroup

	// Owned by the loop goroutine.
	coord      *mutation.Coordinator
	status     channel.Status
	loading    bool
	fetchGen   int
	backlog    []event.Event
	notices    []Notice
	nextNotice uint64
	authNoted  bool
	inflight   map[*mutation.Mutation]chan error
	closed     bool
}

// OpenBoard starts the initial load and connects the push channel. The view
// lives until Close is called or ctx is cancelled.
func (o *Opener) OpenBoard(ctx context.Context, boardID int64) (*View, error) {
	if boardID <= 0 {
		return nil, fmt.Errorf("boardview.Opener.OpenBoard: %w", channel.ErrMissingBoard)
	}
	if o.Session == nil || !o.Session.IsAuthenticated() {
		return nil, fmt.Errorf("boardview.Opener.OpenBoard: %w", domain.ErrUnauthorized)
	}

	token, err := o.Session.AccessToken(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			o.Session.Invalidate()
		}
		return nil, fmt.Errorf("boardview.Opener.OpenBoard: %w", err)
	}

	timeout := o.MutationTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	vctx, cancel := context.WithCancel(ctx)
	v := &View{
		boardID:  boardID,
		backend:  o.Backend,
		session:  o.Session,
		metrics:  o.Metrics,
		timeout:  timeout,
		ctx:      vctx,
		cancel:   cancel,
		mbox:     newMailbox(),
		updates:  make(chan Update, 1),
		done:     make(chan struct{}),
		coord:    mutation.New(domain.Board{ID: boardID, Columns: []domain.Column{}}),
		status:   channel.Status{State: channel.StateIdle, BoardID: boardID},
		inflight: make(map[*mutation.Mutation]chan error),
	}
	v.latest.Store(&Update{Board: v.coord.Snapshot(), Status: v.status, Loading: true})
	v.ch = o.NewChannel(handler{v: v})

	go v.loop()
	v.mbox.post(v.startFetch)

	if err := v.ch.Connect(boardID, token); err != nil {
		v.Close()
		return nil, fmt.Errorf("boardview.Opener.OpenBoard: %w", err)
	}

	log.Info().Int64("board_id", boardID).Msg("boardview: opened")
	return v, nil
}

// Updates streams snapshots. The stream conflates: a slow reader gets the
// newest update. It is closed by Close.
func (v *View) Updates() <-chan Update { return v.updates }

// Snapshot returns the most recently published update.
func (v *View) Snapshot() Update { return *v.latest.Load() }

func (v *View) BoardID() int64 { return v.boardID }

// Dispatch runs a user action. Validation errors return immediately with
// no state change. Otherwise the optimistic change is applied and the
// returned channel yields nil once the backend confirms, or the backend's
// error after the change is rolled back.
func (v *View) Dispatch(a mutation.Action) (<-chan error, error) {
	if a == nil {
		return nil, fmt.Errorf("boardview.View.Dispatch: %w", domain.Invalid("action", "required"))
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("boardview.View.Dispatch: %w", err)
	}

	result := make(chan error, 1)
	if !v.mbox.post(func() { v.begin(a, result) }) {
		return nil, fmt.Errorf("boardview.View.Dispatch: %w", ErrClosed)
	}
	return result, nil
}

// Dismiss removes a notice.
func (v *View) Dismiss(id uint64) {
	v.mbox.post(func() {
		v.notices = slices.DeleteFunc(v.notices, func(n Notice) bool { return n.ID == id })
	})
}

// Refresh refetches the full board.
func (v *View) Refresh() {
	v.mbox.post(v.startFetch)
}

// Close disconnects the channel and stops the stream. Confirmed events are
// broadcast first. Results of requests still in flight are discarded. Safe
// to call more than once.
func (v *View) Close() {
	v.closeOnce.Do(v.cancel)
	<-v.done
}

func (v *View) loop() {
	defer close(v.done)

	for {
		select {
		case <-v.ctx.Done():
			v.shutdown()
			return
		case <-v.mbox.signal:
			for _, f := range v.mbox.drain() {
				f()
			}
			v.publish()
		}
	}
}

func (v *View) shutdown() {
	v.closed = true
	v.mbox.close()
	// Confirmed events still being broadcast go out before the channel closes.
	v.sends.Wait()
	v.ch.Disconnect()

	for m, result := range v.inflight {
		v.metrics.Mutation(m.Action().Kind(), "discarded")
		result <- ErrClosed
	}
	clear(v.inflight)

	// Closures queued before the mailbox closed still owe their callers an answer.
	for _, f := range v.mbox.drain() {
		f()
	}

	close(v.updates)
	log.Info().Int64("board_id", v.boardID).Msg("boardview: closed")
}

func (v *View) publish() {
	u := Update{
		Board:   v.coord.Snapshot(),
		Status:  v.status,
		Loading: v.loading,
		Pending: v.coord.Pending(),
		Notices: slices.Clone(v.notices),
	}
	v.latest.Store(&u)

	select {
	case v.updates <- u:
		return
	default:
	}
	// Replace the unread update with the newer one.
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- u:
	default:
	}
}

func (v *View) startFetch() {
	if v.closed {
		return
	}
	v.loading = true
	v.fetchGen++
	gen := v.fetchGen

	go func() {
		b, err := v.backend.FetchBoard(v.ctx, v.boardID)
		v.mbox.post(func() { v.fetched(gen, b, err) })
	}()
}

func (v *View) fetched(gen int, b domain.Board, err error) {
	if v.closed || gen != v.fetchGen {
		return
	}
	v.loading = false

	if err != nil {
		log.Error().Err(err).Int64("board_id", v.boardID).Msg("boardview: fetch board")
		v.notify(NoticeError, "could not load board: "+err.Error())
		v.checkAuth(err)
	} else {
		v.coord.Reset(b)
	}

	backlog := v.backlog
	v.backlog = nil
	for _, ev := range backlog {
		v.applyRemote(ev)
	}
}

func (v *View) onEvent(ev event.Event) {
	if v.closed {
		return
	}
	if e, ok := ev.(event.Error); ok {
		v.notify(NoticeWarning, e.Message)
		return
	}
	if v.loading {
		v.backlog = append(v.backlog, ev)
		return
	}
	v.applyRemote(ev)
}

func (v *View) applyRemote(ev event.Event) {
	v.coord.ApplyRemote(ev)
	v.metrics.EventApplied(string(ev.Type()))
}

func (v *View) onStatus(st channel.Status) {
	if v.closed {
		return
	}
	v.status = st

	switch {
	case st.State == channel.StateOpen && st.Resync:
		log.Info().Int64("board_id", v.boardID).Msg("boardview: reconnected, refetching board")
		v.startFetch()
	case st.Offline && errors.Is(st.Err, domain.ErrUnauthorized):
		v.checkAuth(st.Err)
	case st.Offline && st.State == channel.StateIdle:
		v.notify(NoticeWarning, "offline: "+st.Reason)
	}
}

func (v *View) begin(a mutation.Action, result chan error) {
	if v.closed {
		result <- ErrClosed
		return
	}

	m, err := v.coord.Begin(a)
	if err != nil {
		result <- fmt.Errorf("boardview.View.Dispatch: %w", err)
		return
	}
	v.inflight[m] = result

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()

		ev, err := m.Submit(ctx, v.backend)
		v.mbox.post(func() { v.settle(m, ev, err) })
	}()
}

func (v *View) settle(m *mutation.Mutation, ev event.Event, err error) {
	result, ok := v.inflight[m]
	if !ok {
		return
	}
	delete(v.inflight, m)
	v.coord.Settle(m, ev, err)

	kind := m.Action().Kind()
	if err != nil {
		v.metrics.Mutation(kind, "rejected")
		log.Warn().Err(err).Int64("board_id", v.boardID).Str("action", kind).Msg("boardview: mutation rolled back")
		v.notify(NoticeError, "could not "+humanKind(kind)+": "+err.Error())
		v.checkAuth(err)
		result <- err
		return
	}

	v.metrics.Mutation(kind, "confirmed")
	if ev != nil {
		v.sends.Add(1)
		go v.broadcast(ev)
	}
	result <- nil
}

// broadcast forwards a confirmed event so other viewers see it without a
// refetch. A closed channel is fine; they catch up on their next resync.
func (v *View) broadcast(ev event.Event) {
	defer v.sends.Done()

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	if err := v.ch.Send(ctx, ev); err != nil {
		log.Debug().Err(err).Str("type", string(ev.Type())).Msg("boardview: broadcast skipped")
	}
}

func (v *View) checkAuth(err error) {
	if !errors.Is(err, domain.ErrUnauthorized) {
		return
	}
	v.session.Invalidate()
	if !v.authNoted {
		v.authNoted = true
		v.notify(NoticeError, "session expired, please log in again")
	}
}

func (v *View) notify(level NoticeLevel, msg string) {
	v.nextNotice++
	v.notices = append(v.notices, Notice{ID: v.nextNotice, Level: level, Message: msg, At: time.Now()})
}

func humanKind(kind string) string { return strings.ReplaceAll(kind, "_", " ") }

// handler adapts channel callbacks onto the mailbox.
type handler struct {
	v *View
}

func (h handler) HandleEvent(ev event.Event)     { h.v.mbox.post(func() { h.v.onEvent(ev) }) }
func (h handler) HandleStatus(st channel.Status) { h.v.mbox.post(func() { h.v.onStatus(st) }) }
