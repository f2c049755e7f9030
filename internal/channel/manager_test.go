package channel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/channel"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
)

const waitFor = 3 * time.Second

type recorder struct {
	mu       sync.Mutex
	events   []event.Event
	statuses []channel.Status
}

func (r *recorder) HandleEvent(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) HandleStatus(st channel.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) Statuses() []channel.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.Status(nil), r.statuses...)
}

func (r *recorder) Last() (channel.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return channel.Status{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *recorder) sawOpen(resync bool) bool {
	for _, st := range r.Statuses() {
		if st.State == channel.StateOpen && st.Resync == resync {
			return true
		}
	}
	return false
}

func (r *recorder) offline() (channel.Status, bool) {
	st, ok := r.Last()
	if !ok || st.State != channel.StateIdle || !st.Offline {
		return channel.Status{}, false
	}
	return st, true
}

// immediateScheduler fires retries right away and records the delays it was asked for.
type immediateScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (s *immediateScheduler) AfterFunc(d time.Duration, f func()) channel.Timer {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	go f()
	return noopTimer{}
}

func (s *immediateScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// manualScheduler holds retries until Fire is called.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) channel.Timer {
	t := &manualTimer{f: f}
	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()
	return t
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Fire runs every timer that was not stopped.
func (s *manualScheduler) Fire() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, t := range pending {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.f()
		}
	}
}

// server is a websocket endpoint whose behaviour is chosen per dial.
type server struct {
	*httptest.Server
	dials atomic.Int32
}

func newServer(t *testing.T, handle func(n int, w http.ResponseWriter, r *http.Request)) *server {
	t.Helper()

	s := &server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.dials.Add(1))
		handle(n, w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) Dials() int { return int(s.dials.Load()) }

// holdOpen accepts and reads until the peer goes away.
func holdOpen(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}

func closeWith(code websocket.StatusCode) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close(code, "test")
	}
}

func newManager(t *testing.T, srv *server, rec *recorder, sched channel.Scheduler) *channel.Manager {
	t.Helper()

	m := channel.NewManager(rec, channel.Options{
		BaseURL:   "ws" + srv.URL[len("http"):],
		Scheduler: sched,
	})
	t.Cleanup(m.Disconnect)
	return m
}

func TestChannelURL(t *testing.T) {
	t.Parallel()

	got := channel.ChannelURL("wss://kanban.example.com/", 7, "a b&c")
	assert.Equal(t, "wss://kanban.example.com/ws/board/7/?token=a+b%26c", got)
}

func TestManager_ConnectValidation(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) { holdOpen(w, r) })
	rec := &recorder{}
	m := newManager(t, srv, rec, &immediateScheduler{})

	require.ErrorIs(t, m.Connect(0, "tok"), channel.ErrMissingBoard)
	require.ErrorIs(t, m.Connect(1, ""), channel.ErrMissingToken)

	assert.Equal(t, channel.StateIdle, m.State())
	assert.Empty(t, rec.Statuses())
	assert.Zero(t, srv.Dials())
}

func TestManager_DeliversEventsAndDropsMalformed(t *testing.T) {
	t.Parallel()

	var gotToken atomic.Value
	srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		for _, msg := range []string{
			`{{not json`,
			`{"type":"card.exploded","card_id":1}`,
			`{"type":"card.deleted"}`,
			`{"type":"card.deleted","card_id":5}`,
		} {
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	})

	rec := &recorder{}
	m := newManager(t, srv, rec, &immediateScheduler{})
	require.NoError(t, m.Connect(3, "secret-token"))

	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, event.CardDeleted{CardID: 5}, rec.Events()[0])
	assert.Equal(t, "secret-token", gotToken.Load())

	// Nothing else arrives and the connection is still healthy.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, channel.StateOpen, m.State())

	sts := rec.Statuses()
	require.GreaterOrEqual(t, len(sts), 2)
	assert.Equal(t, channel.StateConnecting, sts[0].State)
	assert.Equal(t, channel.StateOpen, sts[1].State)
	assert.False(t, sts[1].Resync)
	assert.Equal(t, int64(3), sts[1].BoardID)

	m.Disconnect()
	sts = rec.Statuses()
	require.Len(t, sts, 4)
	assert.Equal(t, channel.StateClosing, sts[2].State)
	assert.Equal(t, channel.StateIdle, sts[3].State)
	assert.False(t, sts[3].Offline)
}

func TestManager_ReconnectPolicy(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			closeWith(websocket.StatusInternalError)(w, r)
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	rec := &recorder{}
	sched := &immediateScheduler{}
	m := newManager(t, srv, rec, sched)
	require.NoError(t, m.Connect(1, "tok"))

	require.Eventually(t, func() bool { _, ok := rec.offline(); return ok }, waitFor, 10*time.Millisecond)

	// One initial dial plus exactly five reconnects, then nothing more.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, srv.Dials())

	delays := sched.Delays()
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}

	st, _ := rec.offline()
	assert.Equal(t, 5, st.Attempt)
	assert.Equal(t, "max reconnect attempts reached", st.Reason)

	var attempts []int
	for _, s := range rec.Statuses() {
		if s.State == channel.StateDisconnected && !s.Offline {
			attempts = append(attempts, s.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
}

func TestManager_DelayCap(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	rec := &recorder{}
	sched := &immediateScheduler{}
	m := channel.NewManager(rec, channel.Options{
		BaseURL:   srv.URL,
		Scheduler: sched,
		Policy:    channel.Policy{BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 4},
	})
	t.Cleanup(m.Disconnect)
	require.NoError(t, m.Connect(1, "tok"))

	require.Eventually(t, func() bool { _, ok := rec.offline(); return ok }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []time.Duration{
		10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second,
	}, sched.Delays())
}

func TestManager_ReconnectResyncsAndResets(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			closeWith(websocket.StatusGoingAway)(w, r)
			return
		}
		holdOpen(w, r)
	})

	rec := &recorder{}
	m := newManager(t, srv, rec, &immediateScheduler{})
	require.NoError(t, m.Connect(1, "tok"))

	require.Eventually(t, func() bool { return rec.sawOpen(true) }, waitFor, 10*time.Millisecond)
	assert.True(t, rec.sawOpen(false))

	st, _ := rec.Last()
	assert.Equal(t, channel.StateOpen, st.State)
	assert.Zero(t, st.Attempt)
	assert.Equal(t, 2, srv.Dials())
}

func TestManager_TerminalClosures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		handle       func(http.ResponseWriter, *http.Request)
		unauthorized bool
	}{
		{
			name:   "normal closure",
			handle: closeWith(websocket.StatusNormalClosure),
		},
		{
			name:         "policy violation",
			handle:       closeWith(websocket.StatusPolicyViolation),
			unauthorized: true,
		},
		{
			name: "handshake unauthorized",
			handle: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusUnauthorized)
			},
			unauthorized: true,
		},
		{
			name: "handshake forbidden",
			handle: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusForbidden)
			},
			unauthorized: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) { tt.handle(w, r) })
			rec := &recorder{}
			sched := &immediateScheduler{}
			m := newManager(t, srv, rec, sched)
			require.NoError(t, m.Connect(1, "tok"))

			require.Eventually(t, func() bool { _, ok := rec.offline(); return ok }, waitFor, 10*time.Millisecond)
			time.Sleep(30 * time.Millisecond)

			assert.Equal(t, 1, srv.Dials())
			assert.Empty(t, sched.Delays())

			st, _ := rec.offline()
			if tt.unauthorized {
				require.ErrorIs(t, st.Err, domain.ErrUnauthorized)
			} else {
				assert.NoError(t, st.Err)
			}
		})
	}
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		closeWith(websocket.StatusInternalError)(w, r)
	})

	rec := &recorder{}
	sched := &manualScheduler{}
	m := newManager(t, srv, rec, sched)
	require.NoError(t, m.Connect(1, "tok"))

	require.Eventually(t, func() bool { return sched.Len() == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, channel.StateDisconnected, m.State())

	m.Disconnect()
	m.Disconnect()
	sched.Fire()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, srv.Dials())
	assert.Equal(t, channel.StateIdle, m.State())
}

func TestManager_ConnectIsIdempotentPerBoard(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) { holdOpen(w, r) })
	rec := &recorder{}
	m := newManager(t, srv, rec, &immediateScheduler{})

	require.NoError(t, m.Connect(1, "tok"))
	require.NoError(t, m.Connect(1, "tok"))
	require.Eventually(t, func() bool { return m.State() == channel.StateOpen }, waitFor, 10*time.Millisecond)
	require.NoError(t, m.Connect(1, "tok"))
	assert.Equal(t, 1, srv.Dials())

	require.NoError(t, m.Connect(2, "tok"))
	require.Eventually(t, func() bool {
		st, ok := rec.Last()
		return ok && st.State == channel.StateOpen && st.BoardID == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 2, srv.Dials())
	assert.Equal(t, int64(2), m.BoardID())

	// Switching boards closes the old connection before dialing again.
	var sawClosing bool
	for _, st := range rec.Statuses() {
		if st.State == channel.StateClosing {
			assert.Equal(t, int64(1), st.BoardID)
			sawClosing = true
		}
	}
	assert.True(t, sawClosing)
}

func TestManager_Send(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	srv := newServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			received <- data
		}
	})

	rec := &recorder{}
	m := newManager(t, srv, rec, &immediateScheduler{})
	ctx := context.Background()

	err := m.Send(ctx, event.CardDeleted{CardID: 1})
	require.ErrorIs(t, err, channel.ErrNotOpen)

	require.NoError(t, m.Connect(1, "tok"))
	require.Eventually(t, func() bool { return m.State() == channel.StateOpen }, waitFor, 10*time.Millisecond)
	require.NoError(t, m.Send(ctx, event.CardDeleted{CardID: 9}))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"card.deleted","card_id":9}`, string(data))
	case <-time.After(waitFor):
		t.Fatal("server never received the event")
	}

	m.Disconnect()
	require.ErrorIs(t, m.Send(ctx, event.CardDeleted{CardID: 9}), channel.ErrNotOpen)
}
