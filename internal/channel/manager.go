package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/event"
	"github.com/gosuda/boardsync/internal/metrics"
)

var (
	ErrNotOpen      = errors.New("channel: connection not open")
	ErrMissingBoard = errors.New("channel: board id required")
	ErrMissingToken = errors.New("channel: access token required")
)

// Handler receives decoded events and state transitions. Both methods are
// called with the manager lock held, in order, from a single connection at
// a time. Implementations must not block and must not call back into the
// Manager.
type Handler interface {
	HandleEvent(ev event.Event)
	HandleStatus(st Status)
}

type Options struct {
	// BaseURL is the ws:// or wss:// origin of the push channel.
	BaseURL      string
	Dialer       Dialer
	Policy       Policy
	WriteTimeout time.Duration
	Scheduler    Scheduler
	Metrics      *metrics.Metrics
}

// Manager owns at most one push-channel connection, scoped to one board.
type Manager struct {
	opts    Options
	handler Handler

	mu      sync.Mutex
	state   State
	boardID int64
	token   string
	attempt int
	opened  bool // reached Open at least once for the current board
	gen     uint64
	conn    Conn
	cancel  context.CancelFunc
	timer   Timer
	backoff backoff.BackOff
}

func NewManager(handler Handler, opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	opts.Policy = opts.Policy.withDefaults()

	return &Manager{
		opts:    opts,
		handler: handler,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BoardID returns the board the manager is scoped to, or 0.
func (m *Manager) BoardID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boardID
}

// Connect opens the channel for boardID. It returns once dialing has
// started; progress is reported through Handler.HandleStatus. Calling it
// again for the same board while Connecting or Open is a no-op. A different
// board closes the previous connection first.
func (m *Manager) Connect(boardID int64, token string) error {
	if boardID <= 0 {
		return fmt.Errorf("channel.Manager.Connect: %w", ErrMissingBoard)
	}
	if token == "" {
		return fmt.Errorf("channel.Manager.Connect: %w", ErrMissingToken)
	}

	m.mu.Lock()
	if m.boardID == boardID && (m.state == StateConnecting || m.state == StateOpen) {
		m.mu.Unlock()
		return nil
	}
	prev, cancel := m.closeLocked("switching board")
	m.mu.Unlock()

	// The old socket is fully closed before the new one is dialed.
	closeConn(prev, cancel, "switching board")

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another Connect may have slipped in while the lock was released.
	if raced, raceCancel := m.closeLocked("switching board"); raced != nil || raceCancel != nil {
		go closeConn(raced, raceCancel, "switching board")
	}

	m.boardID = boardID
	m.token = token
	m.attempt = 0
	m.opened = false
	m.backoff = newBackOff(m.opts.Policy)
	m.dialLocked()

	return nil
}

// Disconnect closes the channel and cancels any pending reconnect. It is
// safe to call at any time, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, cancel := m.closeLocked("client disconnect")
	m.mu.Unlock()

	if conn != nil || cancel != nil {
		go closeConn(conn, cancel, "client disconnect")
	}
}

// Send writes ev to the open connection.
func (m *Manager) Send(ctx context.Context, ev event.Event) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		return fmt.Errorf("channel.Manager.Send: %w (state %s)", ErrNotOpen, state)
	}

	data, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("channel.Manager.Send: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()

	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("channel.Manager.Send: %w", err)
	}
	return nil
}

// closeLocked invalidates the current connection and returns what the
// caller must release after unlocking. Emits Closing then Idle when there
// was anything live.
func (m *Manager) closeLocked(reason string) (Conn, context.CancelFunc) {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil

	if m.state == StateIdle {
		return conn, cancel
	}

	m.setStateLocked(Status{State: StateClosing, Reason: reason})
	m.setStateLocked(Status{State: StateIdle, Reason: reason})
	return conn, cancel
}

func closeConn(conn Conn, cancel context.CancelFunc, reason string) {
	if conn != nil {
		if err := conn.Close(reason); err != nil {
			log.Debug().Err(err).Msg("channel: close")
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) dialLocked() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.setStateLocked(Status{State: StateConnecting, Attempt: m.attempt})

	go m.dial(ctx, gen, ChannelURL(m.opts.BaseURL, m.boardID, m.token))
}

func (m *Manager) dial(ctx context.Context, gen uint64, rawURL string) {
	conn, err := m.opts.Dialer.Dial(ctx, rawURL)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close("superseded")
		}
		return
	}
	if err != nil {
		m.dropLocked(err)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	resync := m.opened
	m.opened = true
	m.attempt = 0
	m.backoff.Reset()
	m.setStateLocked(Status{State: StateOpen, Resync: resync})
	m.mu.Unlock()

	go m.read(ctx, gen, conn)
}

func (m *Manager) read(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			if gen == m.gen {
				m.dropLocked(err)
			}
			m.mu.Unlock()
			return
		}

		ev, err := event.Decode(data)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, event.ErrUnknownType) {
				reason = "unknown_type"
			}
			log.Warn().Err(err).Int64("board_id", m.BoardID()).Msg("channel: dropping inbound payload")
			m.opts.Metrics.EventDropped(reason)
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.handler.HandleEvent(ev)
		m.mu.Unlock()
	}
}

// dropLocked handles a failed dial or a closed connection: schedule a retry
// for abnormal closures, or go terminally offline.
func (m *Manager) dropLocked(cause error) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil

	retry, unauthorized := classify(cause)
	switch {
	case unauthorized:
		if !errors.Is(cause, domain.ErrUnauthorized) {
			cause = fmt.Errorf("%w: %w", domain.ErrUnauthorized, cause)
		}
		m.offlineLocked("unauthorized", cause)
		return
	case !retry:
		m.offlineLocked("closed by server", nil)
		return
	}

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.offlineLocked("max reconnect attempts reached", cause)
		return
	}

	m.attempt++
	m.opts.Metrics.ReconnectAttempted()
	log.Warn().Err(cause).Int64("board_id", m.boardID).Int("attempt", m.attempt).
		Dur("delay", delay).Msg("channel: connection lost, reconnecting")

	m.setStateLocked(Status{
		State:   StateDisconnected,
		Attempt: m.attempt,
		Delay:   delay,
		Reason:  cause.Error(),
	})

	gen := m.gen
	m.timer = m.opts.Scheduler.AfterFunc(delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateDisconnected {
		return
	}
	m.timer = nil
	m.dialLocked()
}

func (m *Manager) offlineLocked(reason string, cause error) {
	log.Warn().Err(cause).Int64("board_id", m.boardID).Str("reason", reason).Msg("channel: offline")

	m.setStateLocked(Status{State: StateDisconnected, Attempt: m.attempt, Reason: reason, Offline: true, Err: cause})
	m.setStateLocked(Status{State: StateIdle, Attempt: m.attempt, Reason: reason, Offline: true, Err: cause})
}

func (m *Manager) setStateLocked(st Status) {
	st.BoardID = m.boardID
	m.state = st.State
	m.opts.Metrics.SetConnectionState(st.State.String())

	log.Debug().Int64("board_id", st.BoardID).Str("state", st.State.String()).Int("attempt", st.Attempt).
		Msg("channel: state change")

	if m.handler != nil {
		m.handler.HandleStatus(st)
	}
}
