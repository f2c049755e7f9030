package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/event"
	"github.com/gosuda/boardsync/internal/metrics"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

// HubOptions configures a Hub. MessageRate and MessageBurst bound what one
// connection may publish.
type HubOptions struct {
	Secret         string
	OriginPatterns []string
	MessageRate    float64
	MessageBurst   int
	ReadLimit      int64
	WriteTimeout   time.Duration
	Metrics        *metrics.Metrics
}

// Hub relays board events between WebSocket viewers through Redis pub/sub,
// so viewers connected to different relay instances see each other.
type Hub struct {
	pubsub *redisstore.PubSub
	opts   HubOptions
}

func NewHub(pubsub *redisstore.PubSub, opts HubOptions) *Hub {
	if opts.MessageRate <= 0 {
		opts.MessageRate = 20
	}
	if opts.MessageBurst < 1 {
		opts.MessageBurst = 40
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{pubsub: pubsub, opts: opts}
}

// ServeBoard handles one viewer of a board. The access token travels in the
// token query parameter. Messages from the viewer are published to Redis
// channel "board:<boardID>" and everything published there is written back,
// including the viewer's own messages.
func (h *Hub) ServeBoard(w http.ResponseWriter, r *http.Request) {
	boardID, err := strconv.ParseInt(chi.URLParam(r, "boardID"), 10, 64)
	if err != nil || boardID <= 0 {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}

	claims, err := auth.ValidateToken(h.opts.Secret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		log.Error().Err(err).Msg("relay: websocket accept")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := uuid.NewString()
	logger := log.With().Int64("board_id", boardID).Int64("user_id", claims.UserID).Str("conn_id", connID).Logger()

	messages, cleanup, err := h.pubsub.Subscribe(ctx, boardID)
	if err != nil {
		logger.Error().Err(err).Msg("relay: subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	if err := h.pubsub.Join(ctx, boardID, connID); err != nil {
		logger.Error().Err(err).Msg("relay: presence join")
	}
	presenceDone := make(chan struct{})
	go func() {
		defer close(presenceDone)
		h.keepPresence(ctx, boardID, connID, logger)
	}()
	defer func() {
		// Stop refreshing before leaving so the entry is not re-added.
		cancel()
		<-presenceDone
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		if err := h.pubsub.Leave(leaveCtx, boardID, connID); err != nil {
			logger.Error().Err(err).Msg("relay: presence leave")
		}
	}()

	h.opts.Metrics.RelayConnected()
	defer h.opts.Metrics.RelayDisconnected()
	logger.Info().Msg("relay: viewer connected")

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, boardID)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			logger.Info().Msg("relay: viewer disconnected")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := h.write(ctx, conn, msg); writeErr != nil {
				logger.Debug().Err(writeErr).Msg("relay: websocket write")
				return
			}
		}
	}
}

// keepPresence refreshes the viewer's presence entry until ctx ends.
func (h *Hub) keepPresence(ctx context.Context, boardID int64, connID string, logger zerolog.Logger) {
	ticker := time.NewTicker(h.pubsub.PresenceTTL() / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.pubsub.Join(ctx, boardID, connID); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("relay: presence refresh")
			}
		}
	}
}

// readLoop publishes what the viewer sends. Rejected messages are answered
// with an error event and the connection stays open.
func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, boardID int64) {
	limiter := rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Int64("board_id", boardID).Msg("relay: websocket read")
			}
			return
		}

		if !limiter.Allow() {
			h.reject(ctx, conn, "rate_limited", "rate limit exceeded")
			continue
		}

		ev, err := event.Decode(data)
		if err != nil {
			log.Warn().Err(err).Int64("board_id", boardID).Msg("relay: malformed message")
			h.reject(ctx, conn, "malformed", "malformed message")
			continue
		}
		if !event.Relayable(ev.Type()) {
			h.reject(ctx, conn, "rejected", "message type "+string(ev.Type())+" is not allowed")
			continue
		}

		// Re-encode so subscribers only ever see the canonical wire form.
		payload, err := event.Encode(ev)
		if err != nil {
			h.reject(ctx, conn, "malformed", "malformed message")
			continue
		}
		if err := h.pubsub.Publish(ctx, boardID, payload); err != nil {
			log.Error().Err(err).Int64("board_id", boardID).Msg("relay: publish")
			h.reject(ctx, conn, "failed", "relay unavailable")
			continue
		}
		h.opts.Metrics.RelayMessage("relayed")
	}
}

func (h *Hub) reject(ctx context.Context, conn *websocket.Conn, outcome, message string) {
	h.opts.Metrics.RelayMessage(outcome)

	payload, err := event.Encode(event.Error{Message: message})
	if err != nil {
		return
	}
	if err := h.write(ctx, conn, payload); err != nil {
		log.Debug().Err(err).Msg("relay: write error reply")
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
