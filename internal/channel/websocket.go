package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/gosuda/boardsync/internal/domain"
)

const defaultReadLimit = 1 << 20

// Conn is one established push-channel connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens push-channel connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebSocketDialer dials with github.com/coder/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("channel.WebSocketDialer.Dial: handshake status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("channel.WebSocketDialer.Dial: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers inspect the close status
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data) //nolint:wrapcheck // wrapped by Manager.Send
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason) //nolint:wrapcheck // best effort
}

// classify decides what a connection failure means for reconnection.
// Only a normal closure (1000) and authentication failures end the session;
// everything else is abnormal and retried.
func classify(err error) (retry, unauthorized bool) {
	if errors.Is(err, domain.ErrUnauthorized) {
		return false, true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure:
		return false, false
	case websocket.StatusPolicyViolation:
		return false, true
	}
	return true, false
}

// ChannelURL builds the per-board push-channel URL. The access token rides
// in the query string because browsers cannot set headers on websockets.
func ChannelURL(base string, boardID int64, token string) string {
	return strings.TrimRight(base, "/") + "/ws/board/" + strconv.FormatInt(boardID, 10) + "/?token=" + url.QueryEscape(token)
}
