package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/api"
	"github.com/gosuda/boardsync/internal/boardview"
	"github.com/gosuda/boardsync/internal/channel"
	"github.com/gosuda/boardsync/internal/metrics"
	"github.com/gosuda/boardsync/internal/mutation"
	"github.com/gosuda/boardsync/internal/render"
	"github.com/gosuda/boardsync/internal/session"
)

var errNoCredentials = errors.New("no credentials: set BOARDSYNC_TOKEN, or BOARDSYNC_USERNAME and BOARDSYNC_PASSWORD")

// backend is an authenticated API client together with its session.
type backend struct {
	api     *api.Client
	session *session.Session
}

func login(ctx context.Context) (*backend, error) {
	base := &http.Client{Timeout: cfg.Backend.Timeout}

	var (
		sess *session.Session
		err  error
	)
	switch {
	case cfg.Session.Token != "":
		sess = session.Static(cfg.Session.Token)
	case cfg.Session.Username != "":
		sess, err = session.Login(ctx, api.New(cfg.Backend.APIURL, base), cfg.Session.Username, cfg.Session.Password)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	default:
		return nil, errNoCredentials
	}

	return &backend{
		api:     api.New(cfg.Backend.APIURL, sess.HTTPClient(base)),
		session: sess,
	}, nil
}

func (b *backend) opener(m *metrics.Metrics) *boardview.Opener {
	policy := channel.Policy{
		BaseDelay:   cfg.Channel.BaseDelay,
		MaxDelay:    cfg.Channel.MaxDelay,
		MaxAttempts: cfg.Channel.MaxAttempts,
	}
	return &boardview.Opener{
		Backend: b.api,
		Session: b.session,
		NewChannel: func(h channel.Handler) boardview.Channel {
			return channel.NewManager(h, channel.Options{
				BaseURL:      cfg.Backend.WSURL,
				Policy:       policy,
				WriteTimeout: cfg.Channel.WriteTimeout,
				Metrics:      m,
			})
		},
		MutationTimeout: cfg.Channel.MutationTimeout,
		Metrics:         m,
	}
}

// waitReady blocks until the view finished its initial fetch and the push
// channel either opened or went offline for good, so a confirmed change can
// be broadcast. A channel waiting to reconnect is not ready. A failed fetch
// is returned as an error.
func waitReady(ctx context.Context, v *boardview.View) (boardview.Update, error) {
	for {
		select {
		case <-ctx.Done():
			return boardview.Update{}, ctx.Err()
		case u, ok := <-v.Updates():
			if !ok {
				return boardview.Update{}, boardview.ErrClosed
			}
			if u.Loading || !settled(u.Status) {
				continue
			}
			for _, n := range u.Notices {
				if n.Level == boardview.NoticeError {
					return u, errors.New(n.Message)
				}
			}
			return u, nil
		}
	}
}

func settled(st channel.Status) bool {
	return st.State == channel.StateOpen || st.Offline
}

// dispatch opens the board, applies one action and waits for the backend
// to confirm or reject it.
func dispatch(ctx context.Context, boardID int64, a mutation.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}

	b, err := login(ctx)
	if err != nil {
		return err
	}
	view, err := b.opener(nil).OpenBoard(ctx, boardID)
	if err != nil {
		return err
	}
	defer view.Close()

	if _, err := waitReady(ctx, view); err != nil {
		return err
	}

	result, err := view.Dispatch(a)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Debug().Int64("board_id", boardID).Str("action", a.Kind()).Msg("boardsync: confirmed")
	render.Success(os.Stdout, "%s confirmed", humanKind(a.Kind()))
	return nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func humanKind(kind string) string { return strings.ReplaceAll(kind, "_", " ") }
