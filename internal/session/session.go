// Package session holds the user's credentials and keeps the access token fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/gosuda/boardsync/internal/api"
	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/domain"
)

const refreshTimeout = 15 * time.Second

// Session is an authenticated user. It satisfies oauth2.TokenSource, so
// HTTPClient can attach the bearer token to every request.
type Session struct {
	source oauth2.TokenSource

	mu      sync.Mutex
	invalid bool
}

// Login exchanges a username and password for a token pair. The returned
// session refreshes the access token through the same client once it expires.
func Login(ctx context.Context, client *api.Client, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("session.Login: %w", domain.Invalid("credentials", "username and password are required"))
	}

	pair, err := client.ObtainToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("session.Login: %w", err)
	}

	initial := newToken(pair.Access)
	r := &refresher{client: client, refresh: pair.Refresh}
	return &Session{source: oauth2.ReuseTokenSource(initial, r)}, nil
}

// Static wraps a pre-issued access token. It is never refreshed.
func Static(accessToken string) *Session {
	return &Session{source: oauth2.StaticTokenSource(newToken(accessToken))}
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	if !s.IsAuthenticated() {
		return nil, fmt.Errorf("session.Session.Token: %w", domain.ErrUnauthorized)
	}

	tok, err := s.source.Token()
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.Invalidate()
		}
		return nil, fmt.Errorf("session.Session.Token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("session.Session.Token: %w", domain.ErrUnauthorized)
	}
	return tok, nil
}

// AccessToken returns a currently valid access token, refreshing if needed.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("session.Session.AccessToken: %w", err)
	}
	tok, err := s.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// HTTPClient returns a client that authenticates every request. base, when
// non-nil, supplies the underlying transport and timeout.
func (s *Session) HTTPClient(base *http.Client) *http.Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	c := oauth2.NewClient(ctx, s)
	if base != nil {
		c.Timeout = base.Timeout
	}
	return c
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

// Invalidate marks the session unusable; the user has to log in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.invalid {
		log.Warn().Msg("session: invalidated, re-authentication required")
	}
	s.invalid = true
}

type refresher struct {
	client  *api.Client
	refresh string
}

func (r *refresher) Token() (*oauth2.Token, error) {
	if r.refresh == "" {
		return nil, fmt.Errorf("session.refresher.Token: no refresh token: %w", domain.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	access, err := r.client.RefreshToken(ctx, r.refresh)
	if err != nil {
		return nil, fmt.Errorf("session.refresher.Token: %w", err)
	}
	log.Debug().Msg("session: access token refreshed")
	return newToken(access), nil
}

// newToken reads the expiry from the JWT. A token whose expiry cannot be
// read is treated as non-expiring and left to the backend to reject.
func newToken(access string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, err := auth.Expiry(access); err == nil {
		tok.Expiry = exp
	}
	return tok
}
