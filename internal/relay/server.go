// Package relay is the server side of the board push channel. It accepts
// viewer connections, fans relayable events out through Redis and reports
// who is watching each board.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/config"
	"github.com/gosuda/boardsync/internal/metrics"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

// Server wires the relay routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	pubsub     *redisstore.PubSub
	hub        *Hub
}

// New creates a Server with all routes wired. gatherer backs /metrics and
// may be nil to use the default Prometheus registry. Cancelling ctx closes
// viewer connections and stops background work.
func New(ctx context.Context, cfg *config.Config, pubsub *redisstore.PubSub, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(accessLog)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.Relay.AllowedOrigins),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := NewHub(pubsub, HubOptions{
		Secret:         cfg.Relay.JWTSecret,
		OriginPatterns: cfg.Relay.AllowedOrigins,
		MessageRate:    cfg.Relay.MessageRate,
		MessageBurst:   cfg.Relay.MessageBurst,
		WriteTimeout:   cfg.Relay.WriteTimeout,
		Metrics:        m,
	})

	s := &Server{
		router: router,
		pubsub: pubsub,
		hub:    hub,
		httpServer: &http.Server{
			Addr:    cfg.Relay.Addr,
			Handler: router,
			// Whole-request timeouts would cut long-lived WebSocket connections.
			ReadHeaderTimeout: cfg.Relay.ReadTimeout,
			// Hijacked connections outlive Shutdown; ctx ends them.
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimitByIP(ctx, 10, 20))
		r.Use(requireBearer(cfg.Relay.JWTSecret))

		apiConfig := huma.DefaultConfig("Boardsync Relay API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerPresenceRoutes(api, pubsub)
	})

	// Clients address the channel with a trailing slash; accept both forms.
	router.Route("/ws", func(r chi.Router) {
		r.Get("/board/{boardID}", hub.ServeBoard)
		r.Get("/board/{boardID}/", hub.ServeBoard)
	})

	router.Get("/healthz", s.healthz)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("relay: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay.Server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay.Server.Shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.pubsub.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("relay: health check")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("relay: request")
	})
}

// corsOrigins turns WebSocket origin patterns (host globs) into the origin
// list rs/cors expects.
func corsOrigins(patterns []string) []string {
	out := make([]string, 0, len(patterns)*2)
	for _, p := range patterns {
		if p == "*" {
			return []string{"*"}
		}
		out = append(out, "http://"+p, "https://"+p)
	}
	return out
}
