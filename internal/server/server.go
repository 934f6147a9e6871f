// Package server wires the HTTP surface: router, middleware, the ops
// API and the voice websocket route.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/gosuda/voicebridge/internal/api/v1"
	"github.com/gosuda/voicebridge/internal/config"
	"github.com/gosuda/voicebridge/internal/server/middleware"
)

// New websocket connections per IP: enough for reconnect storms from a
// single desktop client, not enough for a flood.
const (
	wsAcceptsPerSecond = 5
	wsAcceptBurst      = 10
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. streamHandler serves the
// voice websocket; sessions backs the ops API listing.
func New(ctx context.Context, cfg *config.Config, streamHandler http.Handler, sessions v1.SessionLister) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:        cfg.Server.Addr,
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
			// No WriteTimeout: the voice websocket is a long-lived
			// hijacked connection and the ops API responses are tiny.
		},
	}

	// Ops API on /api/v1.
	router.Route("/api/v1", func(r chi.Router) {
		apiConfig := huma.DefaultConfig("Voicebridge API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.Register(api, sessions)
	})

	// Voice websocket route, rate-limited per IP at the accept path.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, wsAcceptsPerSecond, wsAcceptBurst))
		r.Handle("/voice/stream", streamHandler)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// Router exposes the wired router for tests.
func (s *Server) Router() chi.Router { return s.router }
