package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/voicebridge/internal/agent"
	"github.com/gosuda/voicebridge/internal/api/ws"
	"github.com/gosuda/voicebridge/internal/backend"
	"github.com/gosuda/voicebridge/internal/config"
	"github.com/gosuda/voicebridge/internal/server"
	"github.com/gosuda/voicebridge/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("VOICE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("VOICE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// One session per websocket connection; each session acquires its
	// own backend client (carrying the caller's token) and agent
	// connection when it starts.
	newSession := func(projectID, authToken string) ws.Session {
		return session.New(
			projectID,
			func() session.Backend {
				return session.WrapBackend(backend.NewClient(cfg.Backend.URL, authToken, cfg.Backend.Timeout))
			},
			func(cb agent.Callbacks) session.AgentConn {
				return agent.NewConn(cfg.Agent, cb)
			},
			cfg.Session,
		)
	}

	registry := ws.NewRegistry()
	streamHandler := ws.NewHandler(registry, newSession, cfg.Session)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, streamHandler, registry)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Int("sessions", registry.Len()).Msg("shutting down")

	// Stop live sessions before closing the listener so each one tears
	// down its agent and backend resources.
	registry.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
