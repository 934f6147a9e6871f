package ws

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/voicebridge/internal/config"
)

// SessionFactory builds one orchestrator per accepted connection.
type SessionFactory func(projectID, authToken string) Session

// Handler serves the /ws/voice/stream endpoint: one websocket, one
// session, one writer goroutine.
type Handler struct {
	registry   *Registry
	newSession SessionFactory
	cfg        config.SessionConfig
}

// NewHandler returns a Handler backed by the given registry and factory.
func NewHandler(registry *Registry, newSession SessionFactory, cfg config.SessionConfig) *Handler {
	return &Handler{registry: registry, newSession: newSession, cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		http.Error(w, "project_id query parameter is required", http.StatusBadRequest)
		return
	}
	authToken := r.URL.Query().Get("auth_token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn().Err(err).Msg("ws.Handler: accept failed")
		return
	}
	conn.SetReadLimit(1 << 24)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.newSession(projectID, authToken)

	err = sess.Start(ctx)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("ws.Handler: session start failed")
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}

	h.registry.Add(sess)
	defer h.registry.Remove(sess.ID())
	defer sess.Stop()

	log.Info().Str("session_id", sess.ID()).Str("project_id", projectID).Msg("ws.Handler: session accepted")

	// Single writer drains the ordered outbound queue; emission order is
	// delivery order.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		for {
			select {
			case msg := <-sess.Outbound():
				typ, payload, err := encodeOutbound(msg)
				if err != nil {
					log.Error().Err(err).Str("session_id", sess.ID()).Msg("ws.Handler: encode outbound")
					continue
				}
				err = conn.Write(ctx, typ, payload)
				if err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Str("session_id", sess.ID()).Msg("ws.Handler: client write failed")
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	h.readLoop(ctx, conn, sess)

	cancel()
	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "session ended")
	log.Info().Str("session_id", sess.ID()).Msg("ws.Handler: session closed")
}

// readLoop consumes inbound frames until the client disconnects, sends
// a stop control, or the context ends. Binary frames are audio; text
// frames are control JSON.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess Session) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.AudioFramesPerSecond), h.cfg.AudioFrameBurst)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("session_id", sess.ID()).Msg("ws.Handler: client read ended")
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if !limiter.Allow() {
				log.Debug().Str("session_id", sess.ID()).Msg("ws.Handler: inbound audio over rate limit, dropping frame")
				continue
			}
			sess.SendAudio(ctx, data)
		case websocket.MessageText:
			var ctrl controlMessage
			err := sonic.Unmarshal(data, &ctrl)
			if err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID()).Msg("ws.Handler: malformed control frame")
				continue
			}
			if ctrl.Type == "stop" {
				log.Info().Str("session_id", sess.ID()).Msg("ws.Handler: stop requested by client")
				return
			}
			log.Debug().Str("session_id", sess.ID()).Str("type", ctrl.Type).Msg("ws.Handler: unknown control type")
		}
	}
}
