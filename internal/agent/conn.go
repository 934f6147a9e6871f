// Package agent manages the duplex streaming connection to the speech
// vendor: the settings handshake, the strictly-sequential receive loop,
// and client-side function-call dispatch.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/voicebridge/internal/config"
)

//nolint:gochecknoglobals // sentinel errors
var (
	// ErrFunctionRegistered is returned when a function name is
	// registered twice. Re-registration almost always means two
	// call sites fought over the same capability.
	ErrFunctionRegistered = errors.New("agent: function already registered")

	// ErrAlreadyConnected is returned by Connect and Register when the
	// connection is already live.
	ErrAlreadyConnected = errors.New("agent: already connected")
)

// Handler executes one client-side function call. The returned map is
// JSON-encoded into the correlated response frame.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// FunctionDef describes one capability advertised to the vendor.
// Parameters is a JSON-schema object.
type FunctionDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Callbacks routes inbound vendor traffic to the session. Nil fields
// are skipped.
type Callbacks struct {
	OnAudio                func(frame []byte)
	OnUserTranscript       func(text string)
	OnAgentTranscript      func(text string)
	OnUserStartedSpeaking  func()
	OnAgentStartedSpeaking func()
}

type registration struct {
	def     FunctionDef
	handler Handler
}

// Conn is a single connection to the speech vendor. Register all
// capabilities, then Connect; the receive loop processes inbound frames
// one at a time until Disconnect or transport close.
type Conn struct {
	cfg       config.AgentConfig
	callbacks Callbacks

	mu        sync.Mutex
	functions map[string]registration
	order     []string // manifest order follows registration order
	ws        *websocket.Conn
	cancel    context.CancelFunc
	loopDone  chan struct{}

	// writeMu serializes frames onto the socket. The receive loop
	// (function responses), SendAudio and InjectMessage all converge
	// on the same connection.
	writeMu sync.Mutex
}

// NewConn returns a disconnected Conn.
func NewConn(cfg config.AgentConfig, callbacks Callbacks) *Conn {
	return &Conn{
		cfg:       cfg,
		callbacks: callbacks,
		functions: make(map[string]registration),
	}
}

// Register adds a capability to the dispatch table. It must be called
// before Connect. A duplicate name is rejected with
// ErrFunctionRegistered.
func (c *Conn) Register(def FunctionDef, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != nil {
		return fmt.Errorf("agent.Conn.Register: %w", ErrAlreadyConnected)
	}
	if _, dup := c.functions[def.Name]; dup {
		return fmt.Errorf("agent.Conn.Register: %q: %w", def.Name, ErrFunctionRegistered)
	}

	c.functions[def.Name] = registration{def: def, handler: handler}
	c.order = append(c.order, def.Name)

	return nil
}

// Connect dials the vendor, sends the settings handshake and spawns the
// receive loop. On any failure all partial state is released and the
// Conn stays Disconnected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != nil {
		return fmt.Errorf("agent.Conn.Connect: %w", ErrAlreadyConnected)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{ //nolint:bodyclose // closed by websocket.Conn
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("agent.Conn.Connect: dial: %w", err)
	}
	ws.SetReadLimit(1 << 24)

	settings, err := sonic.Marshal(buildSettings(c.cfg, c.manifestLocked()))
	if err != nil {
		ws.Close(websocket.StatusInternalError, "settings encode failed")
		return fmt.Errorf("agent.Conn.Connect: encode settings: %w", err)
	}

	err = ws.Write(ctx, websocket.MessageText, settings)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "settings send failed")
		return fmt.Errorf("agent.Conn.Connect: send settings: %w", err)
	}

	// The receive loop outlives Connect's ctx; its lifetime is bound to
	// Disconnect or transport close.
	loopCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	c.ws = ws
	c.cancel = cancel
	c.loopDone = loopDone

	go c.receiveLoop(loopCtx, ws, loopDone)

	log.Info().
		Str("url", c.cfg.URL).
		Str("listen", c.cfg.ListenModel).
		Str("think", c.cfg.ThinkProvider+"/"+c.cfg.ThinkModel).
		Str("speak", c.cfg.SpeakModel).
		Strs("functions", c.order).
		Msg("agent.Conn.Connect: connected")

	return nil
}

func (c *Conn) manifestLocked() []manifestEntry {
	manifest := make([]manifestEntry, 0, len(c.order))
	for _, name := range c.order {
		def := c.functions[name].def
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		manifest = append(manifest, manifestEntry{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return manifest
}

// receiveLoop consumes inbound frames strictly sequentially until the
// transport closes or the loop is cancelled. Per-frame errors never
// terminate the loop.
func (c *Conn) receiveLoop(ctx context.Context, ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("agent.Conn.receiveLoop: transport closed")
			}
			return
		}

		if typ == websocket.MessageBinary {
			if c.callbacks.OnAudio != nil {
				c.callbacks.OnAudio(data)
			}
			continue
		}

		msg, err := decodeServerMessage(data)
		if err != nil {
			log.Warn().Err(err).Msg("agent.Conn.receiveLoop: undecodable frame")
			continue
		}

		c.handleMessage(ctx, msg)
	}
}

func (c *Conn) handleMessage(ctx context.Context, msg ServerMessage) {
	switch m := msg.(type) {
	case *Welcome:
		log.Info().Str("request_id", m.RequestID).Msg("agent.Conn: welcome")
	case *SettingsApplied:
		log.Info().Msg("agent.Conn: settings applied")
	case *ConversationText:
		switch m.Role {
		case "user":
			if c.callbacks.OnUserTranscript != nil {
				c.callbacks.OnUserTranscript(m.Content)
			}
		case "assistant":
			if c.callbacks.OnAgentTranscript != nil {
				c.callbacks.OnAgentTranscript(m.Content)
			}
		}
	case *History:
		log.Debug().Str("role", m.Role).Msg("agent.Conn: history echo")
	case *UserStartedSpeaking:
		if c.callbacks.OnUserStartedSpeaking != nil {
			c.callbacks.OnUserStartedSpeaking()
		}
	case *AgentThinking:
		log.Debug().Str("content", m.Content).Msg("agent.Conn: thinking")
	case *AgentStartedSpeaking:
		if c.callbacks.OnAgentStartedSpeaking != nil {
			c.callbacks.OnAgentStartedSpeaking()
		}
	case *AgentAudioDone:
		log.Debug().Msg("agent.Conn: audio done")
	case *FunctionCallRequest:
		c.dispatchFunctionCalls(ctx, m)
	case *FunctionCallEcho:
		log.Debug().Str("name", m.Name).Msg("agent.Conn: function response echo")
	case *PromptUpdated, *SpeakUpdated:
		log.Debug().Msg("agent.Conn: configuration update confirmed")
	case *InjectionRefused:
		log.Warn().Str("message", m.Message).Msg("agent.Conn: injection refused")
	case *ServerError:
		log.Error().Str("code", m.Code).Str("description", m.Description).Msg("agent.Conn: vendor error")
	case *ServerWarning:
		log.Warn().Str("code", m.Code).Str("description", m.Description).Msg("agent.Conn: vendor warning")
	case *Unrecognized:
		log.Warn().Str("type", m.Type).Msg("agent.Conn: unrecognized message type")
	}
}

// dispatchFunctionCalls executes each client-side invocation and sends
// exactly one correlated response per request, error payloads included.
func (c *Conn) dispatchFunctionCalls(ctx context.Context, req *FunctionCallRequest) {
	for _, item := range req.Functions {
		if !item.ClientSide {
			continue
		}

		args := map[string]any{}
		if item.Arguments != "" {
			err := sonic.Unmarshal([]byte(item.Arguments), &args)
			if err != nil {
				log.Error().Err(err).Str("function", item.Name).Msg("agent.Conn: unparsable function arguments")
				c.sendFunctionResponse(ctx, item, map[string]any{"error": "Invalid function arguments"})
				continue
			}
		}

		c.mu.Lock()
		reg, ok := c.functions[item.Name]
		c.mu.Unlock()
		if !ok {
			log.Warn().Str("function", item.Name).Msg("agent.Conn: unknown function called")
			c.sendFunctionResponse(ctx, item, map[string]any{"error": "Unknown function: " + item.Name})
			continue
		}

		result, err := reg.handler(ctx, args)
		if err != nil {
			log.Error().Err(err).Str("function", item.Name).Msg("agent.Conn: function execution failed")
			c.sendFunctionResponse(ctx, item, map[string]any{"error": "Function execution failed"})
			continue
		}

		c.sendFunctionResponse(ctx, item, result)
	}
}

func (c *Conn) sendFunctionResponse(ctx context.Context, item FunctionCallItem, result map[string]any) {
	content, err := sonic.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("function", item.Name).Msg("agent.Conn: encoding function result")
		content = []byte(`{"error":"Result encoding failed"}`)
	}

	frame, err := sonic.Marshal(functionCallResponse{
		Type:    "FunctionCallResponse",
		ID:      item.ID,
		Name:    item.Name,
		Content: string(content),
	})
	if err != nil {
		log.Error().Err(err).Str("function", item.Name).Msg("agent.Conn: encoding function response")
		return
	}

	err = c.write(ctx, websocket.MessageText, frame)
	if err != nil {
		log.Warn().Err(err).Str("function", item.Name).Msg("agent.Conn: sending function response")
	}
}

// SendAudio forwards a raw audio frame to the vendor. A Disconnected
// Conn drops the frame silently; teardown races are expected.
func (c *Conn) SendAudio(ctx context.Context, frame []byte) {
	if !c.connected() {
		return
	}
	err := c.write(ctx, websocket.MessageBinary, frame)
	if err != nil {
		log.Debug().Err(err).Msg("agent.Conn.SendAudio: dropped frame")
	}
}

// InjectMessage asks the vendor to speak text immediately. It reports
// whether the injection frame was handed to the transport; a false
// return means the caller should degrade to another channel.
func (c *Conn) InjectMessage(ctx context.Context, text string) bool {
	if !c.connected() {
		log.Warn().Msg("agent.Conn.InjectMessage: not connected")
		return false
	}

	frame, err := sonic.Marshal(injectAgentMessage{Type: "InjectAgentMessage", Message: text})
	if err != nil {
		log.Error().Err(err).Msg("agent.Conn.InjectMessage: encode")
		return false
	}

	err = c.write(ctx, websocket.MessageText, frame)
	if err != nil {
		log.Warn().Err(err).Msg("agent.Conn.InjectMessage: send")
		return false
	}

	return true
}

// Disconnect cancels the receive loop, waits for it within ctx's
// deadline, closes the transport and resets to Disconnected. Safe to
// call when never connected and safe to call twice.
func (c *Conn) Disconnect(ctx context.Context) {
	c.mu.Lock()
	ws := c.ws
	cancel := c.cancel
	loopDone := c.loopDone
	c.ws = nil
	c.cancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	if ws == nil {
		return
	}

	cancel()

	select {
	case <-loopDone:
	case <-ctx.Done():
		log.Warn().Msg("agent.Conn.Disconnect: receive loop did not stop in time")
	}

	err := ws.Close(websocket.StatusNormalClosure, "session ended")
	if err != nil {
		log.Debug().Err(err).Msg("agent.Conn.Disconnect: close")
	}
}

func (c *Conn) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.Write(ctx, typ, data)
}
