package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Event is one server-push event from the backend stream: a named event
// type plus an untyped JSON payload.
type Event struct {
	Name string
	Data map[string]any
}

// EventStream is a single subscription to the backend's event stream.
// Events are delivered in stream order on Events(); the channel closes
// when the stream terminates, after which Err reports the terminal
// error, if any. The stream is not restartable — resubscription is the
// caller's responsibility.
type EventStream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Events returns the ordered event channel. It is closed on stream end.
func (s *EventStream) Events() <-chan Event { return s.events }

// Err reports why the stream terminated. It returns nil before Events()
// is closed, and nil after a clean server close.
func (s *EventStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close releases the underlying connection. Safe to call more than once
// and concurrently with reads from Events().
func (s *EventStream) Close() {
	s.cancel()
}

// SubscribeEvents opens the server-push event stream for a project. The
// returned stream holds the connection open until Close is called, ctx
// is cancelled, or the server ends the stream.
func (c *Client) SubscribeEvents(ctx context.Context, projectID string) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/"+projectID+"/events", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("backend.Client.SubscribeEvents: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.setAuth(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("backend.Client.SubscribeEvents: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("backend.Client.SubscribeEvents: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	s := &EventStream{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.read(ctx, resp.Body)

	return s, nil
}

// read parses SSE frames off the response body until the stream ends.
func (s *EventStream) read(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.events)
	defer body.Close()

	var (
		name    string
		data    strings.Builder
		scanner = bufio.NewScanner(body)
	)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line ends one frame.
			if data.Len() > 0 {
				s.dispatch(ctx, name, data.String())
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive.
		default:
			// Unknown field, ignored per the SSE contract.
		}
	}

	// Flush a trailing frame when the server closed without a final
	// blank line.
	if data.Len() > 0 {
		s.dispatch(ctx, name, data.String())
	}

	err := scanner.Err()
	if err != nil && ctx.Err() == nil {
		s.err = err
	}
}

// dispatch decodes one frame payload and delivers it, dropping the frame
// if the consumer is gone.
func (s *EventStream) dispatch(ctx context.Context, name, raw string) {
	var payload map[string]any
	err := json.Unmarshal([]byte(raw), &payload)
	if err != nil {
		log.Warn().Err(err).Str("event", name).Msg("backend.EventStream: dropping malformed event payload")
		return
	}

	// The backend may omit the event field and carry the type inside
	// the payload as {"event": ..., "data": ...}.
	if name == "" {
		if n, ok := payload["event"].(string); ok {
			name = n
			if inner, ok := payload["data"].(map[string]any); ok {
				payload = inner
			}
		}
	}
	if name == "" {
		name = "message"
	}

	select {
	case s.events <- Event{Name: name, Data: payload}:
	case <-ctx.Done():
	}
}
