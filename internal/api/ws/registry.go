// Package ws is the client-facing transport boundary: it accepts the
// duplex websocket, decodes inbound frames, drains the session's
// outbound queue onto the wire, and tracks live sessions in a registry.
package ws

import (
	"context"
	"sort"
	"sync"

	"github.com/gosuda/voicebridge/internal/session"
)

// Session is the orchestrator surface the transport drives.
type Session interface {
	ID() string
	Start(ctx context.Context) error
	Stop()
	SendAudio(ctx context.Context, frame []byte)
	Outbound() <-chan session.Outbound
}

// Registry tracks live sessions. It provides lookup and shutdown
// draining only; sessions never coordinate through it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Add inserts a session. The caller is responsible for pairing every
// Add with a Remove on teardown.
func (r *Registry) Add(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove drops a session by id. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// IDs returns the identifiers of all live sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll stops every live session. Used during process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
