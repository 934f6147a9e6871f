package session

import (
	"context"

	"github.com/gosuda/voicebridge/internal/backend"
)

// backendAdapter lifts the concrete HTTP client's stream type onto the
// EventStream interface.
type backendAdapter struct {
	*backend.Client
}

func (a backendAdapter) SubscribeEvents(ctx context.Context, projectID string) (EventStream, error) {
	stream, err := a.Client.SubscribeEvents(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// WrapBackend adapts a backend.Client to the Backend interface the
// session consumes.
func WrapBackend(c *backend.Client) Backend {
	return backendAdapter{Client: c}
}
