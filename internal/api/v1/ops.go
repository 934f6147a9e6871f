// Package v1 exposes the operational HTTP API: debug queries that are
// not part of the realtime voice path.
package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// SessionLister provides the live session identifiers.
type SessionLister interface {
	IDs() []string
}

// ListSessionsOutput is the response body for the session listing.
type ListSessionsOutput struct {
	Body struct {
		Count    int      `json:"count"`
		Sessions []string `json:"sessions"`
	}
}

// Register mounts the v1 operations onto the API.
func Register(api huma.API, sessions SessionLister) {
	huma.Register(api, huma.Operation{
		OperationID: "list-voice-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List active voice sessions",
		Description: "Returns the identifiers of all live voice sessions. Debugging aid only.",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		ids := sessions.IDs()
		if ids == nil {
			ids = []string{}
		}

		out := &ListSessionsOutput{}
		out.Body.Count = len(ids)
		out.Body.Sessions = ids
		return out, nil
	})
}
