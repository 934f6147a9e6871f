// Package backend implements the HTTP client for the task-execution
// backend: task submission, confirmation, cancellation, status and
// context queries, and the server-push event stream.
//
// The client applies no retry policy. Transport and status errors are
// wrapped and returned to the caller; reconnect/backoff for the event
// stream belongs to the session layer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gosuda/voicebridge/internal/domain"
)

// Client talks to the task-execution backend over HTTP.
type Client struct {
	baseURL string
	token   string

	// http carries a request timeout for the five request/response
	// operations. stream has no timeout so the SSE connection can stay
	// open indefinitely; its lifetime is bounded by the request context.
	http   *http.Client
	stream *http.Client
}

// NewClient returns a Client for the backend at baseURL. authToken may be
// empty; when set it is forwarded verbatim as a Bearer credential.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   authToken,
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

// Close releases pooled connections. In-flight event streams are not
// interrupted; close those through their own Close.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
	c.stream.CloseIdleConnections()
}

type submitRequest struct {
	ProjectID string `json:"project_id"`
	Question  string `json:"question"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// SubmitTask submits a natural-language prompt for execution and returns
// the backend-assigned task identifier.
func (c *Client) SubmitTask(ctx context.Context, projectID, question string) (string, error) {
	body, err := json.Marshal(submitRequest{ProjectID: projectID, Question: question})
	if err != nil {
		return "", fmt.Errorf("backend.Client.SubmitTask: %w", err)
	}

	var out submitResponse
	err = c.do(ctx, http.MethodPost, "/chat", body, &out)
	if err != nil {
		return "", fmt.Errorf("backend.Client.SubmitTask: %w", err)
	}

	return out.TaskID, nil
}

// ConfirmStart confirms a decomposed task plan so the backend begins
// executing it.
func (c *Client) ConfirmStart(ctx context.Context, projectID string) error {
	err := c.do(ctx, http.MethodPost, "/chat/"+projectID+"/confirm", nil, nil)
	if err != nil {
		return fmt.Errorf("backend.Client.ConfirmStart: %w", err)
	}
	return nil
}

// CancelTask cancels the project's running work.
func (c *Client) CancelTask(ctx context.Context, projectID string) error {
	err := c.do(ctx, http.MethodPost, "/chat/"+projectID+"/cancel", nil, nil)
	if err != nil {
		return fmt.Errorf("backend.Client.CancelTask: %w", err)
	}
	return nil
}

// ProjectContext fetches the project's files and recent task history.
func (c *Client) ProjectContext(ctx context.Context, projectID string) (*domain.ProjectContext, error) {
	var out domain.ProjectContext
	err := c.do(ctx, http.MethodGet, "/project/"+projectID+"/context", nil, &out)
	if err != nil {
		return nil, fmt.Errorf("backend.Client.ProjectContext: %w", err)
	}
	return &out, nil
}

// TaskStatus fetches a point-in-time snapshot of task counters.
func (c *Client) TaskStatus(ctx context.Context, projectID string) (*domain.TaskStatus, error) {
	var out domain.TaskStatus
	err := c.do(ctx, http.MethodGet, "/chat/"+projectID+"/status", nil, &out)
	if err != nil {
		return nil, fmt.Errorf("backend.Client.TaskStatus: %w", err)
	}
	return &out, nil
}

// do performs one request/response call. A non-2xx status is an error
// carrying the status code and a truncated body.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
