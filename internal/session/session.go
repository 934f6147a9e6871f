// Package session implements the per-connection orchestrator: it owns
// one agent connection and one backend client, registers the remote
// capabilities, consumes the backend event stream with reconnect
// backoff, and emits ordered outbound messages toward the client
// transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/voicebridge/internal/agent"
	"github.com/gosuda/voicebridge/internal/backend"
	"github.com/gosuda/voicebridge/internal/config"
	"github.com/gosuda/voicebridge/internal/domain"
)

// ErrAlreadyStarted is returned by Start on a session that is not Idle.
var ErrAlreadyStarted = errors.New("session: already started") //nolint:gochecknoglobals // sentinel error

// Backend is the task-execution surface the session consumes.
type Backend interface {
	SubmitTask(ctx context.Context, projectID, question string) (string, error)
	ConfirmStart(ctx context.Context, projectID string) error
	CancelTask(ctx context.Context, projectID string) error
	ProjectContext(ctx context.Context, projectID string) (*domain.ProjectContext, error)
	TaskStatus(ctx context.Context, projectID string) (*domain.TaskStatus, error)
	SubscribeEvents(ctx context.Context, projectID string) (EventStream, error)
	Close()
}

// EventStream is one subscription to the backend's event sequence.
type EventStream interface {
	Events() <-chan backend.Event
	Err() error
	Close()
}

// AgentConn is the speech-vendor surface the session consumes.
type AgentConn interface {
	Register(def agent.FunctionDef, handler agent.Handler) error
	Connect(ctx context.Context) error
	SendAudio(ctx context.Context, frame []byte)
	InjectMessage(ctx context.Context, text string) bool
	Disconnect(ctx context.Context)
}

// BackendFactory acquires the backend client during Start, so a failed
// start can release it again.
type BackendFactory func() Backend

// AgentFactory builds the agent connection wired to the session's
// inbound callbacks.
type AgentFactory func(cb agent.Callbacks) AgentConn

type state int

const (
	stateIdle state = iota
	stateStarting
	stateActive
	stateStopping
)

// Session orchestrates one client connection's agent and backend
// resources. Start must fully succeed or release everything it
// acquired; Stop always settles back in Idle.
type Session struct {
	id         string
	projectID  string
	cfg        config.SessionConfig
	newBackend BackendFactory
	newAgent   AgentFactory

	outbound chan Outbound
	dropped  atomic.Int64
	active   atomic.Bool

	mu         sync.Mutex
	st         state
	backend    Backend
	agent      AgentConn
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// New returns an Idle session for one client connection.
func New(projectID string, newBackend BackendFactory, newAgent AgentFactory, cfg config.SessionConfig) *Session {
	return &Session{
		id:         uuid.NewString(),
		projectID:  projectID,
		cfg:        cfg,
		newBackend: newBackend,
		newAgent:   newAgent,
		outbound:   make(chan Outbound, cfg.OutboundQueueSize),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Outbound returns the ordered queue of messages for the client
// transport. The channel is never closed; the transport stops draining
// when its own context ends.
func (s *Session) Outbound() <-chan Outbound { return s.outbound }

// Start acquires the backend client, builds and connects the agent
// connection with all capabilities registered, then spawns the event
// consumption loop. Any failure rolls back everything acquired so far.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.st != stateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session.Session.Start: %w", ErrAlreadyStarted)
	}
	s.st = stateStarting
	s.mu.Unlock()

	log.Info().Str("session_id", s.id).Str("project_id", s.projectID).Msg("session.Session.Start: starting")

	b := s.newBackend()

	ag := s.newAgent(agent.Callbacks{
		OnAudio:                func(frame []byte) { s.enqueue(Audio{Frame: frame}) },
		OnUserTranscript:       func(text string) { s.enqueue(UserTranscript{Text: text}) },
		OnAgentTranscript:      func(text string) { s.enqueue(AgentTranscript{Text: text}) },
		OnUserStartedSpeaking:  func() { s.enqueue(UserStartedSpeaking{}) },
		OnAgentStartedSpeaking: func() { s.enqueue(AgentStartedSpeaking{}) },
	})

	err := s.registerFunctions(ag, b)
	if err != nil {
		s.rollback(b)
		return fmt.Errorf("session.Session.Start: %w", err)
	}

	err = ag.Connect(ctx)
	if err != nil {
		s.rollback(b)
		return fmt.Errorf("session.Session.Start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	s.mu.Lock()
	s.backend = b
	s.agent = ag
	s.cancelLoop = cancel
	s.loopDone = loopDone
	s.st = stateActive
	s.mu.Unlock()
	s.active.Store(true)

	go s.consumeEvents(loopCtx, b, ag, loopDone)

	s.enqueue(Ready{SessionID: s.id})
	log.Info().Str("session_id", s.id).Str("project_id", s.projectID).Msg("session.Session.Start: active")

	return nil
}

// rollback releases partially-acquired resources and returns to Idle.
func (s *Session) rollback(b Backend) {
	b.Close()
	s.mu.Lock()
	s.st = stateIdle
	s.mu.Unlock()
	log.Warn().Str("session_id", s.id).Msg("session.Session.Start: rolled back partial start")
}

// Stop tears the session down: flips the active flag first so in-flight
// loops exit cooperatively, then releases each resource with a bounded
// wait. Timeouts are logged, never fatal. Safe to call twice.
func (s *Session) Stop() {
	s.active.Store(false)

	s.mu.Lock()
	if s.st == stateIdle {
		s.mu.Unlock()
		return
	}
	s.st = stateStopping
	b := s.backend
	ag := s.agent
	cancel := s.cancelLoop
	loopDone := s.loopDone
	s.backend = nil
	s.agent = nil
	s.cancelLoop = nil
	s.loopDone = nil
	s.mu.Unlock()

	log.Info().Str("session_id", s.id).Msg("session.Session.Stop: stopping")

	if cancel != nil {
		cancel()
		select {
		case <-loopDone:
		case <-time.After(s.cfg.CleanupTimeout):
			log.Warn().Str("session_id", s.id).Dur("timeout", s.cfg.CleanupTimeout).
				Msg("session.Session.Stop: event loop did not stop in time")
		}
	}

	if ag != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
		ag.Disconnect(dctx)
		dcancel()
	}

	if b != nil {
		b.Close()
	}

	s.mu.Lock()
	s.st = stateIdle
	s.mu.Unlock()
	log.Info().Str("session_id", s.id).Msg("session.Session.Stop: stopped")
}

// SendAudio forwards one client audio frame to the agent connection.
// Dropped silently when the session is not active.
func (s *Session) SendAudio(ctx context.Context, frame []byte) {
	if !s.active.Load() {
		return
	}

	s.mu.Lock()
	ag := s.agent
	s.mu.Unlock()
	if ag != nil {
		ag.SendAudio(ctx, frame)
	}
}

// enqueue is non-blocking: when the client transport has stalled and
// the queue is full, the frame is dropped and counted rather than
// stalling the producer loops.
func (s *Session) enqueue(msg Outbound) {
	select {
	case s.outbound <- msg:
	default:
		n := s.dropped.Add(1)
		log.Warn().Str("session_id", s.id).Int64("dropped_total", n).
			Str("kind", fmt.Sprintf("%T", msg)).Msg("session.Session: outbound queue full, dropping")
	}
}

// consumeEvents runs for the Active lifetime: subscribe, drain, and on
// stream end or failure back off exponentially (doubling from the
// initial delay up to the cap, reset on a successful resubscribe) and
// subscribe again.
func (s *Session) consumeEvents(ctx context.Context, b Backend, ag AgentConn, done chan<- struct{}) {
	defer close(done)

	delay := s.cfg.EventBackoffInitial

	for {
		if !s.active.Load() || ctx.Err() != nil {
			return
		}

		stream, err := b.SubscribeEvents(ctx, s.projectID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Dur("retry_in", delay).
				Msg("session.Session.consumeEvents: subscribe failed")
		} else {
			delay = s.cfg.EventBackoffInitial

			for ev := range stream.Events() {
				if !s.active.Load() {
					stream.Close()
					return
				}
				s.handleEvent(ctx, ev, b, ag)
			}
			if serr := stream.Err(); serr != nil {
				log.Warn().Err(serr).Str("session_id", s.id).Msg("session.Session.consumeEvents: stream error")
			}
			stream.Close()
			log.Info().Str("session_id", s.id).Msg("session.Session.consumeEvents: stream ended, reconnecting")
		}

		if !s.active.Load() {
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay = min(delay*2, s.cfg.EventBackoffMax)
	}
}

// handleEvent applies the notification policy to one backend event.
// Unknown event types are ignored.
func (s *Session) handleEvent(ctx context.Context, ev backend.Event, b Backend, ag AgentConn) {
	switch ev.Name {
	case "task_state":
		st, _ := ev.Data["state"].(string)
		switch st {
		case "completed":
			status, err := b.TaskStatus(ctx, s.projectID)
			switch {
			case err != nil:
				log.Warn().Err(err).Str("session_id", s.id).
					Msg("session.Session.handleEvent: status query after completion failed")
				s.notify(ctx, ag, "A task completed.")
			case status.Completed == status.Total:
				s.notify(ctx, ag, fmt.Sprintf("All done. %d tasks completed.", status.Total))
			default:
				s.notify(ctx, ag, fmt.Sprintf("%d of %d done.", status.Completed, status.Total))
			}
		case "failed":
			s.notify(ctx, ag, "A task failed. Should I retry or skip it?")
		}
	case "decompose_progress":
		count := 0
		if n, ok := ev.Data["task_count"].(float64); ok {
			count = int(n)
		}
		s.notify(ctx, ag, fmt.Sprintf("I've broken this into %d tasks. Ready to start?", count))
	case "timeout":
		s.notify(ctx, ag, "This is taking a while. Keep waiting or cancel?")
	}
}

// notify asks the agent to speak a message. When injection fails the
// session degrades to a text-only notice on the client channel.
func (s *Session) notify(ctx context.Context, ag AgentConn, text string) {
	log.Info().Str("session_id", s.id).Str("message", text).Msg("session.Session.notify")

	if !ag.InjectMessage(ctx, text) {
		log.Warn().Str("session_id", s.id).Msg("session.Session.notify: injection failed, sending notice")
		s.enqueue(Notice{Text: text})
	}
}

// registerFunctions wires the five remote capabilities. Handlers never
// return an error to the dispatch path; failures become structured
// error payloads.
func (s *Session) registerFunctions(ag AgentConn, b Backend) error {
	regs := []struct {
		def     agent.FunctionDef
		handler agent.Handler
	}{
		{
			def: agent.FunctionDef{
				Name:        "submit_task",
				Description: "Submit a task to Eigent for execution",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"prompt": map[string]any{
							"type":        "string",
							"description": "The well-formed task prompt to submit",
						},
					},
					"required": []string{"prompt"},
				},
			},
			handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				prompt, _ := args["prompt"].(string)
				// The UI reflects the submission attempt regardless of
				// whether the backend accepts it.
				s.enqueue(TaskSubmitted{Prompt: prompt})

				taskID, err := b.SubmitTask(ctx, s.projectID, prompt)
				if err != nil {
					log.Error().Err(err).Str("session_id", s.id).Msg("session.Session: submit_task failed")
					return map[string]any{"error": "Failed to submit task: " + err.Error()}, nil
				}
				return map[string]any{"status": "submitted", "task_id": taskID}, nil
			},
		},
		{
			def: agent.FunctionDef{
				Name:        "get_project_context",
				Description: "Get current project files and recent task history",
			},
			handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				pc, err := b.ProjectContext(ctx, s.projectID)
				if err != nil {
					log.Error().Err(err).Str("session_id", s.id).Msg("session.Session: get_project_context failed")
					return map[string]any{"error": "Failed to get project context: " + err.Error()}, nil
				}
				return map[string]any{
					"project_id":   pc.ProjectID,
					"files":        pc.Files,
					"recent_tasks": pc.RecentTasks,
				}, nil
			},
		},
		{
			def: agent.FunctionDef{
				Name:        "get_task_status",
				Description: "Get the current status of running tasks",
			},
			handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				status, err := b.TaskStatus(ctx, s.projectID)
				if err != nil {
					log.Error().Err(err).Str("session_id", s.id).Msg("session.Session: get_task_status failed")
					return map[string]any{"error": "Failed to get task status: " + err.Error()}, nil
				}
				return map[string]any{
					"total":        status.Total,
					"completed":    status.Completed,
					"running":      status.Running,
					"failed":       status.Failed,
					"current_task": status.CurrentTask,
				}, nil
			},
		},
		{
			def: agent.FunctionDef{
				Name:        "confirm_start",
				Description: "Confirm and start task execution after decomposition",
			},
			handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				err := b.ConfirmStart(ctx, s.projectID)
				if err != nil {
					log.Error().Err(err).Str("session_id", s.id).Msg("session.Session: confirm_start failed")
					return map[string]any{"error": "Failed to confirm start: " + err.Error()}, nil
				}
				return map[string]any{"status": "started"}, nil
			},
		},
		{
			def: agent.FunctionDef{
				Name:        "cancel_task",
				Description: "Cancel the currently running task",
			},
			handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				err := b.CancelTask(ctx, s.projectID)
				if err != nil {
					log.Error().Err(err).Str("session_id", s.id).Msg("session.Session: cancel_task failed")
					return map[string]any{"error": "Failed to cancel task: " + err.Error()}, nil
				}
				return map[string]any{"status": "cancelled"}, nil
			},
		},
	}

	for _, r := range regs {
		err := ag.Register(r.def, r.handler)
		if err != nil {
			return err
		}
	}

	return nil
}
