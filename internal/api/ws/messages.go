package ws

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/gosuda/voicebridge/internal/session"
)

// clientMessage is the JSON control frame sent to the client. Audio
// goes out as binary frames instead.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// controlMessage is an inbound JSON control frame from the client.
type controlMessage struct {
	Type string `json:"type"`
}

// encodeOutbound maps one outbound union member onto a wire frame.
func encodeOutbound(msg session.Outbound) (websocket.MessageType, []byte, error) {
	var cm clientMessage

	switch m := msg.(type) {
	case session.Audio:
		return websocket.MessageBinary, m.Frame, nil
	case session.Ready:
		cm = clientMessage{Type: "ready", SessionID: m.SessionID}
	case session.UserTranscript:
		cm = clientMessage{Type: "user_transcript", Text: m.Text}
	case session.AgentTranscript:
		cm = clientMessage{Type: "agent_transcript", Text: m.Text}
	case session.TaskSubmitted:
		cm = clientMessage{Type: "task_submitted", Prompt: m.Prompt}
	case session.UserStartedSpeaking:
		cm = clientMessage{Type: "user_started_speaking"}
	case session.AgentStartedSpeaking:
		cm = clientMessage{Type: "agent_started_speaking"}
	case session.Notice:
		cm = clientMessage{Type: "notice", Text: m.Text}
	default:
		return 0, nil, fmt.Errorf("ws.encodeOutbound: unhandled outbound kind %T", msg)
	}

	payload, err := sonic.Marshal(cm)
	if err != nil {
		return 0, nil, fmt.Errorf("ws.encodeOutbound: %w", err)
	}
	return websocket.MessageText, payload, nil
}
