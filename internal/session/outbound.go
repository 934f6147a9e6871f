package session

// Outbound is the tagged union of messages a session emits toward the
// client transport. One consumer drains the session's outbound queue in
// order, so delivery order to the client matches emission order.
type Outbound interface {
	outbound()
}

// Ready signals that the session started successfully.
type Ready struct {
	SessionID string
}

// Audio is one synthesized speech frame for client playback.
type Audio struct {
	Frame []byte
}

// UserTranscript is transcribed user speech.
type UserTranscript struct {
	Text string
}

// AgentTranscript is the agent's spoken response as text.
type AgentTranscript struct {
	Text string
}

// TaskSubmitted reports that a task submission was attempted with the
// given prompt. Emitted even when the backend call failed, so the UI
// always reflects what the user asked for.
type TaskSubmitted struct {
	Prompt string
}

// UserStartedSpeaking marks a barge-in; the client should cut playback.
type UserStartedSpeaking struct{}

// AgentStartedSpeaking marks the start of a new agent utterance.
type AgentStartedSpeaking struct{}

// Notice is a text-only fallback for a notification the vendor could
// not speak.
type Notice struct {
	Text string
}

func (Ready) outbound()                {}
func (Audio) outbound()                {}
func (UserTranscript) outbound()       {}
func (AgentTranscript) outbound()      {}
func (TaskSubmitted) outbound()        {}
func (UserStartedSpeaking) outbound()  {}
func (AgentStartedSpeaking) outbound() {}
func (Notice) outbound()               {}
