package agent

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/gosuda/voicebridge/internal/config"
)

// ServerMessage is the closed union of vendor text frames. Every decoded
// frame is exactly one of the concrete types below; anything the decoder
// does not know lands in Unrecognized so the vendor can evolve its
// protocol without breaking the receive loop.
type ServerMessage interface {
	serverMessage()
}

// Welcome is the session-accepted acknowledgment.
type Welcome struct {
	RequestID string `json:"request_id"`
}

// SettingsApplied confirms the configuration handshake.
type SettingsApplied struct{}

// ConversationText is one conversational turn with a role of "user" or
// "assistant".
type ConversationText struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is an echoed prior turn; logged, never routed.
type History struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserStartedSpeaking marks a barge-in: the user spoke over playback.
type UserStartedSpeaking struct{}

// AgentThinking reports reasoning progress.
type AgentThinking struct {
	Content string `json:"content"`
}

// AgentStartedSpeaking marks the start of synthesized playback.
type AgentStartedSpeaking struct {
	TotalLatency float64 `json:"total_latency"`
	TTSLatency   float64 `json:"tts_latency"`
	TTTLatency   float64 `json:"ttt_latency"`
}

// AgentAudioDone marks the end of the current synthesized utterance.
type AgentAudioDone struct{}

// FunctionCallItem is one requested invocation inside a
// FunctionCallRequest. Arguments is a JSON-encoded object. Invocations
// without ClientSide set are handled by the vendor itself.
type FunctionCallItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

// FunctionCallRequest asks the session to execute registered capabilities.
type FunctionCallRequest struct {
	Functions []FunctionCallItem `json:"functions"`
}

// FunctionCallEcho is the vendor echoing back a response we sent.
type FunctionCallEcho struct {
	Name string `json:"name"`
}

// PromptUpdated confirms a prompt change.
type PromptUpdated struct{}

// SpeakUpdated confirms a speak-configuration change.
type SpeakUpdated struct{}

// InjectionRefused reports that an injected message was not spoken.
type InjectionRefused struct {
	Message string `json:"message"`
}

// ServerError is a vendor-reported error; non-fatal to the receive loop.
type ServerError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ServerWarning is a vendor-reported warning.
type ServerWarning struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Unrecognized carries any frame whose type the decoder does not know.
type Unrecognized struct {
	Type string
	Raw  []byte
}

func (Welcome) serverMessage()              {}
func (SettingsApplied) serverMessage()      {}
func (ConversationText) serverMessage()     {}
func (History) serverMessage()              {}
func (UserStartedSpeaking) serverMessage()  {}
func (AgentThinking) serverMessage()        {}
func (AgentStartedSpeaking) serverMessage() {}
func (AgentAudioDone) serverMessage()       {}
func (FunctionCallRequest) serverMessage()  {}
func (FunctionCallEcho) serverMessage()     {}
func (PromptUpdated) serverMessage()        {}
func (SpeakUpdated) serverMessage()         {}
func (InjectionRefused) serverMessage()     {}
func (ServerError) serverMessage()          {}
func (ServerWarning) serverMessage()        {}
func (Unrecognized) serverMessage()         {}

// decodeServerMessage maps a raw text frame onto the union by its type
// discriminator. An unknown discriminator is not an error.
func decodeServerMessage(raw []byte) (ServerMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	err := sonic.Unmarshal(raw, &probe)
	if err != nil {
		return nil, fmt.Errorf("agent.decodeServerMessage: %w", err)
	}

	decode := func(dst ServerMessage) (ServerMessage, error) {
		err := sonic.Unmarshal(raw, dst)
		if err != nil {
			return nil, fmt.Errorf("agent.decodeServerMessage: %s: %w", probe.Type, err)
		}
		return dst, nil
	}

	switch probe.Type {
	case "Welcome":
		return decode(&Welcome{})
	case "SettingsApplied":
		return &SettingsApplied{}, nil
	case "ConversationText":
		return decode(&ConversationText{})
	case "History":
		return decode(&History{})
	case "UserStartedSpeaking":
		return &UserStartedSpeaking{}, nil
	case "AgentThinking":
		return decode(&AgentThinking{})
	case "AgentStartedSpeaking":
		return decode(&AgentStartedSpeaking{})
	case "AgentAudioDone":
		return &AgentAudioDone{}, nil
	case "FunctionCallRequest":
		return decode(&FunctionCallRequest{})
	case "FunctionCallResponse":
		return decode(&FunctionCallEcho{})
	case "PromptUpdated":
		return &PromptUpdated{}, nil
	case "SpeakUpdated":
		return &SpeakUpdated{}, nil
	case "InjectionRefused":
		return decode(&InjectionRefused{})
	case "Error":
		return decode(&ServerError{})
	case "Warning":
		return decode(&ServerWarning{})
	default:
		return &Unrecognized{Type: probe.Type, Raw: raw}, nil
	}
}

// functionCallResponse is the outbound correlated response frame.
// Content is the JSON-encoded handler result.
type functionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// injectAgentMessage asks the vendor to speak a message immediately.
type injectAgentMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// settingsMessage is the configuration handshake sent right after dial.
type settingsMessage struct {
	Type  string        `json:"type"`
	Audio settingsAudio `json:"audio"`
	Agent settingsAgent `json:"agent"`
}

type settingsAudio struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type settingsAgent struct {
	Listen   settingsListen `json:"listen"`
	Think    settingsThink  `json:"think"`
	Speak    settingsSpeak  `json:"speak"`
	Greeting string         `json:"greeting"`
}

type settingsProvider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type settingsListen struct {
	Provider settingsProvider `json:"provider"`
}

type settingsThink struct {
	Provider  settingsProvider `json:"provider"`
	Prompt    string           `json:"prompt"`
	Functions []manifestEntry  `json:"functions"`
}

type settingsSpeak struct {
	Provider settingsProvider `json:"provider"`
}

// manifestEntry is one function definition advertised to the vendor.
type manifestEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// buildSettings assembles the handshake from config and the registered
// function manifest.
func buildSettings(cfg config.AgentConfig, manifest []manifestEntry) settingsMessage {
	return settingsMessage{
		Type: "Settings",
		Audio: settingsAudio{
			Input: audioFormat{
				Encoding:   "linear16",
				SampleRate: cfg.InputSampleRate,
			},
			Output: audioFormat{
				Encoding:   "linear16",
				SampleRate: cfg.OutputSampleRate,
				Container:  "none",
			},
		},
		Agent: settingsAgent{
			Listen: settingsListen{
				Provider: settingsProvider{Type: "deepgram", Model: cfg.ListenModel},
			},
			Think: settingsThink{
				Provider:  settingsProvider{Type: cfg.ThinkProvider, Model: cfg.ThinkModel},
				Prompt:    SystemPrompt,
				Functions: manifest,
			},
			Speak: settingsSpeak{
				Provider: settingsProvider{Type: "deepgram", Model: cfg.SpeakModel},
			},
			Greeting: Greeting,
		},
	}
}
