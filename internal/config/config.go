package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig
	Agent   AgentConfig
	Backend BackendConfig
	Session SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// AgentConfig holds speech vendor connection settings.
type AgentConfig struct {
	APIKey           string //nolint:gosec // G117: vendor credential config
	URL              string
	ListenModel      string
	ThinkProvider    string
	ThinkModel       string
	SpeakModel       string
	InputSampleRate  int
	OutputSampleRate int
}

// BackendConfig holds task-execution backend settings.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

// SessionConfig holds per-session orchestration settings.
type SessionConfig struct {
	CleanupTimeout       time.Duration
	EventBackoffInitial  time.Duration
	EventBackoffMax      time.Duration
	OutboundQueueSize    int
	AudioFramesPerSecond float64
	AudioFrameBurst      int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only; the agent API key
// must always be set explicitly.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("VOICE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("VOICE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	inputRate, err := getEnvInt("VOICE_AGENT_INPUT_SAMPLE_RATE", 16000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	outputRate, err := getEnvInt("VOICE_AGENT_OUTPUT_SAMPLE_RATE", 24000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backendTimeout, err := getEnvDuration("VOICE_BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cleanupTimeout, err := getEnvDuration("VOICE_SESSION_CLEANUP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backoffInitial, err := getEnvDuration("VOICE_EVENT_BACKOFF_INITIAL", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backoffMax, err := getEnvDuration("VOICE_EVENT_BACKOFF_MAX", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueSize, err := getEnvInt("VOICE_OUTBOUND_QUEUE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	framesPerSecond, err := getEnvFloat("VOICE_AUDIO_FRAMES_PER_SECOND", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	frameBurst, err := getEnvInt("VOICE_AUDIO_FRAME_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("VOICE_CORS_ORIGINS", []string{"*"})

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("VOICE_SERVER_ADDR", ":5002"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Agent: AgentConfig{
			APIKey:           getEnv("VOICE_AGENT_API_KEY", ""),
			URL:              getEnv("VOICE_AGENT_URL", "wss://agent.deepgram.com/v1/agent/converse"),
			ListenModel:      getEnv("VOICE_AGENT_LISTEN_MODEL", "nova-2"),
			ThinkProvider:    getEnv("VOICE_AGENT_THINK_PROVIDER", "anthropic"),
			ThinkModel:       getEnv("VOICE_AGENT_THINK_MODEL", "claude-3-5-haiku-latest"),
			SpeakModel:       getEnv("VOICE_AGENT_SPEAK_MODEL", "aura-asteria-en"),
			InputSampleRate:  inputRate,
			OutputSampleRate: outputRate,
		},
		Backend: BackendConfig{
			URL:     getEnv("VOICE_BACKEND_URL", "http://localhost:5001"),
			Timeout: backendTimeout,
		},
		Session: SessionConfig{
			CleanupTimeout:       cleanupTimeout,
			EventBackoffInitial:  backoffInitial,
			EventBackoffMax:      backoffMax,
			OutboundQueueSize:    queueSize,
			AudioFramesPerSecond: framesPerSecond,
			AudioFrameBurst:      frameBurst,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// Vendor API key is required (no insecure default).
	if c.Agent.APIKey == "" {
		return errors.New("VOICE_AGENT_API_KEY is required")
	}
	if !strings.HasPrefix(c.Agent.URL, "ws://") && !strings.HasPrefix(c.Agent.URL, "wss://") {
		return fmt.Errorf("VOICE_AGENT_URL must be a ws:// or wss:// URL, got %q", c.Agent.URL)
	}

	// Bounds checks.
	if c.Agent.InputSampleRate < 1 {
		return fmt.Errorf("VOICE_AGENT_INPUT_SAMPLE_RATE must be >= 1, got %d", c.Agent.InputSampleRate)
	}
	if c.Agent.OutputSampleRate < 1 {
		return fmt.Errorf("VOICE_AGENT_OUTPUT_SAMPLE_RATE must be >= 1, got %d", c.Agent.OutputSampleRate)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("VOICE_BACKEND_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}
	if c.Session.CleanupTimeout <= 0 {
		return fmt.Errorf("VOICE_SESSION_CLEANUP_TIMEOUT must be positive, got %s", c.Session.CleanupTimeout)
	}
	if c.Session.EventBackoffInitial <= 0 {
		return fmt.Errorf("VOICE_EVENT_BACKOFF_INITIAL must be positive, got %s", c.Session.EventBackoffInitial)
	}
	if c.Session.EventBackoffMax < c.Session.EventBackoffInitial {
		return fmt.Errorf(
			"VOICE_EVENT_BACKOFF_MAX must be >= VOICE_EVENT_BACKOFF_INITIAL, got %s < %s",
			c.Session.EventBackoffMax, c.Session.EventBackoffInitial,
		)
	}
	if c.Session.OutboundQueueSize < 1 {
		return fmt.Errorf("VOICE_OUTBOUND_QUEUE_SIZE must be >= 1, got %d", c.Session.OutboundQueueSize)
	}
	if c.Session.AudioFramesPerSecond <= 0 {
		return fmt.Errorf("VOICE_AUDIO_FRAMES_PER_SECOND must be positive, got %g", c.Session.AudioFramesPerSecond)
	}
	if c.Session.AudioFrameBurst < 1 {
		return fmt.Errorf("VOICE_AUDIO_FRAME_BURST must be >= 1, got %d", c.Session.AudioFrameBurst)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("VOICE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("VOICE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
