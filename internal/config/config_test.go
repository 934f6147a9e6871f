package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "VOICE_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "VOICE_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "VOICE_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "VOICE_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "VOICE_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "VOICE_TEST_INT_VALID", setVal: strPtr("16000"), fallback: 0, want: 16000},
		{name: "parses negative int", key: "VOICE_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "returns fallback for empty string", key: "VOICE_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "VOICE_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "VOICE_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "VOICE_TEST_FLOAT_UNSET", setVal: nil, fallback: 100, want: 100},
		{name: "parses integer value", key: "VOICE_TEST_FLOAT_INT", setVal: strPtr("50"), fallback: 0, want: 50},
		{name: "parses fractional value", key: "VOICE_TEST_FLOAT_FRAC", setVal: strPtr("12.5"), fallback: 0, want: 12.5},
		{name: "errors on non-numeric", key: "VOICE_TEST_FLOAT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "VOICE_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "VOICE_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses composite", key: "VOICE_TEST_DUR_COMP", setVal: strPtr("1m30s"), fallback: 0, want: 90 * time.Second},
		{name: "errors on invalid", key: "VOICE_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "VOICE_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingAPIKey(t *testing.T) {
	// All defaults apply; the agent API key is empty => must fail.
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "VOICE_AGENT_API_KEY")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		{name: "AGENT_URL not websocket", envKey: "VOICE_AGENT_URL", envVal: "https://agent.example.com", errMsg: "VOICE_AGENT_URL"},
		{name: "INPUT_SAMPLE_RATE not a number", envKey: "VOICE_AGENT_INPUT_SAMPLE_RATE", envVal: "abc", errMsg: "VOICE_AGENT_INPUT_SAMPLE_RATE"},
		{name: "INPUT_SAMPLE_RATE zero", envKey: "VOICE_AGENT_INPUT_SAMPLE_RATE", envVal: "0", errMsg: "VOICE_AGENT_INPUT_SAMPLE_RATE"},
		{name: "OUTPUT_SAMPLE_RATE negative", envKey: "VOICE_AGENT_OUTPUT_SAMPLE_RATE", envVal: "-1", errMsg: "VOICE_AGENT_OUTPUT_SAMPLE_RATE"},
		{name: "BACKEND_TIMEOUT invalid", envKey: "VOICE_BACKEND_TIMEOUT", envVal: "badval", errMsg: "VOICE_BACKEND_TIMEOUT"},
		{name: "BACKEND_TIMEOUT zero", envKey: "VOICE_BACKEND_TIMEOUT", envVal: "0s", errMsg: "VOICE_BACKEND_TIMEOUT"},
		{name: "CLEANUP_TIMEOUT zero", envKey: "VOICE_SESSION_CLEANUP_TIMEOUT", envVal: "0s", errMsg: "VOICE_SESSION_CLEANUP_TIMEOUT"},
		{name: "BACKOFF_INITIAL zero", envKey: "VOICE_EVENT_BACKOFF_INITIAL", envVal: "0s", errMsg: "VOICE_EVENT_BACKOFF_INITIAL"},
		{name: "BACKOFF_MAX below initial", envKey: "VOICE_EVENT_BACKOFF_MAX", envVal: "500ms", errMsg: "VOICE_EVENT_BACKOFF_MAX"},
		{name: "QUEUE_SIZE zero", envKey: "VOICE_OUTBOUND_QUEUE_SIZE", envVal: "0", errMsg: "VOICE_OUTBOUND_QUEUE_SIZE"},
		{name: "FRAMES_PER_SECOND zero", envKey: "VOICE_AUDIO_FRAMES_PER_SECOND", envVal: "0", errMsg: "VOICE_AUDIO_FRAMES_PER_SECOND"},
		{name: "FRAME_BURST zero", envKey: "VOICE_AUDIO_FRAME_BURST", envVal: "0", errMsg: "VOICE_AUDIO_FRAME_BURST"},
		{name: "READ_TIMEOUT invalid", envKey: "VOICE_SERVER_READ_TIMEOUT", envVal: "notduration", errMsg: "VOICE_SERVER_READ_TIMEOUT"},
		{name: "WRITE_TIMEOUT zero", envKey: "VOICE_SERVER_WRITE_TIMEOUT", envVal: "0s", errMsg: "VOICE_SERVER_WRITE_TIMEOUT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set the API key so failures are from the var under test.
			t.Setenv("VOICE_AGENT_API_KEY", "dg-test-key")
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	// Only the required API key is set; everything else uses defaults.
	t.Setenv("VOICE_AGENT_API_KEY", "dg-test-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults.
	assert.Equal(t, ":5002", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Agent defaults.
	assert.Equal(t, "dg-test-key", cfg.Agent.APIKey)
	assert.Equal(t, "wss://agent.deepgram.com/v1/agent/converse", cfg.Agent.URL)
	assert.Equal(t, "nova-2", cfg.Agent.ListenModel)
	assert.Equal(t, "anthropic", cfg.Agent.ThinkProvider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Agent.ThinkModel)
	assert.Equal(t, "aura-asteria-en", cfg.Agent.SpeakModel)
	assert.Equal(t, 16000, cfg.Agent.InputSampleRate)
	assert.Equal(t, 24000, cfg.Agent.OutputSampleRate)

	// Backend defaults.
	assert.Equal(t, "http://localhost:5001", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)

	// Session defaults.
	assert.Equal(t, 5*time.Second, cfg.Session.CleanupTimeout)
	assert.Equal(t, time.Second, cfg.Session.EventBackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.Session.EventBackoffMax)
	assert.Equal(t, 128, cfg.Session.OutboundQueueSize)
	assert.InDelta(t, 100.0, cfg.Session.AudioFramesPerSecond, 1e-9)
	assert.Equal(t, 200, cfg.Session.AudioFrameBurst)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		// Server
		"VOICE_SERVER_ADDR":          ":9090",
		"VOICE_SERVER_READ_TIMEOUT":  "5s",
		"VOICE_SERVER_WRITE_TIMEOUT": "15s",
		"VOICE_CORS_ORIGINS":         "https://app.example.com, https://staging.example.com",
		// Agent
		"VOICE_AGENT_API_KEY":            "dg-prod-key",
		"VOICE_AGENT_URL":                "wss://agent.internal/v1/converse",
		"VOICE_AGENT_LISTEN_MODEL":       "nova-3",
		"VOICE_AGENT_THINK_PROVIDER":     "open_ai",
		"VOICE_AGENT_THINK_MODEL":        "gpt-4o-mini",
		"VOICE_AGENT_SPEAK_MODEL":        "aura-luna-en",
		"VOICE_AGENT_INPUT_SAMPLE_RATE":  "8000",
		"VOICE_AGENT_OUTPUT_SAMPLE_RATE": "48000",
		// Backend
		"VOICE_BACKEND_URL":     "http://eigent.internal:5001",
		"VOICE_BACKEND_TIMEOUT": "10s",
		// Session
		"VOICE_SESSION_CLEANUP_TIMEOUT":  "2s",
		"VOICE_EVENT_BACKOFF_INITIAL":    "500ms",
		"VOICE_EVENT_BACKOFF_MAX":        "10s",
		"VOICE_OUTBOUND_QUEUE_SIZE":      "256",
		"VOICE_AUDIO_FRAMES_PER_SECOND":  "50",
		"VOICE_AUDIO_FRAME_BURST":        "75",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "dg-prod-key", cfg.Agent.APIKey)
	assert.Equal(t, "wss://agent.internal/v1/converse", cfg.Agent.URL)
	assert.Equal(t, "nova-3", cfg.Agent.ListenModel)
	assert.Equal(t, "open_ai", cfg.Agent.ThinkProvider)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.ThinkModel)
	assert.Equal(t, "aura-luna-en", cfg.Agent.SpeakModel)
	assert.Equal(t, 8000, cfg.Agent.InputSampleRate)
	assert.Equal(t, 48000, cfg.Agent.OutputSampleRate)

	assert.Equal(t, "http://eigent.internal:5001", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)

	assert.Equal(t, 2*time.Second, cfg.Session.CleanupTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.EventBackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.Session.EventBackoffMax)
	assert.Equal(t, 256, cfg.Session.OutboundQueueSize)
	assert.InDelta(t, 50.0, cfg.Session.AudioFramesPerSecond, 1e-9)
	assert.Equal(t, 75, cfg.Session.AudioFrameBurst)
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Server: ServerConfig{
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			Agent: AgentConfig{
				APIKey:           "dg-test-key",
				URL:              "wss://agent.deepgram.com/v1/agent/converse",
				InputSampleRate:  16000,
				OutputSampleRate: 24000,
			},
			Backend: BackendConfig{Timeout: 30 * time.Second},
			Session: SessionConfig{
				CleanupTimeout:       5 * time.Second,
				EventBackoffInitial:  time.Second,
				EventBackoffMax:      30 * time.Second,
				OutboundQueueSize:    128,
				AudioFramesPerSecond: 100,
				AudioFrameBurst:      200,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("empty API key fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.APIKey = ""
		assert.ErrorContains(t, c.validate(), "VOICE_AGENT_API_KEY")
	})

	t.Run("http agent URL fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.URL = "http://agent.deepgram.com"
		assert.ErrorContains(t, c.validate(), "VOICE_AGENT_URL")
	})

	t.Run("plain ws URL passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Agent.URL = "ws://localhost:9999/agent"
		assert.NoError(t, c.validate())
	})

	t.Run("backoff max below initial fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.EventBackoffMax = 500 * time.Millisecond
		assert.ErrorContains(t, c.validate(), "VOICE_EVENT_BACKOFF_MAX")
	})

	t.Run("backoff max equal to initial passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.EventBackoffMax = c.Session.EventBackoffInitial
		assert.NoError(t, c.validate())
	})

	t.Run("zero queue size fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.OutboundQueueSize = 0
		assert.ErrorContains(t, c.validate(), "VOICE_OUTBOUND_QUEUE_SIZE")
	})

	t.Run("zero cleanup timeout fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.CleanupTimeout = 0
		assert.ErrorContains(t, c.validate(), "VOICE_SESSION_CLEANUP_TIMEOUT")
	})

	t.Run("negative read timeout fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.ReadTimeout = -time.Second
		assert.ErrorContains(t, c.validate(), "VOICE_SERVER_READ_TIMEOUT")
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
