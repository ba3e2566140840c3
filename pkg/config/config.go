// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full call-server configuration.
type Config struct {
	Addr string

	// PublicHost is the externally reachable host the carrier connects
	// back to, used to build the media-stream URL in TwiML.
	PublicHost string

	// Carrier credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string

	// Transcription.
	DeepgramAPIKey   string
	DeepgramModel    string
	DeepgramLanguage string

	// Speech synthesis.
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string

	// Reply generation.
	OpenAIAPIKey string
	OpenAIModel  string
	SystemPrompt string

	// Call behavior.
	BargeIn         bool
	MemoryEnabled   bool
	DebounceWindow  time.Duration
	FrameInterval   time.Duration
	MaxCallDuration time.Duration
	PendingCallTTL  time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CALL_SERVER_ADDR", ":8080"),
		PublicHost:          envOr("CALL_SERVER_PUBLIC_HOST", ""),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    envOr("TWILIO_FROM_NUMBER", ""),
		TwilioBaseURL:       envOr("TWILIO_BASE_URL", "https://api.twilio.com/2010-04-01"),
		DeepgramAPIKey:      envOr("DEEPGRAM_API_KEY", ""),
		DeepgramModel:       envOr("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage:    envOr("DEEPGRAM_LANGUAGE", "en"),
		ElevenLabsAPIKey:    envOr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoice:     envOr("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsModel:     envOr("ELEVENLABS_MODEL", "eleven_flash_v2_5"),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		OpenAIModel:         envOr("OPENAI_MODEL", "gpt-4o-mini"),
		SystemPrompt:        os.Getenv("CALL_SERVER_SYSTEM_PROMPT"),
		BargeIn:             envBoolOr("CALL_SERVER_BARGE_IN", false),
		MemoryEnabled:       envBoolOr("CALL_SERVER_MEMORY_ENABLED", true),
		DebounceWindow:      envDurationOr("CALL_SERVER_DEBOUNCE_WINDOW", 900*time.Millisecond),
		FrameInterval:       envDurationOr("CALL_SERVER_FRAME_INTERVAL", 20*time.Millisecond),
		MaxCallDuration:     envDurationOr("CALL_SERVER_MAX_CALL_DURATION", 10*time.Minute),
		PendingCallTTL:      envDurationOr("CALL_SERVER_PENDING_CALL_TTL", 5*time.Minute),
		ReadHeaderTimeout:   envDurationOr("CALL_SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("CALL_SERVER_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.PublicHost == "" {
		return Config{}, fmt.Errorf("CALL_SERVER_PUBLIC_HOST must be set")
	}
	if cfg.TwilioAccountSID == "" {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID must be set")
	}
	if cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN must be set")
	}
	if cfg.TwilioFromNumber == "" {
		return Config{}, fmt.Errorf("TWILIO_FROM_NUMBER must be set")
	}
	if cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY must be set")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("ELEVENLABS_API_KEY must be set")
	}
	if cfg.ElevenLabsVoice == "" {
		return Config{}, fmt.Errorf("ELEVENLABS_VOICE_ID must be set")
	}
	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if cfg.DebounceWindow <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_DEBOUNCE_WINDOW must be > 0")
	}
	if cfg.FrameInterval <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_FRAME_INTERVAL must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_MAX_CALL_DURATION must be > 0")
	}
	if cfg.PendingCallTTL <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_PENDING_CALL_TTL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALL_SERVER_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// MediaStreamURL is the websocket URL the carrier is told to stream to.
func (c Config) MediaStreamURL() string {
	return "wss://" + strings.TrimSuffix(c.PublicHost, "/") + "/media"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
