package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Dialog defaults
	DefaultSayVoice       = "Polly.Joanna"
	DefaultSayLanguage    = "en-US"
	DefaultGreeting       = "Hello, thanks for calling. After the tone, say something or press a key."
	DefaultGatherTimeout  = 5
	DefaultSpeechTimeout  = "auto"
	DefaultDialogMaxTurns = 1

	// Call record retention
	DefaultRecordRetention = 1 * time.Hour
	DefaultReapInterval    = 5 * time.Minute

	// Media stream defaults. 3000 frames is one minute of 20ms μ-law audio.
	DefaultMaxFrames        = 3000
	DefaultUpgradesPerSec   = 20
	DefaultUpgradeBurst     = 40
	DefaultTTSClipCacheSize = 256

	// OpenAI defaults
	DefaultOpenAIBaseURL         = "https://api.openai.com/v1"
	DefaultOpenAIModel           = "gpt-4o-mini"
	DefaultOpenAITTSModel        = "tts-1"
	DefaultOpenAITTSVoice        = "alloy"
	DefaultOpenAITranscribeModel = "whisper-1"

	StorageTypeLocal = "local"
	StorageTypeGCS   = "gcs"
)

// GatewayConfig holds configuration for the telephony gateway
type GatewayConfig struct {
	// Server configuration
	Port          string
	PublicBaseURL string
	InstanceID    string
	LogEnv        string
	SecretKey     string

	// Dialog configuration
	SayVoice      string
	SayLanguage   string
	GreetingText  string
	GatherTimeout int
	SpeechTimeout string
	MaxTurns      int

	// Call record retention
	RecordRetention time.Duration
	ReapInterval    time.Duration

	// Media stream configuration
	MaxFrames         int
	UpgradesPerSecond float64
	UpgradeBurst      int

	// Twilio configuration
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioValidateSignature bool

	// OpenAI configuration
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	OpenAITTSModel        string
	OpenAITTSVoice        string
	OpenAITranscribeModel string
	TTSClipCacheSize      int

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Audio storage configuration
	AudioStorageEnabled bool
	AudioStorageType    string
	AudioStoragePath    string

	// PubSub configuration
	PubSubProjectID string
	PubSubTopicName string
}

// LoadGatewayConfig loads gateway configuration from environment variables
func LoadGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Port:          getEnv("CALL_GATEWAY_PORT", "8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		InstanceID:    getEnv("INSTANCE_ID", instanceID()),
		LogEnv:        getEnv("LOG_ENV", ""),
		SecretKey:     getEnv("SECRET_KEY", ""),

		SayVoice:      getEnv("SAY_VOICE", DefaultSayVoice),
		SayLanguage:   getEnv("SAY_LANGUAGE", DefaultSayLanguage),
		GreetingText:  getEnv("GREETING_TEXT", DefaultGreeting),
		GatherTimeout: getEnvAsInt("GATHER_TIMEOUT_SECONDS", DefaultGatherTimeout),
		SpeechTimeout: getEnv("GATHER_SPEECH_TIMEOUT", DefaultSpeechTimeout),
		MaxTurns:      getEnvAsInt("DIALOG_MAX_TURNS", DefaultDialogMaxTurns),

		RecordRetention: getEnvAsDuration("CALL_RECORD_RETENTION", DefaultRecordRetention),
		ReapInterval:    getEnvAsDuration("CALL_REAP_INTERVAL", DefaultReapInterval),

		MaxFrames:         getEnvAsInt("MEDIA_MAX_FRAMES", DefaultMaxFrames),
		UpgradesPerSecond: float64(getEnvAsInt("MEDIA_UPGRADES_PER_SECOND", DefaultUpgradesPerSec)),
		UpgradeBurst:      getEnvAsInt("MEDIA_UPGRADE_BURST", DefaultUpgradeBurst),

		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioValidateSignature: getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", false),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
		OpenAIModel:           getEnv("OPENAI_MODEL", DefaultOpenAIModel),
		OpenAITTSModel:        getEnv("OPENAI_TTS_MODEL", DefaultOpenAITTSModel),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", DefaultOpenAITTSVoice),
		OpenAITranscribeModel: getEnv("OPENAI_TRANSCRIBE_MODEL", DefaultOpenAITranscribeModel),
		TTSClipCacheSize:      getEnvAsInt("TTS_CLIP_CACHE_SIZE", DefaultTTSClipCacheSize),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AudioStorageEnabled: getEnvAsBool("AUDIO_STORAGE_ENABLED", false),
		AudioStorageType:    getEnv("AUDIO_STORAGE_TYPE", StorageTypeLocal),
		AudioStoragePath:    getEnv("AUDIO_STORAGE_PATH", ""),

		PubSubProjectID: getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopicName: getEnv("PUBSUB_TOPIC_NAME", ""),
	}
}

// Validate checks the values that would otherwise break call handling at runtime
func (c *GatewayConfig) Validate() error {
	if c.MaxFrames <= 0 {
		return fmt.Errorf("MEDIA_MAX_FRAMES must be positive, got %d", c.MaxFrames)
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("DIALOG_MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.GatherTimeout <= 0 {
		return fmt.Errorf("GATHER_TIMEOUT_SECONDS must be positive, got %d", c.GatherTimeout)
	}
	if c.AudioStorageEnabled {
		switch c.AudioStorageType {
		case StorageTypeLocal, StorageTypeGCS:
		default:
			return fmt.Errorf("unknown AUDIO_STORAGE_TYPE %q", c.AudioStorageType)
		}
		if c.AudioStoragePath == "" {
			return fmt.Errorf("AUDIO_STORAGE_PATH is required when audio storage is enabled")
		}
	}
	return nil
}

// StreamURL returns the websocket endpoint the provider should connect to for a call
func (c *GatewayConfig) StreamURL(callSid string) string {
	base := c.PublicBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/media-stream/" + callSid
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a time.Duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// instanceID prefers the hostname (pod name in Kubernetes), falling back to a timestamp
func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("telephony-gateway-%d", time.Now().UnixNano())
}
