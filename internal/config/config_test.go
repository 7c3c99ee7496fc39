package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayConfig_Defaults(t *testing.T) {
	t.Setenv("CALL_GATEWAY_PORT", "")
	t.Setenv("DIALOG_MAX_TURNS", "")
	t.Setenv("MEDIA_MAX_FRAMES", "")

	cfg := LoadGatewayConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultDialogMaxTurns, cfg.MaxTurns)
	assert.Equal(t, DefaultMaxFrames, cfg.MaxFrames)
	assert.Equal(t, DefaultRecordRetention, cfg.RecordRetention)
	assert.NotEmpty(t, cfg.InstanceID)
	require.NoError(t, cfg.Validate())
}

func TestLoadGatewayConfig_Overrides(t *testing.T) {
	t.Setenv("CALL_GATEWAY_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://voice.example.com/")
	t.Setenv("DIALOG_MAX_TURNS", "3")
	t.Setenv("CALL_RECORD_RETENTION", "10m")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "true")
	t.Setenv("GATHER_TIMEOUT_SECONDS", "not-a-number")

	cfg := LoadGatewayConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://voice.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 3, cfg.MaxTurns)
	assert.Equal(t, 10*time.Minute, cfg.RecordRetention)
	assert.True(t, cfg.TwilioValidateSignature)
	assert.Equal(t, DefaultGatherTimeout, cfg.GatherTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *GatewayConfig)
		wantErr bool
	}{
		{"defaults", func(c *GatewayConfig) {}, false},
		{"zero frames", func(c *GatewayConfig) { c.MaxFrames = 0 }, true},
		{"zero turns", func(c *GatewayConfig) { c.MaxTurns = 0 }, true},
		{"unknown storage", func(c *GatewayConfig) {
			c.AudioStorageEnabled = true
			c.AudioStorageType = "s3"
			c.AudioStoragePath = "/tmp"
		}, true},
		{"storage without path", func(c *GatewayConfig) {
			c.AudioStorageEnabled = true
			c.AudioStorageType = StorageTypeGCS
		}, true},
		{"gcs storage", func(c *GatewayConfig) {
			c.AudioStorageEnabled = true
			c.AudioStorageType = StorageTypeGCS
			c.AudioStoragePath = "call-audio"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadGatewayConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	cfg := &GatewayConfig{PublicBaseURL: "https://voice.example.com"}
	assert.Equal(t, "wss://voice.example.com/media-stream/CA123", cfg.StreamURL("CA123"))

	cfg.PublicBaseURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080/media-stream/CA123", cfg.StreamURL("CA123"))
}
