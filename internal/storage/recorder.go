// Package storage persists the audio captured from call media streams.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/pkg/gcs"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"go.uber.org/zap"
)

const wavContentType = "audio/wav"

// Backend stores one finished object and returns where it was written.
type Backend interface {
	Save(ctx context.Context, objectPath, contentType string, data []byte) (string, error)
	Close() error
}

// Recording describes a saved stream recording
type Recording struct {
	CallSid  string
	StreamID string
	URI      string
	Bytes    int
	Duration time.Duration
}

// Recorder writes stream audio as WAV files to its backend.
type Recorder struct {
	backend Backend
	now     func() time.Time
}

// NewRecorder builds the recorder described by cfg. It returns nil when
// recording is disabled.
func NewRecorder(ctx context.Context, cfg *config.GatewayConfig) (*Recorder, error) {
	if !cfg.AudioStorageEnabled {
		logger.Base().Info("Audio recording disabled")
		return nil, nil
	}

	var backend Backend
	switch cfg.AudioStorageType {
	case config.StorageTypeGCS:
		client, err := gcs.NewGCSClient(ctx, cfg.AudioStoragePath)
		if err != nil {
			return nil, err
		}
		backend = &GCSBackend{client: client}
	case config.StorageTypeLocal:
		b, err := NewLocalBackend(cfg.AudioStoragePath)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.AudioStorageType)
	}

	logger.Base().Info("Audio recording enabled",
		zap.String("storage_type", cfg.AudioStorageType),
		zap.String("storage_path", cfg.AudioStoragePath))
	return NewRecorderWithBackend(backend), nil
}

func NewRecorderWithBackend(backend Backend) *Recorder {
	return &Recorder{backend: backend, now: time.Now}
}

// ObjectPath is where the recording of one stream is stored.
func ObjectPath(callSid, streamID string, at time.Time) string {
	return fmt.Sprintf("recordings/%s/%s-%s.wav", at.UTC().Format("2006/01/02"), callSid, streamID)
}

// Save encodes mulaw as WAV and stores it. Nil recorders and empty audio
// are no-ops.
func (r *Recorder) Save(ctx context.Context, callSid, streamID string, mulaw []byte) (*Recording, error) {
	if r == nil || len(mulaw) == 0 {
		return nil, nil
	}

	data, err := EncodeMuLawWAV(mulaw)
	if err != nil {
		return nil, err
	}

	uri, err := r.backend.Save(ctx, ObjectPath(callSid, streamID, r.now()), wavContentType, data)
	if err != nil {
		return nil, fmt.Errorf("save recording of %s: %w", callSid, err)
	}

	rec := &Recording{
		CallSid:  callSid,
		StreamID: streamID,
		URI:      uri,
		Bytes:    len(data),
		Duration: time.Duration(len(mulaw)) * time.Second / StreamSampleRate,
	}
	logger.Base().Info("Recording saved",
		zap.String("call_sid", callSid),
		zap.String("uri", uri),
		zap.Int("bytes", rec.Bytes),
		zap.Duration("duration", rec.Duration))
	return rec, nil
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.backend.Close()
}

// LocalBackend writes recordings under a directory on disk.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Save(_ context.Context, objectPath, _ string, data []byte) (string, error) {
	fullPath := filepath.Join(b.root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", err
	}
	return fullPath, nil
}

func (b *LocalBackend) Close() error { return nil }

// GCSBackend uploads recordings to a bucket.
type GCSBackend struct {
	client *gcs.GCSClient
}

func (b *GCSBackend) Save(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	return b.client.Upload(ctx, objectPath, contentType, bytes.NewReader(data))
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
