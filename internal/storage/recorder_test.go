package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"
)

func readWAV(t *testing.T, data []byte) (*wav.WavFormat, []int) {
	t.Helper()
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	require.NoError(t, err)

	var values []int
	for {
		samples, err := r.ReadSamples()
		for _, s := range samples {
			values = append(values, r.IntValue(s, 0))
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return format, values
}

func TestEncodeMuLawWAV(t *testing.T) {
	// 0xFF and 0x7F are the two encodings of silence, 0x00 and 0x80 the extremes.
	data, err := EncodeMuLawWAV([]byte{0xFF, 0x7F, 0x00, 0x80})
	require.NoError(t, err)

	format, values := readWAV(t, data)
	assert.Equal(t, uint16(1), format.NumChannels)
	assert.Equal(t, uint32(8000), format.SampleRate)
	assert.Equal(t, uint16(16), format.BitsPerSample)
	require.Len(t, values, 4)
	assert.Equal(t, 0, values[0])
	assert.Equal(t, 0, values[1])
	assert.Less(t, values[2], -30000)
	assert.Greater(t, values[3], 30000)
}

func TestRecorder_LocalBackend(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(context.Background(), &config.GatewayConfig{
		AudioStorageEnabled: true,
		AudioStorageType:    config.StorageTypeLocal,
		AudioStoragePath:    dir,
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	rec.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }

	audio := bytes.Repeat([]byte{0xFF}, 8000)
	saved, err := rec.Save(context.Background(), "CA1", "stream-1", audio)
	require.NoError(t, err)
	require.NotNil(t, saved)

	assert.Equal(t, filepath.Join(dir, "recordings", "2026", "10", "15", "CA1-stream-1.wav"), saved.URI)
	assert.Equal(t, time.Second, saved.Duration)

	data, err := os.ReadFile(saved.URI)
	require.NoError(t, err)
	assert.Equal(t, saved.Bytes, len(data))
	_, values := readWAV(t, data)
	assert.Len(t, values, 8000)
	require.NoError(t, rec.Close())
}

func TestRecorder_DisabledAndEmpty(t *testing.T) {
	rec, err := NewRecorder(context.Background(), &config.GatewayConfig{})
	require.NoError(t, err)
	assert.Nil(t, rec)

	saved, err := rec.Save(context.Background(), "CA1", "s", []byte{1})
	assert.NoError(t, err)
	assert.Nil(t, saved)
	assert.NoError(t, rec.Close())

	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	saved, err = NewRecorderWithBackend(backend).Save(context.Background(), "CA1", "s", nil)
	assert.NoError(t, err)
	assert.Nil(t, saved)
}

func TestNewRecorder_UnknownType(t *testing.T) {
	_, err := NewRecorder(context.Background(), &config.GatewayConfig{
		AudioStorageEnabled: true,
		AudioStorageType:    "s3",
		AudioStoragePath:    "bucket",
	})
	assert.Error(t, err)
}
