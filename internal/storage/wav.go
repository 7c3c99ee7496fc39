package storage

import (
	"bytes"
	"fmt"

	"github.com/youpy/go-wav"
	"github.com/zaf/g711"
)

// Provider media streams carry 8kHz mono G.711 μ-law.
const (
	StreamSampleRate    = 8000
	StreamChannels      = 1
	RecordBitsPerSample = 16
)

// EncodeMuLawWAV expands μ-law audio to 16-bit linear PCM inside a WAV container.
func EncodeMuLawWAV(mulaw []byte) ([]byte, error) {
	samples := make([]wav.Sample, len(mulaw))
	for i, b := range mulaw {
		samples[i].Values[0] = int(g711.DecodeUlawFrame(b))
	}

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), StreamChannels, StreamSampleRate, RecordBitsPerSample)
	if err := w.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	return buf.Bytes(), nil
}
