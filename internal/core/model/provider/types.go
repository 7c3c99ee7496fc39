// Package provider declares the external inference services the gateway
// consults while handling a call.
package provider

import (
	"context"
	"errors"
	"io"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
)

// ProviderType represents the type of AI model provider
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeNone   ProviderType = "none"
)

// String returns the string representation of ProviderType
func (pt ProviderType) String() string {
	return string(pt)
}

// ErrEmptyResult is returned when a provider answered without usable content.
var ErrEmptyResult = errors.New("provider returned an empty result")

// Completer turns a caller utterance into the text spoken back. history holds
// the earlier exchanges of the same call, oldest first.
type Completer interface {
	Complete(ctx context.Context, callSid string, history []domain.Exchange, input string) (string, error)
}

// Synthesizer renders text to audio. The returned content type is suitable
// for serving the clip over HTTP.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, contentType string, err error)
}

// Transcriber converts a recorded utterance (WAV) to text.
type Transcriber interface {
	Transcribe(ctx context.Context, callSid string, wav io.Reader) (string, error)
}

// Set groups the configured collaborators; any member may be nil.
type Set struct {
	Type        ProviderType
	Completer   Completer
	Synthesizer Synthesizer
	Transcriber Transcriber
}
