package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/model/provider"
	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(&config.GatewayConfig{
		OpenAIAPIKey:          "sk-test",
		OpenAIBaseURL:         srv.URL + "/v1/",
		OpenAIModel:           config.DefaultOpenAIModel,
		OpenAITTSModel:        config.DefaultOpenAITTSModel,
		OpenAITTSVoice:        config.DefaultOpenAITTSVoice,
		OpenAITranscribeModel: config.DefaultOpenAITranscribeModel,
	})
}

func TestComplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			User     string `json:"user"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, config.DefaultOpenAIModel, req.Model)
		assert.Equal(t, "CA1", req.User)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "PHONE CONVERSATION GUIDELINES")
		assert.Equal(t, "I need help", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"  Sure, I can help.  "}}],"usage":{"total_tokens":12}}`)
	})

	text, err := newTestClient(t, mux).Complete(context.Background(), "CA1", nil, "I need help")
	require.NoError(t, err)
	assert.Equal(t, "Sure, I can help.", text)
}

func TestComplete_SendsEarlierExchanges(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 4)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "my router is broken", req.Messages[1].Content)
		assert.Equal(t, "assistant", req.Messages[2].Role)
		assert.Equal(t, "Have you restarted it?", req.Messages[2].Content)
		assert.Equal(t, "user", req.Messages[3].Role)
		assert.Equal(t, "yes, twice", req.Messages[3].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"A technician will call you."}}]}`)
	})

	history := []domain.Exchange{{Caller: "my router is broken", Reply: "Have you restarted it?"}}
	text, err := newTestClient(t, mux).Complete(context.Background(), "CA1", history, "yes, twice")
	require.NoError(t, err)
	assert.Equal(t, "A technician will call you.", text)
}

func TestComplete_EmptyAndFailure(t *testing.T) {
	mux := http.NewServeMux()
	calls := 0
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			_, _ = io.WriteString(w, `{"choices":[]}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.Complete(context.Background(), "CA1", nil, "hi")
	assert.ErrorIs(t, err, provider.ErrEmptyResult)

	_, err = c.Complete(context.Background(), "CA1", nil, "hi")
	assert.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hello", req["input"])
		assert.Equal(t, config.DefaultOpenAITTSVoice, req["voice"])
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xff, 0xfb, 0x90})
	})

	audio, contentType, err := newTestClient(t, mux).Synthesize(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, audio)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestTranscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, config.DefaultOpenAITranscribeModel, r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "call.wav", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, []byte("RIFF"), body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" I need help "}`)
	})

	text, err := newTestClient(t, mux).Transcribe(context.Background(), "CA1", bytes.NewReader([]byte("RIFF")))
	require.NoError(t, err)
	assert.Equal(t, "I need help", text)
}

func TestNewProviderSet(t *testing.T) {
	set := NewProviderSet(&config.GatewayConfig{})
	assert.Equal(t, provider.ProviderTypeNone, set.Type)
	assert.Nil(t, set.Completer)

	set = NewProviderSet(&config.GatewayConfig{OpenAIAPIKey: "sk-test"})
	assert.Equal(t, provider.ProviderTypeOpenAI, set.Type)
	assert.NotNil(t, set.Completer)
	assert.NotNil(t, set.Synthesizer)
	assert.NotNil(t, set.Transcriber)
}
