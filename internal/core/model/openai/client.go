// Package openai implements the call collaborators on top of the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ClareAI/astra-telephony-gateway/internal/config"
	"github.com/ClareAI/astra-telephony-gateway/internal/core/model/provider"
	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/ClareAI/astra-telephony-gateway/internal/prompts"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	maxCompletionTokens = 120
	speechContentType   = "audio/mpeg"
	transcriptFileName  = "call.wav"
)

// Client implements provider.Completer, provider.Synthesizer and
// provider.Transcriber.
type Client struct {
	client          *openai.Client
	systemPrompt    string
	model           string
	ttsModel        string
	ttsVoice        string
	transcribeModel string
}

var (
	_ provider.Completer   = (*Client)(nil)
	_ provider.Synthesizer = (*Client)(nil)
	_ provider.Transcriber = (*Client)(nil)
)

// NewClient creates a client for cfg's OpenAI settings.
func NewClient(cfg *config.GatewayConfig) *Client {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		systemPrompt: prompts.SystemPrompt(prompts.SystemPromptOptions{
			Language:  cfg.SayLanguage,
			MultiTurn: cfg.MaxTurns > 1,
		}),
		model:           cfg.OpenAIModel,
		ttsModel:        cfg.OpenAITTSModel,
		ttsVoice:        cfg.OpenAITTSVoice,
		transcribeModel: cfg.OpenAITranscribeModel,
	}
}

// NewProviderSet returns the collaborators for cfg. Without an API key the
// set is empty and the gateway runs with its built-in responses.
func NewProviderSet(cfg *config.GatewayConfig) *provider.Set {
	if cfg.OpenAIAPIKey == "" {
		logger.Base().Info("OpenAI API key not set, running without collaborators")
		return &provider.Set{Type: provider.ProviderTypeNone}
	}
	c := NewClient(cfg)
	return &provider.Set{
		Type:        provider.ProviderTypeOpenAI,
		Completer:   c,
		Synthesizer: c,
		Transcriber: c,
	}
}

func (c *Client) Complete(ctx context.Context, callSid string, history []domain.Exchange, input string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt})
	for _, ex := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Caller},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Reply})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxCompletionTokens,
		User:      callSid,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.ErrEmptyResult
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", provider.ErrEmptyResult
	}
	logger.Base().Debug("completion received",
		zap.String("call_sid", callSid),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return text, nil
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.ttsVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, "", fmt.Errorf("read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", provider.ErrEmptyResult
	}
	return audio, speechContentType, nil
}

func (c *Client) Transcribe(ctx context.Context, callSid string, wav io.Reader) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: transcriptFileName,
		Reader:   wav,
	})
	if err != nil {
		return "", fmt.Errorf("transcription for %s: %w", callSid, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
