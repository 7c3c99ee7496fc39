package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const summaryEventName = "call:summary"

type PubSubConfig struct {
	ProjectID string
	TopicName string
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallSummary is published once per finished call
type CallSummary struct {
	ID             string     `json:"id"`
	CallSid        string     `json:"call_sid"`
	InstanceID     string     `json:"instance_id"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Status         string     `json:"status"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	Duration       int        `json:"duration"`
	TurnCount      int        `json:"turn_count"`
	LastInput      string     `json:"last_input,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("PubSub topic name is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic_name", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallSummary publishes summary and waits for the server ack.
func (p *PubSubService) PublishCallSummary(ctx context.Context, summary CallSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal call summary: %w", err)
	}

	message := &pubsub.Message{
		Attributes: map[string]string{
			"name":     fmt.Sprintf("%s:%s", summaryEventName, summary.ID),
			"call_sid": summary.CallSid,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		logger.Base().Error("Failed to publish call summary", zap.String("call_sid", summary.CallSid), zap.Error(err))
		return fmt.Errorf("failed to publish call summary: %w", err)
	}

	logger.Base().Info("Published call summary",
		zap.String("call_sid", summary.CallSid),
		zap.String("id", summary.ID),
		zap.String("server_id", serverID))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
