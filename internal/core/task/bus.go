package task

import (
	"context"
	"encoding/json"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/redis"
	"go.uber.org/zap"
)

const (
	TaskChannel = "astra:telephony:call:tasks"
)

// RedisBus implements the Bus interface using Redis Pub/Sub
type RedisBus struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

// NewRedisBus creates a task bus that delivers to podID only the tasks addressed to it
func NewRedisBus(redisSvc redis.RedisServiceInterface, podID string) *RedisBus {
	return &RedisBus{redisSvc: redisSvc, podID: podID}
}

// Publish sends a task to the bus
func (b *RedisBus) Publish(ctx context.Context, task CallTask) error {
	task.SourcePod = b.podID
	logger.Base().Debug("Publishing task",
		zap.String("type", string(task.Type)),
		zap.String("call_sid", task.CallSid),
		zap.String("target_pod", task.TargetPod))
	return b.redisSvc.Publish(ctx, TaskChannel, task)
}

// Subscribe listens for tasks addressed to this instance
func (b *RedisBus) Subscribe(ctx context.Context, handler func(CallTask)) error {
	logger.Base().Info("Subscribing to call tasks", zap.String("pod_id", b.podID))
	return b.redisSvc.Subscribe(ctx, TaskChannel, func(payload string) {
		var task CallTask
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			logger.Base().Error("Failed to unmarshal task payload", zap.Error(err))
			return
		}
		if task.TargetPod != b.podID || task.CallSid == "" {
			return
		}
		handler(task)
	})
}
