// Package session tracks which gateway instance owns each live call in Redis
// and relays cross-instance stream cleanup requests.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel   = "astra:telephony:call:cleanup"
	SessionKeyPrefix = "astra:telephony:call:info"
	SessionTTL       = 1 * time.Hour
)

// SessionInfo is the presence record of a call
type SessionInfo struct {
	CallSid   string    `json:"callSid"`
	PodID     string    `json:"podId"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	StartTime time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcast
type CleanupMessage struct {
	CallSid string `json:"callSid"`
	PodID   string `json:"podId"`
	Reason  string `json:"reason,omitempty"`
}

type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

func key(callSid string) string {
	return fmt.Sprintf("%s:%s", SessionKeyPrefix, callSid)
}

// Register records that this instance handles the call.
func (m *Manager) Register(ctx context.Context, info SessionInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := m.redisSvc.SetValue(ctx, key(info.CallSid), string(data), SessionTTL); err != nil {
		return fmt.Errorf("register call %s: %w", info.CallSid, err)
	}
	logger.Base().Debug("Call registered in Redis", zap.String("call_sid", info.CallSid), zap.String("pod_id", m.podID))
	return nil
}

// Lookup returns the presence record of a call.
func (m *Manager) Lookup(ctx context.Context, callSid string) (*SessionInfo, bool, error) {
	val, err := m.redisSvc.GetValue(ctx, key(callSid))
	if err == redis.ErrKeyNotExist {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var info SessionInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, false, fmt.Errorf("decode presence of %s: %w", callSid, err)
	}
	return &info, true, nil
}

// Unregister removes the presence record of a call
func (m *Manager) Unregister(ctx context.Context, callSid string) error {
	return m.redisSvc.DelValue(ctx, key(callSid))
}

// NotifyCleanup broadcasts a stream cleanup request to all instances
func (m *Manager) NotifyCleanup(ctx context.Context, callSid, reason string) error {
	logger.Base().Info("Broadcasting cleanup request", zap.String("call_sid", callSid), zap.String("reason", reason))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallSid: callSid, PodID: m.podID, Reason: reason})
}

// SubscribeToCleanup invokes handler for cleanup requests sent by other instances.
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callSid, reason string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		if msg.PodID == m.podID || msg.CallSid == "" {
			return
		}
		handler(msg.CallSid, msg.Reason)
	})
}
