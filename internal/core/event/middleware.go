package event

import (
	"time"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware logs every handled event with its handling time
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		start := time.Now()
		defer func() {
			if event.IsError() {
				logger.Base().Error("Event handler failed", zap.String("type", string(event.Type)), zap.String("call_sid", event.CallSid), zap.Error(event.Error))
				return
			}
			logger.Base().Debug("Event handler completed", zap.String("type", string(event.Type)), zap.String("call_sid", event.CallSid), zap.Duration("duration", time.Since(start)))
		}()

		next(event)
	}
}

// ValidationMiddleware drops events that cannot be attributed to a call
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}
		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("call_sid", event.CallSid))
			return
		}
		if event.CallSid == "" {
			logger.Base().Error("Call sid is empty", zap.String("type", string(event.Type)))
			return
		}
		next(event)
	}
}

// CreateDefaultMiddlewareChain creates the chain used by the gateway
func CreateDefaultMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
