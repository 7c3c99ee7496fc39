// Package event is an in-process publish/subscribe bus for call lifecycle events.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"go.uber.org/zap"
)

// ErrBusClosed is returned once Close has been called
var ErrBusClosed = errors.New("event bus is closed")

// EventHandler represents a function that handles events
type EventHandler func(event *CallEvent)

// EventMiddleware represents middleware that can wrap event handlers
type EventMiddleware func(next EventHandler) EventHandler

// EventBus defines the interface for event bus operations
type EventBus interface {
	Publish(event *CallEvent) error
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error
	Use(middleware EventMiddleware)
	Flush(ctx context.Context) error
	Close() error
	GetStats() BusStats
}

// BusStats contains statistics about the event bus
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	ActiveHandlers  int              `json:"active_handlers"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

// DefaultEventBus runs every handler on its own goroutine.
type DefaultEventBus struct {
	subscribers map[EventType][]EventHandler
	middleware  []EventMiddleware
	mutex       sync.RWMutex
	closed      bool
	done        chan struct{}

	flightMu   sync.Mutex
	inflight   int
	idle       chan struct{}
	stats      BusStats
	statsMutex sync.RWMutex
}

// NewEventBus creates a new event bus instance
func NewEventBus() *DefaultEventBus {
	idle := make(chan struct{})
	close(idle)
	return &DefaultEventBus{
		subscribers: make(map[EventType][]EventHandler),
		done:        make(chan struct{}),
		idle:        idle,
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
}

// Publish delivers event to every subscriber of its type without waiting for them.
func (b *DefaultEventBus) Publish(event *CallEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mutex.RLock()
	if b.closed {
		b.mutex.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]EventHandler, len(b.subscribers[event.Type]))
	copy(handlers, b.subscribers[event.Type])
	middleware := make([]EventMiddleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.begin(len(handlers))
	b.mutex.RUnlock()

	b.updateStats(event.Type)

	if len(handlers) == 0 {
		logger.Base().Debug("No subscribers for event type", zap.String("type", string(event.Type)))
		return nil
	}

	for _, handler := range handlers {
		go func(h EventHandler) {
			defer b.end()
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic",
						zap.String("type", string(event.Type)),
						zap.String("call_sid", event.CallSid),
						zap.Any("panic", r))
				}
			}()

			final := h
			for i := len(middleware) - 1; i >= 0; i-- {
				final = middleware[i](final)
			}
			final(event)
		}(handler)
	}

	return nil
}

// Subscribe subscribes to events of a specific type
func (b *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	return b.SubscribeWithTimeout(eventType, handler, 0)
}

// SubscribeWithTimeout subscribes a handler that is abandoned after timeout.
func (b *DefaultEventBus) SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	final := handler
	if timeout > 0 {
		final = b.withTimeout(handler, timeout)
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], final)

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.stats.ActiveHandlers++
	b.statsMutex.Unlock()

	logger.Base().Debug("Subscribed to event type", zap.String("event_type", string(eventType)))
	return nil
}

// Use adds middleware to the event bus
func (b *DefaultEventBus) Use(middleware EventMiddleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// Close rejects further events and waits for in-flight handlers.
func (b *DefaultEventBus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.subscribers = make(map[EventType][]EventHandler)
	b.middleware = nil
	b.mutex.Unlock()

	_ = b.Flush(context.Background())
	logger.Base().Info("Event bus closed")
	return nil
}

// Flush waits until every handler started so far, and any started while
// waiting, has returned.
func (b *DefaultEventBus) Flush(ctx context.Context) error {
	b.flightMu.Lock()
	idle := b.idle
	b.flightMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *DefaultEventBus) begin(n int) {
	if n == 0 {
		return
	}
	b.flightMu.Lock()
	if b.inflight == 0 {
		b.idle = make(chan struct{})
	}
	b.inflight += n
	b.flightMu.Unlock()
}

func (b *DefaultEventBus) end() {
	b.flightMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
	}
	b.flightMu.Unlock()
}

// GetStats returns current bus statistics
func (b *DefaultEventBus) GetStats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64, len(b.stats.EventsByType)),
		ActiveHandlers:  b.stats.ActiveHandlers,
		SubscriberCount: make(map[string]int, len(b.stats.SubscriberCount)),
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}
	return stats
}

func (b *DefaultEventBus) withTimeout(handler EventHandler, timeout time.Duration) EventHandler {
	return func(event *CallEvent) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			handler(event)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			logger.Base().Warn("Event handler timeout", zap.String("type", string(event.Type)), zap.Duration("timeout", timeout))
		case <-b.done:
			logger.Base().Info("Event handler cancelled", zap.String("type", string(event.Type)))
		}
	}
}

func (b *DefaultEventBus) updateStats(eventType EventType) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()
	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
