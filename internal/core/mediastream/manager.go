// Package mediastream manages the per-call bidirectional audio stream connections.
package mediastream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/metrics"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrStreamExists is returned when a call already has a live stream.
	ErrStreamExists = errors.New("stream already registered for call")
	// ErrInvalidCallID is returned for identifiers that cannot address a stream.
	ErrInvalidCallID = errors.New("invalid call identifier")
)

// CloseHook observes a session after it has been torn down. The session's
// buffer is final by then. Hooks run on the tearing-down goroutine.
type CloseHook func(s *Session, reason string)

// ManagerOptions configures a Manager
type ManagerOptions struct {
	MaxFrames int
	Metrics   *metrics.Metrics
}

// Manager is the registry of live stream sessions, at most one per call.
type Manager struct {
	sessions  sync.Map // map[string]*Session
	maxFrames int
	metrics   *metrics.Metrics
	now       func() time.Time

	hooksMu sync.RWMutex
	hooks   []CloseHook
}

// NewManager creates an empty stream registry
func NewManager(opts ManagerOptions) *Manager {
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	return &Manager{
		maxFrames: opts.MaxFrames,
		metrics:   m,
		now:       time.Now,
	}
}

// OnClose adds a hook run once for every torn-down session.
func (m *Manager) OnClose(hook CloseHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Register creates the session for callSid and sends the connected
// acknowledgment. On ErrStreamExists the existing session is untouched and
// conn is not owned by the manager; the caller must close it.
func (m *Manager) Register(callSid string, conn Conn) (*Session, error) {
	if !ValidCallSid(callSid) {
		m.metrics.StreamsRejected.WithLabelValues("invalid_call_sid").Inc()
		return nil, fmt.Errorf("register %q: %w", callSid, ErrInvalidCallID)
	}

	s := newSession(callSid, uuid.NewString(), conn, m.maxFrames, m.now())
	if _, loaded := m.sessions.LoadOrStore(callSid, s); loaded {
		m.metrics.StreamsRejected.WithLabelValues("duplicate").Inc()
		logger.Base().Warn("rejected duplicate stream registration", zap.String("call_sid", callSid))
		return nil, fmt.Errorf("register %s: %w", callSid, ErrStreamExists)
	}

	m.metrics.StreamsTotal.Inc()
	m.metrics.StreamsActive.Inc()

	if err := s.write(newConnectedMessage(callSid, s.StreamID)); err != nil {
		m.teardown(s, ReasonAckFailed)
		return nil, fmt.Errorf("register %s: send connected ack: %w", callSid, err)
	}

	logger.Base().Info("media stream registered",
		zap.String("call_sid", callSid),
		zap.String("stream_id", s.StreamID))
	return s, nil
}

// Get returns the live session for callSid.
func (m *Manager) Get(callSid string) (*Session, bool) {
	v, ok := m.sessions.Load(callSid)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// OnFrame appends frame to the live session of callSid. Frames for calls
// without a live session are dropped; it reports whether frame was kept.
func (m *Manager) OnFrame(callSid string, frame []byte) bool {
	s, ok := m.Get(callSid)
	if !ok {
		m.metrics.FramesLate.Inc()
		logger.Base().Debug("dropping frame for call without live stream", zap.String("call_sid", callSid))
		return false
	}
	return m.appendFrame(s, frame)
}

func (m *Manager) appendFrame(s *Session, frame []byte) bool {
	accepted, evicted := s.appendFrame(frame)
	if !accepted {
		m.metrics.FramesLate.Inc()
		return false
	}
	m.metrics.FramesReceived.Inc()
	if evicted {
		m.metrics.FramesDropped.Inc()
	}
	return true
}

// Teardown closes and unregisters the live session of callSid, if any.
// Safe to call any number of times from any goroutine.
func (m *Manager) Teardown(callSid, reason string) bool {
	s, ok := m.Get(callSid)
	if !ok {
		return false
	}
	return m.teardown(s, reason)
}

// teardown acts on one specific session so that a stale trigger can never
// remove a newer session registered for the same call.
func (m *Manager) teardown(s *Session, reason string) bool {
	if !s.close(reason) {
		return false
	}
	m.sessions.CompareAndDelete(s.CallSid, s)

	m.metrics.StreamsActive.Dec()
	m.metrics.StreamTeardowns.WithLabelValues(reason).Inc()

	stats := s.Stats()
	logger.Base().Info("media stream torn down",
		zap.String("call_sid", s.CallSid),
		zap.String("stream_id", s.StreamID),
		zap.String("reason", reason),
		zap.Int("frames_received", stats.Received),
		zap.Int("frames_dropped", stats.Dropped),
		zap.Duration("duration", m.now().Sub(s.CreatedAt)))

	m.hooksMu.RLock()
	hooks := make([]CloseHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("stream close hook panic", zap.String("call_sid", s.CallSid), zap.Any("panic", r))
				}
			}()
			hook(s, reason)
		}()
	}
	return true
}

// Serve reads control messages from the session's connection until the
// stream stops, the connection fails, or ctx is cancelled. It always leaves
// the session torn down.
func (m *Manager) Serve(ctx context.Context, s *Session) {
	reason := ReasonTransport
	defer func() { m.teardown(s, reason) }()

	go func() {
		select {
		case <-ctx.Done():
			m.teardown(s, ReasonShutdown)
		case <-s.Done():
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ReasonRemoteClosed
			} else if !s.Closed() {
				logger.Base().Warn("media stream read failed", zap.String("call_sid", s.CallSid), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Base().Warn("ignoring malformed stream message", zap.String("call_sid", s.CallSid), zap.Error(err))
			continue
		}

		switch msg.Event {
		case EventStart:
			sid := msg.StreamSid
			if msg.Start != nil && msg.Start.StreamSid != "" {
				sid = msg.Start.StreamSid
			}
			s.setProviderStreamSid(sid)
			logger.Base().Info("media stream started", zap.String("call_sid", s.CallSid), zap.String("stream_sid", sid))
		case EventMedia:
			frame, err := DecodeFrame(msg.Media)
			if err != nil {
				logger.Base().Warn("skipping undecodable frame", zap.String("call_sid", s.CallSid), zap.Error(err))
				continue
			}
			if !m.appendFrame(s, frame) {
				return
			}
		case EventStop:
			reason = ReasonStop
			return
		case EventConnected, EventMark, EventDTMF:
			logger.Base().Debug("stream event", zap.String("call_sid", s.CallSid), zap.String("event", msg.Event))
		default:
			logger.Base().Debug("unknown stream event", zap.String("call_sid", s.CallSid), zap.String("event", msg.Event))
		}
	}
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown tears down every live session.
func (m *Manager) Shutdown() {
	m.sessions.Range(func(_, value any) bool {
		m.teardown(value.(*Session), ReasonShutdown)
		return true
	})
}
