package mediastream

import (
	"errors"
	"sync"
	"time"
)

// ErrStreamClosed is returned when writing to a session that was torn down.
var ErrStreamClosed = errors.New("stream closed")

// Conn is the duplex connection a session owns. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Teardown reasons
const (
	ReasonStop         = "stop"
	ReasonRemoteClosed = "remote_closed"
	ReasonTransport    = "transport_error"
	ReasonCallEnded    = "call_ended"
	ReasonShutdown     = "shutdown"
	ReasonAckFailed    = "ack_failed"
)

// Session is the live media stream of one call. The connection handle is
// owned by the session and only ever closed through close.
type Session struct {
	CallSid   string
	StreamID  string
	CreatedAt time.Time

	conn      Conn
	writeMu   sync.Mutex
	maxFrames int

	mu                sync.Mutex
	frames            [][]byte
	received          int
	dropped           int
	providerStreamSid string
	closed            bool
	reason            string

	closeOnce sync.Once
	done      chan struct{}
}

// Stats is a point-in-time view of a session's buffer
type Stats struct {
	Buffered int
	Received int
	Dropped  int
}

func newSession(callSid, streamID string, conn Conn, maxFrames int, now time.Time) *Session {
	return &Session{
		CallSid:   callSid,
		StreamID:  streamID,
		CreatedAt: now,
		conn:      conn,
		maxFrames: maxFrames,
		done:      make(chan struct{}),
	}
}

// appendFrame buffers frame, evicting the oldest when full. It reports
// whether the frame was accepted and whether an old frame was evicted.
func (s *Session) appendFrame(frame []byte) (accepted, evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	if s.maxFrames > 0 && len(s.frames) >= s.maxFrames {
		s.frames[0] = nil
		s.frames = s.frames[1:]
		s.dropped++
		evicted = true
	}
	s.frames = append(s.frames, frame)
	s.received++
	return true, evicted
}

func (s *Session) write(v interface{}) error {
	if s.Closed() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// close runs exactly once per session and reports whether this call did it.
func (s *Session) close(reason string) bool {
	first := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
		first = true
	})
	return first
}

func (s *Session) setProviderStreamSid(sid string) {
	s.mu.Lock()
	s.providerStreamSid = sid
	s.mu.Unlock()
}

// ProviderStreamSid is the provider's own stream identifier from the start event.
func (s *Session) ProviderStreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerStreamSid
}

// Frames returns a copy of the buffered frames in arrival order.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Audio returns the buffered frames concatenated.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range s.frames {
		out = append(out, f...)
	}
	return out
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Buffered: len(s.frames), Received: s.received, Dropped: s.dropped}
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reason is the trigger of the teardown, empty while live.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
