package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Call lifecycle events
const (
	CallStarted     EventType = "call.started"
	CallEnded       EventType = "call.ended"
	StreamStarted   EventType = "stream.started"
	StreamStopped   EventType = "stream.stopped"
	TranscriptReady EventType = "transcript.ready"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
)

// CallEvent is one lifecycle notification about a call
type CallEvent struct {
	Type       EventType   `json:"type"`
	CallSid    string      `json:"call_sid"`
	InstanceID string      `json:"instance_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       interface{} `json:"data,omitempty"`
	Error      error       `json:"-"`
}

// CallEventData describes the call at the time of the event
type CallEventData struct {
	From           string     `json:"from,omitempty"`
	To             string     `json:"to,omitempty"`
	State          string     `json:"state,omitempty"`
	Turns          int        `json:"turns,omitempty"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastInput      string     `json:"last_input,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
}

// StreamEventData describes a media stream session
type StreamEventData struct {
	StreamID       string        `json:"stream_id"`
	Reason         string        `json:"reason,omitempty"`
	FramesReceived int           `json:"frames_received,omitempty"`
	FramesDropped  int           `json:"frames_dropped,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
}

// TranscriptEventData carries the result of transcribing a stream recording
type TranscriptEventData struct {
	Transcript   string `json:"transcript"`
	RecordingURI string `json:"recording_uri,omitempty"`
}

// NewCallEvent creates a new call event
func NewCallEvent(eventType EventType, callSid string) *CallEvent {
	return &CallEvent{
		Type:      eventType,
		CallSid:   callSid,
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event
func (e *CallEvent) WithData(data interface{}) *CallEvent {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *CallEvent) WithError(err error) *CallEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *CallEvent) IsError() bool {
	return e.Error != nil
}

func (e *CallEvent) GetCallData() (*CallEventData, bool) {
	data, ok := e.Data.(*CallEventData)
	return data, ok
}

func (e *CallEvent) GetStreamData() (*StreamEventData, bool) {
	data, ok := e.Data.(*StreamEventData)
	return data, ok
}

func (e *CallEvent) GetTranscriptData() (*TranscriptEventData, bool) {
	data, ok := e.Data.(*TranscriptEventData)
	return data, ok
}
