package mediastream

import (
	"encoding/base64"
	"fmt"
	"regexp"
)

// Control-protocol event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// CallSidPattern is the accepted shape of a call identifier in a stream path.
const CallSidPattern = `[A-Za-z0-9_-]{1,64}`

var callSidRe = regexp.MustCompile(`^` + CallSidPattern + `$`)

// ValidCallSid reports whether id may address a stream.
func ValidCallSid(id string) bool {
	return callSidRe.MatchString(id)
}

// Message is one inbound JSON frame on the stream connection
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// StartPayload describes the stream once the provider has set it up
type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

// MediaFormat is the encoding of the media payloads
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio frame
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload ends the stream
type StopPayload struct {
	CallSid string `json:"callSid,omitempty"`
}

// ConnectedMessage is sent once, right after registration, so the remote side
// can correlate the stream with its call.
type ConnectedMessage struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
	CallSid  string `json:"callSid"`
	StreamID string `json:"streamId"`
}

func newConnectedMessage(callSid, streamID string) ConnectedMessage {
	return ConnectedMessage{
		Event:    EventConnected,
		Protocol: "Call",
		Version:  "1.0.0",
		CallSid:  callSid,
		StreamID: streamID,
	}
}

// DecodeFrame returns the raw audio bytes carried by a media payload.
func DecodeFrame(media *MediaPayload) ([]byte, error) {
	if media == nil || media.Payload == "" {
		return nil, fmt.Errorf("media event without payload")
	}
	frame, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return frame, nil
}
