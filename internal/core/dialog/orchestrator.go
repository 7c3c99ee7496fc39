// Package dialog turns webhook events into dialog state transitions and TwiML responses.
package dialog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/twilio/twilio-go/twiml"
)

// EventType identifies which webhook produced an event
type EventType string

const (
	EventIncomingCall  EventType = "incoming_call"
	EventInputReceived EventType = "input_received"
	EventEndCall       EventType = "end_call"
	EventStatus        EventType = "status"
)

// Branch names the response the orchestrator chose
type Branch string

const (
	BranchGreeting Branch = "greeting"
	BranchReprompt Branch = "reprompt"
	BranchSpeech   Branch = "speech"
	BranchDigits   Branch = "digits"
	BranchNoInput  Branch = "no_input"
	BranchClosing  Branch = "closing"
	BranchStatus   Branch = "status"
	BranchHangup   Branch = "hangup"
	BranchStream   Branch = "stream"
)

// Webhook paths referenced from generated documents
const (
	PathGather  = "/twilio/gather"
	PathEndCall = "/twilio/end-call"
)

const (
	ClosingText = "Thank you for calling. Goodbye."
	NoInputText = "We didn't receive any input."
)

// Event is one webhook delivery. Absent fields are empty strings.
type Event struct {
	Type         EventType
	CallSid      string
	From         string
	To           string
	SpeechResult string
	Digits       string
	CallStatus   string
	// Reply is completion text prepared outside the store lock; empty means echo.
	Reply string
}

// Options shape the generated documents
type Options struct {
	ActionBaseURL string
	Voice         string
	Language      string
	Greeting      string
	GatherTimeout int
	SpeechTimeout string
	MaxTurns      int
}

// Outcome is the result of one transition
type Outcome struct {
	From   domain.DialogState
	Path   []domain.DialogState
	Branch Branch
	// Verbs is the document body; nil means acknowledgment only.
	Verbs []twiml.Element
}

// State returns the state the call ends up in.
func (o Outcome) State() domain.DialogState {
	if len(o.Path) == 0 {
		return o.From
	}
	return o.Path[len(o.Path)-1]
}

// Orchestrator is the dialog state machine. It holds no per-call state.
type Orchestrator struct {
	opts Options
}

// NewOrchestrator creates an orchestrator, filling unset options with defaults
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = 5
	}
	if opts.SpeechTimeout == "" {
		opts.SpeechTimeout = "auto"
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 1
	}
	if opts.Greeting == "" {
		opts.Greeting = "Hello, thanks for calling."
	}
	opts.ActionBaseURL = strings.TrimRight(opts.ActionBaseURL, "/")
	return &Orchestrator{opts: opts}
}

// Next computes the transition for rec given ev. It does not modify rec.
func (o *Orchestrator) Next(rec domain.CallRecord, ev Event) Outcome {
	out := Outcome{From: rec.State}

	switch ev.Type {
	case EventIncomingCall:
		switch rec.State {
		case domain.DialogStateGreeting:
			out.Branch = BranchGreeting
			out.Path = []domain.DialogState{domain.DialogStateAwaitingInput}
			out.Verbs = append([]twiml.Element{o.say(o.opts.Greeting)}, o.gather()...)
		case domain.DialogStateTerminated:
			out.Branch = BranchHangup
			out.Verbs = []twiml.Element{&twiml.VoiceHangup{}}
		default:
			// duplicate delivery: keep the dialog where it is and ask again
			out.Branch = BranchReprompt
			out.Verbs = o.gather()
		}

	case EventInputReceived:
		if rec.State.IsTerminal() {
			out.Branch = BranchHangup
			out.Verbs = []twiml.Element{&twiml.VoiceHangup{}}
			return out
		}
		var ack string
		out.Branch, ack = o.acknowledge(ev)
		out.Path = []domain.DialogState{domain.DialogStateResponding}
		if out.Branch != BranchNoInput && rec.Turns+1 < o.opts.MaxTurns {
			out.Path = append(out.Path, domain.DialogStateAwaitingInput)
			out.Verbs = append([]twiml.Element{o.say(ack)}, o.gather()...)
			return out
		}
		out.Path = append(out.Path, domain.DialogStateTerminated)
		out.Verbs = []twiml.Element{o.say(ack), o.say(ClosingText), &twiml.VoiceHangup{}}

	case EventEndCall:
		out.Branch = BranchClosing
		if !rec.State.IsTerminal() {
			out.Path = []domain.DialogState{domain.DialogStateTerminated}
		}
		out.Verbs = []twiml.Element{o.say(ClosingText), &twiml.VoiceHangup{}}

	case EventStatus:
		out.Branch = BranchStatus
		if domain.IsTerminalProviderStatus(ev.CallStatus) && !rec.State.IsTerminal() {
			out.Path = []domain.DialogState{domain.DialogStateTerminated}
		}

	default:
		out.Branch = BranchHangup
		out.Verbs = []twiml.Element{&twiml.VoiceHangup{}}
	}
	return out
}

// Apply runs Next and folds the outcome into rec. It is meant to run inside
// the store's per-call Update so the read and the write are one step.
func (o *Orchestrator) Apply(rec *domain.CallRecord, ev Event, now time.Time) Outcome {
	out := o.Next(*rec, ev)

	switch out.Branch {
	case BranchSpeech:
		rec.LastInput = strings.TrimSpace(ev.SpeechResult)
		_, reply := o.acknowledge(ev)
		rec.AddExchange(rec.LastInput, reply)
		rec.Turns++
	case BranchDigits:
		rec.LastInput = strings.TrimSpace(ev.Digits)
		rec.Turns++
	case BranchNoInput:
		rec.Turns++
	}
	if ev.CallStatus != "" {
		rec.ProviderStatus = ev.CallStatus
	}
	rec.State = out.State()
	if rec.State.IsTerminal() {
		rec.Deactivate(now)
	}
	return out
}

func (o *Orchestrator) acknowledge(ev Event) (Branch, string) {
	if speech := strings.TrimSpace(ev.SpeechResult); speech != "" {
		if reply := strings.TrimSpace(ev.Reply); reply != "" {
			return BranchSpeech, reply
		}
		return BranchSpeech, fmt.Sprintf("You said: %s.", speech)
	}
	if digits := strings.TrimSpace(ev.Digits); digits != "" {
		return BranchDigits, fmt.Sprintf("You pressed %s.", digits)
	}
	return BranchNoInput, NoInputText
}

func (o *Orchestrator) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{
		Message:  text,
		Voice:    o.opts.Voice,
		Language: o.opts.Language,
	}
}

// gather collects one key press or an utterance, falling through to the
// end-call webhook when the timeout elapses with nothing heard.
func (o *Orchestrator) gather() []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceGather{
			Input:         "dtmf speech",
			NumDigits:     "1",
			Timeout:       strconv.Itoa(o.opts.GatherTimeout),
			SpeechTimeout: o.opts.SpeechTimeout,
			Language:      o.opts.Language,
			Action:        o.opts.ActionBaseURL + PathGather,
			Method:        "POST",
		},
		&twiml.VoiceRedirect{
			Url:    o.opts.ActionBaseURL + PathEndCall,
			Method: "POST",
		},
	}
}

// StreamSetup returns the directive connecting the call's audio to streamURL.
func StreamSetup(streamURL, callSid string) []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{
					Url: streamURL,
					InnerElements: []twiml.Element{
						&twiml.VoiceParameter{Name: "callSid", Value: callSid},
					},
				},
			},
		},
	}
}
