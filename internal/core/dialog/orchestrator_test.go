package dialog

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/twiml"
)

type xmlVerb struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Inner   []xmlVerb  `xml:",any"`
}

func (v xmlVerb) attr(name string) string {
	for _, a := range v.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

type xmlResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Verbs   []xmlVerb `xml:",any"`
}

func parse(t *testing.T, verbs []twiml.Element) (string, xmlResponse) {
	t.Helper()
	doc, err := Render(verbs)
	require.NoError(t, err)
	var resp xmlResponse
	require.NoError(t, xml.Unmarshal([]byte(doc), &resp), doc)
	return doc, resp
}

func names(resp xmlResponse) []string {
	out := make([]string, 0, len(resp.Verbs))
	for _, v := range resp.Verbs {
		out = append(out, v.XMLName.Local)
	}
	return out
}

func testOrchestrator(maxTurns int) *Orchestrator {
	return NewOrchestrator(Options{
		Voice:         "Polly.Joanna",
		Language:      "en-US",
		Greeting:      "Hello from the gateway.",
		GatherTimeout: 5,
		MaxTurns:      maxTurns,
	})
}

func newRecord(state domain.DialogState) domain.CallRecord {
	rec := domain.NewCallRecord("CA1", "+15551234567", "+15555678901", time.Now())
	rec.State = state
	return rec
}

func TestIncomingCall_Greeting(t *testing.T) {
	o := testOrchestrator(1)
	out := o.Next(newRecord(domain.DialogStateGreeting), Event{
		Type: EventIncomingCall, CallSid: "CA1", From: "+15551234567", To: "+15555678901",
	})

	assert.Equal(t, BranchGreeting, out.Branch)
	assert.Equal(t, domain.DialogStateAwaitingInput, out.State())

	_, resp := parse(t, out.Verbs)
	assert.Equal(t, []string{"Say", "Gather", "Redirect"}, names(resp))
	assert.Equal(t, "Hello from the gateway.", resp.Verbs[0].Text)

	gather := resp.Verbs[1]
	assert.Equal(t, "1", gather.attr("numDigits"))
	assert.Equal(t, "5", gather.attr("timeout"))
	assert.Equal(t, PathGather, gather.attr("action"))
	assert.Contains(t, gather.attr("input"), "speech")
	assert.Contains(t, gather.attr("input"), "dtmf")

	assert.Equal(t, PathEndCall, strings.TrimSpace(resp.Verbs[2].Text))
}

func TestIncomingCall_DuplicateDoesNotRewindDialog(t *testing.T) {
	o := testOrchestrator(1)

	out := o.Next(newRecord(domain.DialogStateAwaitingInput), Event{Type: EventIncomingCall})
	assert.Equal(t, BranchReprompt, out.Branch)
	assert.Equal(t, domain.DialogStateAwaitingInput, out.State())
	_, resp := parse(t, out.Verbs)
	assert.Equal(t, []string{"Gather", "Redirect"}, names(resp))

	out = o.Next(newRecord(domain.DialogStateTerminated), Event{Type: EventIncomingCall})
	assert.Equal(t, BranchHangup, out.Branch)
	assert.Equal(t, domain.DialogStateTerminated, out.State())
}

func TestInputReceived_Branches(t *testing.T) {
	tests := []struct {
		name   string
		ev     Event
		branch Branch
		say    string
	}{
		{"speech", Event{SpeechResult: "hello"}, BranchSpeech, "You said: hello."},
		{"speech wins over digits", Event{SpeechResult: "hello", Digits: "5"}, BranchSpeech, "You said: hello."},
		{"digits", Event{Digits: "7"}, BranchDigits, "You pressed 7."},
		{"neither", Event{}, BranchNoInput, NoInputText},
		{"whitespace only", Event{SpeechResult: "  ", Digits: " "}, BranchNoInput, NoInputText},
		{"completion reply", Event{SpeechResult: "hi", Reply: "Hi there!"}, BranchSpeech, "Hi there!"},
		{"reply ignored without speech", Event{Reply: "Hi there!"}, BranchNoInput, NoInputText},
	}

	o := testOrchestrator(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Type = EventInputReceived
			out := o.Next(newRecord(domain.DialogStateAwaitingInput), tt.ev)

			assert.Equal(t, tt.branch, out.Branch)
			assert.Equal(t, []domain.DialogState{domain.DialogStateResponding, domain.DialogStateTerminated}, out.Path)

			_, resp := parse(t, out.Verbs)
			assert.Equal(t, []string{"Say", "Say", "Hangup"}, names(resp))
			assert.Equal(t, tt.say, resp.Verbs[0].Text)
		})
	}
}

func TestInputReceived_TranscriptIsEscaped(t *testing.T) {
	o := testOrchestrator(1)
	transcript := `<Hangup/> & "quotes" </Say><Play>http://evil</Play>`
	out := o.Next(newRecord(domain.DialogStateAwaitingInput), Event{Type: EventInputReceived, SpeechResult: transcript})

	doc, resp := parse(t, out.Verbs)
	assert.NotContains(t, doc, "<Play>")
	assert.Contains(t, doc, "&lt;Hangup/&gt;")
	assert.Equal(t, []string{"Say", "Say", "Hangup"}, names(resp))
	assert.Equal(t, "You said: "+transcript+".", resp.Verbs[0].Text)
}

func TestInputReceived_MultiTurnLoopsBack(t *testing.T) {
	o := testOrchestrator(2)
	rec := newRecord(domain.DialogStateAwaitingInput)

	out := o.Apply(&rec, Event{Type: EventInputReceived, SpeechResult: "first"}, time.Now())
	assert.Equal(t, []domain.DialogState{domain.DialogStateResponding, domain.DialogStateAwaitingInput}, out.Path)
	assert.Equal(t, domain.DialogStateAwaitingInput, rec.State)
	assert.True(t, rec.Active)
	assert.Equal(t, 1, rec.Turns)
	assert.Equal(t, []domain.Exchange{{Caller: "first", Reply: "You said: first."}}, rec.History)
	_, resp := parse(t, out.Verbs)
	assert.Equal(t, []string{"Say", "Gather", "Redirect"}, names(resp))

	earlier := rec
	out = o.Apply(&rec, Event{Type: EventInputReceived, SpeechResult: "second", Reply: "Noted."}, time.Now())
	assert.Len(t, earlier.History, 1, "earlier copies keep their history")
	assert.Equal(t, domain.Exchange{Caller: "second", Reply: "Noted."}, rec.History[1])
	assert.Equal(t, domain.DialogStateTerminated, out.State())
	assert.Equal(t, domain.DialogStateTerminated, rec.State)
	assert.False(t, rec.Active)
	assert.Equal(t, 2, rec.Turns)
}

func TestInputReceived_NoInputEndsMultiTurnCall(t *testing.T) {
	o := testOrchestrator(5)
	rec := newRecord(domain.DialogStateAwaitingInput)

	out := o.Apply(&rec, Event{Type: EventInputReceived}, time.Now())
	assert.Equal(t, BranchNoInput, out.Branch)
	assert.Equal(t, domain.DialogStateTerminated, rec.State)
}

func TestInputReceived_AfterTermination(t *testing.T) {
	o := testOrchestrator(1)
	out := o.Next(newRecord(domain.DialogStateTerminated), Event{Type: EventInputReceived, SpeechResult: "late"})
	assert.Equal(t, BranchHangup, out.Branch)
	assert.Empty(t, out.Path)
	_, resp := parse(t, out.Verbs)
	assert.Equal(t, []string{"Hangup"}, names(resp))
}

func TestEndCall_FromAnyState(t *testing.T) {
	o := testOrchestrator(1)
	for _, state := range []domain.DialogState{
		domain.DialogStateGreeting, domain.DialogStateAwaitingInput,
		domain.DialogStateResponding, domain.DialogStateTerminated,
	} {
		rec := newRecord(state)
		out := o.Apply(&rec, Event{Type: EventEndCall}, time.Now())
		assert.Equal(t, domain.DialogStateTerminated, rec.State, state)
		assert.False(t, rec.Active, state)

		_, resp := parse(t, out.Verbs)
		assert.Equal(t, []string{"Say", "Hangup"}, names(resp), state)
		assert.Equal(t, ClosingText, resp.Verbs[0].Text)
	}
}

func TestStatus(t *testing.T) {
	o := testOrchestrator(1)

	rec := newRecord(domain.DialogStateAwaitingInput)
	out := o.Apply(&rec, Event{Type: EventStatus, CallStatus: "ringing"}, time.Now())
	assert.Nil(t, out.Verbs)
	assert.Equal(t, domain.DialogStateAwaitingInput, rec.State)
	assert.Equal(t, "ringing", rec.ProviderStatus)
	assert.True(t, rec.Active)

	out = o.Apply(&rec, Event{Type: EventStatus, CallStatus: "completed"}, time.Now())
	assert.Nil(t, out.Verbs)
	assert.Equal(t, domain.DialogStateTerminated, rec.State)
	assert.False(t, rec.Active)

	doc, err := Render(out.Verbs)
	require.NoError(t, err)
	var resp xmlResponse
	require.NoError(t, xml.Unmarshal([]byte(doc), &resp))
	assert.Empty(t, resp.Verbs)
}

func TestStreamSetup(t *testing.T) {
	_, resp := parse(t, StreamSetup("wss://voice.example.com/media-stream/CA1", "CA1"))
	require.Equal(t, []string{"Connect"}, names(resp))

	stream := resp.Verbs[0].Inner[0]
	assert.Equal(t, "Stream", stream.XMLName.Local)
	assert.Equal(t, "wss://voice.example.com/media-stream/CA1", stream.attr("url"))
	assert.Equal(t, "callSid", stream.Inner[0].attr("name"))
	assert.Equal(t, "CA1", stream.Inner[0].attr("value"))
}

func TestFallbackTwiMLIsValid(t *testing.T) {
	var resp xmlResponse
	require.NoError(t, xml.Unmarshal([]byte(FallbackTwiML), &resp))
	assert.Equal(t, []string{"Say", "Hangup"}, names(resp))
}
