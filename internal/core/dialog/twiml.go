package dialog

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// ContentType is declared on every call-control response
const ContentType = "text/xml; charset=utf-8"

// FallbackTwiML is served when a document cannot be produced. It carries no
// caller-supplied text.
const FallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<Response><Say>We are sorry, an application error has occurred. Goodbye.</Say><Hangup/></Response>`

// Render builds the TwiML document for verbs. A nil slice renders an empty Response.
func Render(verbs []twiml.Element) (string, error) {
	if verbs == nil {
		verbs = []twiml.Element{}
	}
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}
