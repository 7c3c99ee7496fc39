package domain

import (
	"fmt"
	"time"
)

// DialogState is the orchestrator's position in a call's interaction sequence
type DialogState string

const (
	DialogStateGreeting      DialogState = "GREETING"
	DialogStateAwaitingInput DialogState = "AWAITING_INPUT"
	DialogStateResponding    DialogState = "RESPONDING"
	DialogStateTerminated    DialogState = "TERMINATED"
)

// String returns the string representation of the state.
func (s DialogState) String() string {
	switch s {
	case DialogStateGreeting, DialogStateAwaitingInput, DialogStateResponding, DialogStateTerminated:
		return string(s)
	default:
		return fmt.Sprintf("UNKNOWN(%s)", string(s))
	}
}

// IsTerminal returns true once no further dialog turns are possible.
func (s DialogState) IsTerminal() bool {
	return s == DialogStateTerminated
}

// Provider call statuses after which the call no longer exists
const (
	ProviderStatusCompleted = "completed"
	ProviderStatusBusy      = "busy"
	ProviderStatusFailed    = "failed"
	ProviderStatusNoAnswer  = "no-answer"
	ProviderStatusCanceled  = "canceled"
)

// IsTerminalProviderStatus reports whether a status callback value ends the call
func IsTerminalProviderStatus(status string) bool {
	switch status {
	case ProviderStatusCompleted, ProviderStatusBusy, ProviderStatusFailed, ProviderStatusNoAnswer, ProviderStatusCanceled:
		return true
	}
	return false
}

// CallRecord is the per-call metadata and dialog state, keyed by the provider's call identifier
type CallRecord struct {
	CallSid        string      `json:"callSid"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	CreatedAt      time.Time   `json:"createdAt"`
	State          DialogState `json:"state"`
	Active         bool        `json:"active"`
	Turns          int         `json:"turns"`
	EndedAt        *time.Time  `json:"endedAt,omitempty"`
	ProviderStatus string      `json:"providerStatus,omitempty"`
	LastInput      string      `json:"lastInput,omitempty"`
	History        []Exchange  `json:"history,omitempty"`
	Transcript     string      `json:"transcript,omitempty"`
}

// Exchange is one spoken caller utterance and the reply played back to it
type Exchange struct {
	Caller string `json:"caller"`
	Reply  string `json:"reply"`
}

// AddExchange appends to History without touching arrays shared with earlier copies of the record.
func (r *CallRecord) AddExchange(caller, reply string) {
	history := make([]Exchange, len(r.History), len(r.History)+1)
	copy(history, r.History)
	r.History = append(history, Exchange{Caller: caller, Reply: reply})
}

// NewCallRecord creates an active record in the initial dialog state
func NewCallRecord(callSid, from, to string, now time.Time) CallRecord {
	return CallRecord{
		CallSid:   callSid,
		From:      from,
		To:        to,
		CreatedAt: now,
		State:     DialogStateGreeting,
		Active:    true,
	}
}

// Deactivate marks the record inactive. It returns false if it already was.
func (r *CallRecord) Deactivate(now time.Time) bool {
	if !r.Active {
		return false
	}
	r.Active = false
	r.EndedAt = &now
	return true
}

// Duration returns how long the call lasted, or has lasted so far
func (r CallRecord) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.CreatedAt)
	}
	return now.Sub(r.CreatedAt)
}
