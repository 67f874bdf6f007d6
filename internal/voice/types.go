// Package voice provides the telephony edge of the call bridge: placing
// outbound calls through the provider's REST API, answering the provider's
// webhooks with TwiML that joins the call to the media stream, and the
// call state taxonomy shared with the relay.
package voice

import "time"

// CallState represents the current state of a call.
type CallState string

const (
	// Active states
	StateInitiated CallState = "initiated"
	StateRinging   CallState = "ringing"
	StateAnswered  CallState = "answered"
	StateBridged   CallState = "bridged"

	// Terminal states
	StateCompleted CallState = "completed"
	StateTimeout   CallState = "timeout"
	StateError     CallState = "error"
	StateFailed    CallState = "failed"
	StateNoAnswer  CallState = "no-answer"
	StateBusy      CallState = "busy"
)

// IsTerminal returns true if this is a terminal state.
func (s CallState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateTimeout, StateError, StateFailed, StateNoAnswer, StateBusy:
		return true
	}
	return false
}

// EndReason describes why a call ended.
type EndReason string

const (
	// EndReasonCompleted is a normal hangup by either side.
	EndReasonCompleted EndReason = "completed"

	// EndReasonConclusion means a closing phrase was detected in the
	// conversation and the bridge hung up gracefully.
	EndReasonConclusion EndReason = "conclusion"

	// EndReasonIdentityMismatch means the remote party was not the
	// expected candidate.
	EndReasonIdentityMismatch EndReason = "identity-mismatch"

	// EndReasonTimeout means the lifecycle ceiling was reached.
	EndReasonTimeout EndReason = "timeout"

	// EndReasonTransportError means a leg dropped or errored.
	EndReasonTransportError EndReason = "transport-error"

	// EndReasonRemoteError means the voice-AI service reported a fatal error.
	EndReasonRemoteError EndReason = "remote-error"

	EndReasonFailed   EndReason = "failed"
	EndReasonNoAnswer EndReason = "no-answer"
	EndReasonBusy     EndReason = "busy"
)

// EventType categorizes provider status-callback events.
type EventType string

const (
	EventCallInitiated EventType = "call.initiated"
	EventCallRinging   EventType = "call.ringing"
	EventCallAnswered  EventType = "call.answered"
	EventCallEnded     EventType = "call.ended"
)

// CallEvent is a normalized provider status-callback event.
type CallEvent struct {
	CallSID   string    `json:"call_sid"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Reason    EndReason `json:"reason,omitempty"` // for ended events
}

// InitiateCallResult contains the result of initiating a call.
type InitiateCallResult struct {
	CallSID string `json:"call_sid"`
	Status  string `json:"status"` // "initiated" or "queued"
}
