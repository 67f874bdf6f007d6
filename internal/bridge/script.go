// Package bridge contains the call bridge core: the scripted conversation
// state machine, conclusion detection, the per-call stream relay, and the
// supervisor that accepts media-stream connections.
package bridge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/realtime"
	"github.com/aimhi-ai/callbridge/internal/voice"
)

// State is the conversation phase of a call.
type State string

const (
	StateAwaitingIdentity  State = "AWAITING_IDENTITY"
	StateIdentityConfirmed State = "IDENTITY_CONFIRMED"
	StateDiscussingRole    State = "DISCUSSING_ROLE"
	StateScheduling        State = "SCHEDULING"
	StateConfirmed         State = "CONFIRMED"
	StateEnded             State = "ENDED"
)

// Outcome is what a transcribed line did to the conversation.
type Outcome struct {
	// State after processing the line.
	State State

	// Reconfigure means the session instructions changed and the full
	// session config must be resent.
	Reconfigure bool

	// Respond carries one-shot response instructions to send alongside the
	// reconfiguration, such as the wrong-number apology.
	Respond string

	// End requests graceful termination with the given reason.
	End       bool
	EndReason voice.EndReason
}

// ScriptConfig carries the personalization and voice parameters the script
// substitutes into its instruction text.
type ScriptConfig struct {
	AgentName          string
	CompanyName        string
	Voice              string
	Temperature        float64
	TranscriptionModel string
}

// Script drives the scripted recruitment conversation. It decides the full
// instruction text for each phase and advances on transcribed speech only;
// silence never moves it.
type Script struct {
	cfg ScriptConfig

	candidateFirst string
	candidateFull  string
	roleTitle      string

	state          State
	firstReplySeen bool
}

// NewScript builds a script personalized from the resolved call context.
// With an empty context the conversation runs generic, without a name or
// role to verify against.
func NewScript(cfg ScriptConfig, callCtx callcontext.Context) *Script {
	return &Script{
		cfg:            cfg,
		candidateFirst: callCtx.FirstName(),
		candidateFull:  callCtx.CandidateName,
		roleTitle:      callCtx.Job.Title,
		state:          StateAwaitingIdentity,
	}
}

// State returns the current conversation phase.
func (s *Script) State() State {
	return s.state
}

// Personalized reports whether the script has a candidate name to verify.
func (s *Script) Personalized() bool {
	return s.candidateFirst != ""
}

// SessionConfig returns the complete session configuration for the current
// phase. The remote service is stateless between updates, so the whole
// instruction text goes out every time. Turn detection stays off until the
// caller's first reply has been processed, which keeps the agent from
// speaking twice in a row unprompted.
func (s *Script) SessionConfig() realtime.SessionConfig {
	var turnDetection *realtime.TurnDetection
	if s.firstReplySeen {
		turnDetection = &realtime.TurnDetection{Type: "server_vad"}
	}

	return realtime.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            s.instructions(),
		Voice:                   s.cfg.Voice,
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: &realtime.TranscriptionConfig{Model: s.cfg.TranscriptionModel},
		TurnDetection:           turnDetection,
		Temperature:             s.cfg.Temperature,
	}
}

// OpeningInstructions is the one-shot prompt for the agent's first line,
// sent with the initial response.create so the agent speaks first.
func (s *Script) OpeningInstructions() string {
	if s.Personalized() {
		return fmt.Sprintf(
			"Start the conversation by introducing yourself exactly as: "+
				"'Hi, my name is %s. I am an AI recruitment agent from %s. "+
				"Is this a good time to speak with %s?' Then wait for the reply.",
			s.cfg.AgentName, s.cfg.CompanyName, s.candidateFirst)
	}
	return fmt.Sprintf(
		"Start the conversation by introducing yourself exactly as: "+
			"'Hi, my name is %s. I am an AI recruitment agent from %s. "+
			"Is this a good time to talk?' Then wait for the reply.",
		s.cfg.AgentName, s.cfg.CompanyName)
}

// GoodbyeInstructions is the closing line requested when the lifecycle
// ceiling is reached or a conclusion is detected with no reply in flight.
func (s *Script) GoodbyeInstructions() string {
	return "Politely wrap up the call now in one short sentence: thank them " +
		"for their time and say goodbye. Do not ask any further questions."
}

// instructions builds the full system prompt for the current phase.
func (s *Script) instructions() string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"You are %s, a friendly and professional AI recruitment assistant from %s. "+
			"Keep the conversation natural and engaging. Show genuine interest in the "+
			"responses. Always stay positive and professional. "+
			"If the candidate asks questions unrelated to the interview, politely "+
			"redirect them back to scheduling. ",
		s.cfg.AgentName, s.cfg.CompanyName)

	switch s.state {
	case StateAwaitingIdentity:
		if s.Personalized() {
			fmt.Fprintf(&b,
				"You are calling to speak with %s. First verify you are speaking with "+
					"the right person. Ask only whether this is %s; do not discuss the role yet. "+
					"If they say you have the wrong number, or give a different name, apologize "+
					"briefly for the disturbance and end the call politely. ",
				s.candidateFirst, s.candidateFirst)
		} else {
			b.WriteString(
				"First confirm this is a good time to talk before discussing anything else. ")
		}
	case StateIdentityConfirmed, StateDiscussingRole:
		if s.roleTitle != "" {
			fmt.Fprintf(&b,
				"Identity is confirmed. Ask whether now is a convenient time to talk "+
					"about a job opportunity. Mention only the role title, %q; defer every "+
					"other detail to the interview itself. ",
				s.roleTitle)
		} else {
			b.WriteString(
				"Identity is confirmed. Ask whether now is a convenient time to talk " +
					"about a job opportunity their resume was shortlisted for. Defer details " +
					"to the interview itself. ")
		}
	case StateScheduling, StateConfirmed:
		b.WriteString(
			"Now schedule the interview based on the candidate's available date and time. " +
				"If the candidate is busy, politely ask for an alternative date and time. " +
				"HANDLING UNCLEAR RESPONSES: if a response is unclear, incomplete, or not in " +
				"English, politely repeat the question more clearly and ask for a specific " +
				"date and time. Stay patient and helpful throughout. ")
	}

	b.WriteString(
		"IMPORTANT: When confirming any interview date and time, ALWAYS use this exact " +
			"format: 'Let me confirm the interview on MM-DD-YYYY at HH:MM AM/PM' " +
			"(e.g., 'Let me confirm the interview on 06-29-2025 at 04:30 PM'). " +
			"Always convert any date the candidate gives to MM-DD-YYYY and the time to " +
			"HH:MM AM/PM in your confirmation.")

	return b.String()
}

var (
	affirmativeRe = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|speaking|correct|that's me|this is (he|she|them)|of course|go ahead|absolutely|definitely)\b`)
	denialRe      = regexp.MustCompile(`(?i)\b(no\b|nope|wrong number|not (him|her|them|me)|who is this|don't know (any|a)\b|never heard)`)
	selfIdentRe   = regexp.MustCompile(`(?i)\bthis is ([a-z]+)`)

	// Rough signal that the caller proposed a concrete slot.
	slotHintRe = regexp.MustCompile(`(?i)(\d{1,2}\s*:\s*\d{2})|(\d{1,2}\s*(am|pm)\b)|\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today)\b|\b(january|february|march|april|may|june|july|august|september|october|november|december)\b|\d{1,2}(st|nd|rd|th)\b`)
)

// ObserveCaller advances the machine on a transcribed caller utterance.
func (s *Script) ObserveCaller(text string) Outcome {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Outcome{State: s.state}
	}

	reconfigure := !s.firstReplySeen
	s.firstReplySeen = true

	switch s.state {
	case StateAwaitingIdentity:
		if s.identityDenied(trimmed) {
			s.state = StateEnded
			return Outcome{
				State: s.state,
				Respond: "Apologize briefly for the disturbance, say you must have the " +
					"wrong number, wish them a good day, and end the conversation. " +
					"Do not mention the job or any candidate details.",
				End:       true,
				EndReason: voice.EndReasonIdentityMismatch,
			}
		}
		if s.identityConfirmed(trimmed) {
			// IDENTITY_CONFIRMED advances to DISCUSSING_ROLE immediately;
			// the confirmed phase has no script of its own.
			s.state = StateDiscussingRole
			return Outcome{State: s.state, Reconfigure: true}
		}
		// Neither confirmed nor denied: stay put, but the first reply may
		// still enable turn detection.
		return Outcome{State: s.state, Reconfigure: reconfigure}

	case StateDiscussingRole:
		if affirmativeRe.MatchString(trimmed) {
			s.state = StateScheduling
			return Outcome{State: s.state, Reconfigure: true}
		}
		return Outcome{State: s.state, Reconfigure: reconfigure}

	case StateScheduling:
		if slotHintRe.MatchString(trimmed) {
			s.state = StateConfirmed
			return Outcome{State: s.state, Reconfigure: true}
		}
		return Outcome{State: s.state, Reconfigure: reconfigure}
	}

	return Outcome{State: s.state, Reconfigure: reconfigure}
}

func (s *Script) identityConfirmed(text string) bool {
	if affirmativeRe.MatchString(text) {
		return true
	}
	if m := selfIdentRe.FindStringSubmatch(text); m != nil {
		return s.candidateFirst != "" && strings.EqualFold(m[1], s.candidateFirst)
	}
	return false
}

func (s *Script) identityDenied(text string) bool {
	if m := selfIdentRe.FindStringSubmatch(text); m != nil {
		if s.candidateFirst != "" && !strings.EqualFold(m[1], s.candidateFirst) {
			return true
		}
	}
	return denialRe.MatchString(text) && !affirmativeRe.MatchString(text)
}
