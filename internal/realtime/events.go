// Package realtime implements the WebSocket client for the OpenAI Realtime
// voice API: session configuration, audio append, response triggering, and
// the inbound event stream the relay consumes.
package realtime

// Server event types the bridge consumes.
const (
	EventSessionUpdated               = "session.updated"
	EventResponseAudioDelta           = "response.audio.delta"
	EventResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventResponseAudioTranscriptDone  = "response.audio_transcript.done"
	EventResponseDone                 = "response.done"
	EventInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted                = "input_audio_buffer.speech_started"
	EventSpeechStopped                = "input_audio_buffer.speech_stopped"
	EventError                        = "error"
)

// Event is a server event from the realtime session. Only the fields the
// bridge uses are decoded; everything else is ignored.
type Event struct {
	Type string `json:"type"`

	// Delta carries base64 audio for response.audio.delta and text for
	// response.audio_transcript.delta.
	Delta string `json:"delta,omitempty"`

	// Transcript carries the full text for transcription-completed and
	// transcript-done events.
	Transcript string `json:"transcript,omitempty"`

	// Error details for "error" events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes an error event from the service.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TurnDetection configures server-side voice activity detection. A nil
// *TurnDetection in SessionConfig serializes as JSON null, which disables
// automatic turn-taking entirely.
type TurnDetection struct {
	Type string `json:"type"`
}

// TranscriptionConfig selects the model transcribing caller audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// SessionConfig is the session.update payload. Every reconfiguration sends
// the complete session state; the service does not merge partial updates in
// this design, so instructions always carry the full script text.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
}

// Client → server message envelopes.

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type itemCreateMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
