package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/observability"
	"github.com/aimhi-ai/callbridge/internal/realtime"
	"github.com/aimhi-ai/callbridge/internal/transcript"
	"github.com/aimhi-ai/callbridge/internal/voice"
)

// Media-stream envelopes, inbound and outbound.

type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
}

type twilioStart struct {
	StreamSID  string `json:"streamSid"`
	CallSID    string `json:"callSid"`
	AccountSID string `json:"accountSid,omitempty"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

type outboundMedia struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Media     twilioMedia `json:"media"`
}

// twilioConn is the telephony leg of the relay. *websocket.Conn satisfies
// it; tests substitute a fake.
type twilioConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// aiSession is the voice-AI leg. *realtime.Client satisfies it.
type aiSession interface {
	Events() <-chan realtime.Event
	UpdateSession(cfg realtime.SessionConfig) error
	AppendAudio(audioB64 string) error
	CreateResponse(instructions string) error
	Close() error
}

// RelayConfig carries the per-call policy knobs.
type RelayConfig struct {
	// MaxDuration is the lifecycle ceiling for a call.
	MaxDuration time.Duration

	// GraceDelay is the pause between a detected termination condition and
	// actually closing both legs, so a final spoken line can complete.
	GraceDelay time.Duration

	Script ScriptConfig
}

// Relay bridges one call: it owns the telephony connection and the voice-AI
// session, translates envelopes between them, drives the conversation
// script, records the transcript, and enforces the lifecycle ceiling. One
// goroutine runs the whole call; nothing here is shared across calls except
// the context store and recorder, which lock internally.
type Relay struct {
	id       string
	twilio   twilioConn
	ai       aiSession
	contexts *callcontext.Store
	recorder *transcript.Recorder
	cfg      RelayConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	streamSID string
	callSID   string
	startTime time.Time
	started   bool

	script *Script
	agent  transcript.Accumulator

	lifecycle  *time.Timer
	timerDone  bool // stopped or fired, exactly once either way
	grace      *time.Timer
	endReason  voice.EndReason
	concluding bool
}

// NewRelay wires a relay for one call. The voice-AI session must already be
// connected; a failed dial is the supervisor's problem and the telephony
// connection never reaches a relay in that case.
func NewRelay(twilio twilioConn, ai aiSession, contexts *callcontext.Store, recorder *transcript.Recorder, cfg RelayConfig, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Relay {
	return &Relay{
		id:       uuid.New().String(),
		twilio:   twilio,
		ai:       ai,
		contexts: contexts,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// CallSID returns the provider call id, empty until the start envelope
// arrives. Only meaningful to read after Run returns.
func (r *Relay) CallSID() string {
	return r.callSID
}

// Run executes the call to completion. It returns after both legs are
// closed and the transcript is finalized.
func (r *Relay) Run(ctx context.Context) {
	ctx = context.WithValue(ctx, observability.SessionIDKey, r.id)

	ctx, span := r.tracer.TraceCallSession(ctx, r.id)
	defer span.End()

	msgs := make(chan twilioMessage, 64)
	go r.readTelephony(ctx, msgs)

	var lifecycleC, graceC <-chan time.Time

	for {
		if r.lifecycle != nil {
			lifecycleC = r.lifecycle.C
		}
		if r.grace != nil {
			graceC = r.grace.C
		}

		select {
		case msg, ok := <-msgs:
			if !ok {
				// Caller hung up or the telephony leg dropped.
				r.teardown(ctx, voice.EndReasonCompleted)
				return
			}
			if done := r.handleTelephony(ctx, msg); done {
				return
			}

		case event, ok := <-r.ai.Events():
			if !ok {
				// Any voice-AI disconnection ends the call; there is no
				// reconnect policy.
				r.logger.Warn(ctx, "voice-AI session closed mid-call", "call_sid", r.callSID)
				r.teardown(ctx, voice.EndReasonTransportError)
				return
			}
			r.handleRealtime(ctx, event)

		case <-lifecycleC:
			r.timerDone = true
			r.lifecycle = nil
			r.logger.Info(ctx, "call reached maximum duration", "call_sid", r.callSID)
			if err := r.ai.CreateResponse(r.goodbyeInstructions()); err != nil {
				r.logger.Warn(ctx, "failed to request goodbye line", "error", err)
			}
			r.scheduleTermination(ctx, voice.EndReasonTimeout)

		case <-graceC:
			r.grace = nil
			r.teardown(ctx, r.endReason)
			return

		case <-ctx.Done():
			r.teardown(ctx, voice.EndReasonTransportError)
			return
		}
	}
}

// readTelephony pumps inbound frames into the relay loop. Malformed frames
// are logged and dropped; the channel closes when the connection does.
func (r *Relay) readTelephony(ctx context.Context, msgs chan<- twilioMessage) {
	defer close(msgs)

	for {
		_, data, err := r.twilio.ReadMessage()
		if err != nil {
			return
		}

		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Warn(ctx, "dropping malformed media-stream frame", "error", err)
			r.metrics.ErrorCounter.WithLabelValues("relay", "malformed_frame").Inc()
			continue
		}

		select {
		case msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// handleTelephony dispatches one inbound media-stream envelope. It returns
// true when the relay loop should exit.
func (r *Relay) handleTelephony(ctx context.Context, msg twilioMessage) bool {
	switch msg.Event {
	case "connected":
		r.logger.Debug(ctx, "media stream connected")

	case "start":
		if msg.Start == nil {
			r.logger.Warn(ctx, "start event without payload")
			return false
		}
		r.begin(ctx, msg.Start.StreamSID, msg.Start.CallSID)

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return false
		}
		if err := r.ai.AppendAudio(msg.Media.Payload); err != nil {
			r.logger.Warn(ctx, "failed to forward caller audio", "error", err)
			r.metrics.ErrorCounter.WithLabelValues("relay", "audio_forward").Inc()
			return false
		}
		r.metrics.AudioFrames.WithLabelValues("inbound").Inc()

	case "mark":
		r.logger.Debug(ctx, "media stream mark")

	case "stop":
		r.logger.Info(ctx, "media stream stopped", "call_sid", r.callSID)
		r.teardown(ctx, voice.EndReasonCompleted)
		return true

	default:
		r.logger.Warn(ctx, "dropping unknown media-stream event", "event", msg.Event)
		r.metrics.ErrorCounter.WithLabelValues("relay", "unknown_event").Inc()
	}

	return false
}

// begin records the call session once the start envelope arrives: resolve
// context, open the transcript, start the lifecycle timer, and push the
// opening script.
func (r *Relay) begin(ctx context.Context, streamSID, callSID string) {
	if r.started {
		r.logger.Warn(ctx, "duplicate start event ignored", "stream_sid", streamSID)
		return
	}
	r.started = true
	r.streamSID = streamSID
	r.callSID = callSID
	r.startTime = time.Now()

	callCtx, source := r.contexts.Resolve(callSID)
	r.tracer.SetAttributes(observability.SpanFromContext(ctx),
		"call_sid", callSID,
		"stream_sid", streamSID,
		"context_source", string(source))
	r.logger.Info(ctx, "call started",
		"stream_sid", streamSID,
		"call_sid", callSID,
		"context_source", string(source),
		"candidate", callCtx.CandidateName)

	r.metrics.CallsStarted.Inc()
	r.metrics.ActiveCalls.Inc()

	r.recorder.Open(streamSID, callSID, r.startTime, callCtx)
	r.script = NewScript(r.cfg.Script, callCtx)
	r.lifecycle = time.NewTimer(r.cfg.MaxDuration)

	if err := r.ai.UpdateSession(r.script.SessionConfig()); err != nil {
		r.logger.Error(ctx, "failed to configure voice-AI session", "error", err)
		r.metrics.ErrorCounter.WithLabelValues("relay", "session_config").Inc()
		return
	}
	if err := r.ai.CreateResponse(r.script.OpeningInstructions()); err != nil {
		r.logger.Error(ctx, "failed to request opening line", "error", err)
		r.metrics.ErrorCounter.WithLabelValues("relay", "session_config").Inc()
	}
}

// handleRealtime dispatches one voice-AI event.
func (r *Relay) handleRealtime(ctx context.Context, event realtime.Event) {
	switch event.Type {
	case realtime.EventSessionUpdated:
		r.logger.Debug(ctx, "voice-AI session updated")

	case realtime.EventResponseAudioDelta:
		if event.Delta == "" || r.streamSID == "" {
			return
		}
		frame := outboundMedia{
			Event:     "media",
			StreamSID: r.streamSID,
			Media:     twilioMedia{Payload: event.Delta},
		}
		_ = r.twilio.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := r.twilio.WriteJSON(frame); err != nil {
			r.logger.Warn(ctx, "failed to forward agent audio", "error", err)
			r.metrics.ErrorCounter.WithLabelValues("relay", "audio_forward").Inc()
			return
		}
		r.metrics.AudioFrames.WithLabelValues("outbound").Inc()

	case realtime.EventInputTranscriptionCompleted:
		r.onCallerLine(ctx, event.Transcript)

	case realtime.EventResponseAudioTranscriptDelta:
		r.agent.Add(event.Delta)

	case realtime.EventResponseAudioTranscriptDone:
		text := event.Transcript
		if text == "" {
			text = r.agent.Take()
		} else {
			r.agent.Take()
		}
		r.onAgentLine(ctx, text)

	case realtime.EventSpeechStarted, realtime.EventSpeechStopped:
		r.logger.Debug(ctx, "caller speech boundary", "event", event.Type)

	case realtime.EventResponseDone:
		r.logger.Debug(ctx, "voice-AI response complete")

	case realtime.EventError:
		// Logged with full detail; the call continues while audio still
		// flows, and ends through the normal close paths otherwise.
		code, message := "", ""
		if event.Error != nil {
			code, message = event.Error.Code, event.Error.Message
		}
		r.logger.Error(ctx, "voice-AI error event",
			"call_sid", r.callSID, "code", code, "message", message)
		r.metrics.ErrorCounter.WithLabelValues("realtime", "service_error").Inc()

	default:
		r.logger.Debug(ctx, "ignoring voice-AI event", "event", event.Type)
	}
}

// onCallerLine records a completed caller utterance, checks it for a
// conclusion phrase, and advances the script.
func (r *Relay) onCallerLine(ctx context.Context, text string) {
	if text == "" || r.script == nil {
		return
	}

	r.recorder.Append(r.streamSID, transcript.SpeakerUser, text)

	if DetectConclusion(text) {
		r.scheduleTermination(ctx, voice.EndReasonConclusion)
	}

	outcome := r.script.ObserveCaller(text)
	if outcome.End {
		if outcome.Respond != "" {
			if err := r.ai.CreateResponse(outcome.Respond); err != nil {
				r.logger.Warn(ctx, "failed to request closing line", "error", err)
			}
		}
		r.scheduleTermination(ctx, outcome.EndReason)
		return
	}
	if outcome.Reconfigure {
		if err := r.ai.UpdateSession(r.script.SessionConfig()); err != nil {
			r.logger.Warn(ctx, "failed to resend session config", "error", err)
			r.metrics.ErrorCounter.WithLabelValues("relay", "session_config").Inc()
		}
	}
}

// onAgentLine records a completed agent utterance and checks it for a
// conclusion phrase.
func (r *Relay) onAgentLine(ctx context.Context, text string) {
	if text == "" {
		return
	}

	r.recorder.Append(r.streamSID, transcript.AgentSpeaker(r.cfg.Script.AgentName), text)

	if DetectConclusion(text) {
		r.scheduleTermination(ctx, voice.EndReasonConclusion)
	}
}

// scheduleTermination arms the grace timer once; the first reason wins.
// Termination is not cancellable after this point.
func (r *Relay) scheduleTermination(ctx context.Context, reason voice.EndReason) {
	if r.concluding {
		return
	}
	r.concluding = true
	r.endReason = reason
	r.grace = time.NewTimer(r.cfg.GraceDelay)
	r.logger.Info(ctx, "termination scheduled",
		"call_sid", r.callSID, "reason", string(reason), "grace", r.cfg.GraceDelay.String())
}

func (r *Relay) goodbyeInstructions() string {
	if r.script != nil {
		return r.script.GoodbyeInstructions()
	}
	return "Politely wrap up the call now in one short sentence and say goodbye."
}

// teardown closes both legs, finalizes the transcript, cancels the
// lifecycle timer, and clears the call context. Safe on a session that
// never saw a start envelope.
func (r *Relay) teardown(ctx context.Context, reason voice.EndReason) {
	if r.lifecycle != nil && !r.timerDone {
		r.lifecycle.Stop()
		r.timerDone = true
	}
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}

	if r.streamSID != "" {
		r.recorder.Close(r.streamSID)
	}
	if err := r.ai.Close(); err != nil {
		r.logger.Debug(ctx, "voice-AI close", "error", err)
	}
	if err := r.twilio.Close(); err != nil {
		r.logger.Debug(ctx, "telephony close", "error", err)
	}
	if r.callSID != "" {
		r.contexts.Clear(r.callSID)
	}

	if r.started {
		r.metrics.ActiveCalls.Dec()
		r.metrics.CallsEnded.WithLabelValues(string(reason)).Inc()
		r.metrics.CallDuration.Observe(time.Since(r.startTime).Seconds())
	}
	r.tracer.AddEvent(observability.SpanFromContext(ctx), "call_ended", "reason", string(reason))

	r.logger.Info(ctx, "call ended",
		"call_sid", r.callSID,
		"stream_sid", r.streamSID,
		"reason", string(reason))
}
