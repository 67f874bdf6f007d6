package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/observability"
	"github.com/aimhi-ai/callbridge/internal/realtime"
	"github.com/aimhi-ai/callbridge/internal/transcript"
)

// fakeTwilio implements twilioConn against in-memory channels.
type fakeTwilio struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []outboundMedia
}

func newFakeTwilio() *fakeTwilio {
	return &fakeTwilio{
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTwilio) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeTwilio) WriteJSON(v any) error {
	frame, ok := v.(outboundMedia)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	f.mu.Lock()
	f.written = append(f.written, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeTwilio) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTwilio) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTwilio) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTwilio) frames() []outboundMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outboundMedia(nil), f.written...)
}

// fakeAI implements aiSession and records everything sent to it.
type fakeAI struct {
	events chan realtime.Event

	mu        sync.Mutex
	updates   []realtime.SessionConfig
	responses []string
	audio     []string
	closed    bool
}

func newFakeAI() *fakeAI {
	return &fakeAI{events: make(chan realtime.Event, 32)}
}

func (f *fakeAI) Events() <-chan realtime.Event { return f.events }

func (f *fakeAI) UpdateSession(cfg realtime.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, cfg)
	return nil
}

func (f *fakeAI) AppendAudio(audioB64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audioB64)
	return nil
}

func (f *fakeAI) CreateResponse(instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, instructions)
	return nil
}

func (f *fakeAI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAI) snapshot() (updates []realtime.SessionConfig, responses, audio []string, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.SessionConfig(nil), f.updates...),
		append([]string(nil), f.responses...),
		append([]string(nil), f.audio...),
		f.closed
}

type relayHarness struct {
	t        *testing.T
	twilio   *fakeTwilio
	ai       *fakeAI
	store    *callcontext.Store
	recorder *transcript.Recorder
	dir      string
	done     chan struct{}
}

func newRelayHarness(t *testing.T, cfg RelayConfig) *relayHarness {
	t.Helper()

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	metrics := observability.NewMetrics()

	backend, err := callcontext.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h := &relayHarness{
		t:        t,
		twilio:   newFakeTwilio(),
		ai:       newFakeAI(),
		store:    callcontext.NewStore(backend, logger, metrics),
		dir:      t.TempDir(),
		done:     make(chan struct{}),
	}
	h.recorder = transcript.NewRecorder(h.dir, logger, metrics)

	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "callbridge-test"})
	relay := NewRelay(h.twilio, h.ai, h.store, h.recorder, cfg, logger, metrics, tracer)
	go func() {
		relay.Run(context.Background())
		close(h.done)
	}()

	return h
}

func defaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxDuration: time.Minute,
		GraceDelay:  20 * time.Millisecond,
		Script:      testScriptConfig(),
	}
}

func (h *relayHarness) send(frame string) {
	h.t.Helper()
	select {
	case h.twilio.inbound <- []byte(frame):
	case <-time.After(time.Second):
		h.t.Fatal("timed out sending telephony frame")
	}
}

func (h *relayHarness) sendStart(streamSID, callSID string) {
	h.send(fmt.Sprintf(`{"event":"start","start":{"streamSid":%q,"callSid":%q}}`, streamSID, callSID))
}

func (h *relayHarness) sendMedia(payload string) {
	h.send(fmt.Sprintf(`{"event":"media","media":{"payload":%q}}`, payload))
}

func (h *relayHarness) emit(event realtime.Event) {
	h.t.Helper()
	select {
	case h.ai.events <- event:
	case <-time.After(time.Second):
		h.t.Fatal("timed out emitting realtime event")
	}
}

func (h *relayHarness) hangup() {
	close(h.twilio.inbound)
}

func (h *relayHarness) waitDone() {
	h.t.Helper()
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		h.t.Fatal("relay did not finish")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func TestRelay_StartConfiguresPersonalizedSession(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.store.Prepare("Alex Rivera", callcontext.JobDetails{Title: "Backend Engineer"})

	h.sendStart("MZ123", "CA1234567890abcdef")

	waitFor(t, "session configured", func() bool {
		updates, responses, _, _ := h.ai.snapshot()
		return len(updates) == 1 && len(responses) == 1
	})

	updates, responses, _, _ := h.ai.snapshot()
	if updates[0].TurnDetection != nil {
		t.Error("initial session must disable turn detection")
	}
	if !strings.Contains(responses[0], "Alex") {
		t.Errorf("opening missing first name: %q", responses[0])
	}
	if strings.Contains(responses[0], "Rivera") {
		t.Errorf("opening leaks full name: %q", responses[0])
	}

	h.hangup()
	h.waitDone()
}

func TestRelay_AudioPassThroughPreservesOrder(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.sendStart("MZ1", "CA1")

	for _, payload := range []string{"p1", "p2", "p3"} {
		h.sendMedia(payload)
	}
	waitFor(t, "caller audio forwarded", func() bool {
		_, _, audio, _ := h.ai.snapshot()
		return len(audio) == 3
	})
	_, _, audio, _ := h.ai.snapshot()
	for i, want := range []string{"p1", "p2", "p3"} {
		if audio[i] != want {
			t.Errorf("audio[%d] = %q, want %q", i, audio[i], want)
		}
	}

	for _, delta := range []string{"a1", "a2"} {
		h.emit(realtime.Event{Type: realtime.EventResponseAudioDelta, Delta: delta})
	}
	waitFor(t, "agent audio forwarded", func() bool {
		return len(h.twilio.frames()) == 2
	})
	frames := h.twilio.frames()
	for i, want := range []string{"a1", "a2"} {
		if frames[i].Media.Payload != want {
			t.Errorf("frame[%d] payload = %q, want %q", i, frames[i].Media.Payload, want)
		}
		if frames[i].StreamSID != "MZ1" || frames[i].Event != "media" {
			t.Errorf("frame[%d] envelope = %+v", i, frames[i])
		}
	}

	h.hangup()
	h.waitDone()
}

func TestRelay_CallerReplyEnablesTurnDetection(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.store.Prepare("Alex Rivera", callcontext.JobDetails{Title: "Backend Engineer"})
	h.sendStart("MZ1", "CA1")

	waitFor(t, "initial session configured", func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 1
	})

	h.emit(realtime.Event{Type: realtime.EventInputTranscriptionCompleted, Transcript: "Yes, speaking"})

	waitFor(t, "session reconfigured", func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 2
	})
	updates, _, _, _ := h.ai.snapshot()
	if updates[1].TurnDetection == nil || updates[1].TurnDetection.Type != "server_vad" {
		t.Errorf("second session config turn detection = %+v", updates[1].TurnDetection)
	}
	if !strings.Contains(updates[1].Instructions, "Backend Engineer") {
		t.Error("role discussion instructions missing role title")
	}

	h.hangup()
	h.waitDone()
}

func TestRelay_IdentityMismatchEndsGracefully(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.store.Prepare("Alex Rivera", callcontext.JobDetails{Title: "Backend Engineer"})
	h.sendStart("MZ1", "CA1")

	waitFor(t, "session configured", func() bool {
		_, responses, _, _ := h.ai.snapshot()
		return len(responses) == 1
	})

	h.emit(realtime.Event{Type: realtime.EventInputTranscriptionCompleted, Transcript: "No, this is Jordan"})

	h.waitDone()

	_, responses, _, closed := h.ai.snapshot()
	if len(responses) < 2 {
		t.Fatalf("no apology line requested, responses = %v", responses)
	}
	if !strings.Contains(strings.ToLower(responses[1]), "wrong number") {
		t.Errorf("apology line = %q", responses[1])
	}
	if !closed || !h.twilio.isClosed() {
		t.Error("both legs must be closed after termination")
	}
}

func TestRelay_ConclusionPhraseTerminatesAfterGrace(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.sendStart("MZ1", "CA1")

	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDelta, Delta: "Thank you for your time, "})
	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDelta, Delta: "goodbye!"})
	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDone})

	start := time.Now()
	h.waitDone()
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("terminated before the grace window: %s", elapsed)
	}

	_, _, _, closed := h.ai.snapshot()
	if !closed || !h.twilio.isClosed() {
		t.Error("both legs must be closed after conclusion")
	}
}

func TestRelay_TimeoutSendsGoodbyeThenCloses(t *testing.T) {
	cfg := defaultRelayConfig()
	cfg.MaxDuration = 50 * time.Millisecond
	cfg.GraceDelay = 20 * time.Millisecond
	h := newRelayHarness(t, cfg)
	h.sendStart("MZ1", "CA1")

	h.waitDone()

	_, responses, _, closed := h.ai.snapshot()
	if len(responses) < 2 {
		t.Fatalf("no goodbye requested on timeout, responses = %v", responses)
	}
	if !strings.Contains(strings.ToLower(responses[len(responses)-1]), "goodbye") {
		t.Errorf("last response instructions = %q", responses[len(responses)-1])
	}
	if !closed || !h.twilio.isClosed() {
		t.Error("both legs must be closed after timeout")
	}
}

func TestRelay_MalformedFramesDropped(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.sendStart("MZ1", "CA1")

	h.send(`this is not json`)
	h.send(`{"event":"media"}`)
	h.sendMedia("good")

	waitFor(t, "valid media forwarded", func() bool {
		_, _, audio, _ := h.ai.snapshot()
		return len(audio) == 1
	})
	_, _, audio, _ := h.ai.snapshot()
	if audio[0] != "good" {
		t.Errorf("audio = %v", audio)
	}

	h.hangup()
	h.waitDone()
}

func TestRelay_AIDisconnectEndsCall(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.sendStart("MZ1", "CA1")

	waitFor(t, "session configured", func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 1
	})

	close(h.ai.events)
	h.waitDone()

	if !h.twilio.isClosed() {
		t.Error("telephony leg must close when the voice-AI leg drops")
	}
}

func TestRelay_HangupClearsAttachedContext(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.store.Attach("CA999", "Alex Rivera", callcontext.JobDetails{Title: "Backend Engineer"})
	h.sendStart("MZ1", "CA999")

	waitFor(t, "session configured", func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 1
	})

	h.hangup()
	h.waitDone()

	if _, ok := h.store.Lookup("CA999"); ok {
		t.Error("attached context must be cleared on teardown")
	}
}

func TestRelay_HangupBeforeStart(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.hangup()
	h.waitDone()

	_, _, _, closed := h.ai.snapshot()
	if !closed {
		t.Error("voice-AI leg must close even without a start envelope")
	}
}

func TestRelay_TranscriptRecordsBothParties(t *testing.T) {
	h := newRelayHarness(t, defaultRelayConfig())
	h.store.Prepare("Alex Rivera", callcontext.JobDetails{Title: "Backend Engineer"})
	h.sendStart("MZ1", "CA1234567890abcdef")

	h.emit(realtime.Event{Type: realtime.EventInputTranscriptionCompleted, Transcript: "Yes, speaking"})
	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDelta, Delta: "Great! "})
	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDelta, Delta: "Thanks."})
	h.emit(realtime.Event{Type: realtime.EventResponseAudioTranscriptDone})

	waitFor(t, "both lines processed", func() bool {
		updates, _, _, _ := h.ai.snapshot()
		return len(updates) == 2
	})

	h.hangup()
	h.waitDone()

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one transcript file, found %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(h.dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "User: Yes, speaking") {
		t.Errorf("caller line missing:\n%s", text)
	}
	if !strings.Contains(text, "AI Assistant (Sarah): Great! Thanks.") {
		t.Errorf("coalesced agent line missing:\n%s", text)
	}
	if !strings.Contains(text, "Call ended:") {
		t.Errorf("footer missing:\n%s", text)
	}
}
