package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/config"
	"github.com/aimhi-ai/callbridge/internal/observability"
	"github.com/aimhi-ai/callbridge/internal/realtime"
	"github.com/aimhi-ai/callbridge/internal/schedule"
	"github.com/aimhi-ai/callbridge/internal/transcript"
	"github.com/aimhi-ai/callbridge/internal/voice"
)

// aiDialer opens the voice-AI leg for one call. Overridable in tests.
type aiDialer func(ctx context.Context) (aiSession, error)

// Supervisor owns the listeners: it accepts media-stream connections and
// runs one Relay per call, serves the call-initiation API and the TwiML
// webhooks, exposes metrics, and runs the periodic transcript sweep.
type Supervisor struct {
	cfg      *config.Config
	contexts *callcontext.Store
	recorder *transcript.Recorder
	provider *voice.TwilioProvider
	sweeper  *schedule.Sweeper
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	dialAI   aiDialer
	upgrader websocket.Upgrader

	appServer     *http.Server
	metricsServer *http.Server
	scheduler     *cron.Cron

	wg sync.WaitGroup
}

// NewSupervisor assembles the bridge service. The Twilio provider is
// optional: without credentials the media-stream and webhook surfaces still
// run, but outbound dialing returns an error.
func NewSupervisor(cfg *config.Config, contexts *callcontext.Store, recorder *transcript.Recorder, provider *voice.TwilioProvider, sweeper *schedule.Sweeper, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		contexts: contexts,
		recorder: recorder,
		provider: provider,
		sweeper:  sweeper,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header worth checking.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.dialAI = func(ctx context.Context) (aiSession, error) {
		return realtime.Dial(ctx, realtime.Config{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.RealtimeModel,
		}, logger, metrics)
	}
	return s
}

// Start brings up both HTTP servers and the extraction schedule. It blocks
// until ctx is canceled, then shuts everything down and waits for active
// calls to finish their teardown.
func (s *Supervisor) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.appServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}

	go func() {
		if err := s.appServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "app server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "bridge listening", "addr", addr, "stream_path", s.cfg.Server.StreamPath)

	if err := s.startMetricsServer(ctx); err != nil {
		return err
	}
	s.startExtractionSchedule(ctx)

	<-ctx.Done()
	s.shutdown()
	return nil
}

// routes builds the app-server handler. Split out so socket-level tests can
// mount it on an httptest server.
func (s *Supervisor) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.StreamPath, s.handleMediaStream(ctx))
	mux.HandleFunc("/incoming-call", s.handleIncomingCall)
	mux.HandleFunc("/api/calls", s.handleInitiateCall)
	mux.HandleFunc("/api/calls/batch", s.handleStageBatch)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Supervisor) startMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MetricsPort)
	s.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: metrics listen %s: %w", addr, err)
	}

	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "metrics server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "metrics listening", "addr", addr)

	return nil
}

func (s *Supervisor) startExtractionSchedule(ctx context.Context) {
	if s.sweeper == nil || s.cfg.Transcripts.ExtractSchedule == "" {
		return
	}

	s.scheduler = cron.New()
	_, err := s.scheduler.AddFunc(s.cfg.Transcripts.ExtractSchedule, func() {
		results, err := s.sweeper.ProcessAll(ctx)
		if err != nil {
			s.logger.Warn(ctx, "transcript sweep failed", "error", err)
			return
		}
		s.logger.Info(ctx, "transcript sweep complete", "files", len(results))
	})
	if err != nil {
		s.logger.Warn(ctx, "invalid extraction schedule, sweep disabled",
			"schedule", s.cfg.Transcripts.ExtractSchedule, "error", err)
		s.scheduler = nil
		return
	}
	s.scheduler.Start()
	s.logger.Info(ctx, "transcript sweep scheduled", "schedule", s.cfg.Transcripts.ExtractSchedule)
}

func (s *Supervisor) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if s.appServer != nil {
		_ = s.appServer.Shutdown(shutdownCtx)
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	s.wg.Wait()
}

// handleMediaStream upgrades the telephony connection and runs one relay
// per call. A failed voice-AI dial closes the telephony leg immediately
// rather than leaving a half-open bridge.
func (s *Supervisor) handleMediaStream(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn(ctx, "media-stream upgrade failed", "error", err)
			return
		}
		s.logger.Info(ctx, "media-stream connection accepted", "remote", r.RemoteAddr)

		dialCtx, dialSpan := s.tracer.TraceAIDial(ctx, s.cfg.OpenAI.RealtimeModel)
		ai, err := s.dialAI(dialCtx)
		if err != nil {
			s.tracer.RecordError(dialSpan, err)
			dialSpan.End()
			s.logger.Error(ctx, "voice-AI dial failed, dropping call", "error", err)
			s.metrics.ErrorCounter.WithLabelValues("supervisor", "ai_dial").Inc()
			_ = conn.Close()
			return
		}
		dialSpan.End()

		relay := NewRelay(conn, ai, s.contexts, s.recorder, RelayConfig{
			MaxDuration: s.cfg.Call.MaxDuration,
			GraceDelay:  s.cfg.Call.GraceDelay,
			Script: ScriptConfig{
				AgentName:          s.cfg.Call.AgentName,
				CompanyName:        s.cfg.Call.CompanyName,
				Voice:              s.cfg.OpenAI.Voice,
				Temperature:        s.cfg.OpenAI.Temperature,
				TranscriptionModel: s.cfg.OpenAI.TranscriptionModel,
			},
		}, s.logger, s.metrics, s.tracer)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			relay.Run(ctx)
			s.hangupLeftover(ctx, relay.CallSID())
		}()
	}
}

// hangupLeftover ends the provider side of a call after relay teardown.
// Closing the media stream usually drops the call already, so this is a
// best-effort sweep for carrier legs that linger after a timeout or a
// scripted conclusion.
func (s *Supervisor) hangupLeftover(ctx context.Context, callSID string) {
	if s.provider == nil || callSID == "" {
		return
	}

	// The server context may already be canceled during shutdown.
	hangupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.provider.HangupCall(hangupCtx, callSID); err != nil {
		s.logger.Warn(ctx, "leftover hangup failed", "call_sid", callSID, "error", err)
		s.metrics.ErrorCounter.WithLabelValues("supervisor", "hangup").Inc()
	}
}

// handleIncomingCall answers Twilio's voice webhook with the TwiML that
// joins the call to the media stream, and absorbs status callbacks sent to
// the same URL with ?type=status.
func (s *Supervisor) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		http.Error(w, "telephony not configured", http.StatusServiceUnavailable)
		return
	}
	if !s.verifyTwilioRequest(w, r) {
		return
	}

	if r.URL.Query().Get("type") == "status" {
		s.handleStatusCallback(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, s.provider.IncomingCallTwiML())
}

func (s *Supervisor) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if event := s.provider.ParseStatusCallback(r.PostForm); event != nil {
		s.logger.Info(r.Context(), "call status",
			"call_sid", event.CallSID,
			"event", string(event.Type),
			"reason", string(event.Reason))
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, s.provider.StatusCallbackTwiML())
}

// verifyTwilioRequest checks the X-Twilio-Signature on a webhook request,
// answering 403 on a missing or wrong signature. The body is restored for
// the handler. Verification can be skipped via config for local testing.
func (s *Supervisor) verifyTwilioRequest(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Twilio.SkipWebhookVerification {
		return true
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ok, err := s.provider.VerifyWebhook(s.requestURL(r), string(body), r.Header)
	if err != nil || !ok {
		s.logger.Warn(r.Context(), "rejecting webhook with bad signature",
			"remote", r.RemoteAddr, "error", err)
		s.metrics.ErrorCounter.WithLabelValues("supervisor", "webhook_signature").Inc()
		http.Error(w, "signature verification failed", http.StatusForbidden)
		return false
	}
	return true
}

// requestURL reconstructs the full URL Twilio signed. Twilio signs the
// public URL, so the forwarded proto from the tunnel/proxy wins over the
// local listener's scheme.
func (s *Supervisor) requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.RequestURI
}

// initiateCallRequest is the call-initiation API payload. Job details are
// optional; with only a name the conversation still verifies identity.
type initiateCallRequest struct {
	PhoneNumber   string                 `json:"phoneNumber"`
	CandidateName string                 `json:"candidateName"`
	Job           callcontext.JobDetails `json:"jobDetails"`

	// CandidateKey selects a previously staged batch entry instead of the
	// inline fields.
	CandidateKey string `json:"candidateKey,omitempty"`
}

type initiateCallResponse struct {
	RequestID string `json:"requestId"`
	CallSID   string `json:"callSid"`
	Status    string `json:"status"`
}

// handleInitiateCall stages call context and dials the candidate. Context
// is staged before the dial so the start event can resolve it even if the
// provider reports the call id late.
func (s *Supervisor) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.provider == nil {
		http.Error(w, "telephony not configured", http.StatusServiceUnavailable)
		return
	}

	ctx, span := s.tracer.TraceHTTPRequest(r.Context(), r.Method, "/api/calls")
	defer span.End()

	var req initiateCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phoneNumber is required", http.StatusBadRequest)
		return
	}

	name, job := req.CandidateName, req.Job
	if req.CandidateKey != "" {
		if staged, ok := s.contexts.LookupBatch(req.CandidateKey); ok {
			name, job = staged.CandidateName, staged.Job
		}
	}
	if name == "" {
		http.Error(w, "candidateName is required", http.StatusBadRequest)
		return
	}

	s.contexts.Prepare(name, job)

	result, err := s.provider.InitiateCall(ctx, req.PhoneNumber, s.webhookURL())
	if err != nil {
		s.tracer.RecordError(span, err)
		s.logger.Error(ctx, "call initiation failed", "error", err, "candidate", name)
		s.metrics.ErrorCounter.WithLabelValues("supervisor", "initiate_call").Inc()
		http.Error(w, "call initiation failed", http.StatusBadGateway)
		return
	}

	// Bind the context to the call id now that the provider assigned one;
	// the staged slot stays available for back-to-back dials.
	s.contexts.Attach(result.CallSID, name, job)

	s.tracer.SetAttributes(span, "call_sid", result.CallSID)
	s.logger.Info(ctx, "call initiated",
		"call_sid", result.CallSID, "candidate", name, "status", result.Status)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(initiateCallResponse{
		RequestID: uuid.New().String(),
		CallSID:   result.CallSID,
		Status:    result.Status,
	})
}

// stageBatchRequest stages context for a batch of calls about to be dialed,
// keyed by candidate key. Entries are later selected by candidateKey on
// /api/calls.
type stageBatchRequest struct {
	Candidates map[string]callcontext.Context `json:"candidates"`
}

type stageBatchResponse struct {
	Staged int `json:"staged"`
}

// handleStageBatch replaces the batch context tier with the posted
// candidates. Staging needs no telephony provider; the dials come later.
func (s *Supervisor) handleStageBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req stageBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Candidates) == 0 {
		http.Error(w, "candidates is required", http.StatusBadRequest)
		return
	}
	for key, c := range req.Candidates {
		if c.CandidateName == "" {
			http.Error(w, fmt.Sprintf("candidate %q is missing candidateName", key), http.StatusBadRequest)
			return
		}
	}

	s.contexts.PrepareBatch(req.Candidates)
	s.logger.Info(r.Context(), "batch context staged", "candidates", len(req.Candidates))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stageBatchResponse{Staged: len(req.Candidates)})
}

func (s *Supervisor) webhookURL() string {
	if url := s.provider.WebhookURL(); url != "" {
		return url
	}
	return fmt.Sprintf("https://%s:%d/incoming-call", s.cfg.Server.Host, s.cfg.Server.Port)
}

func (s *Supervisor) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
