package voice

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// TwilioProvider places outbound calls via the Twilio Voice API and builds
// the TwiML that joins answered calls to the media-stream WebSocket.
//
// Thread Safety:
// TwilioProvider is safe for concurrent use.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	fromNumber string
	publicURL  string
	streamPath string

	client *http.Client
}

// TwilioConfig holds configuration for the Twilio provider.
type TwilioConfig struct {
	// AccountSID is the Twilio account SID (required)
	AccountSID string

	// AuthToken is the Twilio auth token (required)
	AuthToken string

	// FromNumber is the E.164 caller ID for outbound calls
	FromNumber string

	// PublicURL is the externally reachable base URL (optional; without it
	// incoming calls get a polite unavailable message instead of a stream)
	PublicURL string

	// StreamPath is the media-stream WebSocket path
	StreamPath string

	// BaseURL overrides the Twilio API endpoint; used in tests.
	BaseURL string
}

// NewTwilioProvider creates a new Twilio voice provider.
func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("twilio: auth token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}

	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    fmt.Sprintf("%s/2010-04-01/Accounts/%s", baseURL, cfg.AccountSID),
		fromNumber: cfg.FromNumber,
		publicURL:  cfg.PublicURL,
		streamPath: cfg.StreamPath,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// InitiateCall starts an outbound call that will hit webhookURL when
// answered; the webhook responds with the stream-connect TwiML.
func (p *TwilioProvider) InitiateCall(ctx context.Context, to, webhookURL string) (*InitiateCallResult, error) {
	if to == "" {
		return nil, errors.New("twilio: destination number is required")
	}
	if p.fromNumber == "" {
		return nil, errors.New("twilio: from number is not configured")
	}
	if webhookURL == "" {
		return nil, errors.New("twilio: webhook URL is required")
	}

	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("twilio: invalid webhook URL: %w", err)
	}
	statusURL := *u
	sq := statusURL.Query()
	sq.Set("type", "status")
	statusURL.RawQuery = sq.Encode()

	params := url.Values{
		"To":                  {to},
		"From":                {p.fromNumber},
		"Url":                 {webhookURL},
		"StatusCallback":      {statusURL.String()},
		"StatusCallbackEvent": {"initiated", "ringing", "answered", "completed"},
		"Timeout":             {"30"},
	}

	resp, err := p.apiRequest(ctx, "/Calls.json", params)
	if err != nil {
		return nil, fmt.Errorf("twilio: failed to initiate call: %w", err)
	}

	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("twilio: failed to parse response: %w", err)
	}

	status := "initiated"
	if result.Status == "queued" {
		status = "queued"
	}

	return &InitiateCallResult{CallSID: result.SID, Status: status}, nil
}

// HangupCall ends an active call.
func (p *TwilioProvider) HangupCall(ctx context.Context, callSID string) error {
	params := url.Values{
		"Status": {"completed"},
	}

	_, err := p.apiRequest(ctx, fmt.Sprintf("/Calls/%s.json", callSID), params)
	if err != nil && !strings.Contains(err.Error(), "404") {
		return fmt.Errorf("twilio: failed to hangup call: %w", err)
	}

	return nil
}

// IncomingCallTwiML builds the TwiML response that connects an answered
// call to the media-stream WebSocket. Without a public URL the caller hears
// an unavailable message instead, as there is nothing to connect to.
func (p *TwilioProvider) IncomingCallTwiML() string {
	if streamURL := p.StreamURL(); streamURL != "" {
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s" />
  </Connect>
</Response>`, escapeXML(streamURL))
	}

	return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say>Sorry, the AI service is not available right now.</Say>
</Response>`
}

// StatusCallbackTwiML is the empty TwiML acknowledgment for status events.
func (p *TwilioProvider) StatusCallbackTwiML() string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
}

// ParseStatusCallback converts status-callback form params to a normalized
// event. Returns nil for statuses the bridge does not track.
func (p *TwilioProvider) ParseStatusCallback(params url.Values) *CallEvent {
	event := &CallEvent{
		CallSID:   params.Get("CallSid"),
		Timestamp: time.Now(),
		From:      params.Get("From"),
		To:        params.Get("To"),
	}

	switch params.Get("CallStatus") {
	case "initiated":
		event.Type = EventCallInitiated
	case "ringing":
		event.Type = EventCallRinging
	case "in-progress":
		event.Type = EventCallAnswered
	case "completed":
		event.Type = EventCallEnded
		event.Reason = EndReasonCompleted
	case "busy":
		event.Type = EventCallEnded
		event.Reason = EndReasonBusy
	case "no-answer":
		event.Type = EventCallEnded
		event.Reason = EndReasonNoAnswer
	case "failed", "canceled":
		event.Type = EventCallEnded
		event.Reason = EndReasonFailed
	default:
		return nil
	}

	return event
}

// VerifyWebhook validates webhook authenticity using HMAC-SHA1 over the
// full URL plus the sorted form params, per Twilio's signature scheme.
func (p *TwilioProvider) VerifyWebhook(fullURL, body string, headers http.Header) (bool, error) {
	signature := headers.Get("X-Twilio-Signature")
	if signature == "" {
		return false, nil
	}

	params, err := url.ParseQuery(body)
	if err != nil {
		return false, fmt.Errorf("twilio: failed to parse body: %w", err)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sigString := fullURL
	for _, k := range keys {
		for _, v := range params[k] {
			sigString += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(p.authToken))
	mac.Write([]byte(sigString))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected)), nil
}

// StreamURL returns the wss:// URL Twilio should stream media to.
func (p *TwilioProvider) StreamURL() string {
	if p.publicURL == "" || p.streamPath == "" {
		return ""
	}

	u, err := url.Parse(p.publicURL)
	if err != nil {
		return ""
	}

	scheme := "wss"
	if u.Scheme == "http" {
		scheme = "ws"
	}

	return fmt.Sprintf("%s://%s%s", scheme, u.Host, p.streamPath)
}

// WebhookURL returns the voice webhook URL for outbound calls.
func (p *TwilioProvider) WebhookURL() string {
	if p.publicURL == "" {
		return ""
	}
	u, err := url.Parse(p.publicURL)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://%s/incoming-call", u.Host)
}

// apiRequest makes an authenticated request to the Twilio API.
func (p *TwilioProvider) apiRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := p.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, (1<<20)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > 1<<20 {
		return nil, fmt.Errorf("API response too large (%d bytes)", len(body))
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// escapeXML escapes special characters for XML content.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
