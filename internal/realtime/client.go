package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aimhi-ai/callbridge/internal/observability"
)

// DefaultURL is the realtime API endpoint; the model is passed as a query
// parameter.
const DefaultURL = "wss://api.openai.com/v1/realtime"

const (
	writeTimeout   = 10 * time.Second
	eventBuffer    = 64
	maxMessageSize = 4 << 20
)

// Config holds connection parameters for a realtime session.
type Config struct {
	// APIKey authenticates the session (required).
	APIKey string

	// Model selects the realtime model (required).
	Model string

	// URL overrides the API endpoint; used in tests.
	URL string
}

// Client is a single realtime session over WebSocket. Events arrive on the
// channel returned by Events; sends are safe for concurrent use. The channel
// closes when the connection drops or Close is called.
type Client struct {
	conn    *websocket.Conn
	logger  *observability.Logger
	metrics *observability.Metrics

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a realtime session and starts the read pump.
func Dial(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("realtime: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("realtime: model is required")
	}

	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:    conn,
		logger:  logger,
		metrics: metrics,
		events:  make(chan Event, eventBuffer),
	}
	go c.readLoop(ctx)

	return c, nil
}

// Events returns the inbound event stream. The channel closes once the
// session ends; the relay treats that as the AI leg dropping.
func (c *Client) Events() <-chan Event {
	return c.events
}

// UpdateSession sends a full session.update. Callers always send the
// complete session state, never a partial patch.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	return c.send(sessionUpdateMessage{Type: "session.update", Session: cfg})
}

// AppendAudio forwards a base64 G.711 u-law frame to the input buffer.
func (c *Client) AppendAudio(audioB64 string) error {
	return c.send(audioAppendMessage{Type: "input_audio_buffer.append", Audio: audioB64})
}

// CreateResponse asks the model to speak. With empty instructions the
// session-level instructions apply.
func (c *Client) CreateResponse(instructions string) error {
	msg := responseCreateMessage{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseParams{
			Modalities:   []string{"text", "audio"},
			Instructions: instructions,
		}
	}
	return c.send(msg)
}

// InjectAssistantMessage places a scripted assistant utterance into the
// conversation so the model treats it as something it already said.
func (c *Client) InjectAssistantMessage(text string) error {
	return c.send(itemCreateMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "assistant",
			Content: []itemContent{{Type: "text", Text: text}},
		},
	})
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("realtime: set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// readLoop decodes server events onto the events channel. Malformed frames
// are logged and dropped; the session survives them.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(ctx, "realtime connection closed", "error", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn(ctx, "dropping malformed realtime event", "error", err)
			c.metrics.ErrorCounter.WithLabelValues("realtime", "malformed_event").Inc()
			continue
		}
		if event.Type == "" {
			c.logger.Warn(ctx, "dropping realtime event without type")
			c.metrics.ErrorCounter.WithLabelValues("realtime", "malformed_event").Inc()
			continue
		}

		c.metrics.RealtimeEvents.WithLabelValues(event.Type).Inc()

		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		}
	}
}
