package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/observability"
)

// Config holds the upstream synthesis endpoint settings.
type Config struct {
	WSBaseURL      string
	APIKey         string
	ConnectTimeout time.Duration
	SampleRate     int
}

type configureMessage struct {
	Type       string  `json:"type"`
	Language   string  `json:"language"`
	VoiceID    string  `json:"voice_id"`
	Style      string  `json:"style"`
	Rate       float64 `json:"rate"`
	Pitch      float64 `json:"pitch"`
	Variation  float64 `json:"variation"`
	SampleRate int     `json:"sample_rate"`
}

// Transport opens real websocket links against the synthesis vendor.
type Transport struct {
	cfg       Config
	publisher broadcast.Publisher
	metrics   *observability.Metrics
	dialer    *websocket.Dialer

	mu       sync.Mutex
	onClosed ClosedHook
}

func NewTransport(cfg Config, publisher broadcast.Publisher, metrics *observability.Metrics) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Transport{
		cfg:       cfg,
		publisher: publisher,
		metrics:   metrics,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
	}
}

// SetClosedHook wires link teardown notifications, normally into the pool.
func (t *Transport) SetClosedHook(hook ClosedHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = hook
}

func (t *Transport) closedHook() ClosedHook {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onClosed
}

// Open establishes the transport, sends the voice-configuration control
// message and returns only once the stream is ready. The connect timeout
// covers both the handshake and configuration.
func (t *Transport) Open(ctx context.Context, sessionID, language string, sel Selection) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	u, err := url.Parse(strings.TrimRight(t.cfg.WSBaseURL, "/") + "/v1/synthesis/stream")
	if err != nil {
		return nil, fmt.Errorf("parse synthesis url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("language", language)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if t.cfg.APIKey != "" {
		headers.Set("X-Api-Key", t.cfg.APIKey)
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial synthesis websocket: %w", err)
	}

	cfgMsg := configureMessage{
		Type:       "configure",
		Language:   language,
		VoiceID:    sel.VoiceID,
		Style:      sel.Style,
		Rate:       sel.Rate,
		Pitch:      sel.Pitch,
		Variation:  sel.Variation,
		SampleRate: t.cfg.SampleRate,
	}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure voice: %w", err)
	}

	return StartLink(sessionID, language, sel, conn, t.publisher, t.closedHook(), t.metrics), nil
}
