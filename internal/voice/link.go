package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/observability"
	"github.com/lmoretti/voicedesk/internal/protocol"
	"github.com/lmoretti/voicedesk/internal/reliability"
)

var (
	ErrNotOpen   = errors.New("voice link is not open")
	ErrEmptyText = errors.New("text must not be blank")
)

type State string

const (
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosed  State = "closed"
)

// Selection carries the voice-configuration parameters sent upstream when a
// link is opened.
type Selection struct {
	VoiceID   string
	Style     string
	Rate      float64
	Pitch     float64
	Variation float64
}

// ClosedHook is invoked exactly once when a link leaves the open state, from
// either side. The pool uses it to reclaim capacity.
type ClosedHook func(l *Link, cause error)

// Conn is the subset of a websocket connection the link needs. It exists so
// tests can script inbound frames without a network.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Opener establishes one upstream streaming link for a session.
type Opener interface {
	Open(ctx context.Context, sessionID, language string, sel Selection) (*Link, error)
}

type synthesizeMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	EndOfUtterance bool   `json:"end_of_utterance"`
}

// Link owns exactly one upstream synthesis connection, scoped to one session.
// Decoded audio and error events flow out through the session broadcaster;
// the link never touches session state directly.
type Link struct {
	sessionID string
	language  string
	selection Selection

	conn      Conn
	publisher broadcast.Publisher
	onClosed  ClosedHook
	metrics   *observability.Metrics
	createdAt time.Time

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	lastUsed time.Time
	seq      int

	closeOnce sync.Once
}

// StartLink wraps an established connection and starts its read loop. The
// connection must already be configured; callers normally go through an
// Opener rather than calling this directly.
func StartLink(sessionID, language string, sel Selection, conn Conn, publisher broadcast.Publisher, onClosed ClosedHook, metrics *observability.Metrics) *Link {
	now := time.Now()
	l := &Link{
		sessionID: sessionID,
		language:  language,
		selection: sel,
		conn:      conn,
		publisher: publisher,
		onClosed:  onClosed,
		metrics:   metrics,
		createdAt: now,
		state:     StateOpen,
		lastUsed:  now,
	}
	go l.readLoop()
	return l
}

func (l *Link) SessionID() string    { return l.sessionID }
func (l *Link) Language() string     { return l.language }
func (l *Link) Selection() Selection { return l.selection }
func (l *Link) CreatedAt() time.Time { return l.createdAt }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) LastUsed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

// SendText submits one utterance for synthesis. A write failure closes the
// link and notifies the pool; the caller decides whether to degrade.
func (l *Link) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	l.mu.Lock()
	if l.state != StateOpen {
		l.mu.Unlock()
		return ErrNotOpen
	}
	l.mu.Unlock()

	msg := synthesizeMessage{Type: "synthesize", Text: text, EndOfUtterance: true}
	l.writeMu.Lock()
	err := l.conn.WriteJSON(msg)
	l.writeMu.Unlock()
	if err != nil {
		sendErr := fmt.Errorf("send text: %w", err)
		l.closeWith(sendErr)
		return sendErr
	}

	l.mu.Lock()
	l.lastUsed = time.Now()
	l.mu.Unlock()
	return nil
}

// Close tears the link down. Idempotent; a no-op once closed.
func (l *Link) Close() {
	l.closeWith(nil)
}

func (l *Link) closeWith(cause error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.state = StateClosed
		l.mu.Unlock()
		_ = l.conn.Close()
		if l.onClosed != nil {
			l.onClosed(l, cause)
		}
	})
}

func (l *Link) readLoop() {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.closeWith(err)
			return
		}
		l.dispatch(DecodeFrame(data))
	}
}

// dispatch is the single exit point for decoded frames; every inbound event
// becomes one of the typed protocol messages or is dropped.
func (l *Link) dispatch(f Frame) {
	if l.metrics != nil {
		l.metrics.UpstreamFrames.WithLabelValues(frameKindLabel(f.Kind)).Inc()
	}
	switch f.Kind {
	case FrameAudio:
		l.mu.Lock()
		l.lastUsed = time.Now()
		l.seq++
		seq := l.seq
		l.mu.Unlock()

		chunk := protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			SessionID:   l.sessionID,
			Seq:         seq,
			AudioBase64: base64.StdEncoding.EncodeToString(f.Audio),
			Final:       f.Final,
		}
		_ = l.publisher.Publish(context.Background(), l.sessionID, string(protocol.TypeAudioChunk), chunk)
	case FrameError:
		evt := protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: l.sessionID,
			Code:      f.Code,
			Source:    "voice_upstream",
			Retryable: reliability.IsRetryableUpstreamCode(f.Code),
			Detail:    f.Detail,
		}
		_ = l.publisher.Publish(context.Background(), l.sessionID, string(protocol.TypeErrorEvent), evt)
	case FrameNone:
		// Control chatter; nothing to forward.
	}
}

func frameKindLabel(k FrameKind) string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameError:
		return "error"
	default:
		return "control"
	}
}
