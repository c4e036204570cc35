package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/voicedesk/internal/broadcast"
)

// ErrMockConnClosed is returned by MockConn reads after the connection closes.
var ErrMockConnClosed = errors.New("mock connection closed")

// MockConn is a scriptable in-memory transport connection for tests.
type MockConn struct {
	frames chan []byte
	closed chan struct{}

	mu        sync.Mutex
	written   []any
	writeErr  error
	closeOnce sync.Once
}

func NewMockConn() *MockConn {
	return &MockConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Inject queues one inbound frame as if the upstream had sent it.
func (c *MockConn) Inject(data []byte) {
	select {
	case c.frames <- data:
	case <-c.closed:
	}
}

func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, ErrMockConnClosed
	}
}

func (c *MockConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// SetWriteError makes subsequent writes fail, simulating a dead upstream.
func (c *MockConn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Written returns a copy of everything sent on the connection.
func (c *MockConn) Written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.written))
	copy(out, c.written)
	return out
}

// MockOpener hands out links over MockConns, with scriptable per-session
// failures and an optional dial delay.
type MockOpener struct {
	publisher broadcast.Publisher

	mu       sync.Mutex
	onClosed ClosedHook
	failures map[string]int
	conns    map[string]*MockConn
	attempts map[string]int
	delay    time.Duration
}

func NewMockOpener(publisher broadcast.Publisher) *MockOpener {
	return &MockOpener{
		publisher: publisher,
		failures:  make(map[string]int),
		conns:     make(map[string]*MockConn),
		attempts:  make(map[string]int),
	}
}

func (o *MockOpener) SetClosedHook(hook ClosedHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onClosed = hook
}

// FailNext makes the next n Open calls for sessionID fail.
func (o *MockOpener) FailNext(sessionID string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[sessionID] = n
}

// SetDelay adds artificial latency to every dial.
func (o *MockOpener) SetDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
}

func (o *MockOpener) Open(ctx context.Context, sessionID, language string, sel Selection) (*Link, error) {
	o.mu.Lock()
	o.attempts[sessionID]++
	delay := o.delay
	remaining := o.failures[sessionID]
	if remaining > 0 {
		o.failures[sessionID] = remaining - 1
	}
	hook := o.onClosed
	o.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if remaining > 0 {
		return nil, errors.New("mock dial refused")
	}

	conn := NewMockConn()
	l := StartLink(sessionID, language, sel, conn, o.publisher, hook, nil)

	o.mu.Lock()
	o.conns[sessionID] = conn
	o.mu.Unlock()
	return l, nil
}

// Conn returns the most recent connection opened for a session.
func (o *MockOpener) Conn(sessionID string) *MockConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conns[sessionID]
}

// Attempts reports how many Open calls a session has seen.
func (o *MockOpener) Attempts(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts[sessionID]
}
