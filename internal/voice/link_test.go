package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/protocol"
)

func collectEvents(t *testing.T, broker *broadcast.Memory, sessionID string) (<-chan broadcast.Event, func()) {
	t.Helper()
	events, cancel, err := broker.Subscribe(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return events, cancel
}

func waitEvent(t *testing.T, events <-chan broadcast.Event) broadcast.Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return broadcast.Event{}
	}
}

func TestLinkPublishesDecodedAudioChunks(t *testing.T) {
	broker := broadcast.NewMemory()
	events, cancel := collectEvents(t, broker, "s1")
	defer cancel()

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{VoiceID: "v1"}, conn, broker, nil, nil)
	defer l.Close()

	conn.Inject([]byte(`{"audio":"QUJD","isFinalAudio":false}`))
	conn.Inject([]byte(`{"audio":"REVG","isFinalAudio":true}`))

	first := waitEvent(t, events)
	if first.Name != string(protocol.TypeAudioChunk) {
		t.Fatalf("event name = %q, want audio_chunk", first.Name)
	}
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(first.Payload, &chunk); err != nil {
		t.Fatalf("unmarshal chunk: %v", err)
	}
	if chunk.Seq != 1 || chunk.AudioBase64 != "QUJD" || chunk.Final {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}

	second := waitEvent(t, events)
	if err := json.Unmarshal(second.Payload, &chunk); err != nil {
		t.Fatalf("unmarshal chunk: %v", err)
	}
	if chunk.Seq != 2 || !chunk.Final {
		t.Fatalf("unexpected second chunk: %+v", chunk)
	}
}

func TestLinkPublishesRawBinaryAsAudio(t *testing.T) {
	broker := broadcast.NewMemory()
	events, cancel := collectEvents(t, broker, "s1")
	defer cancel()

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broker, nil, nil)
	defer l.Close()

	conn.Inject([]byte{0xff, 0xfb, 0x01})

	evt := waitEvent(t, events)
	if evt.Name != string(protocol.TypeAudioChunk) {
		t.Fatalf("event name = %q, want audio_chunk", evt.Name)
	}
}

func TestLinkPublishesUpstreamErrors(t *testing.T) {
	broker := broadcast.NewMemory()
	events, cancel := collectEvents(t, broker, "s1")
	defer cancel()

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broker, nil, nil)
	defer l.Close()

	conn.Inject([]byte(`{"error":"rate limit","code":"rate_limited"}`))

	evt := waitEvent(t, events)
	if evt.Name != string(protocol.TypeErrorEvent) {
		t.Fatalf("event name = %q, want error_event", evt.Name)
	}
	var ee protocol.ErrorEvent
	if err := json.Unmarshal(evt.Payload, &ee); err != nil {
		t.Fatalf("unmarshal error event: %v", err)
	}
	if !ee.Retryable || ee.Code != "rate_limited" {
		t.Fatalf("unexpected error event: %+v", ee)
	}
}

func TestLinkSendTextRejectsBlank(t *testing.T) {
	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broadcast.NewMemory(), nil, nil)
	defer l.Close()

	if err := l.SendText("   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("SendText(blank) error = %v, want ErrEmptyText", err)
	}
}

func TestLinkSendTextMarksEndOfUtterance(t *testing.T) {
	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broadcast.NewMemory(), nil, nil)
	defer l.Close()

	before := l.LastUsed()
	time.Sleep(5 * time.Millisecond)
	if err := l.SendText("hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	written := conn.Written()
	if len(written) != 1 {
		t.Fatalf("written messages = %d, want 1", len(written))
	}
	msg, ok := written[0].(synthesizeMessage)
	if !ok {
		t.Fatalf("written[0] has type %T", written[0])
	}
	if !msg.EndOfUtterance || msg.Text != "hello there" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !l.LastUsed().After(before) {
		t.Fatalf("LastUsed not advanced")
	}
}

func TestLinkSendFailureClosesAndNotifies(t *testing.T) {
	var (
		mu     sync.Mutex
		closed *Link
		cause  error
	)
	hook := func(l *Link, c error) {
		mu.Lock()
		closed = l
		cause = c
		mu.Unlock()
	}

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broadcast.NewMemory(), hook, nil)
	conn.SetWriteError(errors.New("broken pipe"))

	if err := l.SendText("hi"); err == nil {
		t.Fatalf("SendText() expected error")
	}
	if l.State() != StateClosed {
		t.Fatalf("State = %q, want closed", l.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if closed != l || cause == nil {
		t.Fatalf("closed hook not invoked with cause")
	}

	if err := l.SendText("again"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendText after close error = %v, want ErrNotOpen", err)
	}
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	hook := func(_ *Link, _ error) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broadcast.NewMemory(), hook, nil)
	l.Close()
	l.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("closed hook calls = %d, want 1", calls)
	}
}

func TestLinkReadErrorClosesAndNotifies(t *testing.T) {
	done := make(chan error, 1)
	hook := func(_ *Link, cause error) { done <- cause }

	conn := NewMockConn()
	l := StartLink("s1", "en", Selection{}, conn, broadcast.NewMemory(), hook, nil)

	// Closing the conn makes the read loop fail, which must notify the hook.
	_ = conn.Close()

	select {
	case cause := <-done:
		if cause == nil {
			t.Fatalf("expected a non-nil close cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("closed hook never invoked")
	}
	if l.State() != StateClosed {
		t.Fatalf("State = %q, want closed", l.State())
	}
}
