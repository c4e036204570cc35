package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisPublishSubscribe(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	events, cancel, err := r.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := r.Publish(ctx, "s1", "assistant_reply", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case evt := <-events:
		if evt.Name != "assistant_reply" || evt.SessionID != "s1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		var payload struct {
			Text string `json:"text"`
		}
		if err := decode(evt.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Text != "hi" {
			t.Fatalf("payload text = %q, want %q", payload.Text, "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestRedisPublishWithoutListeners(t *testing.T) {
	r := newTestRedis(t)
	if err := r.Publish(context.Background(), "empty", "system_event", map[string]string{"code": "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestRedisSubscribeIsolatedPerSession(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	events, cancel, err := r.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := r.Publish(ctx, "b", "system_event", map[string]string{"code": "other"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case evt := <-events:
		t.Fatalf("unexpected cross-session event: %+v", evt)
	case <-time.After(150 * time.Millisecond):
	}
}
