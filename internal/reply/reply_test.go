package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStaticAnswersEscalation(t *testing.T) {
	g := NewStatic()
	text, err := g.Generate(context.Background(), Request{Text: "this is a disaster", Escalated: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(text, "human agent") {
		t.Fatalf("escalated reply = %q, want handoff wording", text)
	}
}

func TestStaticRoutesByTopic(t *testing.T) {
	g := NewStatic()
	text, err := g.Generate(context.Background(), Request{Text: "I want a refund for my last order"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(strings.ToLower(text), "refund") {
		t.Fatalf("reply = %q, want refund flow", text)
	}
}

func TestWithFallbackUsesPrimary(t *testing.T) {
	primary := NewMock("primary answer")
	g := &WithFallback{Primary: primary, Fallback: NewStatic()}

	text, err := g.Generate(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "primary answer" {
		t.Fatalf("reply = %q, want primary answer", text)
	}
}

func TestWithFallbackOnPrimaryError(t *testing.T) {
	primary := NewMock("")
	primary.SetError(errors.New("model unavailable"))
	g := &WithFallback{Primary: primary, Fallback: NewStatic()}

	text, err := g.Generate(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.TrimSpace(text) == "" {
		t.Fatalf("fallback produced an empty reply")
	}
	if len(primary.Requests()) != 1 {
		t.Fatalf("primary requests = %d, want 1", len(primary.Requests()))
	}
}

func TestWithFallbackOnEmptyPrimaryReply(t *testing.T) {
	g := &WithFallback{Primary: NewMock("   "), Fallback: NewMock("fallback answer")}
	text, err := g.Generate(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "fallback answer" {
		t.Fatalf("reply = %q, want fallback answer", text)
	}
}
