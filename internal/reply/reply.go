package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request carries everything the generator may condition on for one turn.
type Request struct {
	SessionID string
	ProjectID string
	Language  string
	Text      string
	Sentiment string
	Escalated bool
}

// Generator produces the assistant's textual reply for one customer turn.
// Implementations must be safe for concurrent use across sessions.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var ErrEmptyReply = errors.New("generator returned an empty reply")

// Static answers from a fixed playbook. It backs deployments without an LLM
// key and doubles as the fallback when the model call fails, so a customer
// always gets an answer.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (s *Static) Generate(_ context.Context, req Request) (string, error) {
	if req.Escalated {
		return "I understand this has been frustrating. I'm connecting you with a human agent who can take over from here.", nil
	}
	text := strings.ToLower(req.Text)
	switch {
	case strings.Contains(text, "refund"):
		return "I can help with refunds. Could you share the order number so I can look it up?", nil
	case strings.Contains(text, "cancel"):
		return "I can help you cancel. To confirm, which subscription or order would you like to cancel?", nil
	case strings.Contains(text, "password") || strings.Contains(text, "login"):
		return "For account access issues, I can send a reset link to the email on file. Shall I do that?", nil
	case strings.Contains(text, "hello") || strings.Contains(text, "hi"):
		return "Hello! How can I help you today?", nil
	default:
		return fmt.Sprintf("Thanks for reaching out. Let me look into that for you: %q. Could you give me any extra details?", req.Text), nil
	}
}

// WithFallback wraps a primary generator with a fallback that answers when
// the primary errors. The turn never fails because the model is down.
type WithFallback struct {
	Primary  Generator
	Fallback Generator
}

func (g *WithFallback) Generate(ctx context.Context, req Request) (string, error) {
	text, err := g.Primary.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	return g.Fallback.Generate(ctx, req)
}
