package care

import (
	"errors"
	"time"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusEnded        Status = "ended"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrSessionEnded = errors.New("session already ended")
	// ErrTurnInFlight means a turn for this session is still being handled;
	// per-session message handling is strictly serialized.
	ErrTurnInFlight = errors.New("another message for this session is in flight")
)

// Session is the orchestrator-owned view of one customer conversation. The
// voice flag is one-way: once a session degrades to text-only it stays there.
type Session struct {
	ID             string    `json:"session_id"`
	CustomerID     string    `json:"customer_id"`
	ProjectID      string    `json:"project_id"`
	Language       string    `json:"language"`
	Status         Status    `json:"status"`
	Priority       Priority  `json:"priority"`
	Tags           []string  `json:"tags,omitempty"`
	VoiceEnabled   bool      `json:"voice_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
	AvgReplyMillis int64     `json:"avg_reply_millis"`
}

// session is the mutable record behind the orchestrator's lock; Session
// values handed out are clones.
type session struct {
	Session
	inFlight         bool
	totalReplyMillis int64
}

func (s *session) addTag(tag string) {
	for _, t := range s.Tags {
		if t == tag {
			return
		}
	}
	s.Tags = append(s.Tags, tag)
}

func (s *session) hasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *session) recordReply(elapsed time.Duration) {
	s.totalReplyMillis += elapsed.Milliseconds()
	if s.MessageCount > 0 {
		s.AvgReplyMillis = s.totalReplyMillis / int64(s.MessageCount)
	}
}

func clone(s *session) *Session {
	c := s.Session
	if len(s.Tags) > 0 {
		c.Tags = append([]string(nil), s.Tags...)
	}
	return &c
}

// Summary is the aggregate returned by EndSession and retained so repeated
// end calls stay idempotent.
type Summary struct {
	SessionID      string    `json:"session_id"`
	CustomerID     string    `json:"customer_id"`
	ProjectID      string    `json:"project_id"`
	Status         Status    `json:"status"`
	EndReason      string    `json:"end_reason"`
	Rating         int       `json:"rating,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
	Escalated      bool      `json:"escalated"`
	VoiceDegraded  bool      `json:"voice_degraded"`
	MessageCount   int       `json:"message_count"`
	AvgReplyMillis int64     `json:"avg_reply_millis"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// TurnOutcome reports what happened to one inbound customer message.
type TurnOutcome struct {
	SessionID      string  `json:"session_id"`
	ReplyText      string  `json:"reply_text"`
	VoiceDelivered bool    `json:"voice_delivered"`
	Escalated      bool    `json:"escalated"`
	Sentiment      string  `json:"sentiment"`
	Confidence     float64 `json:"confidence"`
	LatencyMillis  int64   `json:"latency_millis"`
}
