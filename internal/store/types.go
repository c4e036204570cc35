package store

import (
	"context"
	"time"
)

// SummaryRecord is the end-of-session aggregate kept after a session ends.
// No transcript is persisted; only the outcome counters and labels needed
// for reporting and idempotent session teardown.
type SummaryRecord struct {
	SessionID      string    `json:"session_id"`
	CustomerID     string    `json:"customer_id"`
	ProjectID      string    `json:"project_id"`
	Language       string    `json:"language"`
	EndReason      string    `json:"end_reason"`
	Escalated      bool      `json:"escalated"`
	MessageCount   int       `json:"message_count"`
	AvgReplyMillis int64     `json:"avg_reply_millis"`
	VoiceDegraded  bool      `json:"voice_degraded"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// Store persists session summaries.
type Store interface {
	SaveSummary(ctx context.Context, record SummaryRecord) error
	GetSummary(ctx context.Context, sessionID string) (*SummaryRecord, error)
	RecentSummaries(ctx context.Context, projectID string, limit int) ([]SummaryRecord, error)
	Close() error
}
