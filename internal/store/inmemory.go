package store

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process summary store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]SummaryRecord
	order     []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{summaries: make(map[string]SummaryRecord)}
}

func (s *InMemoryStore) SaveSummary(_ context.Context, record SummaryRecord) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.summaries[record.SessionID]; !exists {
		s.order = append(s.order, record.SessionID)
	}
	s.summaries[record.SessionID] = record
	return nil
}

func (s *InMemoryStore) GetSummary(_ context.Context, sessionID string) (*SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	out := record
	return &out, nil
}

func (s *InMemoryStore) RecentSummaries(_ context.Context, projectID string, limit int) ([]SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]SummaryRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		record := s.summaries[s.order[i]]
		if projectID != "" && record.ProjectID != projectID {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
