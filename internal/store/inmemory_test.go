package store

import (
	"context"
	"testing"
	"time"
)

func TestInMemorySaveAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	record := SummaryRecord{
		SessionID:    "s1",
		CustomerID:   "c1",
		ProjectID:    "p1",
		Language:     "en",
		EndReason:    "customer_request",
		MessageCount: 4,
		StartedAt:    time.Now().Add(-time.Minute).UTC(),
	}
	if err := s.SaveSummary(ctx, record); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}

	got, err := s.GetSummary(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if got == nil || got.EndReason != "customer_request" || got.MessageCount != 4 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if got.EndedAt.IsZero() {
		t.Fatalf("EndedAt not defaulted")
	}
}

func TestInMemoryGetMissing(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.GetSummary(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetSummary(ghost) = %+v, want nil", got)
	}
}

func TestInMemoryRecentSummariesFiltersAndOrders(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, r := range []SummaryRecord{
		{SessionID: "s1", ProjectID: "p1", EndReason: "customer_request"},
		{SessionID: "s2", ProjectID: "p2", EndReason: "idle_timeout"},
		{SessionID: "s3", ProjectID: "p1", EndReason: "escalated"},
	} {
		if err := s.SaveSummary(ctx, r); err != nil {
			t.Fatalf("SaveSummary(%s) error = %v", r.SessionID, err)
		}
	}

	got, err := s.RecentSummaries(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "s3" || got[1].SessionID != "s1" {
		t.Fatalf("unexpected order: %s, %s", got[0].SessionID, got[1].SessionID)
	}
}

func TestInMemoryResaveDoesNotDuplicate(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.SaveSummary(ctx, SummaryRecord{SessionID: "s1", ProjectID: "p1"}); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if err := s.SaveSummary(ctx, SummaryRecord{SessionID: "s1", ProjectID: "p1", MessageCount: 9}); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}

	got, err := s.RecentSummaries(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("RecentSummaries() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}
