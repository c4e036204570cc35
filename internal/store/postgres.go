package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			language TEXT NOT NULL,
			end_reason TEXT NOT NULL,
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			message_count INTEGER NOT NULL DEFAULT 0,
			avg_reply_millis BIGINT NOT NULL DEFAULT 0,
			voice_degraded BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_project_ended ON session_summaries (project_id, ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, record SummaryRecord) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}

	// Ending a session is idempotent; the first summary wins.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_summaries
			(session_id, customer_id, project_id, language, end_reason, escalated,
			 message_count, avg_reply_millis, voice_degraded, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING`,
		record.SessionID,
		record.CustomerID,
		record.ProjectID,
		record.Language,
		record.EndReason,
		record.Escalated,
		record.MessageCount,
		record.AvgReplyMillis,
		record.VoiceDegraded,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (*SummaryRecord, error) {
	var r SummaryRecord
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, customer_id, project_id, language, end_reason, escalated,
		        message_count, avg_reply_millis, voice_degraded, started_at, ended_at
		 FROM session_summaries WHERE session_id=$1`,
		sessionID,
	).Scan(&r.SessionID, &r.CustomerID, &r.ProjectID, &r.Language, &r.EndReason, &r.Escalated,
		&r.MessageCount, &r.AvgReplyMillis, &r.VoiceDegraded, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) RecentSummaries(ctx context.Context, projectID string, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT session_id, customer_id, project_id, language, end_reason, escalated,
	                 message_count, avg_reply_millis, voice_degraded, started_at, ended_at
	          FROM session_summaries`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id=$1 ORDER BY ended_at DESC LIMIT $2`
		args = append(args, projectID, limit)
	} else {
		query += ` ORDER BY ended_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	items := make([]SummaryRecord, 0, limit)
	for rows.Next() {
		var r SummaryRecord
		if err := rows.Scan(&r.SessionID, &r.CustomerID, &r.ProjectID, &r.Language, &r.EndReason, &r.Escalated,
			&r.MessageCount, &r.AvgReplyMillis, &r.VoiceDegraded, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
