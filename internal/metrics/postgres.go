package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists the generation log to Postgres.
type PostgresStore struct {
	db pgxtx
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// WithTx returns a PostgresStore writing through tx.
func (s *PostgresStore) WithTx(tx pgx.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

func (s *PostgresStore) Append(ctx context.Context, l GenerationLog) error {
	ts := l.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO generation_logs (user_id, request_id, request_type, plan_id, model,
			prompt_tokens, completion_tokens, attempts, duration_ms, success, error,
			response_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.UserID, l.RequestID, l.RequestType, l.PlanID, l.Model,
		l.PromptTokens, l.CompletionTokens, l.Attempts, l.DurationMS, l.Success, l.Error,
		l.ResponseSummary, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to append generation log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]GenerationLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, request_id, request_type, plan_id, model, prompt_tokens,
			completion_tokens, attempts, duration_ms, success, error, response_summary, created_at
		FROM generation_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}
	defer rows.Close()

	var results []GenerationLog
	for rows.Next() {
		var l GenerationLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.RequestID, &l.RequestType, &l.PlanID, &l.Model,
			&l.PromptTokens, &l.CompletionTokens, &l.Attempts, &l.DurationMS, &l.Success, &l.Error,
			&l.ResponseSummary, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation log: %w", err)
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.db.Exec(ctx, `DELETE FROM generation_logs WHERE created_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up generation logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
