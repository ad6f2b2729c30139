package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/shared"
)

// Request types recorded in the generation log.
const (
	RequestTrainingPlan     = "training_plan"
	RequestOnboardingSubmit = "onboarding_submit"
)

// GenerationLog records the outcome of one plan generation request.
type GenerationLog struct {
	ID               int64
	UserID           string
	RequestID        string
	RequestType      string
	PlanID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Attempts         int
	DurationMS       int64
	Success          bool
	Error            string
	ResponseSummary  string
	CreatedAt        time.Time
}

// FromUsage fills the token fields from the usage of a generation.
func (l GenerationLog) FromUsage(usage shared.TokenUsage) GenerationLog {
	l.Model = usage.Model
	l.PromptTokens = usage.PromptTokens
	l.CompletionTokens = usage.CompletionTokens
	return l
}

// LogStore is the append-only generation log.
type LogStore interface {
	Append(ctx context.Context, l GenerationLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]GenerationLog, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store persists the generation log to SQLite.
type Store struct {
	db dbtx
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store writing through tx, so a log row commits or rolls
// back with the surrounding plan insert.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}

// Append saves a log entry. A zero CreatedAt is set to now.
func (s *Store) Append(ctx context.Context, l GenerationLog) error {
	ts := l.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_logs (user_id, request_id, request_type, plan_id, model,
			prompt_tokens, completion_tokens, attempts, duration_ms, success, error,
			response_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, l.RequestID, l.RequestType, l.PlanID, l.Model,
		l.PromptTokens, l.CompletionTokens, l.Attempts, l.DurationMS, l.Success, l.Error,
		l.ResponseSummary, ts.UTC().Format(database.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append generation log: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent entries, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]GenerationLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, request_id, request_type, plan_id, model, prompt_tokens,
			completion_tokens, attempts, duration_ms, success, error, response_summary, created_at
		FROM generation_logs
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}
	defer rows.Close()

	var results []GenerationLog
	for rows.Next() {
		var (
			l       GenerationLog
			created string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.RequestID, &l.RequestType, &l.PlanID, &l.Model,
			&l.PromptTokens, &l.CompletionTokens, &l.Attempts, &l.DurationMS, &l.Success, &l.Error,
			&l.ResponseSummary, &created); err != nil {
			return nil, fmt.Errorf("failed to scan generation log: %w", err)
		}
		l.CreatedAt, err = time.Parse(database.TimeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", created, err)
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days and reports
// how many were deleted.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM generation_logs WHERE created_at < ?`,
		threshold.Format(database.TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up generation logs: %w", err)
	}
	return res.RowsAffected()
}
