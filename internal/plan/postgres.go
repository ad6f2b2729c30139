package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps plans in Postgres with JSONB context and output columns.
type PostgresStore struct {
	pool *pgxpool.Pool
	logs *metrics.PostgresStore
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, logs: metrics.NewPostgresStore(pool)}
}

func (s *PostgresStore) Persist(ctx context.Context, req PersistRequest) (string, error) {
	ctxJSON, outJSON, err := encode(req)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", planerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	active, err := pgActiveID(ctx, tx, req.UserID)
	if err != nil {
		return "", planerr.Persistence("failed to check active plan", err)
	}
	if active != "" {
		return "", planerr.Conflict(active)
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO plans (id, user_id, status, start_date, end_date, total_weeks, context, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, req.UserID, StatusActive, req.Output.StartDate, req.Output.EndDate, req.Output.TotalWeeks,
		ctxJSON, outJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// The transaction is aborted; read the winner outside it.
			tx.Rollback(ctx)
			return "", pgConflict(ctx, s.pool, req.UserID)
		}
		return "", planerr.Persistence("failed to insert plan", err)
	}

	if err := s.logs.WithTx(tx).Append(ctx, successLog(req, id)); err != nil {
		return "", planerr.Persistence("failed to record generation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", planerr.Persistence("failed to commit plan", err)
	}
	return id, nil
}

func (s *PostgresStore) GetActive(ctx context.Context, userID string) (*Record, error) {
	return s.get(ctx, `WHERE user_id = $1 AND status = 'active'`, userID)
}

func (s *PostgresStore) Get(ctx context.Context, planID string) (*Record, error) {
	if _, err := uuid.Parse(planID); err != nil {
		return nil, errNotFound
	}
	return s.get(ctx, `WHERE id = $1`, planID)
}

func (s *PostgresStore) Archive(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE plans SET status = 'archived', archived_at = now()
		WHERE user_id = $1 AND status = 'active'
		RETURNING id::text`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errNotFound
	}
	if err != nil {
		return "", planerr.Persistence("failed to archive plan", err)
	}
	return id, nil
}

func (s *PostgresStore) get(ctx context.Context, where string, arg any) (*Record, error) {
	var (
		rec              Record
		start, end       time.Time
		ctxJSON, outJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, user_id, status, start_date, end_date, total_weeks, context, output, created_at, archived_at
		FROM plans `+where+` ORDER BY created_at DESC LIMIT 1`, arg,
	).Scan(&rec.ID, &rec.UserID, &rec.Status, &start, &end, &rec.TotalWeeks,
		&ctxJSON, &outJSON, &rec.CreatedAt, &rec.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, planerr.Persistence("failed to load plan", err)
	}
	rec.StartDate = start.Format(planning.DateLayout)
	rec.EndDate = end.Format(planning.DateLayout)
	if err := decode(&rec, ctxJSON, outJSON); err != nil {
		return nil, planerr.Persistence("failed to load plan", err)
	}
	return &rec, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgActiveID(ctx context.Context, q queryRower, userID string) (string, error) {
	var id string
	err := q.QueryRow(ctx,
		`SELECT id::text FROM plans WHERE user_id = $1 AND status = 'active'`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query active plan: %w", err)
	}
	return id, nil
}

// pgConflict builds the Conflict for a lost insert race. The winner may have
// been archived since, so the newest plan is read regardless of status; with
// no plan left at all the Conflict carries no id.
func pgConflict(ctx context.Context, q queryRower, userID string) error {
	var id string
	err := q.QueryRow(ctx, `
		SELECT id::text FROM plans WHERE user_id = $1
		ORDER BY (status = 'active') DESC, created_at DESC LIMIT 1`, userID).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return planerr.Persistence("failed to load conflicting plan", err)
	}
	return planerr.Conflict(id)
}
