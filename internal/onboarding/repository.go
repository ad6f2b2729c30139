package onboarding

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/planerr"
)

const StatusCompleted = "completed"

// Record is the stored onboarding form of one user.
type Record struct {
	UserID    string
	Data      json.RawMessage
	Status    string
	UpdatedAt time.Time
}

// Repository persists the latest onboarding form per user.
type Repository interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, userID string) (*Record, error)
}

// SQLRepository stores onboarding records in SQLite.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Upsert(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(database.TimeLayout)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO onboarding_data (user_id, data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			data = excluded.data,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		rec.UserID, string(rec.Data), statusOrDefault(rec.Status), now, now)
	if err != nil {
		return planerr.Persistence("failed to save onboarding data", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, userID string) (*Record, error) {
	var (
		data, status, updated string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT data, status, updated_at FROM onboarding_data WHERE user_id = ?`, userID,
	).Scan(&data, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planerr.New(planerr.KindNotFound, "onboarding data not found")
	}
	if err != nil {
		return nil, planerr.Persistence("failed to load onboarding data", err)
	}
	ts, err := time.Parse(database.TimeLayout, updated)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updated, err)
	}
	return &Record{UserID: userID, Data: json.RawMessage(data), Status: status, UpdatedAt: ts}, nil
}

// PostgresRepository stores onboarding records in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO onboarding_data (user_id, data, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			data = EXCLUDED.data,
			status = EXCLUDED.status,
			updated_at = now()`,
		rec.UserID, []byte(rec.Data), statusOrDefault(rec.Status))
	if err != nil {
		return planerr.Persistence("failed to save onboarding data", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*Record, error) {
	rec := Record{UserID: userID}
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data, status, updated_at FROM onboarding_data WHERE user_id = $1`, userID,
	).Scan(&data, &rec.Status, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, planerr.New(planerr.KindNotFound, "onboarding data not found")
	}
	if err != nil {
		return nil, planerr.Persistence("failed to load onboarding data", err)
	}
	rec.Data = data
	return &rec, nil
}

func statusOrDefault(s string) string {
	if s == "" {
		return StatusCompleted
	}
	return s
}
