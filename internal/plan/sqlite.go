package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/planerr"
)

// SQLiteStore keeps plans in SQLite. It expects the single-connection pool
// opened by database.NewDB.
type SQLiteStore struct {
	db   *sql.DB
	logs *metrics.Store
	now  func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, logs: metrics.NewStore(db), now: time.Now}
}

func (s *SQLiteStore) Persist(ctx context.Context, req PersistRequest) (string, error) {
	ctxJSON, outJSON, err := encode(req)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", planerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	active, err := activeID(ctx, tx, req.UserID)
	if err != nil {
		return "", planerr.Persistence("failed to check active plan", err)
	}
	if active != "" {
		return "", planerr.Conflict(active)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, user_id, status, start_date, end_date, total_weeks, context, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.UserID, StatusActive, req.Output.StartDate, req.Output.EndDate, req.Output.TotalWeeks,
		string(ctxJSON), string(outJSON), s.now().UTC().Format(database.TimeLayout))
	if isUniqueViolation(err) {
		winner, lookupErr := activeID(ctx, tx, req.UserID)
		if lookupErr != nil {
			return "", planerr.Persistence("failed to load active plan", lookupErr)
		}
		return "", planerr.Conflict(winner)
	}
	if err != nil {
		return "", planerr.Persistence("failed to insert plan", err)
	}

	if err := s.logs.WithTx(tx).Append(ctx, successLog(req, id)); err != nil {
		return "", planerr.Persistence("failed to record generation", err)
	}

	if err := tx.Commit(); err != nil {
		return "", planerr.Persistence("failed to commit plan", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetActive(ctx context.Context, userID string) (*Record, error) {
	return s.get(ctx, `WHERE user_id = ? AND status = 'active'`, userID)
}

func (s *SQLiteStore) Get(ctx context.Context, planID string) (*Record, error) {
	return s.get(ctx, `WHERE id = ?`, planID)
}

// Archive marks the user's active plan archived and returns its id.
func (s *SQLiteStore) Archive(ctx context.Context, userID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", planerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	id, err := activeID(ctx, tx, userID)
	if err != nil {
		return "", planerr.Persistence("failed to check active plan", err)
	}
	if id == "" {
		return "", errNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE plans SET status = 'archived', archived_at = ? WHERE id = ?`,
		s.now().UTC().Format(database.TimeLayout), id); err != nil {
		return "", planerr.Persistence("failed to archive plan", err)
	}
	if err := tx.Commit(); err != nil {
		return "", planerr.Persistence("failed to commit archive", err)
	}
	return id, nil
}

func (s *SQLiteStore) get(ctx context.Context, where string, arg any) (*Record, error) {
	var (
		rec              Record
		ctxJSON, outJSON string
		created          string
		archived         sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, start_date, end_date, total_weeks, context, output, created_at, archived_at
		FROM plans `+where+` ORDER BY created_at DESC LIMIT 1`, arg,
	).Scan(&rec.ID, &rec.UserID, &rec.Status, &rec.StartDate, &rec.EndDate, &rec.TotalWeeks,
		&ctxJSON, &outJSON, &created, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, planerr.Persistence("failed to load plan", err)
	}

	if rec.CreatedAt, err = time.Parse(database.TimeLayout, created); err != nil {
		return nil, planerr.Persistence("invalid plan timestamp", err)
	}
	if archived.Valid {
		t, err := time.Parse(database.TimeLayout, archived.String)
		if err != nil {
			return nil, planerr.Persistence("invalid plan timestamp", err)
		}
		rec.ArchivedAt = &t
	}
	if err := decode(&rec, []byte(ctxJSON), []byte(outJSON)); err != nil {
		return nil, planerr.Persistence("failed to load plan", err)
	}
	return &rec, nil
}

func activeID(ctx context.Context, tx *sql.Tx, userID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM plans WHERE user_id = ? AND status = 'active'`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query active plan: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
