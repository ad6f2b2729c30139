package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxibaudrix/Kiui/internal/planerr"
)

type fakeRow struct {
	id  string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	return nil
}

type fakeRower struct {
	row  fakeRow
	sql  string
	args []any
}

func (f *fakeRower) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql, f.args = sql, args
	return f.row
}

func TestPgConflict(t *testing.T) {
	t.Run("names the winner", func(t *testing.T) {
		q := &fakeRower{row: fakeRow{id: "plan-1"}}
		pe, ok := planerr.As(pgConflict(context.Background(), q, "user-1"))
		require.True(t, ok)
		assert.Equal(t, planerr.KindConflict, pe.Kind)
		assert.Equal(t, "plan-1", pe.PlanID)
		assert.Equal(t, []any{"user-1"}, q.args)
		assert.NotContains(t, q.sql, "AND status")
	})

	t.Run("winner gone", func(t *testing.T) {
		q := &fakeRower{row: fakeRow{err: pgx.ErrNoRows}}
		pe, ok := planerr.As(pgConflict(context.Background(), q, "user-1"))
		require.True(t, ok)
		assert.Equal(t, planerr.KindConflict, pe.Kind)
		assert.Empty(t, pe.PlanID)
	})

	t.Run("lookup failure", func(t *testing.T) {
		q := &fakeRower{row: fakeRow{err: errors.New("connection reset")}}
		assert.True(t, planerr.Is(pgConflict(context.Background(), q, "user-1"), planerr.KindPersistence))
	})
}
