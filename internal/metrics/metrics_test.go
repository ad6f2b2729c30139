package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/shared"
)

func newTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "kiui.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.SQL), db
}

func TestStoreAppendAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := GenerationLog{
		UserID:      "user-1",
		RequestType: RequestTrainingPlan,
		Success:     false,
		Error:       "parse: schema mismatch",
		CreatedAt:   base,
	}.FromUsage(shared.TokenUsage{Model: "gemini-1.5-pro", PromptTokens: 1200, CompletionTokens: 300})
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, GenerationLog{
		UserID:      "user-1",
		RequestType: RequestOnboardingSubmit,
		PlanID:      "plan-1",
		Success:     true,
		Attempts:    2,
		DurationMS:  4200,
		CreatedAt:   base.Add(time.Minute),
	}))
	require.NoError(t, store.Append(ctx, GenerationLog{UserID: "user-2", RequestType: RequestTrainingPlan, Success: true}))

	logs, err := store.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, "plan-1", logs[0].PlanID)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 2, logs[0].Attempts)
	assert.Equal(t, int64(4200), logs[0].DurationMS)

	assert.False(t, logs[1].Success)
	assert.Equal(t, 1200, logs[1].PromptTokens)
	assert.Equal(t, "gemini-1.5-pro", logs[1].Model)
	assert.True(t, base.Equal(logs[1].CreatedAt))

	limited, err := store.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, GenerationLog{UserID: "u", RequestType: RequestTrainingPlan, CreatedAt: time.Now().AddDate(0, 0, -40)}))
	require.NoError(t, store.Append(ctx, GenerationLog{UserID: "u", RequestType: RequestTrainingPlan, CreatedAt: time.Now().AddDate(0, 0, -31)}))
	require.NoError(t, store.Append(ctx, GenerationLog{UserID: "u", RequestType: RequestTrainingPlan}))

	n, err := store.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	logs, err := store.ListByUser(ctx, "u", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestStoreWithTxRollback(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	tx, err := db.SQL.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.WithTx(tx).Append(ctx, GenerationLog{UserID: "u", RequestType: RequestTrainingPlan}))
	require.NoError(t, tx.Rollback())

	logs, err := store.ListByUser(ctx, "u", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCollectors(t *testing.T) {
	c := NewCollectors()
	c.ObserveGeneration(OutcomeSuccess, "", 3*time.Second)
	c.ObserveGeneration(OutcomeFailure, "parse", time.Second)
	c.ObserveAttempt("gemini", "ok")
	c.ObserveAttempt("gemini", "transient")
	c.ObserveAttempt("gemini", "transient")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generations.WithLabelValues(OutcomeFailure, "parse")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.attempts.WithLabelValues("gemini", "transient")))

	expected := `
# HELP kiui_llm_attempts_total Model call attempts by provider and result.
# TYPE kiui_llm_attempts_total counter
kiui_llm_attempts_total{provider="gemini",result="ok"} 1
kiui_llm_attempts_total{provider="gemini",result="transient"} 2
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry, strings.NewReader(expected), "kiui_llm_attempts_total"))
}

func TestGetSysHealth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiui.db")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(path+"-wal", make([]byte, 1024), 0o644))
	assert.Equal(t, "3.0 KB", GetSysHealth(path).DatabaseSize)

	h := GetSysHealth("")
	assert.Equal(t, "n/a", h.DatabaseSize)
	assert.Positive(t, h.Goroutines)

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
