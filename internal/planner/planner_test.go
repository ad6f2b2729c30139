package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/llm"
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/notify"
	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/plan"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
	"github.com/maxibaudrix/Kiui/internal/planning/planningtest"
	"github.com/maxibaudrix/Kiui/internal/prompt"
	"github.com/maxibaudrix/Kiui/internal/shared"
	"github.com/maxibaudrix/Kiui/internal/validator"
)

// MockTextGenerator answers with respond and records every request.
type MockTextGenerator struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(n int, req llm.Request) (string, error)
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, req llm.Request) (llm.ContentResponse, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	content, err := m.respond(n, req)
	if err != nil {
		return llm.ContentResponse{}, err
	}
	return llm.ContentResponse{
		Content: content,
		Usage:   shared.TokenUsage{PromptTokens: 1000, CompletionTokens: 4000, Model: "mock"},
	}, nil
}

func (m *MockTextGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (r *recordingNotifier) NotifyFailure(_ context.Context, f notify.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

type fixture struct {
	planner  *Planner
	gen      *MockTextGenerator
	plans    *plan.SQLiteStore
	logs     *metrics.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T, strategy string, gen *MockTextGenerator, opts ...Option) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "kiui.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Strategy = strategy

	composer, err := prompt.NewComposer(cfg.MacroTolerance)
	require.NoError(t, err)

	var textGen llm.TextGenerator
	if gen != nil {
		textGen = gen
	}
	inv := llm.NewInvoker(textGen, "mock", llm.WithRetries(1), llm.WithBackoff(time.Millisecond, 2*time.Millisecond))

	strat, err := NewStrategy(cfg, composer, inv)
	require.NoError(t, err)

	f := &fixture{
		gen:      gen,
		plans:    plan.NewSQLiteStore(db.SQL),
		logs:     metrics.NewStore(db.SQL),
		notifier: &recordingNotifier{},
	}
	opts = append([]Option{WithNotifier(f.notifier), WithCollectors(metrics.NewCollectors())}, opts...)
	f.planner = New(Deps{
		Builder:   onboarding.NewBuilder(onboarding.WithClock(func() time.Time { return planningtest.Now })),
		Strategy:  strat,
		Invoker:   inv,
		Validator: validator.New(cfg.MacroTolerance),
		Plans:     f.plans,
		Logs:      f.logs,
	}, opts...)
	return f
}

func request(userID string, weeks int) Request {
	return Request{
		UserID:      userID,
		RequestID:   "req-" + userID,
		Payload:     planningtest.Payload(weeks),
		Locale:      "es-ES",
		RequestType: metrics.RequestTrainingPlan,
	}
}

func validPlan(userID string, weeks int) string {
	return planningtest.PlanJSON(planningtest.Context(userID, weeks))
}

func withoutMealType(t *testing.T, raw string) string {
	t.Helper()
	var p map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	days := p["weeks"].([]any)[0].(map[string]any)["days"].([]any)
	meals := days[2].(map[string]any)["nutrition"].(map[string]any)["meals"].([]any)
	delete(meals[1].(map[string]any), "mealType")
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return string(b)
}

func TestGeneratePlan(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return "```json\n" + validPlan("user-1", 2) + "\n```", nil
	}}
	f := newFixture(t, config.StrategyCombined, gen)
	ctx := context.Background()

	res, err := f.planner.GeneratePlan(ctx, request("user-1", 2))
	require.NoError(t, err)

	assert.NotEmpty(t, res.PlanID)
	assert.Equal(t, 2, res.TotalWeeks)
	assert.Equal(t, "2025-03-03", res.StartDate)
	assert.Equal(t, "2025-03-16", res.EndDate)
	assert.Equal(t, 6, res.Stats.TotalTrainingDays)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1000, res.Usage.PromptTokens)
	assert.Equal(t, 1, gen.calls())

	rec, err := f.plans.GetActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, res.PlanID, rec.ID)
	assert.Equal(t, 2, rec.Context.Objective.TargetTimeline)

	logs, err := f.logs.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, res.PlanID, logs[0].PlanID)
	assert.Equal(t, "req-user-1", logs[0].RequestID)
	assert.Empty(t, f.notifier.failures)

	// The prompt carries the context.
	req := gen.requests[0]
	assert.Contains(t, req.User, "2025-03-03")
	assert.NotEmpty(t, req.System)
	assert.Equal(t, config.Default().Generation.Timeout, req.Options.Timeout)
}

func TestGeneratePlanCorrectsOnce(t *testing.T) {
	gen := &MockTextGenerator{respond: func(n int, _ llm.Request) (string, error) {
		if n == 0 {
			return withoutMealType(t, validPlan("user-1", 1)), nil
		}
		return validPlan("user-1", 1), nil
	}}
	f := newFixture(t, config.StrategyCombined, gen)

	res, err := f.planner.GeneratePlan(context.Background(), request("user-1", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls())
	assert.Equal(t, 2, res.Attempts)

	first, second := gen.requests[0], gen.requests[1]
	assert.NotContains(t, first.User, "rejected")
	assert.True(t, strings.HasPrefix(second.User, first.User))
	assert.Contains(t, second.User, "weeks[0].days[2].nutrition.meals[1].mealType")
	assert.Contains(t, second.User, "missing required field")
}

func TestGeneratePlanLogsEveryViolation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	gen := &MockTextGenerator{respond: func(n int, _ llm.Request) (string, error) {
		if n == 0 {
			var p map[string]any
			require.NoError(t, json.Unmarshal([]byte(withoutMealType(t, validPlan("user-1", 1))), &p))
			days := p["weeks"].([]any)[0].(map[string]any)["days"].([]any)
			meals := days[3].(map[string]any)["nutrition"].(map[string]any)["meals"].([]any)
			delete(meals[0].(map[string]any), "mealType")
			b, err := json.Marshal(p)
			require.NoError(t, err)
			return string(b), nil
		}
		return validPlan("user-1", 1), nil
	}}
	f := newFixture(t, config.StrategyCombined, gen, WithLogger(log))

	_, err := f.planner.GeneratePlan(context.Background(), request("user-1", 1))
	require.NoError(t, err)

	rejected := logs.FilterMessage("model output rejected, retrying with correction").All()
	require.Len(t, rejected, 1)
	fields := rejected[0].ContextMap()
	assert.EqualValues(t, 2, fields["violation_count"])
	violations := fmt.Sprint(fields["violations"])
	assert.Contains(t, violations, "weeks[0].days[2].nutrition.meals[1].mealType")
	assert.Contains(t, violations, "weeks[0].days[3].nutrition.meals[0].mealType")
}

func TestGeneratePlanParseFailureIsPermanent(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return "Lo siento, no puedo generar el plan.", nil
	}}
	f := newFixture(t, config.StrategyCombined, gen)
	ctx := context.Background()

	_, err := f.planner.GeneratePlan(ctx, request("user-1", 1))
	require.Error(t, err)

	pe, ok := planerr.As(err)
	require.True(t, ok)
	assert.Equal(t, planerr.KindPermanent, pe.Kind)
	assert.Equal(t, planerr.StageParse, pe.Stage)
	assert.True(t, planerr.Is(pe.Err, planerr.KindParse))
	assert.Equal(t, 2, gen.calls(), "exactly one corrective re-generation")

	_, err = f.plans.GetActive(ctx, "user-1")
	assert.True(t, planerr.Is(err, planerr.KindNotFound))

	logs, err := f.logs.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, 2, logs[0].Attempts)
	assert.Contains(t, logs[0].Error, "no structured payload found")

	require.Len(t, f.notifier.failures, 1)
	assert.Equal(t, "PermanentServiceError", f.notifier.failures[0].Kind)
	assert.Equal(t, "parse_validate", f.notifier.failures[0].Stage)
}

func TestGeneratePlanParseRetriesConfigurable(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return "{}", nil
	}}
	f := newFixture(t, config.StrategyCombined, gen, WithParseRetries(0))

	_, err := f.planner.GeneratePlan(context.Background(), request("user-1", 1))
	assert.True(t, planerr.Is(err, planerr.KindPermanent))
	assert.Equal(t, 1, gen.calls())
}

func TestGeneratePlanMissingCredential(t *testing.T) {
	f := newFixture(t, config.StrategyCombined, nil)

	_, err := f.planner.GeneratePlan(context.Background(), request("user-1", 1))
	require.Error(t, err)
	assert.True(t, planerr.Is(err, planerr.KindConfig))
	assert.ErrorIs(t, err, llm.ErrMissingCredential)
	require.Len(t, f.notifier.failures, 1)
}

func TestGeneratePlanConflict(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return validPlan("user-1", 1), nil
	}}
	f := newFixture(t, config.StrategyCombined, gen)
	ctx := context.Background()

	first, err := f.planner.GeneratePlan(ctx, request("user-1", 1))
	require.NoError(t, err)

	_, err = f.planner.GeneratePlan(ctx, request("user-1", 1))
	require.Error(t, err)
	pe, ok := planerr.As(err)
	require.True(t, ok)
	assert.Equal(t, planerr.KindConflict, pe.Kind)
	assert.Equal(t, first.PlanID, pe.PlanID)
	assert.Equal(t, 1, gen.calls(), "the pre-check avoids a model call")
	assert.Empty(t, f.notifier.failures)
}

func TestGeneratePlanConcurrentRequests(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return validPlan("user-1", 1), nil
	}}
	f := newFixture(t, config.StrategyCombined, gen)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.planner.GeneratePlan(context.Background(), request("user-1", 1))
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case planerr.Is(err, planerr.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestGeneratePlanInvalidPayload(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) { return "", nil }}
	f := newFixture(t, config.StrategyCombined, gen)

	req := request("user-1", 1)
	req.Payload.Biometrics = nil
	_, err := f.planner.GeneratePlan(context.Background(), req)

	pe, ok := planerr.As(err)
	require.True(t, ok)
	assert.Equal(t, planerr.KindValidation, pe.Kind)
	assert.Contains(t, pe.Fields, "biometrics")
	assert.Equal(t, 0, gen.calls())
	assert.Empty(t, f.notifier.failures)

	_, err = f.planner.GeneratePlan(context.Background(), Request{Payload: planningtest.Payload(1)})
	assert.True(t, planerr.Is(err, planerr.KindValidation))
}

func TestGeneratePlanTransientFailure(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		return "", llm.NewTransientError(assert.AnError)
	}}
	f := newFixture(t, config.StrategyCombined, gen)

	_, err := f.planner.GeneratePlan(context.Background(), request("user-1", 1))
	pe, ok := planerr.As(err)
	require.True(t, ok)
	assert.Equal(t, planerr.KindTransient, pe.Kind)
	assert.Equal(t, planerr.StageGenerate, pe.Stage)
	assert.Equal(t, 2, gen.calls(), "one retry configured")
}

func TestGeneratePlanRequestTimeout(t *testing.T) {
	gen := &MockTextGenerator{respond: func(int, llm.Request) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return validPlan("user-1", 1), nil
	}}
	f := newFixture(t, config.StrategyCombined, gen, WithRequestTimeout(50*time.Millisecond))
	ctx := context.Background()

	_, err := f.planner.GeneratePlan(ctx, request("user-1", 1))
	assert.True(t, planerr.Is(err, planerr.KindTransient), "got %v", err)

	_, err = f.plans.GetActive(ctx, "user-1")
	assert.True(t, planerr.Is(err, planerr.KindNotFound))
}

// splitHalves cuts a complete plan into the training and nutrition answers of
// a split generation.
func splitHalves(t *testing.T, pctx planning.UserPlanningContext) (training, nutrition string) {
	t.Helper()
	full := planningtest.Plan(pctx)

	type nutritionDay struct {
		Date      string                 `json:"date"`
		Nutrition planning.NutritionPlan `json:"nutrition"`
	}
	var days []nutritionDay
	var p map[string]any
	b, err := json.Marshal(full)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &p))
	for _, w := range p["weeks"].([]any) {
		for _, d := range w.(map[string]any)["days"].([]any) {
			delete(d.(map[string]any), "nutrition")
		}
	}
	for _, w := range full.Weeks {
		for _, d := range w.Days {
			days = append(days, nutritionDay{Date: d.Date, Nutrition: d.Nutrition})
		}
	}

	tb, err := json.Marshal(p)
	require.NoError(t, err)
	nb, err := json.Marshal(map[string]any{"days": days})
	require.NoError(t, err)
	return string(tb), string(nb)
}

func TestGeneratePlanSplitStrategy(t *testing.T) {
	training, nutrition := splitHalves(t, planningtest.Context("user-1", 2))
	gen := &MockTextGenerator{respond: func(_ int, req llm.Request) (string, error) {
		if strings.Contains(req.User, "Create the training part") {
			return training, nil
		}
		return nutrition, nil
	}}
	f := newFixture(t, config.StrategySplit, gen)

	res, err := f.planner.GeneratePlan(context.Background(), request("user-1", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls())
	assert.Equal(t, 2, res.Attempts)

	rec, err := f.plans.Get(context.Background(), res.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 300.0, rec.Output.Weeks[0].Days[0].Nutrition.TargetCarbs)
}

func TestSplitStrategyMissingNutritionDay(t *testing.T) {
	training, _ := splitHalves(t, planningtest.Context("user-1", 1))
	_, err := mergeHalves(training, `{"days":[{"date":"2025-03-03","nutrition":`+
		mustJSON(t, planningtest.Nutrition(planningtest.Context("", 1).Targets, true))+`}]}`)

	pe, ok := planerr.As(err)
	require.True(t, ok)
	assert.Equal(t, planerr.KindParse, pe.Kind)
	assert.Equal(t, "weeks[0].days[1].nutrition", pe.Path)
}

func TestNewStrategyUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy = "sequential"
	_, err := NewStrategy(cfg, nil, nil)
	assert.Error(t, err)
}

func TestRunTracker(t *testing.T) {
	r := newRun("req-1", logger.Nop())
	r.to(StateValidating)
	r.to(StateGenerating)
	assert.Equal(t, 1, r.retry(StateParsingValidating))
	assert.Equal(t, 2, r.retry(StateParsingValidating))
	r.fail(planerr.Transient("down", nil))

	assert.Equal(t, StateFailed, r.State())
	assert.Equal(t, planerr.KindTransient, r.Kind())
	assert.Equal(t, 2, r.Retries(StateParsingValidating))
	assert.Equal(t, []State{StateIdle, StateValidating, StateGenerating, StateFailed}, r.History())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
