package validator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
	"github.com/maxibaudrix/Kiui/internal/planning/planningtest"
)

// mutate applies fn to the generic decoding of a valid plan and re-encodes it.
func mutate(t *testing.T, ctx planning.UserPlanningContext, fn func(plan map[string]any)) string {
	t.Helper()
	var plan map[string]any
	require.NoError(t, json.Unmarshal([]byte(planningtest.PlanJSON(ctx)), &plan))
	fn(plan)
	b, err := json.Marshal(plan)
	require.NoError(t, err)
	return string(b)
}

func day(plan map[string]any, week, d int) map[string]any {
	weeks := plan["weeks"].([]any)
	days := weeks[week].(map[string]any)["days"].([]any)
	return days[d].(map[string]any)
}

func requireParseError(t *testing.T, err error, path string) *planerr.Error {
	t.Helper()
	require.Error(t, err)
	pe, ok := planerr.As(err)
	require.True(t, ok, "expected a planerr.Error, got %T", err)
	assert.Equal(t, planerr.KindParse, pe.Kind)
	assert.Equal(t, path, pe.Path)
	return pe
}

func TestParseAndValidateAcceptsValidPlan(t *testing.T) {
	ctx := planningtest.Context("user-1", 2)

	out, err := New(0.10).ParseAndValidate(planningtest.PlanJSON(ctx), ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalWeeks)
	assert.Equal(t, "2025-03-16", out.EndDate)
	require.Len(t, out.Weeks, 2)
	assert.Len(t, out.Weeks[1].Days, 7)
	assert.Equal(t, "monday", out.Weeks[0].Days[0].DayOfWeek)
	assert.Equal(t, planning.Reps{Text: "8-10"}, out.Weeks[0].Days[0].Workout.Exercises[0].Reps)
	assert.Equal(t, 300.0, out.Weeks[0].Days[0].Nutrition.TargetCarbs)
	assert.Equal(t, 200.0, out.Weeks[0].Days[1].Nutrition.TargetCarbs)
}

func TestParseAndValidateExtractsWrappedPayload(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	v := New(0.10)

	fenced := "Aquí tienes tu plan:\n```json\n" + planningtest.PlanJSON(ctx) + "\n```\n¡Suerte!"
	_, err := v.ParseAndValidate(fenced, ctx)
	assert.NoError(t, err)

	prose := "Plan generado: " + planningtest.PlanJSON(ctx) + " Fin."
	_, err = v.ParseAndValidate(prose, ctx)
	assert.NoError(t, err)
}

func TestParseAndValidateNoPayload(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	for _, raw := range []string{"", "Lo siento, no puedo ayudar con eso.", "{not json at all}"} {
		_, err := New(0.10).ParseAndValidate(raw, ctx)
		pe := requireParseError(t, err, "")
		assert.Equal(t, ReasonNoPayload, pe.Message, raw)
	}
}

func TestParseAndValidateMissingMealType(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	raw := mutate(t, ctx, func(plan map[string]any) {
		meals := day(plan, 0, 2)["nutrition"].(map[string]any)["meals"].([]any)
		delete(meals[1].(map[string]any), "mealType")
	})

	_, err := New(0.10).ParseAndValidate(raw, ctx)
	pe := requireParseError(t, err, "weeks[0].days[2].nutrition.meals[1].mealType")
	assert.Equal(t, ReasonSchemaMismatch, pe.Message)
	assert.Contains(t, err.Error(), "missing required field")
}

func TestParseAndValidateSchemaTypes(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	tests := []struct {
		name string
		fn   func(plan map[string]any)
		path string
	}{
		{
			name: "unknown meal type",
			fn: func(plan map[string]any) {
				meals := day(plan, 0, 0)["nutrition"].(map[string]any)["meals"].([]any)
				meals[0].(map[string]any)["mealType"] = "brunch"
			},
			path: "weeks[0].days[0].nutrition.meals[0].mealType",
		},
		{
			name: "fractional sets",
			fn: func(plan map[string]any) {
				exercises := day(plan, 0, 0)["workout"].(map[string]any)["exercises"].([]any)
				exercises[0].(map[string]any)["sets"] = 3.5
			},
			path: "weeks[0].days[0].workout.exercises[0].sets",
		},
		{
			name: "string calories",
			fn: func(plan map[string]any) {
				day(plan, 0, 3)["nutrition"].(map[string]any)["targetCalories"] = "2000"
			},
			path: "weeks[0].days[3].nutrition.targetCalories",
		},
		{
			name: "unknown phase key",
			fn: func(plan map[string]any) {
				plan["overallStats"].(map[string]any)["phaseDistribution"].(map[string]any)["deload"] = 0
			},
			path: "overallStats.phaseDistribution.deload",
		},
		{
			name: "missing weeks",
			fn:   func(plan map[string]any) { delete(plan, "weeks") },
			path: "weeks",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(0.10).ParseAndValidate(mutate(t, ctx, tt.fn), ctx)
			pe := requireParseError(t, err, tt.path)
			assert.Equal(t, ReasonSchemaMismatch, pe.Message)
		})
	}
}

func TestParseAndValidateCalendar(t *testing.T) {
	ctx := planningtest.Context("user-1", 2)
	tests := []struct {
		name string
		fn   func(plan map[string]any)
		path string
	}{
		{
			name: "total weeks differs from timeline",
			fn:   func(plan map[string]any) { plan["totalWeeks"] = 3 },
			path: "totalWeeks",
		},
		{
			name: "week missing",
			fn: func(plan map[string]any) {
				plan["weeks"] = plan["weeks"].([]any)[:1]
			},
			path: "weeks",
		},
		{
			name: "start date moved",
			fn:   func(plan map[string]any) { plan["startDate"] = "2025-03-04" },
			path: "startDate",
		},
		{
			name: "end date not closing the last week",
			fn:   func(plan map[string]any) { plan["endDate"] = "2025-03-15" },
			path: "endDate",
		},
		{
			name: "second week overlaps the first",
			fn: func(plan map[string]any) {
				plan["weeks"].([]any)[1].(map[string]any)["startDate"] = "2025-03-09"
			},
			path: "weeks[1].startDate",
		},
		{
			name: "short week",
			fn: func(plan map[string]any) {
				w := plan["weeks"].([]any)[0].(map[string]any)
				w["days"] = w["days"].([]any)[:6]
			},
			path: "weeks[0].days",
		},
		{
			name: "day out of sequence",
			fn:   func(plan map[string]any) { day(plan, 1, 4)["date"] = "2025-03-15" },
			path: "weeks[1].days[4].date",
		},
		{
			name: "wrong weekday name",
			fn:   func(plan map[string]any) { day(plan, 0, 1)["dayOfWeek"] = "monday" },
			path: "weeks[0].days[1].dayOfWeek",
		},
		{
			name: "phase weeks do not add up",
			fn: func(plan map[string]any) {
				plan["overallStats"].(map[string]any)["phaseDistribution"] = map[string]any{"base": 1}
			},
			path: "overallStats.phaseDistribution",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(0.10).ParseAndValidate(mutate(t, ctx, tt.fn), ctx)
			requireParseError(t, err, tt.path)
		})
	}
}

func TestParseAndValidateTrainingDayFlag(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)

	flagged := mutate(t, ctx, func(plan map[string]any) {
		day(plan, 0, 0)["isTrainingDay"] = false
	})
	_, err := New(0.10).ParseAndValidate(flagged, ctx)
	requireParseError(t, err, "weeks[0].days[0].isTrainingDay")

	// A rest-type workout does not make a training day.
	rest := mutate(t, ctx, func(plan map[string]any) {
		d := day(plan, 0, 1)
		d["workout"] = map[string]any{"type": "rest", "duration": 0, "intensity": "low", "exercises": []any{}}
	})
	_, err = New(0.10).ParseAndValidate(rest, ctx)
	assert.NoError(t, err)
}

func TestParseAndValidateMacroTolerance(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	setNutrition := func(d int, field string, value float64) string {
		return mutate(t, ctx, func(plan map[string]any) {
			day(plan, 0, d)["nutrition"].(map[string]any)[field] = value
		})
	}

	// Training day target is 2400 kcal; 2640 is exactly +10%.
	_, err := New(0.10).ParseAndValidate(setNutrition(0, "targetCalories", 2640), ctx)
	assert.NoError(t, err)

	_, err = New(0.10).ParseAndValidate(setNutrition(0, "targetCalories", 2700), ctx)
	requireParseError(t, err, "weeks[0].days[0].nutrition.targetCalories")

	// Rest day carbs are 250 - 200/4 = 200 g.
	_, err = New(0.10).ParseAndValidate(setNutrition(1, "targetCarbs", 250), ctx)
	requireParseError(t, err, "weeks[0].days[1].nutrition.targetCarbs")

	_, err = New(0.10).ParseAndValidate(setNutrition(1, "targetProtein", 100), ctx)
	requireParseError(t, err, "weeks[0].days[1].nutrition.targetProtein")

	// A wider tolerance accepts the same deviation.
	_, err = New(0.30).ParseAndValidate(setNutrition(1, "targetProtein", 100), ctx)
	assert.NoError(t, err)
}

func TestParseAndValidateSkipsZeroTargets(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	raw := mutate(t, ctx, func(plan map[string]any) {
		day(plan, 0, 0)["nutrition"].(map[string]any)["targetFat"] = 5
	})
	ctx.Targets.Macros.Fat = 0

	_, err := New(0.10).ParseAndValidate(raw, ctx)
	assert.NoError(t, err)
}

func TestValidateAllReportsEveryViolation(t *testing.T) {
	ctx := planningtest.Context("user-1", 1)
	raw := mutate(t, ctx, func(plan map[string]any) {
		day(plan, 0, 0)["dayNumber"] = 2
		day(plan, 0, 6)["nutrition"].(map[string]any)["targetFat"] = 200
	})

	vs := New(0.10).ValidateAll(raw, ctx)
	require.Len(t, vs, 2)
	assert.Equal(t, "weeks[0].days[0].dayNumber", vs[0].Path)
	assert.Equal(t, "weeks[0].days[6].nutrition.targetFat", vs[1].Path)

	assert.Nil(t, New(0.10).ValidateAll(planningtest.PlanJSON(ctx), ctx))

	vs = New(0.10).ValidateAll("nothing here", ctx)
	require.Len(t, vs, 1)
	assert.Equal(t, ReasonNoPayload, vs[0].Reason)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here: {"a":1} done`, `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"trailing comma before newline", "{\"a\": 1,\n}", "{\"a\": 1\n}"},
		{"comma inside string kept", "```json\n{\"notes\": \"sets, reps, ]\"}\n```", `{"notes": "sets, reps, ]"}`},
		{"escaped quote in string", `{"notes": "say \"hi, }\"",}`, `{"notes": "say \"hi, }\""}`},
		{"line comment", "{\n\"url\": \"http://x\", // link\n\"b\": 2\n}", "{\n\"url\": \"http://x\",\n\"b\": 2\n}"},
		{"no object", "nothing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestSchemaIntegerStrictness(t *testing.T) {
	s := Object(Req("n", Integer().Between(1, 7)))
	for raw, ok := range map[string]bool{
		`{"n":3}`:    true,
		`{"n":3.0}`:  false,
		`{"n":1e1}`:  false,
		`{"n":9}`:    false,
		`{"n":"3"}`:  false,
		`{"n":null}`: false,
	} {
		tree, err := Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, ok, len(s.Validate(tree)) == 0, raw)
	}
}
