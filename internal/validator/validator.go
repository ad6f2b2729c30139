// Package validator turns raw model output into a CompletePlanningOutput,
// rejecting anything that does not match the plan schema or its cross-field
// invariants. It never repairs data.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
)

const (
	ReasonNoPayload      = "no structured payload found"
	ReasonSchemaMismatch = "schema mismatch"
)

type Validator struct {
	tolerance float64
}

// New returns a validator accepting daily nutrition targets within tolerance
// (0.10 for ±10%) of the context's targets.
func New(tolerance float64) *Validator {
	return &Validator{tolerance: tolerance}
}

// ParseAndValidate extracts, checks and decodes raw. Failures are ParseErrors
// naming the first offending path.
func (v *Validator) ParseAndValidate(raw string, ctx planning.UserPlanningContext) (*planning.CompletePlanningOutput, error) {
	out, violations, err := v.check(raw, ctx)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, ParseError(violations[0])
	}
	return out, nil
}

// ParseError converts a violation into the pipeline's ParseError.
func ParseError(v Violation) error {
	pe := planerr.Parse(v.Reason, v.Path)
	if detail, ok := strings.CutPrefix(v.Reason, ReasonSchemaMismatch+": "); ok {
		pe.Message = ReasonSchemaMismatch
		pe.Err = errors.New(detail)
	}
	return pe
}

// ValidateAll reports every violation instead of only the first. A nil slice
// means raw is a valid plan for ctx.
func (v *Validator) ValidateAll(raw string, ctx planning.UserPlanningContext) []Violation {
	_, violations, err := v.check(raw, ctx)
	if err != nil {
		if pe, ok := planerr.As(err); ok {
			return []Violation{{Path: pe.Path, Reason: pe.Message}}
		}
		return []Violation{{Reason: err.Error()}}
	}
	return violations
}

func (v *Validator) check(raw string, ctx planning.UserPlanningContext) (*planning.CompletePlanningOutput, []Violation, error) {
	payload, tree, err := Structured(raw)
	if err != nil {
		return nil, nil, err
	}

	if violations := PlanSchema.Validate(tree); len(violations) > 0 {
		for i := range violations {
			violations[i].Reason = ReasonSchemaMismatch + ": " + violations[i].Reason
		}
		return nil, violations, nil
	}

	var out planning.CompletePlanningOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, []Violation{{Path: typeErr.Field, Reason: ReasonSchemaMismatch + ": " + typeErr.Error()}}, nil
		}
		return nil, nil, planerr.Parse(ReasonSchemaMismatch, "")
	}

	return &out, v.invariants(&out, ctx), nil
}

// Structured extracts the JSON object from raw and decodes it generically.
func Structured(raw string) (string, any, error) {
	payload := ExtractJSON(raw)
	if payload == "" {
		return "", nil, planerr.Parse(ReasonNoPayload, "")
	}
	tree, err := Decode([]byte(payload))
	if err != nil {
		return "", nil, planerr.Parse(ReasonNoPayload, "")
	}
	return payload, tree, nil
}

// invariants checks the cross-field rules of a schema-valid plan, in order:
// week count, plan dates, per-week calendar, per-day consistency and macro
// tolerance, phase distribution.
func (v *Validator) invariants(out *planning.CompletePlanningOutput, ctx planning.UserPlanningContext) []Violation {
	var vs []Violation
	add := func(path, format string, args ...any) {
		vs = append(vs, Violation{Path: path, Reason: fmt.Sprintf(format, args...)})
	}

	timeline := ctx.Objective.TargetTimeline
	if out.TotalWeeks != timeline {
		add("totalWeeks", "totalWeeks %d does not match the %d-week timeline", out.TotalWeeks, timeline)
	}
	if len(out.Weeks) != out.TotalWeeks {
		add("weeks", "plan has %d weeks but totalWeeks is %d", len(out.Weeks), out.TotalWeeks)
	}

	start, err := ctx.StartTime()
	if err != nil {
		add("startDate", "context start date %q is invalid", ctx.StartPreferences.StartDate)
		return vs
	}
	if out.StartDate != ctx.StartPreferences.StartDate {
		add("startDate", "startDate %s does not match the requested start %s", out.StartDate, ctx.StartPreferences.StartDate)
	}
	wantEnd := formatDate(start.AddDate(0, 0, 7*len(out.Weeks)-1))
	if out.EndDate != wantEnd {
		add("endDate", "endDate %s does not close the last week (expected %s)", out.EndDate, wantEnd)
	}

	for i, week := range out.Weeks {
		wp := fmt.Sprintf("weeks[%d]", i)
		weekStart := start.AddDate(0, 0, 7*i)

		if week.WeekNumber != i+1 {
			add(wp+".weekNumber", "expected week %d, got %d", i+1, week.WeekNumber)
		}
		if week.StartDate != formatDate(weekStart) {
			add(wp+".startDate", "week starts on %s, expected %s", week.StartDate, formatDate(weekStart))
		}
		if want := formatDate(weekStart.AddDate(0, 0, 6)); week.EndDate != want {
			add(wp+".endDate", "week ends on %s, expected %s", week.EndDate, want)
		}
		if len(week.Days) != 7 {
			add(wp+".days", "week has %d days, expected 7", len(week.Days))
		}

		for j, day := range week.Days {
			dp := fmt.Sprintf("%s.days[%d]", wp, j)
			date := weekStart.AddDate(0, 0, j)

			if day.Date != formatDate(date) {
				add(dp+".date", "day is %s, expected %s", day.Date, formatDate(date))
			} else if want := strings.ToLower(date.Weekday().String()); day.DayOfWeek != want {
				add(dp+".dayOfWeek", "%s falls on %s, not %s", day.Date, want, day.DayOfWeek)
			}
			if day.DayNumber != j+1 {
				add(dp+".dayNumber", "expected day number %d, got %d", j+1, day.DayNumber)
			}
			if day.IsTrainingDay != day.HasTraining() {
				add(dp+".isTrainingDay", "isTrainingDay is %v but the day %s a training workout",
					day.IsTrainingDay, map[bool]string{true: "has", false: "has no"}[day.HasTraining()])
			}
			vs = append(vs, v.macroViolations(dp+".nutrition", day, ctx.Targets)...)
		}
	}

	sum := 0
	for _, n := range out.OverallStats.PhaseDistribution {
		sum += n
	}
	if sum != out.TotalWeeks {
		add("overallStats.phaseDistribution", "phase weeks sum to %d, expected %d", sum, out.TotalWeeks)
	}

	return vs
}

// macroViolations compares a day's nutrition targets with the context targets
// for its day type. Protein and fat targets are the same every day; the carb
// target moves with the calorie difference between training and rest days.
func (v *Validator) macroViolations(path string, day planning.DayPlan, t planning.Targets) []Violation {
	calories := t.Calories.RestDay
	if day.IsTrainingDay {
		calories = t.Calories.TrainingDay
	}
	mid := (t.Calories.TrainingDay + t.Calories.RestDay) / 2
	carbs := t.Macros.Carbs + (calories-mid)/4

	n := day.Nutrition
	checks := []struct {
		field       string
		got, target float64
	}{
		{"targetCalories", n.TargetCalories, calories},
		{"targetProtein", n.TargetProtein, t.Macros.Protein},
		{"targetCarbs", n.TargetCarbs, carbs},
		{"targetFat", n.TargetFat, t.Macros.Fat},
	}

	var vs []Violation
	for _, c := range checks {
		if c.target <= 0 {
			continue
		}
		if math.Abs(c.got-c.target) > v.tolerance*c.target {
			vs = append(vs, Violation{
				Path: path + "." + c.field,
				Reason: fmt.Sprintf("%s %.0f is outside ±%.0f%% of the target %.0f",
					c.field, c.got, v.tolerance*100, c.target),
			})
		}
	}
	return vs
}

func formatDate(t time.Time) string {
	return t.Format(planning.DateLayout)
}
