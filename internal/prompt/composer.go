// Package prompt renders the model prompts for a planning context.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/maxibaudrix/Kiui/internal/planning"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Prompts is one system/user prompt pair.
type Prompts struct {
	System string
	User   string
}

// Composer renders prompts deterministically: the same context always yields
// byte-identical prompts.
type Composer struct {
	tmpl      *template.Template
	tolerance float64
}

// NewComposer parses the embedded templates. tolerance is the allowed relative
// deviation of daily nutrition from its targets and is quoted to the model.
func NewComposer(tolerance float64) (*Composer, error) {
	tmpl, err := template.New("prompts").Funcs(template.FuncMap{
		"list":    listOrNone,
		"num":     formatNumber,
		"percent": func(f float64) string { return "±" + strconv.Itoa(int(f*100+0.5)) + "%" },
	}).ParseFS(templatesFS, "templates/*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Composer{tmpl: tmpl, tolerance: tolerance}, nil
}

// Compose renders the prompts for a single call producing the whole plan.
func (c *Composer) Compose(ctx planning.UserPlanningContext) (Prompts, error) {
	return c.render(ctx, "user.md")
}

// ComposeTraining renders the prompts for the training half of a split generation.
func (c *Composer) ComposeTraining(ctx planning.UserPlanningContext) (Prompts, error) {
	return c.render(ctx, "training.md")
}

// ComposeNutrition renders the prompts for the nutrition half of a split generation.
func (c *Composer) ComposeNutrition(ctx planning.UserPlanningContext) (Prompts, error) {
	return c.render(ctx, "nutrition.md")
}

// Corrective extends p with the reason the previous answer was rejected.
func (c *Composer) Corrective(p Prompts, reason, path string) (Prompts, error) {
	var buf bytes.Buffer
	err := c.tmpl.ExecuteTemplate(&buf, "corrective.md", struct{ Reason, Path string }{reason, path})
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to render corrective prompt: %w", err)
	}
	return Prompts{System: p.System, User: p.User + "\n\n" + buf.String()}, nil
}

func (c *Composer) render(ctx planning.UserPlanningContext, userTemplate string) (Prompts, error) {
	data, err := newPromptData(ctx, c.tolerance)
	if err != nil {
		return Prompts{}, err
	}

	var system, user bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&system, "system.md", data); err != nil {
		return Prompts{}, fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := c.tmpl.ExecuteTemplate(&user, userTemplate, data); err != nil {
		return Prompts{}, fmt.Errorf("failed to render %s: %w", userTemplate, err)
	}
	return Prompts{System: system.String(), User: user.String()}, nil
}

type weekRow struct {
	Number int
	Start  string
	End    string
	Phase  string
}

type enumData struct {
	WorkoutTypes, Phases, Intensities, ExerciseKinds, MuscleGroups string
	MealTypes, Units, Difficulties, Days                           string
}

type promptData struct {
	Ctx       planning.UserPlanningContext
	EndDate   string
	Weeks     []weekRow
	Tolerance float64
	Locale    string
	MealTypes string
	Enums     enumData
}

func newPromptData(ctx planning.UserPlanningContext, tolerance float64) (promptData, error) {
	start, err := ctx.StartTime()
	if err != nil {
		return promptData{}, fmt.Errorf("invalid start date %q: %w", ctx.StartPreferences.StartDate, err)
	}

	phases := ctx.Planning.Phases.Sequence()
	weeks := make([]weekRow, ctx.Objective.TargetTimeline)
	for i := range weeks {
		ws := start.AddDate(0, 0, 7*i)
		weeks[i] = weekRow{
			Number: i + 1,
			Start:  ws.Format(planning.DateLayout),
			End:    ws.AddDate(0, 0, 6).Format(planning.DateLayout),
		}
		if i < len(phases) {
			weeks[i].Phase = phases[i]
		}
	}

	return promptData{
		Ctx:       ctx,
		EndDate:   ctx.EndDate(),
		Weeks:     weeks,
		Tolerance: tolerance,
		Locale:    ctx.Meta.Locale,
		MealTypes: strings.Join(mealTypesFor(ctx.Nutrition.MealsPerDay), ", "),
		Enums: enumData{
			WorkoutTypes:  quoted(planning.WorkoutTypes),
			Phases:        quoted(planning.PhaseNames),
			Intensities:   quoted(planning.Intensities),
			ExerciseKinds: quoted(planning.ExerciseKinds),
			MuscleGroups:  quoted(planning.MuscleGroups),
			MealTypes:     quoted(planning.MealTypes),
			Units:         quoted(planning.IngredientUnits),
			Difficulties:  quoted(planning.Difficulties),
			Days:          quoted(planning.DaysOfWeek),
		},
	}, nil
}

// mealTypesFor picks the meal slots for n meals a day: three main meals, then
// snacks.
func mealTypesFor(n int) []string {
	if n <= 0 {
		n = 3
	}
	if n > len(planning.MealTypes) {
		n = len(planning.MealTypes)
	}
	return planning.MealTypes[:n]
}

func quoted(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Quote(v)
	}
	return strings.Join(parts, " | ")
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
