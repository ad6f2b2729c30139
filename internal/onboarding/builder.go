package onboarding

import (
	"strings"
	"time"

	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
)

// Payload is the raw onboarding form as posted by the client. Pointer
// sections distinguish "absent" from "zero".
type Payload struct {
	// StartDate is accepted at the top level for older clients.
	StartDate        string                     `json:"startDate,omitempty"`
	StartPreferences *planning.StartPreferences `json:"startPreferences,omitempty"`
	Biometrics       *planning.Biometrics       `json:"biometrics,omitempty"`
	Objective        *planning.Objective        `json:"objective,omitempty"`
	Activity         planning.Activity          `json:"activity"`
	Training         planning.Training          `json:"training"`
	Nutrition        planning.Nutrition         `json:"nutrition"`
	Targets          *planning.Targets          `json:"targets,omitempty"`
	Planning         *planning.Planning         `json:"planning,omitempty"`
}

// Builder turns an onboarding payload into a UserPlanningContext. It performs
// no I/O; the only non-deterministic input is the injected clock.
type Builder struct {
	now           func() time.Time
	grace         time.Duration
	calc          Calculator
	defaultLocale string
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithGrace sets how far in the past a start date may lie.
func WithGrace(d time.Duration) Option {
	return func(b *Builder) { b.grace = d }
}

// WithCalculator replaces the collaborator that derives targets and phases
// when the payload does not carry them.
func WithCalculator(c Calculator) Option {
	return func(b *Builder) { b.calc = c }
}

func WithDefaultLocale(locale string) Option {
	return func(b *Builder) { b.defaultLocale = locale }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		now:           time.Now,
		grace:         24 * time.Hour,
		calc:          DefaultCalculator{BlockSize: 4},
		defaultLocale: "es-ES",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates p and assembles the planning context for userID. Every
// missing or malformed field is reported in a single ValidationError.
func (b *Builder) Build(p Payload, userID, locale string) (planning.UserPlanningContext, error) {
	var bad []string
	if strings.TrimSpace(userID) == "" {
		bad = append(bad, "userId")
	}

	if p.Biometrics == nil {
		bad = append(bad, "biometrics")
	} else {
		if p.Biometrics.Age <= 0 {
			bad = append(bad, "biometrics.age")
		}
		if p.Biometrics.Weight <= 0 {
			bad = append(bad, "biometrics.weight")
		}
		if p.Biometrics.Height <= 0 {
			bad = append(bad, "biometrics.height")
		}
	}

	if p.Objective == nil {
		bad = append(bad, "objective")
	} else if p.Objective.TargetTimeline <= 0 {
		bad = append(bad, "objective.targetTimeline")
	}

	prefs := planning.StartPreferences{StartDate: p.StartDate, WeekStartsOn: "monday"}
	if p.StartPreferences != nil {
		if p.StartPreferences.StartDate != "" {
			prefs.StartDate = p.StartPreferences.StartDate
		}
		if p.StartPreferences.WeekStartsOn != "" {
			prefs.WeekStartsOn = strings.ToLower(p.StartPreferences.WeekStartsOn)
		}
	}
	if prefs.WeekStartsOn != "monday" && prefs.WeekStartsOn != "sunday" {
		bad = append(bad, "startPreferences.weekStartsOn")
	}

	if prefs.StartDate == "" {
		bad = append(bad, "startPreferences.startDate")
	} else if start, ok := parseDate(prefs.StartDate); !ok {
		bad = append(bad, "startPreferences.startDate (invalid date)")
	} else if start.Before(day(b.now().Add(-b.grace))) {
		bad = append(bad, "startPreferences.startDate (in the past)")
	} else {
		prefs.StartDate = start.Format(planning.DateLayout)
	}

	if len(bad) > 0 {
		return planning.UserPlanningContext{}, planerr.Validation("incomplete onboarding data", bad...)
	}

	targets := b.targets(p)
	if targets.Calories.TrainingDay <= 0 || targets.Calories.RestDay <= 0 {
		return planning.UserPlanningContext{}, planerr.Validation("calorie targets must be positive", "targets.calories")
	}

	plan := b.calc.Planning(*p.Objective)
	if p.Planning != nil {
		plan = *p.Planning
	}
	if plan.Phases.Sum() != p.Objective.TargetTimeline {
		return planning.UserPlanningContext{}, planerr.Validation("phase weeks do not add up to the target timeline", "planning.phases")
	}

	if locale == "" {
		locale = b.defaultLocale
	}

	ctx := planning.UserPlanningContext{
		Meta: planning.Meta{
			UserID:    userID,
			CreatedAt: b.now().UTC(),
			Version:   planning.ContextVersion,
			Locale:    locale,
		},
		StartPreferences: prefs,
		Biometrics:       *p.Biometrics,
		Objective:        *p.Objective,
		Activity:         p.Activity,
		Training:         p.Training,
		Nutrition:        p.Nutrition,
		Targets:          targets,
		Planning:         plan,
	}
	return ctx.Clone(), nil
}

func (b *Builder) targets(p Payload) planning.Targets {
	if p.Targets != nil {
		return *p.Targets
	}
	return b.calc.Targets(*p.Biometrics, *p.Objective, p.Activity)
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(planning.DateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return day(t), true
	}
	return time.Time{}, false
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
