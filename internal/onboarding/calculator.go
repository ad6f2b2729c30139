package onboarding

import (
	"math"
	"strings"

	"github.com/maxibaudrix/Kiui/internal/planning"
)

// Calculator derives nutritional targets and the periodization split from
// onboarding answers. Clients normally send both precomputed; the builder
// only falls back to a Calculator when they are absent.
type Calculator interface {
	Targets(bio planning.Biometrics, obj planning.Objective, act planning.Activity) planning.Targets
	Planning(obj planning.Objective) planning.Planning
}

// DefaultCalculator uses Mifflin-St Jeor with activity multipliers and the
// competition-aware phase split of the onboarding flow.
type DefaultCalculator struct {
	BlockSize int
}

var activityFactors = map[string]float64{
	"sedentary":         1.2,
	"lightly_active":    1.375,
	"moderately_active": 1.55,
	"very_active":       1.725,
	"extremely_active":  1.9,
}

func (c DefaultCalculator) Targets(bio planning.Biometrics, obj planning.Objective, act planning.Activity) planning.Targets {
	bmr := 10*bio.Weight + 6.25*bio.Height - 5*float64(bio.Age)
	switch strings.ToLower(bio.Gender) {
	case "male":
		bmr += 5
	case "female":
		bmr -= 161
	default:
		bmr -= 78
	}

	factor, ok := activityFactors[act.DailyActivityLevel]
	if !ok {
		factor = 1.55
	}
	target := bmr * factor
	switch obj.PrimaryGoal {
	case "lose_fat":
		target -= 500
	case "gain_muscle":
		target += 300
	}

	protein := 2.0 * bio.Weight
	fat := target * 0.30 / 9
	carbs := (target - protein*4 - fat*9) / 4
	if carbs < 0 {
		carbs = 0
	}

	return planning.Targets{
		Calories: planning.CalorieTargets{
			TrainingDay: math.Round(target + 200),
			RestDay:     math.Round(target - 200),
		},
		Macros: planning.MacroTargets{
			Protein: math.Round(protein),
			Carbs:   math.Round(carbs),
			Fat:     math.Round(fat),
			Fiber:   math.Round(target / 1000 * 14),
		},
	}
}

func (c DefaultCalculator) Planning(obj planning.Objective) planning.Planning {
	size := c.BlockSize
	if size <= 0 {
		size = 4
	}
	t := obj.TargetTimeline
	return planning.Planning{
		BlockSize:   size,
		TotalBlocks: (t + size - 1) / size,
		Phases:      SplitPhases(t, obj.HasCompetition),
	}
}

// SplitPhases distributes weeks across phases. With a competition the plan
// ends in a taper (two weeks from twelve weeks up) and a recovery week, and the
// remaining weeks split 40/40/20 across base, build and peak. A one-week
// competition plan is all taper. Without one, a
// quarter of the plan is recovery and the rest is split evenly between base
// and build.
func SplitPhases(weeks int, competition bool) planning.Phases {
	if weeks <= 0 {
		return planning.Phases{}
	}
	if !competition {
		recovery := weeks / 4
		trainable := weeks - recovery
		base := trainable / 2
		return planning.Phases{Base: base, Build: trainable - base, Recovery: recovery}
	}
	if weeks < 2 {
		return planning.Phases{Taper: weeks}
	}

	taper := 1
	if weeks >= 12 {
		taper = 2
	}
	recovery := 1
	buildable := weeks - taper - recovery
	base := buildable * 4 / 10
	build := buildable * 4 / 10
	return planning.Phases{
		Base:     base,
		Build:    build,
		Peak:     buildable - base - build,
		Taper:    taper,
		Recovery: recovery,
	}
}
