// Package planningtest builds planning contexts and plans that satisfy every
// validation rule, for tests that need a realistic model response.
package planningtest

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/planning"
)

// Now is a clock reading two days before StartDate.
var Now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const StartDate = "2025-03-03" // a Monday

// Context returns a context for a plan of the given length starting on
// StartDate, training Monday, Wednesday and Friday.
func Context(userID string, weeks int) planning.UserPlanningContext {
	phases := planning.Phases{Base: weeks}
	return planning.UserPlanningContext{
		Meta: planning.Meta{
			UserID:    userID,
			CreatedAt: Now,
			Version:   planning.ContextVersion,
			Locale:    "es-ES",
		},
		StartPreferences: planning.StartPreferences{StartDate: StartDate, WeekStartsOn: "monday"},
		Biometrics:       planning.Biometrics{Age: 32, Gender: "male", Weight: 80, Height: 180},
		Objective:        planning.Objective{PrimaryGoal: "gain_muscle", TargetTimeline: weeks},
		Activity: planning.Activity{
			DailyActivityLevel: "moderately_active",
			AvailableDays:      []string{"monday", "wednesday", "friday"},
			PreferredTimes:     []string{},
		},
		Training: planning.Training{
			ExperienceLevel:    "intermediate",
			SportType:          "strength",
			DaysPerWeek:        3,
			SessionDuration:    60,
			TrainingLocation:   []string{"gym"},
			AvailableEquipment: []string{"barbell", "dumbbells"},
		},
		Nutrition: planning.Nutrition{
			DietType:      "omnivore",
			MealsPerDay:   3,
			Allergies:     []string{},
			Intolerances:  []string{},
			ExcludedFoods: []string{},
		},
		Targets: planning.Targets{
			Calories: planning.CalorieTargets{TrainingDay: 2400, RestDay: 2000},
			Macros:   planning.MacroTargets{Protein: 130, Carbs: 250, Fat: 70, Fiber: 30},
		},
		Planning: planning.Planning{BlockSize: 4, TotalBlocks: (weeks + 3) / 4, Phases: phases},
	}
}

// Payload is the onboarding form that builds Context(userID, weeks) when the
// builder's clock reads Now.
func Payload(weeks int) onboarding.Payload {
	ctx := Context("", weeks)
	return onboarding.Payload{
		StartPreferences: &ctx.StartPreferences,
		Biometrics:       &ctx.Biometrics,
		Objective:        &ctx.Objective,
		Activity:         ctx.Activity,
		Training:         ctx.Training,
		Nutrition:        ctx.Nutrition,
		Targets:          &ctx.Targets,
		Planning:         &ctx.Planning,
	}
}

// Plan returns a plan for ctx that passes validation. Training days follow
// ctx.Activity.AvailableDays.
func Plan(ctx planning.UserPlanningContext) planning.CompletePlanningOutput {
	start, _ := ctx.StartTime()
	weeks := ctx.Objective.TargetTimeline
	phases := ctx.Planning.Phases.Sequence()

	out := planning.CompletePlanningOutput{
		TotalWeeks:   weeks,
		StartDate:    ctx.StartPreferences.StartDate,
		EndDate:      ctx.EndDate(),
		OverallStats: planning.OverallStats{PhaseDistribution: map[string]int{}},
	}

	for w := 0; w < weeks; w++ {
		weekStart := start.AddDate(0, 0, 7*w)
		phase := planning.PhaseBase
		if w < len(phases) {
			phase = phases[w]
		}
		week := planning.WeekPlan{
			WeekNumber: w + 1,
			StartDate:  weekStart.Format(planning.DateLayout),
			EndDate:    weekStart.AddDate(0, 0, 6).Format(planning.DateLayout),
			Phase:      phase,
		}
		var calories float64
		for d := 0; d < 7; d++ {
			date := weekStart.AddDate(0, 0, d)
			dow := strings.ToLower(date.Weekday().String())
			training := slices.Contains(ctx.Activity.AvailableDays, dow)
			day := planning.DayPlan{
				Date:          date.Format(planning.DateLayout),
				DayOfWeek:     dow,
				DayNumber:     d + 1,
				IsTrainingDay: training,
				Nutrition:     Nutrition(ctx.Targets, training),
			}
			if training {
				day.Workout = Workout(phase)
				week.WeeklyStats.TrainingDays++
				week.WeeklyStats.TotalTrainingHours += 1
			} else {
				week.WeeklyStats.RestDays++
			}
			calories += day.Nutrition.TargetCalories
			week.Days = append(week.Days, day)
		}
		week.WeeklyStats.AvgDailyCalories = calories / 7

		out.OverallStats.TotalTrainingDays += week.WeeklyStats.TrainingDays
		out.OverallStats.TotalRestDays += week.WeeklyStats.RestDays
		out.OverallStats.TotalTrainingHours += week.WeeklyStats.TotalTrainingHours
		out.OverallStats.AvgWeeklyCalories += calories / float64(weeks)
		out.OverallStats.PhaseDistribution[phase]++
		out.Weeks = append(out.Weeks, week)
	}
	return out
}

// PlanJSON is Plan encoded the way a model would return it.
func PlanJSON(ctx planning.UserPlanningContext) string {
	b, err := json.Marshal(Plan(ctx))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func Workout(phase string) *planning.WorkoutPlan {
	return &planning.WorkoutPlan{
		Type:      "strength",
		Phase:     phase,
		Focus:     "full body",
		Duration:  60,
		Intensity: "moderate",
		Exercises: []planning.Exercise{
			{Name: "Sentadilla", Category: "compound", MuscleGroup: "legs", Sets: 4, Reps: planning.Reps{Text: "8-10"}, Rest: 120},
			{Name: "Press banca", Category: "compound", MuscleGroup: "chest", Sets: 4, Reps: planning.Reps{Count: 8}, Rest: 120},
		},
	}
}

// Nutrition returns a day's nutrition exactly on target for its day type.
func Nutrition(t planning.Targets, training bool) planning.NutritionPlan {
	calories := t.Calories.RestDay
	if training {
		calories = t.Calories.TrainingDay
	}
	mid := (t.Calories.TrainingDay + t.Calories.RestDay) / 2
	carbs := t.Macros.Carbs + (calories-mid)/4

	meal := func(mealType, name string, share float64) planning.MealPlan {
		return planning.MealPlan{
			MealType: mealType,
			Name:     name,
			Calories: calories * share,
			Protein:  t.Macros.Protein * share,
			Carbs:    carbs * share,
			Fat:      t.Macros.Fat * share,
			Ingredients: []planning.Ingredient{
				{Name: "arroz", Amount: 100, Unit: "g"},
			},
		}
	}
	return planning.NutritionPlan{
		TargetCalories: calories,
		TargetProtein:  t.Macros.Protein,
		TargetCarbs:    carbs,
		TargetFat:      t.Macros.Fat,
		Meals: []planning.MealPlan{
			meal("breakfast", "Avena con fruta", 0.25),
			meal("lunch", "Pollo con arroz", 0.4),
			meal("dinner", "Salmón con verduras", 0.35),
		},
		Hydration: planning.Hydration{TargetWater: 2500},
	}
}
