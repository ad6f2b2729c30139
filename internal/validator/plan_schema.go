package validator

import "github.com/maxibaudrix/Kiui/internal/planning"

var ingredientSchema = Object(
	Req("name", String()),
	Req("amount", Number().AtLeast(0)),
	Req("unit", Enum(planning.IngredientUnits...)),
	Opt("notes", String()),
)

var mealSchema = Object(
	Req("mealType", Enum(planning.MealTypes...)),
	Opt("timing", String()),
	Req("name", String()),
	Opt("description", String()),
	Req("calories", Number().AtLeast(0)),
	Req("protein", Number().AtLeast(0)),
	Req("carbs", Number().AtLeast(0)),
	Req("fat", Number().AtLeast(0)),
	Opt("fiber", Number().AtLeast(0)),
	Req("ingredients", Array(ingredientSchema)),
	Opt("instructions", Array(String())),
	Opt("prepTime", Integer().AtLeast(0)),
	Opt("cookTime", Integer().AtLeast(0)),
	Opt("difficulty", Enum(planning.Difficulties...)),
	Opt("tags", Array(String())),
)

var nutritionSchema = Object(
	Req("targetCalories", Number().AtLeast(0)),
	Req("targetProtein", Number().AtLeast(0)),
	Req("targetCarbs", Number().AtLeast(0)),
	Req("targetFat", Number().AtLeast(0)),
	Opt("targetFiber", Number().AtLeast(0)),
	Req("meals", Array(mealSchema).NonEmpty()),
	Req("hydration", Object(
		Req("targetWater", Integer().AtLeast(0)),
		Opt("notes", String()),
	)),
)

var exerciseSchema = Object(
	Req("name", String()),
	Req("category", Enum(planning.ExerciseKinds...)),
	Req("muscleGroup", Enum(planning.MuscleGroups...)),
	Req("sets", Integer().AtLeast(1)),
	Req("reps", StringOrNumber()),
	Req("rest", Integer().AtLeast(0)),
	Opt("tempo", String()),
	Opt("weight", String()),
	Opt("notes", String()),
	Opt("videoId", String()),
)

var workoutSchema = Object(
	Req("type", Enum(planning.WorkoutTypes...)),
	Opt("phase", Enum(planning.PhaseNames...)),
	Opt("focus", String()),
	Req("duration", Integer().AtLeast(0)),
	Req("intensity", Enum(planning.Intensities...)),
	Opt("description", String()),
	Req("exercises", Array(exerciseSchema)),
	Opt("warmup", String()),
	Opt("cooldown", String()),
	Opt("notes", String()),
)

// daySchema leaves nutrition optional; PlanSchema and TrainingSchema differ
// only in whether it is required.
func daySchema(nutrition bool) *Schema {
	nutritionField := Opt("nutrition", nutritionSchema)
	if nutrition {
		nutritionField = Req("nutrition", nutritionSchema)
	}
	return Object(
		Req("date", Date()),
		Req("dayOfWeek", Enum(planning.DaysOfWeek...)),
		Req("dayNumber", Integer().Between(1, 7)),
		Req("isTrainingDay", Bool()),
		Opt("workout", workoutSchema),
		nutritionField,
	)
}

func planSchema(nutrition bool) *Schema {
	phaseCount := func(name string) Field { return Opt(name, Integer().AtLeast(0)) }
	return Object(
		Req("totalWeeks", Integer().AtLeast(1)),
		Req("startDate", Date()),
		Req("endDate", Date()),
		Req("weeks", Array(Object(
			Req("weekNumber", Integer().AtLeast(1)),
			Req("startDate", Date()),
			Req("endDate", Date()),
			Req("phase", Enum(planning.PhaseNames...)),
			Req("days", Array(daySchema(nutrition))),
			Req("weeklyStats", Object(
				Req("trainingDays", Integer().Between(0, 7)),
				Req("restDays", Integer().Between(0, 7)),
				Opt("totalVolume", Number().AtLeast(0)),
				Opt("avgDailyCalories", Number().AtLeast(0)),
				Opt("totalTrainingHours", Number().AtLeast(0)),
			)),
		)).NonEmpty()),
		Req("overallStats", Object(
			Req("totalTrainingDays", Integer().AtLeast(0)),
			Req("totalRestDays", Integer().AtLeast(0)),
			Opt("totalTrainingHours", Number().AtLeast(0)),
			Opt("avgWeeklyCalories", Number().AtLeast(0)),
			Req("phaseDistribution", Object(
				phaseCount(planning.PhaseBase),
				phaseCount(planning.PhaseBuild),
				phaseCount(planning.PhasePeak),
				phaseCount(planning.PhaseTaper),
				phaseCount(planning.PhaseRecovery),
			).Strict()),
		)),
	)
}

var (
	// PlanSchema is the complete plan as returned by a single combined call.
	PlanSchema = planSchema(true)
	// TrainingSchema is the training half of a split generation.
	TrainingSchema = planSchema(false)
	// NutritionSchema is the nutrition half of a split generation.
	NutritionSchema = Object(
		Req("days", Array(Object(
			Req("date", Date()),
			Req("nutrition", nutritionSchema),
		)).NonEmpty()),
	)
)
