package planning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value domains the model output is checked against.
const (
	PhaseBase     = "base"
	PhaseBuild    = "build"
	PhasePeak     = "peak"
	PhaseTaper    = "taper"
	PhaseRecovery = "recovery"

	WorkoutRest = "rest"
)

var (
	PhaseNames      = []string{PhaseBase, PhaseBuild, PhasePeak, PhaseTaper, PhaseRecovery}
	WorkoutTypes    = []string{"strength", "cardio", "hiit", WorkoutRest, "active_recovery"}
	Intensities     = []string{"low", "moderate", "high", "very_high"}
	ExerciseKinds   = []string{"compound", "isolation", "cardio", "mobility"}
	MuscleGroups    = []string{"chest", "back", "legs", "shoulders", "arms", "core", "full_body", "cardio"}
	MealTypes       = []string{"breakfast", "lunch", "dinner", "snack_1", "snack_2"}
	IngredientUnits = []string{"g", "ml", "unidad", "taza", "cucharada", "cucharadita"}
	Difficulties    = []string{"easy", "medium", "hard"}
	DaysOfWeek      = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
)

// CompletePlanningOutput is a validated multi-week plan.
type CompletePlanningOutput struct {
	TotalWeeks   int          `json:"totalWeeks"`
	StartDate    string       `json:"startDate"`
	EndDate      string       `json:"endDate"`
	Weeks        []WeekPlan   `json:"weeks"`
	OverallStats OverallStats `json:"overallStats"`
}

type OverallStats struct {
	TotalTrainingDays  int            `json:"totalTrainingDays"`
	TotalRestDays      int            `json:"totalRestDays"`
	TotalTrainingHours float64        `json:"totalTrainingHours"`
	AvgWeeklyCalories  float64        `json:"avgWeeklyCalories"`
	PhaseDistribution  map[string]int `json:"phaseDistribution"`
}

type WeekPlan struct {
	WeekNumber  int         `json:"weekNumber"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	Phase       string      `json:"phase"`
	Days        []DayPlan   `json:"days"`
	WeeklyStats WeeklyStats `json:"weeklyStats"`
}

type WeeklyStats struct {
	TrainingDays       int     `json:"trainingDays"`
	RestDays           int     `json:"restDays"`
	TotalVolume        float64 `json:"totalVolume,omitempty"`
	AvgDailyCalories   float64 `json:"avgDailyCalories"`
	TotalTrainingHours float64 `json:"totalTrainingHours,omitempty"`
}

type DayPlan struct {
	Date          string        `json:"date"`
	DayOfWeek     string        `json:"dayOfWeek"`
	DayNumber     int           `json:"dayNumber"`
	IsTrainingDay bool          `json:"isTrainingDay"`
	Workout       *WorkoutPlan  `json:"workout,omitempty"`
	Nutrition     NutritionPlan `json:"nutrition"`
}

// HasTraining reports whether the day carries a non-rest workout.
func (d DayPlan) HasTraining() bool {
	return d.Workout != nil && d.Workout.Type != WorkoutRest
}

type WorkoutPlan struct {
	Type        string     `json:"type"`
	Phase       string     `json:"phase,omitempty"`
	Focus       string     `json:"focus,omitempty"`
	Duration    int        `json:"duration"`
	Intensity   string     `json:"intensity"`
	Description string     `json:"description,omitempty"`
	Exercises   []Exercise `json:"exercises"`
	Warmup      string     `json:"warmup,omitempty"`
	Cooldown    string     `json:"cooldown,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

type Exercise struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	MuscleGroup string `json:"muscleGroup"`
	Sets        int    `json:"sets"`
	Reps        Reps   `json:"reps"`
	Rest        int    `json:"rest"`
	Tempo       string `json:"tempo,omitempty"`
	Weight      string `json:"weight,omitempty"`
	Notes       string `json:"notes,omitempty"`
	VideoID     string `json:"videoId,omitempty"`
}

// Reps is either a count or free text such as "8-12" or "AMRAP".
type Reps struct {
	Count int
	Text  string
}

func (r Reps) MarshalJSON() ([]byte, error) {
	if r.Text != "" {
		return json.Marshal(r.Text)
	}
	return json.Marshal(r.Count)
}

func (r *Reps) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reps{Text: s}
		if n, err := strconv.Atoi(s); err == nil {
			*r = Reps{Count: n}
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("reps must be a number or a string: %w", err)
	}
	*r = Reps{Count: int(f)}
	return nil
}

func (r Reps) String() string {
	if r.Text != "" {
		return r.Text
	}
	return strconv.Itoa(r.Count)
}

type NutritionPlan struct {
	TargetCalories float64    `json:"targetCalories"`
	TargetProtein  float64    `json:"targetProtein"`
	TargetCarbs    float64    `json:"targetCarbs"`
	TargetFat      float64    `json:"targetFat"`
	TargetFiber    float64    `json:"targetFiber,omitempty"`
	Meals          []MealPlan `json:"meals"`
	Hydration      Hydration  `json:"hydration"`
}

type Hydration struct {
	TargetWater int    `json:"targetWater"`
	Notes       string `json:"notes,omitempty"`
}

type MealPlan struct {
	MealType     string       `json:"mealType"`
	Timing       string       `json:"timing,omitempty"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Calories     float64      `json:"calories"`
	Protein      float64      `json:"protein"`
	Carbs        float64      `json:"carbs"`
	Fat          float64      `json:"fat"`
	Fiber        float64      `json:"fiber,omitempty"`
	Ingredients  []Ingredient `json:"ingredients"`
	Instructions []string     `json:"instructions,omitempty"`
	PrepTime     int          `json:"prepTime,omitempty"`
	CookTime     int          `json:"cookTime,omitempty"`
	Difficulty   string       `json:"difficulty,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
}

type Ingredient struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
	Notes  string  `json:"notes,omitempty"`
}
