// Package planning holds the data model shared by every plan-generation stage:
// the immutable per-request context and the multi-week plan produced from it.
package planning

import "time"

const ContextVersion = "1.0.0"

const DateLayout = "2006-01-02"

// UserPlanningContext is the immutable snapshot a plan is generated from.
// Stages receive it by value and never modify it.
type UserPlanningContext struct {
	Meta             Meta             `json:"meta"`
	StartPreferences StartPreferences `json:"startPreferences"`
	Biometrics       Biometrics       `json:"biometrics"`
	Objective        Objective        `json:"objective"`
	Activity         Activity         `json:"activity"`
	Training         Training         `json:"training"`
	Nutrition        Nutrition        `json:"nutrition"`
	Targets          Targets          `json:"targets"`
	Planning         Planning         `json:"planning"`
}

type Meta struct {
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Version   string    `json:"version"`
	Locale    string    `json:"locale"`
}

type StartPreferences struct {
	StartDate    string `json:"startDate"`
	WeekStartsOn string `json:"weekStartsOn"`
}

type Biometrics struct {
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	Weight            float64  `json:"weight"`
	Height            float64  `json:"height"`
	BodyFatPercentage *float64 `json:"bodyFatPercentage,omitempty"`
}

type Objective struct {
	PrimaryGoal     string `json:"primaryGoal"`
	TargetTimeline  int    `json:"targetTimeline"`
	HasCompetition  bool   `json:"hasCompetition"`
	CompetitionType string `json:"competitionType,omitempty"`
	TargetDate      string `json:"targetDate,omitempty"`
	Motivation      string `json:"motivation,omitempty"`
}

type Activity struct {
	Country            string   `json:"country,omitempty"`
	Timezone           string   `json:"timezone,omitempty"`
	DailyActivityLevel string   `json:"dailyActivityLevel,omitempty"`
	DailySteps         int      `json:"dailySteps,omitempty"`
	AvailableDays      []string `json:"availableDays"`
	PreferredTimes     []string `json:"preferredTimes,omitempty"`
}

type Training struct {
	ExperienceLevel    string   `json:"experienceLevel,omitempty"`
	SportType          string   `json:"sportType,omitempty"`
	SportSubtype       string   `json:"sportSubtype,omitempty"`
	DaysPerWeek        int      `json:"daysPerWeek"`
	SessionDuration    int      `json:"sessionDuration"`
	TrainingLocation   []string `json:"trainingLocation"`
	AvailableEquipment []string `json:"availableEquipment"`
	HasInjuries        bool     `json:"hasInjuries"`
	InjuryDetails      string   `json:"injuryDetails,omitempty"`
}

type Nutrition struct {
	DietType         string   `json:"dietType"`
	MealsPerDay      int      `json:"mealsPerDay"`
	Allergies        []string `json:"allergies"`
	Intolerances     []string `json:"intolerances"`
	ExcludedFoods    []string `json:"excludedFoods"`
	CookingFrequency string   `json:"cookingFrequency,omitempty"`
}

type Targets struct {
	Calories CalorieTargets `json:"calories"`
	Macros   MacroTargets   `json:"macros"`
}

type CalorieTargets struct {
	TrainingDay float64 `json:"trainingDay"`
	RestDay     float64 `json:"restDay"`
}

// MacroTargets are daily grams.
type MacroTargets struct {
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fat     float64 `json:"fat"`
	Fiber   float64 `json:"fiber"`
}

type Planning struct {
	BlockSize   int    `json:"blockSize"`
	TotalBlocks int    `json:"totalBlocks"`
	Phases      Phases `json:"phases"`
}

// Phases counts the weeks assigned to each periodization phase.
type Phases struct {
	Base     int `json:"base"`
	Build    int `json:"build"`
	Peak     int `json:"peak"`
	Taper    int `json:"taper"`
	Recovery int `json:"recovery"`
}

func (p Phases) Sum() int {
	return p.Base + p.Build + p.Peak + p.Taper + p.Recovery
}

// Sequence expands the phase counts into one phase name per week, in
// periodization order.
func (p Phases) Sequence() []string {
	seq := make([]string, 0, p.Sum())
	for _, ph := range []struct {
		name  string
		weeks int
	}{
		{PhaseBase, p.Base},
		{PhaseBuild, p.Build},
		{PhasePeak, p.Peak},
		{PhaseTaper, p.Taper},
		{PhaseRecovery, p.Recovery},
	} {
		for i := 0; i < ph.weeks; i++ {
			seq = append(seq, ph.name)
		}
	}
	return seq
}

// StartTime parses StartPreferences.StartDate.
func (c UserPlanningContext) StartTime() (time.Time, error) {
	return time.Parse(DateLayout, c.StartPreferences.StartDate)
}

// EndDate is the last day of the final week.
func (c UserPlanningContext) EndDate() string {
	start, err := c.StartTime()
	if err != nil {
		return ""
	}
	return start.AddDate(0, 0, 7*c.Objective.TargetTimeline-1).Format(DateLayout)
}

// Clone returns a deep copy so callers cannot reach shared slice storage.
func (c UserPlanningContext) Clone() UserPlanningContext {
	out := c
	if c.Biometrics.BodyFatPercentage != nil {
		bf := *c.Biometrics.BodyFatPercentage
		out.Biometrics.BodyFatPercentage = &bf
	}
	out.Activity.AvailableDays = cloneStrings(c.Activity.AvailableDays)
	out.Activity.PreferredTimes = cloneStrings(c.Activity.PreferredTimes)
	out.Training.TrainingLocation = cloneStrings(c.Training.TrainingLocation)
	out.Training.AvailableEquipment = cloneStrings(c.Training.AvailableEquipment)
	out.Nutrition.Allergies = cloneStrings(c.Nutrition.Allergies)
	out.Nutrition.Intolerances = cloneStrings(c.Nutrition.Intolerances)
	out.Nutrition.ExcludedFoods = cloneStrings(c.Nutrition.ExcludedFoods)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
