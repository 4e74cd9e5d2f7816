// Package plan resolves which meals are offered on a given date by combining
// the weekday default with administrator-authored schedule overrides.
package plan

import (
	"time"

	"github.com/mealrota/canteenbot/pkg/models"
)

// Index answers override lookups for a snapshot of the override table.
// Overrides keep the rank assigned at read time; for any date covered by more
// than one override the highest-ranked one wins entirely.
type Index struct {
	overrides []models.ScheduleOverride
}

// NewIndex builds an index over an override snapshot
func NewIndex(overrides []models.ScheduleOverride) *Index {
	return &Index{overrides: overrides}
}

// Lookup returns the winning override for the date, if any, along with the
// number of overrides covering the date.
func (i *Index) Lookup(date models.Date) (models.ScheduleOverride, int, bool) {
	var winner models.ScheduleOverride
	matched := 0
	for _, override := range i.overrides {
		if !override.Covers(date) {
			continue
		}
		matched++
		if matched == 1 || override.Rank >= winner.Rank {
			winner = override
		}
	}
	return winner, matched, matched > 0
}

// Size returns the number of overrides in the snapshot
func (i *Index) Size() int {
	return len(i.overrides)
}

// Resolve produces the daily plan for a date. An override covering the date
// determines the meal set verbatim; otherwise weekdays offer both meals and
// weekends offer none.
func Resolve(date models.Date, index *Index) models.DailyPlan {
	if override, _, ok := index.Lookup(date); ok {
		meals := models.NewMealSet()
		for _, meal := range models.AllMeals() {
			if override.Meals.Has(meal) {
				meals[meal] = true
			}
		}
		return models.DailyPlan{Date: date, Meals: meals}
	}

	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return models.DailyPlan{Date: date, Meals: models.NewMealSet()}
	}
	return models.DailyPlan{Date: date, Meals: models.NewMealSet(models.MealLunch, models.MealDinner)}
}
