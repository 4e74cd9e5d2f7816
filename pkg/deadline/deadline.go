// Package deadline decides whether a meal selection is still mutable. The
// gate is a pure function of (meal, date, now); "now" is always injected so
// the same logic serves live interaction handling, the trigger dispatcher
// and the tests.
package deadline

import (
	"fmt"
	"time"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/models"
)

// LockedError is the user-visible refusal returned when a selection arrives
// at or after the deadline. It never accompanies a state mutation.
type LockedError struct {
	Meal models.Meal
	Date models.Date
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("the %s deadline for %s has passed; contact an administrator for manual changes", e.Meal, e.Date)
}

// Gate evaluates deadlines in the business timezone
type Gate struct {
	lunch  config.Clock
	dinner config.Clock
	loc    *time.Location
}

// NewGate builds a gate from the configured deadline times
func NewGate(cfg *config.Config) Gate {
	return Gate{
		lunch:  cfg.LunchDeadline(),
		dinner: cfg.DinnerDeadline(),
		loc:    cfg.Location(),
	}
}

// DeadlineAt returns the deadline instant for a meal on a date: the
// configured wall-clock time anchored to the date in the business timezone.
func (g Gate) DeadlineAt(meal models.Meal, date models.Date) time.Time {
	clock := g.lunch
	if meal == models.MealDinner {
		clock = g.dinner
	}
	return date.At(clock.Hour, clock.Minute, g.loc)
}

// Editable reports whether the selection for (meal, date) is still mutable
// at the given instant: true strictly before the deadline, false at and
// after it.
func (g Gate) Editable(meal models.Meal, date models.Date, now time.Time) bool {
	return now.Before(g.DeadlineAt(meal, date))
}

// Check returns a LockedError when the selection is no longer editable
func (g Gate) Check(meal models.Meal, date models.Date, now time.Time) error {
	if g.Editable(meal, date, now) {
		return nil
	}
	return &LockedError{Meal: meal, Date: date}
}
