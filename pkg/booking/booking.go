// Package booking converges the meal-record store toward a desired per-meal
// state for a (date, person) pair. It owns the uniqueness invariant: current
// records are always re-read fresh before writing, duplicates resolve
// last-record-wins, and an apply with an unchanged target produces no writes.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/deadline"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/plan"
	"github.com/mealrota/canteenbot/pkg/roster"
)

// ErrNotOffered is returned when a toggle targets a meal the day's plan does
// not offer. The caller should show the refreshed state instead of mutating.
var ErrNotOffered = errors.New("meal not offered on this date")

// ErrNotOnRoster is returned for persons missing from the roster
var ErrNotOnRoster = errors.New("person is not on the meal roster")

// Target is the desired reservation status per meal
type Target map[models.Meal]models.ReservationStatus

// State is the per-meal display state used to refresh an interactive card
type State struct {
	Date      models.Date
	Plan      models.DailyPlan
	Person    models.Person
	Selected  models.MealSet
	RecordIDs map[models.Meal]string
}

// Service is the reconciliation engine
type Service struct {
	roster *roster.Service
	gate   deadline.Gate
	locks  *personLocks
	logger *logger.Logger
}

// New creates a booking service
func New(rosterService *roster.Service, gate deadline.Gate) *Service {
	return &Service{
		roster: rosterService,
		gate:   gate,
		locks:  newPersonLocks(),
		logger: logger.New("booking"),
	}
}

// PlanFor resolves the daily plan for a date from the cached override table
func (s *Service) PlanFor(ctx context.Context, date models.Date) (models.DailyPlan, error) {
	overrides, err := s.roster.Overrides(ctx, false)
	if err != nil {
		return models.DailyPlan{}, err
	}
	return plan.Resolve(date, plan.NewIndex(overrides)), nil
}

// Apply converges the store toward target for (date, person). It re-reads
// current records first, never trusting caller-supplied state, and returns
// the resulting per-meal confirmed state. Calling it twice with the same
// target yields zero writes the second time.
func (s *Service) Apply(ctx context.Context, date models.Date, person models.Person, target Target) (map[models.Meal]models.ReservationStatus, map[models.Meal]string, error) {
	unlock := s.locks.acquire(person.ID)
	defer unlock()

	return s.applyLocked(ctx, date, person, target)
}

func (s *Service) applyLocked(ctx context.Context, date models.Date, person models.Person, target Target) (map[models.Meal]models.ReservationStatus, map[models.Meal]string, error) {
	rows, err := s.roster.ListPersonRows(ctx, date, person.ID)
	if err != nil {
		return nil, nil, err
	}
	active := s.roster.ActiveByMeal(rows)

	result := make(map[models.Meal]models.ReservationStatus)
	recordIDs := make(map[models.Meal]string)
	for meal, row := range active {
		result[meal] = row.Status
		recordIDs[meal] = row.RecordID
	}

	for _, meal := range models.AllMeals() {
		want, ok := target[meal]
		if !ok {
			continue
		}
		row, exists := active[meal]

		switch {
		case !exists:
			price := decimal.Zero
			if want == models.StatusConfirmed {
				price = person.Price(meal)
			}
			recordID, err := s.roster.CreateMealRecord(ctx, date, person.ID, meal, want, price)
			if err != nil {
				return nil, nil, err
			}
			s.logger.Debug("created record: date=%s person=%s meal=%s status=%s", date, person.ID, meal, want)
			result[meal] = want
			recordIDs[meal] = recordID

		case row.Status != want:
			if want == models.StatusConfirmed {
				// Re-confirming retakes the price snapshot.
				err = s.roster.UpdateMealStatusAndPrice(ctx, row.RecordID, want, person.Price(meal))
			} else {
				// Cancelling leaves the price untouched.
				err = s.roster.UpdateMealStatus(ctx, row.RecordID, want)
			}
			if err != nil {
				return nil, nil, err
			}
			s.logger.Debug("updated record %s: date=%s person=%s meal=%s status=%s", row.RecordID, date, person.ID, meal, want)
			result[meal] = want

		default:
			// Already converged, no write.
		}
	}

	return result, recordIDs, nil
}

// IssueCard reconciles a person's records for the date against the plan and
// their stored preferences, and returns the state the card should display.
// For offered meals an existing record's status is authoritative; absent
// records default to the preference. Meals the plan vetoes are auto-cancelled
// even when previously confirmed.
func (s *Service) IssueCard(ctx context.Context, date models.Date, person models.Person, dailyPlan models.DailyPlan) (State, error) {
	unlock := s.locks.acquire(person.ID)
	defer unlock()

	rows, err := s.roster.ListPersonRows(ctx, date, person.ID)
	if err != nil {
		return State{}, err
	}
	active := s.roster.ActiveByMeal(rows)

	target := make(Target)
	for _, meal := range models.AllMeals() {
		row, exists := active[meal]
		switch {
		case dailyPlan.Offers(meal):
			if exists {
				target[meal] = row.Status
			} else if person.Preferences.Has(meal) {
				target[meal] = models.StatusConfirmed
			} else {
				target[meal] = models.StatusCancelled
			}
		case exists && row.Confirmed():
			// Plan veto beats an existing confirmation.
			s.logger.Info("auto-cancelling %s for %s on %s: meal removed from plan", meal, person.ID, date)
			target[meal] = models.StatusCancelled
		}
	}

	statuses, recordIDs, err := s.applyLocked(ctx, date, person, target)
	if err != nil {
		return State{}, err
	}
	return buildState(date, dailyPlan, person, statuses, recordIDs), nil
}

// Toggle flips one meal's reservation for (date, person) in response to a
// user interaction. The deadline gate is consulted before any write; a
// locked meal yields a LockedError and no mutation. Toggling a meal the plan
// does not offer yields ErrNotOffered together with the refreshed state.
func (s *Service) Toggle(ctx context.Context, now time.Time, date models.Date, personID string, meal models.Meal) (State, error) {
	person, found, err := s.roster.Person(ctx, personID)
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, ErrNotOnRoster
	}

	dailyPlan, err := s.PlanFor(ctx, date)
	if err != nil {
		return State{}, err
	}

	unlock := s.locks.acquire(person.ID)
	defer unlock()

	// Meals the plan no longer offers are cancelled before the toggle is
	// considered, so a stale card cannot resurrect them.
	target := make(Target)
	rows, err := s.roster.ListPersonRows(ctx, date, person.ID)
	if err != nil {
		return State{}, err
	}
	active := s.roster.ActiveByMeal(rows)
	for _, other := range models.AllMeals() {
		if row, exists := active[other]; exists && !dailyPlan.Offers(other) && row.Confirmed() {
			target[other] = models.StatusCancelled
		}
	}

	if !dailyPlan.Offers(meal) {
		statuses, recordIDs, err := s.applyLocked(ctx, date, person, target)
		if err != nil {
			return State{}, err
		}
		return buildState(date, dailyPlan, person, statuses, recordIDs), ErrNotOffered
	}

	if err := s.gate.Check(meal, date, now); err != nil {
		return State{}, err
	}

	if row, exists := active[meal]; exists && row.Confirmed() {
		target[meal] = models.StatusCancelled
	} else {
		target[meal] = models.StatusConfirmed
	}

	statuses, recordIDs, err := s.applyLocked(ctx, date, person, target)
	if err != nil {
		return State{}, err
	}
	return buildState(date, dailyPlan, person, statuses, recordIDs), nil
}

// Refresh recomputes the display state without invoking any write path
func (s *Service) Refresh(ctx context.Context, date models.Date, personID string) (State, error) {
	person, found, err := s.roster.Person(ctx, personID)
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, ErrNotOnRoster
	}

	dailyPlan, err := s.PlanFor(ctx, date)
	if err != nil {
		return State{}, err
	}

	rows, err := s.roster.ListPersonRows(ctx, date, person.ID)
	if err != nil {
		return State{}, err
	}
	active := s.roster.ActiveByMeal(rows)

	statuses := make(map[models.Meal]models.ReservationStatus)
	recordIDs := make(map[models.Meal]string)
	for meal, row := range active {
		statuses[meal] = row.Status
		recordIDs[meal] = row.RecordID
	}
	return buildState(date, dailyPlan, person, statuses, recordIDs), nil
}

func buildState(date models.Date, dailyPlan models.DailyPlan, person models.Person, statuses map[models.Meal]models.ReservationStatus, recordIDs map[models.Meal]string) State {
	selected := models.NewMealSet()
	for meal, status := range statuses {
		if status == models.StatusConfirmed && dailyPlan.Offers(meal) {
			selected[meal] = true
		}
	}
	return State{
		Date:      date,
		Plan:      dailyPlan,
		Person:    person,
		Selected:  selected,
		RecordIDs: recordIDs,
	}
}

// Describe formats a state for logging
func (st State) Describe() string {
	return fmt.Sprintf("date=%s person=%s offered=%v selected=%v", st.Date, st.Person.ID, st.Plan.Meals.Ordered(), st.Selected.Ordered())
}
