package models

import (
	"github.com/shopspring/decimal"
)

// Meal identifies one of the offered meal types
type Meal string

const (
	MealLunch  Meal = "lunch"
	MealDinner Meal = "dinner"
)

// AllMeals lists the meal types in display order
func AllMeals() []Meal {
	return []Meal{MealLunch, MealDinner}
}

// ParseMeal converts a raw store value into a Meal
func ParseMeal(value string) (Meal, bool) {
	switch Meal(value) {
	case MealLunch:
		return MealLunch, true
	case MealDinner:
		return MealDinner, true
	}
	return "", false
}

// MealSet is a set of meal types
type MealSet map[Meal]bool

// NewMealSet builds a set from the given meals
func NewMealSet(meals ...Meal) MealSet {
	set := make(MealSet, len(meals))
	for _, meal := range meals {
		set[meal] = true
	}
	return set
}

// Has reports whether the set contains the meal
func (s MealSet) Has(meal Meal) bool {
	return s[meal]
}

// Ordered returns the contained meals in display order
func (s MealSet) Ordered() []Meal {
	var meals []Meal
	for _, meal := range AllMeals() {
		if s[meal] {
			meals = append(meals, meal)
		}
	}
	return meals
}

// ReservationStatus is the lifecycle state of a meal record
type ReservationStatus string

const (
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
)

// Person is one row of the administrator-maintained roster
type Person struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Enabled     bool            `json:"enabled"`
	LunchPrice  decimal.Decimal `json:"lunch_price"`
	DinnerPrice decimal.Decimal `json:"dinner_price"`
	Preferences MealSet         `json:"preferences"`
}

// Price returns the person's unit price for a meal
func (p Person) Price(meal Meal) decimal.Decimal {
	if meal == MealDinner {
		return p.DinnerPrice
	}
	return p.LunchPrice
}

// ScheduleOverride is an administrator-authored date-range rule that
// replaces the weekday default for every date in its closed interval.
// Rank is the row's position in the source table; when several overrides
// cover the same date the highest rank wins outright.
type ScheduleOverride struct {
	Start  Date    `json:"start"`
	End    Date    `json:"end"`
	Meals  MealSet `json:"meals"`
	Remark string  `json:"remark"`
	Rank   int     `json:"rank"`
}

// Covers reports whether the override's interval contains the date
func (o ScheduleOverride) Covers(d Date) bool {
	return !d.Before(o.Start) && !d.After(o.End)
}

// DailyPlan is the resolved offer for one date. Derived, never persisted.
type DailyPlan struct {
	Date  Date    `json:"date"`
	Meals MealSet `json:"meals"`
}

// Offers reports whether the plan offers the meal
func (p DailyPlan) Offers(meal Meal) bool {
	return p.Meals.Has(meal)
}

// Empty reports whether the plan offers nothing
func (p DailyPlan) Empty() bool {
	return len(p.Meals.Ordered()) == 0
}

// RecordRow is one meal record as read from the store.
// Seq is its position in store read order; when duplicate rows exist for one
// (date, person, meal) key the row with the highest Seq is authoritative.
type RecordRow struct {
	RecordID string            `json:"record_id"`
	Date     Date              `json:"date"`
	PersonID string            `json:"person_id"`
	Meal     Meal              `json:"meal"`
	Status   ReservationStatus `json:"status"`
	Price    decimal.Decimal   `json:"price"`
	Seq      int               `json:"seq"`
}

// Confirmed reports whether the row is an active confirmation
func (r RecordRow) Confirmed() bool {
	return r.Status == StatusConfirmed
}

// FeeArchiveEntry is one person's accumulated charge over an archive window
type FeeArchiveEntry struct {
	RecordID    string          `json:"record_id"`
	PersonID    string          `json:"person_id"`
	WindowStart Date            `json:"window_start"`
	WindowEnd   Date            `json:"window_end"`
	Total       decimal.Decimal `json:"total"`
}
