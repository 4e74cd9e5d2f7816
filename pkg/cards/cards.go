// Package cards renders the interactive reservation card and the compact
// callback payloads its buttons carry. Payloads stay well under the
// platform's 64-byte callback-data limit.
package cards

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/booking"
	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/models"
)

// Callback actions
const (
	ActionToggle  = "t"
	ActionRefresh = "r"
)

// Payload is the decoded callback data of a card button
type Payload struct {
	Action string
	Date   models.Date
	Meal   models.Meal
}

// Encode renders the payload as compact callback data
func (p Payload) Encode() string {
	if p.Action == ActionRefresh {
		return fmt.Sprintf("%s:%s", ActionRefresh, p.Date)
	}
	return fmt.Sprintf("%s:%s:%s", p.Action, p.Date, mealCode(p.Meal))
}

// DecodePayload parses callback data back into a payload
func DecodePayload(data string) (Payload, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return Payload{}, fmt.Errorf("malformed callback data %q", data)
	}
	date, err := models.ParseDate(parts[1])
	if err != nil {
		return Payload{}, fmt.Errorf("malformed callback date in %q: %w", data, err)
	}

	payload := Payload{Action: parts[0], Date: date}
	switch parts[0] {
	case ActionRefresh:
		return payload, nil
	case ActionToggle:
		if len(parts) != 3 {
			return Payload{}, fmt.Errorf("malformed toggle data %q", data)
		}
		meal, ok := mealFromCode(parts[2])
		if !ok {
			return Payload{}, fmt.Errorf("unknown meal code in %q", data)
		}
		payload.Meal = meal
		return payload, nil
	}
	return Payload{}, fmt.Errorf("unknown callback action %q", parts[0])
}

func mealCode(meal models.Meal) string {
	if meal == models.MealDinner {
		return "d"
	}
	return "l"
}

func mealFromCode(code string) (models.Meal, bool) {
	switch code {
	case "l":
		return models.MealLunch, true
	case "d":
		return models.MealDinner, true
	}
	return "", false
}

// Build renders the card text and inline keyboard for a booking state
func Build(state booking.State, cfg *config.Config) (string, tgbotapi.InlineKeyboardMarkup) {
	offered := state.Plan.Meals.Ordered()

	var lines []string
	lines = append(lines, fmt.Sprintf("🍱 Meal reservation for %s (%s)", state.Date, state.Date.Weekday()))
	for _, meal := range offered {
		lines = append(lines, fmt.Sprintf("%s: %s — closes %s", mealLabel(meal), formatPrice(state.Person.Price(meal)), cfg.Deadline(string(meal))))
	}
	lines = append(lines, "Default preference: "+describeMeals(preferredOffered(state)))
	lines = append(lines, "Current selection: "+describeMeals(state.Selected.Ordered()))
	lines = append(lines, "Tap a meal to toggle it. Changes save immediately.")
	text := strings.Join(lines, "\n")

	var mealButtons []tgbotapi.InlineKeyboardButton
	for _, meal := range offered {
		label := "⬜ " + mealLabel(meal)
		if state.Selected.Has(meal) {
			label = "✅ " + mealLabel(meal)
		}
		payload := Payload{Action: ActionToggle, Date: state.Date, Meal: meal}
		mealButtons = append(mealButtons, tgbotapi.NewInlineKeyboardButtonData(label, payload.Encode()))
	}
	refresh := Payload{Action: ActionRefresh, Date: state.Date}
	refreshRow := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", refresh.Encode()),
	)

	var keyboard tgbotapi.InlineKeyboardMarkup
	if len(mealButtons) > 0 {
		keyboard = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(mealButtons...), refreshRow)
	} else {
		keyboard = tgbotapi.NewInlineKeyboardMarkup(refreshRow)
	}
	return text, keyboard
}

func preferredOffered(state booking.State) []models.Meal {
	var meals []models.Meal
	for _, meal := range state.Plan.Meals.Ordered() {
		if state.Person.Preferences.Has(meal) {
			meals = append(meals, meal)
		}
	}
	return meals
}

func describeMeals(meals []models.Meal) string {
	if len(meals) == 0 {
		return "none"
	}
	labels := make([]string, len(meals))
	for i, meal := range meals {
		labels[i] = mealLabel(meal)
	}
	return strings.Join(labels, ", ")
}

func mealLabel(meal models.Meal) string {
	switch meal {
	case models.MealLunch:
		return "Lunch"
	case models.MealDinner:
		return "Dinner"
	}
	return string(meal)
}

func formatPrice(price decimal.Decimal) string {
	text := price.String()
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimRight(text, ".")
	}
	if text == "" {
		return "0"
	}
	return text
}
