package roster

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/models"
)

// The grid store types fields loosely: person fields come back as lists of
// id/name objects, dates as epoch milliseconds, numbers sometimes as
// strings. These helpers normalize whatever shape arrives.

func extractPersonID(value interface{}) string {
	list, ok := value.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	first, ok := list[0].(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"id", "open_id"} {
		if raw, ok := first[key].(string); ok && raw != "" {
			return raw
		}
	}
	return ""
}

func extractPersonName(value interface{}) string {
	list, ok := value.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	first, ok := list[0].(map[string]interface{})
	if !ok {
		return ""
	}
	raw, _ := first["name"].(string)
	return raw
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			return toString(v[0])
		}
	}
	return ""
}

func toBool(value interface{}) bool {
	b, _ := value.(bool)
	return b
}

func toDate(value interface{}, loc *time.Location) (models.Date, bool) {
	switch v := value.(type) {
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return models.Date{}, false
		}
		if millis, err := strconv.ParseFloat(text, 64); err == nil {
			return toDate(millis, loc)
		}
		if len(text) >= 10 {
			if date, err := models.ParseDate(text[:10]); err == nil {
				return date, true
			}
		}
		return models.Date{}, false
	case float64:
		timestamp := v
		if timestamp > 10_000_000_000 {
			timestamp = timestamp / 1000
		}
		return models.DateOf(time.Unix(int64(timestamp), 0).In(loc)), true
	case int64:
		return toDate(float64(v), loc)
	case []interface{}:
		if len(v) > 0 {
			return toDate(v[0], loc)
		}
	}
	return models.Date{}, false
}

func dateToMillis(date models.Date, loc *time.Location) int64 {
	return date.Time(loc).UnixMilli()
}

func toDecimal(value interface{}) decimal.Decimal {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	case []interface{}:
		if len(v) > 0 {
			return toDecimal(v[0])
		}
	}
	return decimal.Zero
}

// formatDecimal renders a price without trailing zeros, the way the store
// displays it
func formatDecimal(value decimal.Decimal) string {
	text := value.String()
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimRight(text, ".")
	}
	if text == "" || text == "-" {
		return "0"
	}
	return text
}

func toMeals(value interface{}) models.MealSet {
	set := models.NewMealSet()
	list, ok := value.([]interface{})
	if !ok {
		return set
	}
	for _, item := range list {
		raw, ok := item.(string)
		if !ok {
			continue
		}
		if meal, ok := models.ParseMeal(raw); ok {
			set[meal] = true
		}
	}
	return set
}

func toStatus(value interface{}) models.ReservationStatus {
	switch v := value.(type) {
	case string:
		if models.ReservationStatus(v) == models.StatusConfirmed {
			return models.StatusConfirmed
		}
	case bool:
		if v {
			return models.StatusConfirmed
		}
	}
	return models.StatusCancelled
}
