package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrota/canteenbot/pkg/models"
)

func TestParseDate(t *testing.T) {
	date, err := models.ParseDate("2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, models.NewDate(2026, time.March, 9), date)
	assert.Equal(t, "2026-03-09", date.String())

	_, err = models.ParseDate("03/09/2026")
	assert.Error(t, err)
	_, err = models.ParseDate("")
	assert.Error(t, err)
}

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	assert.Equal(t, models.NewDate(2026, time.March, 1), models.NewDate(2026, time.February, 28).AddDays(1))
	assert.Equal(t, models.NewDate(2027, time.January, 1), models.NewDate(2026, time.December, 31).AddDays(1))
	assert.Equal(t, models.NewDate(2026, time.January, 31), models.NewDate(2026, time.February, 1).AddDays(-1))
}

func TestLastDayOfMonth(t *testing.T) {
	assert.Equal(t, 28, models.NewDate(2026, time.February, 1).LastDayOfMonth())
	assert.Equal(t, 29, models.NewDate(2028, time.February, 1).LastDayOfMonth())
	assert.Equal(t, 30, models.NewDate(2026, time.April, 15).LastDayOfMonth())
	assert.Equal(t, 31, models.NewDate(2026, time.January, 1).LastDayOfMonth())
}

func TestDateOrdering(t *testing.T) {
	a := models.NewDate(2026, time.March, 9)
	b := models.NewDate(2026, time.March, 10)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))
	assert.False(t, a.After(a))
}

func TestDateAtAnchorsToLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	instant := models.NewDate(2026, time.March, 9).At(10, 30, loc)
	assert.Equal(t, "2026-03-09T10:30:00+08:00", instant.Format(time.RFC3339))
}

func TestOverrideCovers(t *testing.T) {
	override := models.ScheduleOverride{
		Start: models.NewDate(2026, time.March, 9),
		End:   models.NewDate(2026, time.March, 11),
	}
	assert.False(t, override.Covers(models.NewDate(2026, time.March, 8)))
	assert.True(t, override.Covers(models.NewDate(2026, time.March, 9)))
	assert.True(t, override.Covers(models.NewDate(2026, time.March, 11)))
	assert.False(t, override.Covers(models.NewDate(2026, time.March, 12)))
}
