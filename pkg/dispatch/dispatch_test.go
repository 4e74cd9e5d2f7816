package dispatch_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/dispatch"
	"github.com/mealrota/canteenbot/pkg/models"
)

const tableYAML = `
tables:
  people: tbl_people
  overrides: tbl_overrides
  records: tbl_records
  stats_recipients: tbl_stats
  fee_archive: tbl_fees
field_names:
  people:
    user: Person
    display_name: Name
    meal_preference: Preference
    lunch_price: LunchPrice
    dinner_price: DinnerPrice
    enabled: Enabled
  overrides:
    start_date: Start
    end_date: End
    meals: Meals
    remark: Remark
  records:
    date: Date
    user: Person
    meal_type: Meal
    status: Status
    price: Price
  stats_recipients:
    user: Person
  fee_archive:
    user: Person
    window_start: WindowStart
    window_end: WindowEnd
    total: Total
`

func loadConfig(t *testing.T, scheduleYAML string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\n"+scheduleYAML+tableYAML), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func defaultConfig(t *testing.T) *config.Config {
	return loadConfig(t, `
schedule:
  send_time: "09:00"
  lunch_deadline: "10:30"
  dinner_deadline: "16:30"
  stats_offset_minutes: 5
archive:
  check_time: "20:00"
`)
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

// recordingExecutor records every executed action and fails the kinds it is
// told to fail
type recordingExecutor struct {
	executed []dispatch.Action
	failKind dispatch.Kind
}

func (e *recordingExecutor) Execute(_ context.Context, action dispatch.Action) error {
	e.executed = append(e.executed, action)
	if action.Kind == e.failKind && e.failKind != "" {
		return fmt.Errorf("executor rejected %s", action.Kind)
	}
	return nil
}

func kinds(actions []dispatch.Action) []dispatch.Kind {
	out := make([]dispatch.Kind, len(actions))
	for i, action := range actions {
		out[i] = action.Kind
	}
	return out
}

func TestPlanMorningWindow(t *testing.T) {
	cfg := defaultConfig(t)

	actions := dispatch.Plan(at(9, 9, 0), at(9, 11, 0), cfg)
	assert.Equal(t, []dispatch.Kind{
		dispatch.KindSendCards,
		dispatch.KindLunchDeadline,
		dispatch.KindLunchStats,
	}, kinds(actions))

	for _, action := range actions {
		assert.Equal(t, models.NewDate(2026, time.March, 9), action.Date)
	}
	assert.Equal(t, at(9, 10, 35), actions[2].At, "stats fire at deadline plus offset")
}

func TestPlanWindowIsHalfOpen(t *testing.T) {
	cfg := defaultConfig(t)

	// from is inclusive, to is exclusive
	actions := dispatch.Plan(at(9, 9, 0), at(9, 10, 30), cfg)
	assert.Equal(t, []dispatch.Kind{dispatch.KindSendCards}, kinds(actions))

	actions = dispatch.Plan(at(9, 10, 30), at(9, 10, 31), cfg)
	assert.Equal(t, []dispatch.Kind{dispatch.KindLunchDeadline}, kinds(actions))
}

func TestPlanFullDay(t *testing.T) {
	cfg := defaultConfig(t)

	actions := dispatch.Plan(at(9, 0, 0), at(10, 0, 0), cfg)
	assert.Equal(t, []dispatch.Kind{
		dispatch.KindSendCards,
		dispatch.KindLunchDeadline,
		dispatch.KindLunchStats,
		dispatch.KindDinnerDeadline,
		dispatch.KindDinnerStats,
		dispatch.KindArchiveCheck,
	}, kinds(actions))
}

func TestPlanStatsSpillPastMidnight(t *testing.T) {
	cfg := loadConfig(t, `
schedule:
  send_time: "09:00"
  lunch_deadline: "10:30"
  dinner_deadline: "23:58"
  stats_offset_minutes: 5
archive:
  check_time: "20:00"
`)

	// The dinner stats instant lands on March 10, but the action still
	// belongs to the March 9 business date
	actions := dispatch.Plan(at(10, 0, 0), at(10, 0, 10), cfg)
	require.Len(t, actions, 1)
	assert.Equal(t, dispatch.KindDinnerStats, actions[0].Kind)
	assert.Equal(t, models.NewDate(2026, time.March, 9), actions[0].Date)
	assert.Equal(t, at(10, 0, 3), actions[0].At)
}

func TestPlanCoincidentInstantsKeepPhaseOrder(t *testing.T) {
	cfg := loadConfig(t, `
schedule:
  send_time: "10:30"
  lunch_deadline: "10:30"
  dinner_deadline: "10:30"
  stats_offset_minutes: 0
archive:
  check_time: "10:30"
`)

	actions := dispatch.Plan(at(9, 10, 30), at(9, 10, 31), cfg)
	assert.Equal(t, []dispatch.Kind{
		dispatch.KindSendCards,
		dispatch.KindLunchDeadline,
		dispatch.KindLunchStats,
		dispatch.KindDinnerDeadline,
		dispatch.KindDinnerStats,
		dispatch.KindArchiveCheck,
	}, kinds(actions))
}

func TestPlanIsStateless(t *testing.T) {
	cfg := defaultConfig(t)

	first := dispatch.Plan(at(9, 9, 0), at(9, 11, 0), cfg)
	second := dispatch.Plan(at(9, 9, 0), at(9, 11, 0), cfg)
	assert.Equal(t, first, second)
}

func TestRunDryRunExecutesNothing(t *testing.T) {
	cfg := defaultConfig(t)
	exec := &recordingExecutor{}
	dispatcher := dispatch.New(cfg, exec)

	results := dispatcher.Run(context.Background(), at(9, 9, 0), at(9, 11, 0), false)
	require.Len(t, results, 3)
	assert.Empty(t, exec.executed)
	for _, result := range results {
		assert.False(t, result.Executed)
		assert.NoError(t, result.Err)
	}
}

func TestRunContinuesPastFailure(t *testing.T) {
	cfg := defaultConfig(t)
	exec := &recordingExecutor{failKind: dispatch.KindSendCards}
	dispatcher := dispatch.New(cfg, exec)

	results := dispatcher.Run(context.Background(), at(9, 9, 0), at(9, 11, 0), true)
	require.Len(t, results, 3)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	// The failing action did not stop the rest of the window
	assert.Equal(t, []dispatch.Kind{
		dispatch.KindSendCards,
		dispatch.KindLunchDeadline,
		dispatch.KindLunchStats,
	}, kinds(exec.executed))
}

func TestRunReportsExecutorError(t *testing.T) {
	cfg := defaultConfig(t)
	exec := &recordingExecutor{failKind: dispatch.KindLunchStats}
	dispatcher := dispatch.New(cfg, exec)

	results := dispatcher.Run(context.Background(), at(9, 10, 34), at(9, 10, 36), true)
	require.Len(t, results, 1)
	assert.True(t, results[0].Executed)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "lunch_stats")
}
