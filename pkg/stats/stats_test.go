package stats_test

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
	"github.com/mealrota/canteenbot/pkg/gridstore"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
	"github.com/mealrota/canteenbot/pkg/stats"
)

const testConfigYAML = `
timezone: UTC
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

// fakeSender records deliveries and fails on command
type fakeSender struct {
	sent map[string][]string
	fail map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]string), fail: make(map[string]bool)}
}

func (f *fakeSender) SendText(personID string, text string) error {
	if f.fail[personID] {
		return fmt.Errorf("delivery to %s refused", personID)
	}
	f.sent[personID] = append(f.sent[personID], text)
	return nil
}

type testEnv struct {
	store  gridstore.Store
	svc    *stats.Service
	sender *fakeSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	local, err := gridstore.NewLocal(t.TempDir(), gridstore.LocalFieldsFromConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	schema, err := gridstore.ResolveSchema(context.Background(), local, cfg)
	require.NoError(t, err)

	sender := newFakeSender()
	return &testEnv{
		store:  local,
		svc:    stats.New(roster.New(local, schema, cfg, nil), sender),
		sender: sender,
	}
}

func (e *testEnv) seedRecord(t *testing.T, date, personID, meal, status string) {
	t.Helper()
	_, err := e.store.CreateRecord(context.Background(), "tbl_records", map[string]interface{}{
		"Date":   date,
		"Person": []map[string]interface{}{{"id": personID}},
		"Meal":   meal,
		"Status": status,
		"Price":  "20",
	})
	require.NoError(t, err)
}

func (e *testEnv) seedRecipient(t *testing.T, personID string) {
	t.Helper()
	_, err := e.store.CreateRecord(context.Background(), "tbl_stats", map[string]interface{}{
		"Person": []map[string]interface{}{{"id": personID}},
	})
	require.NoError(t, err)
}

var monday = models.NewDate(2026, time.March, 9)

func TestCountDistinctConfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "confirmed")
	env.seedRecord(t, "2026-03-09", "1002", "lunch", "confirmed")
	env.seedRecord(t, "2026-03-09", "1003", "lunch", "cancelled")
	env.seedRecord(t, "2026-03-09", "1001", "dinner", "confirmed")
	env.seedRecord(t, "2026-03-10", "1004", "lunch", "confirmed")

	count, err := env.svc.Count(context.Background(), monday, models.MealLunch)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = env.svc.Count(context.Background(), monday, models.MealDinner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCountResolvesDuplicates(t *testing.T) {
	env := newTestEnv(t)
	// The later cancellation wins over the earlier confirmation
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "confirmed")
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "cancelled")
	env.seedRecord(t, "2026-03-09", "1002", "lunch", "cancelled")
	env.seedRecord(t, "2026-03-09", "1002", "lunch", "confirmed")

	count, err := env.svc.Count(context.Background(), monday, models.MealLunch)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendDeliversToAllRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "confirmed")
	env.seedRecipient(t, "2001")
	env.seedRecipient(t, "2002")

	require.NoError(t, env.svc.Send(context.Background(), monday, models.MealLunch))

	expected := stats.FormatSummary(monday, models.MealLunch, 1)
	assert.Equal(t, []string{expected}, env.sender.sent["2001"])
	assert.Equal(t, []string{expected}, env.sender.sent["2002"])
	assert.Contains(t, expected, "Lunch")
	assert.Contains(t, expected, "2026-03-09")
	assert.Contains(t, expected, "Monday")
}

func TestSendWithoutRecipientsIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "confirmed")

	require.NoError(t, env.svc.Send(context.Background(), monday, models.MealLunch))
	assert.Empty(t, env.sender.sent)
}

func TestSendPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecipient(t, "2001")
	env.seedRecipient(t, "2002")
	env.seedRecipient(t, "2003")
	env.sender.fail["2002"] = true

	err := env.svc.Send(context.Background(), monday, models.MealLunch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2002")

	// The failed recipient never blocks the others
	assert.Len(t, env.sender.sent["2001"], 1)
	assert.Len(t, env.sender.sent["2003"], 1)
}
