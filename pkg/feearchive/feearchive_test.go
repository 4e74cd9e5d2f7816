package feearchive_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/feearchive"
	"github.com/mealrota/canteenbot/pkg/gridstore"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
)

const testConfigYAML = `
timezone: UTC
archive:
  day_of_month: 31
  check_time: "20:00"
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

type fakeSender struct {
	sent map[string][]string
}

func (f *fakeSender) SendText(personID string, text string) error {
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[personID] = append(f.sent[personID], text)
	return nil
}

type testEnv struct {
	store  gridstore.Store
	roster *roster.Service
	svc    *feearchive.Service
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

	rosterService := roster.New(local, schema, cfg, nil)
	sender := &fakeSender{}
	return &testEnv{
		store:  local,
		roster: rosterService,
		svc:    feearchive.New(rosterService, sender, cfg),
		sender: sender,
	}
}

func (e *testEnv) seedRecord(t *testing.T, date, personID, meal, status, price string) {
	t.Helper()
	_, err := e.store.CreateRecord(context.Background(), "tbl_records", map[string]interface{}{
		"Date":   date,
		"Person": []map[string]interface{}{{"id": personID}},
		"Meal":   meal,
		"Status": status,
		"Price":  price,
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

func TestArchiveDayClampsToMonthLength(t *testing.T) {
	assert.Equal(t, 28, feearchive.ArchiveDay(2026, time.February, 31))
	assert.Equal(t, 29, feearchive.ArchiveDay(2028, time.February, 31))
	assert.Equal(t, 30, feearchive.ArchiveDay(2026, time.April, 31))
	assert.Equal(t, 31, feearchive.ArchiveDay(2026, time.March, 31))
	assert.Equal(t, 15, feearchive.ArchiveDay(2026, time.February, 15))
}

func TestWindowsAreContiguous(t *testing.T) {
	// Day 31, February: the January window ended on the 31st, so the
	// clamped February window is Feb 1 .. Feb 28
	start, end := feearchive.Window(models.NewDate(2026, time.February, 28), 31)
	assert.Equal(t, models.NewDate(2026, time.February, 1), start)
	assert.Equal(t, models.NewDate(2026, time.February, 28), end)

	// The next window picks up the very next day
	start, end = feearchive.Window(models.NewDate(2026, time.March, 31), 31)
	assert.Equal(t, models.NewDate(2026, time.March, 1), start)
	assert.Equal(t, models.NewDate(2026, time.March, 31), end)

	// Mid-month day: windows straddle month boundaries
	start, end = feearchive.Window(models.NewDate(2026, time.March, 15), 15)
	assert.Equal(t, models.NewDate(2026, time.February, 16), start)
	assert.Equal(t, models.NewDate(2026, time.March, 15), end)
}

func archiveInstant(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 20, 0, 0, 0, time.UTC)
}

func TestRunSkipsOrdinaryDays(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "2026-03-09", "1001", "lunch", "confirmed", "20")
	env.seedRecipient(t, "2001")

	require.NoError(t, env.svc.Run(context.Background(), archiveInstant(2026, time.March, 15)))

	entries, err := env.roster.ListArchiveEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, env.sender.sent)
}

func TestRunArchivesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Inside the Feb 1..Feb 28 window
	env.seedRecord(t, "2026-02-02", "1001", "lunch", "confirmed", "20")
	env.seedRecord(t, "2026-02-02", "1001", "dinner", "confirmed", "25.5")
	env.seedRecord(t, "2026-02-03", "1001", "lunch", "cancelled", "20")
	env.seedRecord(t, "2026-02-02", "1002", "lunch", "confirmed", "18")
	// Outside the window
	env.seedRecord(t, "2026-01-31", "1001", "lunch", "confirmed", "20")
	env.seedRecord(t, "2026-03-01", "1001", "lunch", "confirmed", "20")
	env.seedRecipient(t, "2001")

	require.NoError(t, env.svc.Run(ctx, archiveInstant(2026, time.February, 28)))

	entries, err := env.roster.ListArchiveEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "1001", entries[0].PersonID)
	assert.True(t, entries[0].Total.Equal(decimal.RequireFromString("45.5")), "got %s", entries[0].Total)
	assert.Equal(t, models.NewDate(2026, time.February, 1), entries[0].WindowStart)
	assert.Equal(t, models.NewDate(2026, time.February, 28), entries[0].WindowEnd)

	assert.Equal(t, "1002", entries[1].PersonID)
	assert.True(t, entries[1].Total.Equal(decimal.RequireFromString("18")))

	// Each person heard about their own total, the recipients about the run
	require.Len(t, env.sender.sent["1001"], 1)
	assert.Contains(t, env.sender.sent["1001"][0], "45.5")
	require.Len(t, env.sender.sent["2001"], 1)
	assert.Contains(t, env.sender.sent["2001"][0], "2 persons")
}

func TestRunOnSameDayOverwrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRecord(t, "2026-02-02", "1001", "lunch", "confirmed", "20")

	require.NoError(t, env.svc.Run(ctx, archiveInstant(2026, time.February, 28)))
	require.NoError(t, env.svc.Run(ctx, archiveInstant(2026, time.February, 28)))

	entries, err := env.roster.ListArchiveEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "re-running the archive day must not duplicate entries")
	assert.True(t, entries[0].Total.Equal(decimal.RequireFromString("20")), "re-running must not double count")
}

func TestRunResolvesDuplicateRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Confirmed then cancelled: the later row wins, nothing to charge
	env.seedRecord(t, "2026-02-02", "1001", "lunch", "confirmed", "20")
	env.seedRecord(t, "2026-02-02", "1001", "lunch", "cancelled", "20")
	// Cancelled then re-confirmed with a newer price
	env.seedRecord(t, "2026-02-03", "1001", "dinner", "cancelled", "25")
	env.seedRecord(t, "2026-02-03", "1001", "dinner", "confirmed", "26")

	require.NoError(t, env.svc.Run(ctx, archiveInstant(2026, time.February, 28)))

	entries, err := env.roster.ListArchiveEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Total.Equal(decimal.RequireFromString("26")), "got %s", entries[0].Total)
}

func TestRunSkipsZeroTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRecord(t, "2026-02-02", "1001", "lunch", "cancelled", "20")

	require.NoError(t, env.svc.Run(ctx, archiveInstant(2026, time.February, 28)))

	entries, err := env.roster.ListArchiveEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "persons with nothing confirmed get no archive entry")
	assert.Empty(t, env.sender.sent["1001"])
}

func TestRunWithConfiguredDay15(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := strings.Replace(testConfigYAML, "day_of_month: 31", "day_of_month: 15", 1)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	local, err := gridstore.NewLocal(t.TempDir(), gridstore.LocalFieldsFromConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	schema, err := gridstore.ResolveSchema(context.Background(), local, cfg)
	require.NoError(t, err)
	rosterService := roster.New(local, schema, cfg, nil)
	svc := feearchive.New(rosterService, &fakeSender{}, cfg)

	_, err = local.CreateRecord(context.Background(), "tbl_records", map[string]interface{}{
		"Date":   "2026-03-10",
		"Person": []map[string]interface{}{{"id": "1001"}},
		"Meal":   "lunch",
		"Status": "confirmed",
		"Price":  "20",
	})
	require.NoError(t, err)

	// Day 31 of March is not the archive day under this configuration
	require.NoError(t, svc.Run(context.Background(), archiveInstant(2026, time.March, 31)))
	entries, err := rosterService.ListArchiveEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, svc.Run(context.Background(), archiveInstant(2026, time.March, 15)))
	entries, err = rosterService.ListArchiveEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.NewDate(2026, time.February, 16), entries[0].WindowStart)
	assert.Equal(t, models.NewDate(2026, time.March, 15), entries[0].WindowEnd)
}
