// Package feearchive closes a rolling monthly charge window per person. On
// the archive day it sums confirmed record prices inside the window, writes
// one archive entry per participating person, notifies each person of their
// total and sends a completion notice to the stats recipients.
package feearchive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
	"github.com/mealrota/canteenbot/pkg/stats"
)

// ArchiveDay returns the effective archive day for a month: the configured
// day of month clamped to the month's length.
func ArchiveDay(year int, month time.Month, configuredDay int) int {
	last := models.NewDate(year, month, 1).LastDayOfMonth()
	if configuredDay > last {
		return last
	}
	return configuredDay
}

// Window computes the archive window ending on today, which must be the
// month's archive day. The window starts the day after the previous month's
// archive day, with the same clamping applied to that month, so consecutive
// windows are contiguous and non-overlapping.
func Window(today models.Date, configuredDay int) (models.Date, models.Date) {
	prev := models.NewDate(today.Year, today.Month, 1).AddDays(-1)
	prevEnd := models.NewDate(prev.Year, prev.Month, ArchiveDay(prev.Year, prev.Month, configuredDay))
	return prevEnd.AddDays(1), today
}

// Service runs the archive cycle
type Service struct {
	roster *roster.Service
	sender stats.TextSender
	cfg    *config.Config
	logger *logger.Logger
}

// New creates a fee-archive service
func New(rosterService *roster.Service, sender stats.TextSender, cfg *config.Config) *Service {
	return &Service{
		roster: rosterService,
		sender: sender,
		cfg:    cfg,
		logger: logger.New("feearchive"),
	}
}

// Run performs the archive check for the given instant. On any day other
// than the month's archive day it is a no-op. The window is recomputed
// deterministically from "now" and entries are overwritten, never
// accumulated, so re-running on the archive day cannot double-count.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	today := models.DateOf(now.In(s.cfg.Location()))
	archiveDay := ArchiveDay(today.Year, today.Month, s.cfg.Archive.DayOfMonth)
	if today.Day != archiveDay {
		s.logger.Debug("%s is not the archive day (%d), skipping", today, archiveDay)
		return nil
	}

	windowStart, windowEnd := Window(today, s.cfg.Archive.DayOfMonth)
	s.logger.Info("archiving fees for window %s..%s", windowStart, windowEnd)

	rows, err := s.roster.ListRangeRows(ctx, windowStart, windowEnd)
	if err != nil {
		return err
	}

	totals := s.totalsByPerson(rows)
	personIDs := make([]string, 0, len(totals))
	for personID := range totals {
		personIDs = append(personIDs, personID)
	}
	sort.Strings(personIDs)

	grandTotal := decimal.Zero
	archived := 0
	var failures []string
	for _, personID := range personIDs {
		total := totals[personID]
		if total.IsZero() {
			continue
		}
		if err := s.roster.UpsertArchiveEntry(ctx, personID, windowStart, windowEnd, total); err != nil {
			s.logger.Error("failed to archive fees for %s: %v", personID, err)
			failures = append(failures, personID)
			continue
		}
		grandTotal = grandTotal.Add(total)
		archived++

		notice := fmt.Sprintf("💰 Your meal charges from %s to %s total %s.", windowStart, windowEnd, total)
		if err := s.sender.SendText(personID, notice); err != nil {
			s.logger.Error("failed to notify %s of archived total: %v", personID, err)
		}
	}

	if err := s.sendCompletionNotice(ctx, windowStart, windowEnd, archived, grandTotal); err != nil {
		s.logger.Error("failed to send archive completion notice: %v", err)
	}

	if len(failures) > 0 {
		return fmt.Errorf("fee archive incomplete: %d of %d persons failed", len(failures), len(personIDs))
	}
	return nil
}

// totalsByPerson sums confirmed prices per person, resolving duplicate
// records per (person, date, meal) key last-record-wins first.
func (s *Service) totalsByPerson(rows []models.RecordRow) map[string]decimal.Decimal {
	type dayKey struct {
		personID string
		date     models.Date
	}
	byDay := make(map[dayKey][]models.RecordRow)
	for _, row := range rows {
		key := dayKey{personID: row.PersonID, date: row.Date}
		byDay[key] = append(byDay[key], row)
	}

	totals := make(map[string]decimal.Decimal)
	for key, dayRows := range byDay {
		for _, row := range s.roster.ActiveByMeal(dayRows) {
			if !row.Confirmed() {
				continue
			}
			totals[key.personID] = totals[key.personID].Add(row.Price)
		}
	}
	return totals
}

func (s *Service) sendCompletionNotice(ctx context.Context, windowStart, windowEnd models.Date, archived int, grandTotal decimal.Decimal) error {
	recipients, err := s.roster.StatsRecipients(ctx)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		s.logger.Info("no stats recipients configured, skipping archive completion notice")
		return nil
	}

	text := fmt.Sprintf("📦 Fee archive complete for %s..%s: %d persons, grand total %s.", windowStart, windowEnd, archived, grandTotal)
	for _, personID := range recipients {
		if err := s.sender.SendText(personID, text); err != nil {
			s.logger.Error("failed to send completion notice to %s: %v", personID, err)
		}
	}
	return nil
}
