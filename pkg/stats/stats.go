// Package stats counts confirmed reservations after each deadline and sends
// the summary to the configured recipient roster.
package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
)

// TextSender delivers a plain text message to a person
type TextSender interface {
	SendText(personID string, text string) error
}

// Service is the statistics aggregator
type Service struct {
	roster *roster.Service
	sender TextSender
	logger *logger.Logger
}

// New creates a statistics service
func New(rosterService *roster.Service, sender TextSender) *Service {
	return &Service{
		roster: rosterService,
		sender: sender,
		logger: logger.New("stats"),
	}
}

// Count returns the number of distinct persons with a confirmed reservation
// for (date, meal). Duplicate records per person resolve last-record-wins.
func (s *Service) Count(ctx context.Context, date models.Date, meal models.Meal) (int, error) {
	rows, err := s.roster.ListDayRows(ctx, date)
	if err != nil {
		return 0, err
	}

	byPerson := make(map[string][]models.RecordRow)
	for _, row := range rows {
		byPerson[row.PersonID] = append(byPerson[row.PersonID], row)
	}

	count := 0
	for _, personRows := range byPerson {
		active := s.roster.ActiveByMeal(personRows)
		if row, ok := active[meal]; ok && row.Confirmed() {
			count++
		}
	}
	return count, nil
}

// Send counts confirmed reservations for (date, meal) and messages every
// stats recipient. The dispatcher guarantees it runs once per (date, meal)
// per cycle; this method itself is stateless.
func (s *Service) Send(ctx context.Context, date models.Date, meal models.Meal) error {
	count, err := s.Count(ctx, date, meal)
	if err != nil {
		return err
	}

	recipients, err := s.roster.StatsRecipients(ctx)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		s.logger.Info("no stats recipients configured, skipping %s %s summary", date, meal)
		return nil
	}

	text := FormatSummary(date, meal, count)
	var failed []string
	for _, personID := range recipients {
		if err := s.sender.SendText(personID, text); err != nil {
			s.logger.Error("failed to send stats to %s: %v", personID, err)
			failed = append(failed, personID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to send stats to %d of %d recipients (%s)", len(failed), len(recipients), strings.Join(failed, ", "))
	}

	s.logger.Info("sent %s %s summary (%d reservations) to %d recipients", date, meal, count, len(recipients))
	return nil
}

// FormatSummary renders the recipient-facing summary line
func FormatSummary(date models.Date, meal models.Meal, count int) string {
	return fmt.Sprintf("🍽 %s reservations for %s (%s): %d", mealLabel(meal), date, date.Weekday(), count)
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
