// Package bot is the application service: it issues daily cards, answers
// card interactions within the platform's reply budget, and executes the
// dispatcher's scheduled actions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mealrota/canteenbot/pkg/booking"
	"github.com/mealrota/canteenbot/pkg/cards"
	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/deadline"
	"github.com/mealrota/canteenbot/pkg/dispatch"
	"github.com/mealrota/canteenbot/pkg/feearchive"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
	"github.com/mealrota/canteenbot/pkg/stats"
)

// callbackBudget bounds one interaction round trip, including the store
// reads and writes it triggers
const callbackBudget = 8 * time.Second

// Messenger is the outbound messaging surface the service needs
type Messenger interface {
	SendText(personID string, text string) error
	SendCard(personID string, text string, keyboard tgbotapi.InlineKeyboardMarkup) error
	EditCard(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID string, text string) error
}

// Service coordinates the reservation workflow
type Service struct {
	cfg       *config.Config
	roster    *roster.Service
	booking   *booking.Service
	stats     *stats.Service
	archive   *feearchive.Service
	messenger Messenger
	now       func() time.Time
	logger    *logger.Logger
}

// New creates the application service. now is injected: the daemon passes
// time.Now, the development mode may pass a virtual clock.
func New(
	cfg *config.Config,
	rosterService *roster.Service,
	bookingService *booking.Service,
	statsService *stats.Service,
	archiveService *feearchive.Service,
	messenger Messenger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:       cfg,
		roster:    rosterService,
		booking:   bookingService,
		stats:     statsService,
		archive:   archiveService,
		messenger: messenger,
		now:       now,
		logger:    logger.New("bot"),
	}
}

// SendDailyCards runs the daily card cycle for a date: force-refresh the
// cached tables, resolve the plan, and send one reconciled card per enabled
// person. A failure for one person never stops the cycle.
func (s *Service) SendDailyCards(ctx context.Context, date models.Date) error {
	if err := s.roster.Refresh(ctx, true); err != nil {
		return fmt.Errorf("failed to refresh tables before card cycle: %w", err)
	}

	dailyPlan, err := s.booking.PlanFor(ctx, date)
	if err != nil {
		return err
	}
	if dailyPlan.Empty() {
		s.logger.Info("no meals offered on %s, skipping card cycle", date)
		return nil
	}

	people, err := s.roster.People(ctx, false)
	if err != nil {
		return err
	}

	sent, failed := 0, 0
	for _, person := range people {
		if !person.Enabled {
			continue
		}
		if err := s.sendCard(ctx, person, date, dailyPlan); err != nil {
			s.logger.Error("failed to send card to %s (%s): %v", person.DisplayName, person.ID, err)
			failed++
			continue
		}
		sent++
	}

	s.logger.Info("card cycle for %s done: sent=%d failed=%d", date, sent, failed)
	if failed > 0 {
		return fmt.Errorf("card cycle for %s: %d of %d sends failed", date, failed, sent+failed)
	}
	return nil
}

// SendCardTo sends today's card to one person on request
func (s *Service) SendCardTo(ctx context.Context, personID string) error {
	today := models.DateOf(s.now().In(s.cfg.Location()))

	person, found, err := s.roster.Person(ctx, personID)
	if err != nil {
		return err
	}
	if !found {
		return s.messenger.SendText(personID, "You are not on the meal roster, so you cannot make reservations.")
	}

	dailyPlan, err := s.booking.PlanFor(ctx, today)
	if err != nil {
		return err
	}
	if dailyPlan.Empty() {
		return s.messenger.SendText(personID, fmt.Sprintf("No meals are offered on %s.", today))
	}

	return s.sendCard(ctx, person, today, dailyPlan)
}

func (s *Service) sendCard(ctx context.Context, person models.Person, date models.Date, dailyPlan models.DailyPlan) error {
	state, err := s.booking.IssueCard(ctx, date, person, dailyPlan)
	if err != nil {
		return err
	}
	text, keyboard := cards.Build(state, s.cfg)
	return s.messenger.SendCard(person.ID, text, keyboard)
}

// HandleCallback processes one card interaction. The reply always goes out
// as a toast; on success (and on the not-offered resync) the card message is
// edited to the refreshed state.
func (s *Service) HandleCallback(callback *tgbotapi.CallbackQuery) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackBudget)
	defer cancel()

	personID := fmt.Sprint(callback.From.ID)
	payload, err := cards.DecodePayload(callback.Data)
	if err != nil {
		s.logger.Warn("ignoring malformed callback from %s: %v", personID, err)
		s.answer(callback.ID, "⚠️ This button is no longer valid.")
		return
	}

	var state booking.State
	var toast string
	switch payload.Action {
	case cards.ActionToggle:
		state, err = s.booking.Toggle(ctx, s.now(), payload.Date, personID, payload.Meal)
		toast = "✅ Reservation updated."
	case cards.ActionRefresh:
		state, err = s.booking.Refresh(ctx, payload.Date, personID)
		toast = "🔄 Reservation state refreshed."
	default:
		s.answer(callback.ID, "⚠️ Unsupported card action.")
		return
	}

	var lockedErr *deadline.LockedError
	switch {
	case errors.Is(err, booking.ErrNotOffered):
		toast = "ℹ️ That meal is not offered today; showing the latest state."
	case errors.As(err, &lockedErr):
		s.answer(callback.ID, "⛔ "+lockedErr.Error())
		return
	case errors.Is(err, booking.ErrNotOnRoster):
		s.answer(callback.ID, "⚠️ You are not on the meal roster.")
		return
	case err != nil:
		s.logger.Error("callback from %s failed: %v", personID, err)
		s.answer(callback.ID, "⚠️ Temporary failure updating your reservation, please try again.")
		return
	}

	s.answer(callback.ID, toast)
	if callback.Message != nil {
		text, keyboard := cards.Build(state, s.cfg)
		if err := s.messenger.EditCard(callback.Message.Chat.ID, callback.Message.MessageID, text, keyboard); err != nil {
			s.logger.Error("failed to refresh card for %s: %v", personID, err)
		}
	}
}

// HandleMessage routes plain text messages; "today" requests today's card
func (s *Service) HandleMessage(message *tgbotapi.Message) {
	if message.Text != "today" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackBudget)
	defer cancel()

	personID := fmt.Sprint(message.From.ID)
	if err := s.SendCardTo(ctx, personID); err != nil {
		s.logger.Error("failed to send requested card to %s: %v", personID, err)
	}
}

// SendWelcome greets a person who just started the bot
func (s *Service) SendWelcome(personID string) {
	welcome := "👋 I manage daily meal reservations. Send \"today\" or use /today to get your reservation card."
	if err := s.messenger.SendText(personID, welcome); err != nil {
		s.logger.Error("failed to send welcome to %s: %v", personID, err)
	}
}

// SendRequestedCard serves the /today command
func (s *Service) SendRequestedCard(personID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackBudget)
	defer cancel()
	if err := s.SendCardTo(ctx, personID); err != nil {
		s.logger.Error("failed to send requested card to %s: %v", personID, err)
	}
}

// Execute runs one due scheduled action. It implements dispatch.Executor.
func (s *Service) Execute(ctx context.Context, action dispatch.Action) error {
	switch action.Kind {
	case dispatch.KindSendCards:
		return s.SendDailyCards(ctx, action.Date)
	case dispatch.KindLunchDeadline, dispatch.KindDinnerDeadline:
		// Locking is enforced by the deadline gate on every interaction;
		// the transition itself only needs to be observable.
		s.logger.Info("%s selections for %s are now locked", action.Meal, action.Date)
		return nil
	case dispatch.KindLunchStats, dispatch.KindDinnerStats:
		return s.stats.Send(ctx, action.Date, action.Meal)
	case dispatch.KindArchiveCheck:
		return s.archive.Run(ctx, action.At)
	}
	return fmt.Errorf("unknown action kind %q", action.Kind)
}

func (s *Service) answer(callbackID, text string) {
	if err := s.messenger.AnswerCallback(callbackID, text); err != nil {
		s.logger.Error("failed to answer callback: %v", err)
	}
}
