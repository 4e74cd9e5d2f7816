// Package telegram wraps the bot API: outbound cards and texts, and the
// update loop that feeds interaction events to the application.
package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mealrota/canteenbot/pkg/logger"
)

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger
}

// CommandHandler handles a bot command message
type CommandHandler func(message *tgbotapi.Message)

// CallbackHandler handles an inline-keyboard callback query
type CallbackHandler func(callback *tgbotapi.CallbackQuery)

// MessageHandler handles a plain text message
type MessageHandler func(message *tgbotapi.Message)

// New creates a new Telegram bot instance
func New(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		logger: logger.New("telegram"),
	}
	bot.logger.Info("Telegram bot created: @%s", api.Self.UserName)
	return bot, nil
}

// Start listens for updates and routes them to the given handlers. Callback
// handlers are invoked on their own goroutine so a slow reconciliation never
// stalls delivery of other updates.
func (b *Bot) Start(commandHandlers map[string]CommandHandler, callbackHandler CallbackHandler, messageHandler MessageHandler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if callbackHandler != nil {
				b.logger.Debug("callback %q from user %d", update.CallbackQuery.Data, update.CallbackQuery.From.ID)
				go callbackHandler(update.CallbackQuery)
			}
		case update.Message != nil && update.Message.IsCommand():
			command := update.Message.Command()
			if handler, ok := commandHandlers[command]; ok {
				b.logger.Info("handling command /%s from user %d", command, update.Message.From.ID)
				go handler(update.Message)
			}
		case update.Message != nil && update.Message.Text != "":
			if messageHandler != nil {
				go messageHandler(update.Message)
			}
		}
	}

	return nil
}

// SendText sends a plain text message to a person. The person id is the
// platform user id in decimal form.
func (b *Bot) SendText(personID string, text string) error {
	chatID, err := chatIDFor(personID)
	if err != nil {
		return err
	}
	_, err = b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return fmt.Errorf("failed to send text to %s: %w", personID, err)
	}
	return nil
}

// SendCard sends a card message with an inline keyboard to a person
func (b *Bot) SendCard(personID string, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	chatID, err := chatIDFor(personID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send card to %s: %w", personID, err)
	}
	return nil
}

// EditCard rewrites an existing card message's text and keyboard in place
func (b *Bot) EditCard(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)
	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("failed to edit card message %d: %w", messageID, err)
	}
	return nil
}

// AnswerCallback replies to a callback query with a short toast text
func (b *Bot) AnswerCallback(callbackID string, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func chatIDFor(personID string) (int64, error) {
	chatID, err := strconv.ParseInt(personID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid person id %q: %w", personID, err)
	}
	return chatID, nil
}
