package telegram_bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklessons/internal/models"
)

const (
	actionConfirm = "confirm"
	actionCancel  = "cancel"
)

// botAPI is the subset of *tgbotapi.BotAPI the review bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StatusUpdater applies a reviewer's decision to a booking.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, input *models.UpdateBookingStatusInput) (*models.Booking, error)
}

// Bot posts bookings held for manual review to a reviewers' chat and applies
// the confirm/cancel decisions made from its inline buttons.
type Bot struct {
	api    botAPI
	chatID int64
	logger *zap.Logger
}

// NewBot creates a new Telegram review bot instance
func NewBot(token string, chatID int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return newBot(api, chatID, logger), nil
}

func newBot(api botAPI, chatID int64, logger *zap.Logger) *Bot {
	return &Bot{api: api, chatID: chatID, logger: logger}
}

// Start begins listening for updates from Telegram
func (b *Bot) Start(ctx context.Context, updater StatusUpdater) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, updater, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(update.Message)
			}
		}
	}
}

// NotifyManualReview posts the booking with Confirm/Cancel buttons.
func (b *Bot) NotifyManualReview(ctx context.Context, booking *models.Booking, assessment *models.FraudAssessment) error {
	score := 0.0
	if booking.FraudRiskScore != nil {
		score = *booking.FraudRiskScore
	}
	signals := "none"
	if assessment != nil && len(assessment.TriggeredSignals) > 0 {
		signals = strings.Join(assessment.TriggeredSignals, ", ")
	}

	text := fmt.Sprintf(
		"Booking needs review\n\n"+
			"Booking: %s\n"+
			"Tutor: %s\n"+
			"Student: %s\n"+
			"Starts: %s (%d min)\n"+
			"Risk score: %.2f\n"+
			"Signals: %s",
		booking.ID,
		booking.TutorID,
		booking.StudentID,
		booking.ScheduledStart.Format("2006-01-02 15:04 MST"),
		booking.DurationMinutes,
		score,
		signals,
	)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Confirm", actionConfirm+":"+booking.ID.String()),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", actionCancel+":"+booking.ID.String()),
		),
	)

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ReplyMarkup = keyboard

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send review notification",
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send notification: %w", err)
	}

	b.logger.Info("Review notification sent", zap.String("booking_id", booking.ID.String()))
	return nil
}

// handleCallbackQuery processes callback queries from inline buttons
func (b *Bot) handleCallbackQuery(ctx context.Context, updater StatusUpdater, query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID),
	)

	// Acknowledge the callback query
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	if query.Message == nil || query.Message.Chat == nil || query.Message.Chat.ID != b.chatID {
		b.logger.Warn("Ignoring callback from outside the review chat", zap.Int64("user_id", query.From.ID))
		return
	}

	// Callback data: "confirm:<booking_id>" or "cancel:<booking_id>"
	action, rawID, found := strings.Cut(query.Data, ":")
	if !found {
		b.logger.Error("Failed to parse callback data: invalid format", zap.String("data", query.Data))
		b.sendMessage(b.chatID, "Could not process the request")
		return
	}

	bookingID, err := uuid.Parse(rawID)
	if err != nil {
		b.logger.Error("Failed to parse booking ID", zap.String("id", rawID), zap.Error(err))
		b.sendMessage(b.chatID, "Could not process the request")
		return
	}

	var (
		status          models.BookingStatus
		responseMessage string
	)
	switch action {
	case actionConfirm:
		status = models.StatusConfirmed
		responseMessage = "Confirmed"
	case actionCancel:
		status = models.StatusCancelled
		responseMessage = "Cancelled"
	default:
		b.logger.Error("Unknown action", zap.String("action", action))
		b.sendMessage(b.chatID, "Unknown action")
		return
	}

	notes := fmt.Sprintf("Manual review by Telegram user %d", query.From.ID)
	if query.From.UserName != "" {
		notes = "Manual review by @" + query.From.UserName
	}

	_, err = updater.UpdateStatus(ctx, bookingID, &models.UpdateBookingStatusInput{
		Status: string(status),
		Notes:  &notes,
	})
	if err != nil {
		b.logger.Error("Failed to apply review decision",
			zap.String("booking_id", bookingID.String()),
			zap.String("action", action),
			zap.Error(err),
		)
		b.sendMessage(b.chatID, fmt.Sprintf("Failed to update booking %s: %v", bookingID, err))
		return
	}

	b.logger.Info("Review decision applied",
		zap.String("booking_id", bookingID.String()),
		zap.String("action", action),
	)

	// Edit the original message to remove buttons
	edit := tgbotapi.NewEditMessageText(
		query.Message.Chat.ID,
		query.Message.MessageID,
		query.Message.Text+"\n\n"+responseMessage+" ("+notes+")",
	)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to edit message", zap.Error(err))
	}
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}
	switch message.Command() {
	case "start", "help":
		b.sendMessage(message.Chat.ID,
			"I post lesson bookings that need manual review.\n"+
				"Use the Confirm or Cancel buttons under each booking to decide.\n\n"+
				fmt.Sprintf("This chat ID: %d", message.Chat.ID))
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help.")
	}
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
