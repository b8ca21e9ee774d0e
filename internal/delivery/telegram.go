package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/format"
	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
)

// BotAPI is the part of *tgbotapi.BotAPI the telegram channel uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender sends the follow-up message to the channel's "chat_id".
// Markdown in the message is converted to entities.
type TelegramSender struct {
	api     BotAPI
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewTelegramSender(api BotAPI, log zerolog.Logger, m *metrics.Metrics) *TelegramSender {
	return &TelegramSender{
		api:     api,
		log:     log.With().Str("channel", TypeTelegram).Logger(),
		metrics: m,
	}
}

func (s *TelegramSender) Send(ctx context.Context, followups []*models.FollowUp) error {
	return deliverEach(ctx, TypeTelegram, followups, s.log, s.metrics, s.send)
}

func (s *TelegramSender) send(_ context.Context, f *models.FollowUp, ch models.Channel) (int, string, error) {
	chatID, err := chatID(ch)
	if err != nil {
		return 0, "", err
	}

	parsed := format.ParseMarkdown(f.Message)
	msg := tgbotapi.NewMessage(chatID, parsed.Text)
	msg.Entities = parsed.Entities

	sent, err := s.api.Send(msg)
	if err != nil {
		return 0, "", err
	}
	return 0, strconv.Itoa(sent.MessageID), nil
}

func chatID(ch models.Channel) (int64, error) {
	switch v := ch.Config["chat_id"].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("channel %s: invalid chat_id %q", ch.ID, v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("channel %s has no chat_id", ch.ID)
	}
}
