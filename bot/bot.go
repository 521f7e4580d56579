package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kadima-order-bot/dedup"
	"kadima-order-bot/metrics"
	"kadima-order-bot/notify"
	"kadima-order-bot/order"
)

const (
	actionStart   = "start"
	actionWelcome = "welcome"

	pollRetryDelay = 3 * time.Second
	replyTimeout   = 10 * time.Second
)

type Settings struct {
	// OperatorID: чат оператора для уведомлений о заказах.
	OperatorID int64
	WebAppURL  string
	// ChannelID: числовой id или @username канала для /post.
	ChannelID     string
	PollTimeout   time.Duration
	StartTTL      time.Duration
	MaxConcurrent int
}

type OrderBot struct {
	api        API
	sender     *TelegramSender
	dispatcher *notify.Dispatcher
	guard      *dedup.Guard
	settings   Settings
	username   string
	logger     zerolog.Logger
}

func New(api API, sender *TelegramSender, dispatcher *notify.Dispatcher, guard *dedup.Guard, username string, settings Settings, logger zerolog.Logger) *OrderBot {
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = 1
	}
	return &OrderBot{
		api:        api,
		sender:     sender,
		dispatcher: dispatcher,
		guard:      guard,
		settings:   settings,
		username:   username,
		logger:     logger,
	}
}

// Run удаляет вебхук и читает обновления long polling'ом до отмены ctx.
// Каждое обновление обрабатывается в своей горутине; начатые обработчики
// доводят отправку до конца и после отмены, их ограничивают таймауты отправки.
func (b *OrderBot) Run(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	b.logger.Info().Msg("webhook deleted, polling for updates")

	// Когда все MaxConcurrent слотов заняты, g.Go ждёт, и следующий
	// getUpdates откладывается до освобождения слота.
	var g errgroup.Group
	g.SetLimit(b.settings.MaxConcurrent)
	handlerCtx := context.WithoutCancel(ctx)

	offset := 0
	for ctx.Err() == nil {
		updates, err := b.fetchUpdates(ctx, offset)
		if err != nil && ctx.Err() == nil {
			b.logger.Warn().Err(err).Int("offset", offset).Msg("failed to fetch updates")
			if len(updates) == 0 {
				select {
				case <-ctx.Done():
				case <-time.After(pollRetryDelay):
				}
				continue
			}
		}

		for _, u := range updates {
			u := u
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			g.Go(func() error {
				b.handleUpdate(handlerCtx, u)
				return nil
			})
		}
	}

	b.logger.Info().Msg("polling stopped, waiting for handlers")
	return g.Wait()
}

func (b *OrderBot) handleUpdate(ctx context.Context, u update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Int("update_id", u.UpdateID).Msg("update handler panicked")
		}
	}()

	message := u.Message
	if message == nil || message.Chat == nil {
		return
	}

	switch {
	case u.WebAppData != nil:
		b.handleWebAppData(ctx, message, *u.WebAppData)
	case message.IsCommand() && message.Command() == "start":
		b.handleGreeting(ctx, message, actionStart)
	case message.IsCommand() && message.Command() == "post":
		b.handlePost(ctx, message)
	default:
		b.handleGreeting(ctx, message, actionWelcome)
	}
}

func (b *OrderBot) handleWebAppData(ctx context.Context, message *tgbotapi.Message, data string) {
	o := order.Parse(data)
	if message.From != nil {
		o.Customer.Channel = identityOf(message.From)
	}
	metrics.RecordOrderReceived(o.Fallback)

	log := b.logger.With().Int64("chat_id", message.Chat.ID).Str("order_id", o.ID).Logger()
	if o.Fallback {
		log.Warn().Int("bytes", len(data)).Msg("web app data is not a JSON object, relaying raw text")
	}

	res := b.dispatcher.Dispatch(ctx, o, message.Chat.ID, b.settings.OperatorID)
	if res.OperatorDelivered {
		log.Info().Msg("order relayed")
	} else {
		log.Warn().Str("incident", res.IncidentCode).Msg("order accepted without operator notification")
	}
}

func (b *OrderBot) handleGreeting(ctx context.Context, message *tgbotapi.Message, action string) {
	userID := message.Chat.ID
	if message.From != nil {
		userID = message.From.ID
	}
	if !b.guard.Allow(userID, action, b.settings.StartTTL) {
		b.logger.Debug().Int64("user_id", userID).Str("action", action).Msg("duplicate greeting suppressed")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, welcomeText)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = menuKeyboard(b.settings.WebAppURL)

	b.reply(ctx, msg)
}

// handlePost публикует в канал сообщение с кнопкой меню и закрепляет его.
// Доступно только оператору.
func (b *OrderBot) handlePost(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.From.ID != b.settings.OperatorID {
		b.handleGreeting(ctx, message, actionWelcome)
		return
	}
	if b.settings.ChannelID == "" {
		b.replyText(ctx, message.Chat.ID, "⚠️ Канал для публикации не настроен.")
		return
	}

	post := channelMessage(b.settings.ChannelID, channelText)
	post.ParseMode = tgbotapi.ModeHTML
	post.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(menuButtonText, b.deepLink()),
		),
	)

	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	sent, err := b.sender.Send(sendCtx, post)
	if err != nil {
		b.logger.Error().Err(err).Str("channel", b.settings.ChannelID).Msg("failed to post menu to channel")
		b.replyText(ctx, message.Chat.ID, "❌ Не удалось опубликовать сообщение в канале.")
		return
	}

	pin := tgbotapi.PinChatMessageConfig{
		MessageID:           sent.MessageID,
		DisableNotification: true,
	}
	if id, err := strconv.ParseInt(b.settings.ChannelID, 10, 64); err == nil {
		pin.ChatID = id
	} else {
		pin.ChannelUsername = b.settings.ChannelID
	}

	if err := b.sender.Request(sendCtx, pin); err != nil {
		b.logger.Error().Err(err).Int("message_id", sent.MessageID).Msg("failed to pin channel post")
		b.replyText(ctx, message.Chat.ID, "⚠️ Сообщение опубликовано, но закрепить его не удалось.")
		return
	}

	b.logger.Info().Str("channel", b.settings.ChannelID).Int("message_id", sent.MessageID).Msg("menu posted and pinned")
	b.replyText(ctx, message.Chat.ID, "✅ Сообщение опубликовано и закреплено.")
}

func (b *OrderBot) reply(ctx context.Context, msg tgbotapi.MessageConfig) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if _, err := b.sender.Send(ctx, msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("failed to send reply")
	}
}

func (b *OrderBot) replyText(ctx context.Context, chatID int64, text string) {
	b.reply(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *OrderBot) deepLink() string {
	return "https://t.me/" + b.username + "?start=menu"
}

func identityOf(u *tgbotapi.User) order.Identity {
	return order.Identity{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func channelMessage(channel, text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(channel, text)
}
