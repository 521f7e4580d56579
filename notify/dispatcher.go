package notify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kadima-order-bot/format"
	"kadima-order-bot/metrics"
	"kadima-order-bot/order"
)

// Sender отправляет текстовое сообщение в чат.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Result описывает итог доставки одного заказа.
type Result struct {
	OperatorDelivered bool
	Err               error
	// IncidentCode выдаётся клиенту, когда оператор не получил заказ.
	IncidentCode string
}

type Options struct {
	SendTimeout time.Duration
	Ack         bool
}

type Dispatcher struct {
	sender  Sender
	logger  zerolog.Logger
	timeout time.Duration
	ack     bool
}

func NewDispatcher(sender Sender, logger zerolog.Logger, opts Options) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: opts.SendTimeout,
		ack:     opts.Ack,
	}
}

// Dispatch доставляет заказ оператору и подтверждение клиенту. Каждое
// сообщение отправляется один раз; ошибки отправки клиенту только логируются.
func (d *Dispatcher) Dispatch(ctx context.Context, o order.Order, source, operator int64) Result {
	start := time.Now()
	log := d.logger.With().Str("order_id", o.ID).Int64("source", source).Logger()

	if d.ack {
		ackErr := d.send(ctx, source, format.Received())
		metrics.RecordMessage(metrics.RecipientCustomer, metrics.KindAck, ackErr)
		if ackErr != nil {
			log.Warn().Err(ackErr).Msg("failed to send acknowledgement")
		}
	}

	err := d.send(ctx, operator, format.Operator(o))
	metrics.RecordMessage(metrics.RecipientOperator, metrics.KindOrder, err)

	var res Result
	if err == nil {
		res.OperatorDelivered = true
		log.Info().Int64("operator", operator).Msg("order delivered to operator")

		confirmErr := d.send(ctx, source, format.Customer(o))
		metrics.RecordMessage(metrics.RecipientCustomer, metrics.KindConfirmation, confirmErr)
		if confirmErr != nil {
			log.Warn().Err(confirmErr).Msg("failed to send confirmation")
		}
	} else {
		res.Err = err
		res.IncidentCode = newIncidentCode()
		cause := Cause(err)
		log.Error().Err(err).
			Int64("operator", operator).
			Str("incident", res.IncidentCode).
			Str("cause", cause).
			Msg("failed to deliver order to operator")

		noticeErr := d.send(ctx, source, format.CustomerFallback(o, res.IncidentCode, cause))
		metrics.RecordMessage(metrics.RecipientCustomer, metrics.KindFallback, noticeErr)
		if noticeErr != nil {
			log.Warn().Err(noticeErr).Str("incident", res.IncidentCode).Msg("failed to send fallback notice")
		}
	}

	metrics.RecordDispatch(res.OperatorDelivered, time.Since(start))
	return res
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.SendText(ctx, chatID, text)
}

// Cause сводит ошибку доставки к короткому тегу, который можно показать клиенту.
func Cause(err error) string {
	var apiErr *tgbotapi.Error
	var netErr net.Error

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case 403:
			return "blocked"
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Message), "chat not found") {
				return "chat_not_found"
			}
			return "bad_request"
		case 429:
			return "rate_limited"
		}
		return "api_error"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	return "network"
}

func newIncidentCode() string {
	id := uuid.New()
	return id.String()[:8]
}
