// Package format строит тексты уведомлений о заказе в разметке Telegram HTML.
// Всё, что пришло от пользователя, экранируется перед подстановкой.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"kadima-order-bot/order"
)

const (
	currency       = "сум"
	emptyCartLine  = "• Корзина пуста"
	noUsername     = "без username"
	maxRawFallback = 1500

	// MaxMessageRunes: предел длины sendMessage в Telegram.
	MaxMessageRunes = 4096

	// Пределы для подставляемых значений считаются после экранирования,
	// так что ни одно представление не выходит за MaxMessageRunes.
	maxShortField   = 64
	maxNameField    = 128
	maxAddressField = 256
	maxCommentField = 512
	maxItemName     = 128
	maxItemQuantity = 32
	maxItemsBlock   = 1500
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape нейтрализует символы, меняющие структуру HTML-сообщения.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// clip экранирует s и обрезает результат до limit символов с «…» в конце,
// не разрывая HTML-сущности.
func clip(s string, limit int) string {
	escaped := Escape(s)
	if utf8.RuneCountInString(escaped) <= limit {
		return escaped
	}

	var b strings.Builder
	n := 0
	for _, r := range s {
		piece := Escape(string(r))
		w := utf8.RuneCountInString(piece)
		if n+w > limit-1 {
			break
		}
		b.WriteString(piece)
		n += w
	}
	b.WriteString("…")
	return b.String()
}

// Received возвращает короткое подтверждение, которое клиент видит сразу.
func Received() string {
	return "⏳ Заказ получен, обрабатываем…"
}

// Operator собирает уведомление оператору о новом заказе.
func Operator(o order.Order) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🆕 <b>Новый заказ</b> %s\n", clip(o.ID, maxShortField))
	fmt.Fprintf(&b, "🕒 %s\n\n", clip(o.CreatedAt, maxShortField))

	fmt.Fprintf(&b, "👤 <b>Клиент:</b> %s\n", clip(o.Customer.DisplayName(), maxNameField))
	fmt.Fprintf(&b, "🆔 <code>%s</code>\n", strconv.FormatInt(o.Customer.ID(), 10))
	if u := o.Customer.Username(); u != "" {
		fmt.Fprintf(&b, "📎 @%s\n\n", clip(u, maxShortField))
	} else {
		fmt.Fprintf(&b, "📎 %s\n\n", noUsername)
	}

	b.WriteString("🧾 <b>Состав заказа:</b>\n")
	writeItems(&b, o)
	b.WriteString("\n")
	writeDetails(&b, o)

	if o.Fallback {
		b.WriteString("\n⚠️ <b>Не удалось разобрать данные, исходный текст:</b>\n")
		room := MaxMessageRunes - utf8.RuneCountInString(b.String()) - utf8.RuneCountInString("<pre></pre>")
		fmt.Fprintf(&b, "<pre>%s</pre>\n", clip(truncate(o.RawFallback, maxRawFallback), room))
	}

	return strings.TrimRight(b.String(), "\n")
}

// Customer собирает подтверждение клиенту после того, как оператор получил заказ.
func Customer(o order.Order) string {
	var b strings.Builder

	b.WriteString("✅ <b>Ваш заказ принят!</b>\n")
	fmt.Fprintf(&b, "Номер заказа: %s\n\n", clip(o.ID, maxShortField))
	writeItems(&b, o)
	b.WriteString("\n")
	writeDetails(&b, o)
	b.WriteString("\nЗаказ передан оператору. Мы свяжемся с вами для подтверждения.")

	return b.String()
}

// CustomerFallback отправляется клиенту, если оператора уведомить не удалось.
// Детали ошибки не раскрываются, только код инцидента и тег причины.
// Комментарий и адрес в нём не повторяются, чтобы сообщение всегда доходило.
func CustomerFallback(o order.Order, incident, cause string) string {
	var b strings.Builder

	b.WriteString("✅ <b>Заказ получен</b>, но оператор не был уведомлён автоматически.\n")
	b.WriteString("Пожалуйста, свяжитесь с нами, чтобы подтвердить заказ.\n\n")
	if o.ID != order.Placeholder {
		fmt.Fprintf(&b, "Номер заказа: %s\n", clip(o.ID, maxShortField))
	}
	writeItems(&b, o)
	fmt.Fprintf(&b, "💰 <b>Сумма:</b> %s %s\n", clip(o.Total, maxShortField), currency)
	fmt.Fprintf(&b, "\nКод: <code>%s</code> (%s)", clip(incident, maxShortField), clip(cause, maxShortField))

	return b.String()
}

// writeItems выводит позиции, пока они помещаются в maxItemsBlock;
// остальные сводятся в одну строку с их количеством.
func writeItems(b *strings.Builder, o order.Order) {
	if o.IsEmpty() {
		b.WriteString(emptyCartLine + "\n")
		return
	}

	used, shown := 0, 0
	full := false
	o.EachItem(func(name string, qty order.Quantity) {
		if full {
			return
		}
		line := fmt.Sprintf("• %s × %s\n", clip(name, maxItemName), clip(qty.String(), maxItemQuantity))
		n := utf8.RuneCountInString(line)
		if used+n > maxItemsBlock {
			full = true
			return
		}
		b.WriteString(line)
		used += n
		shown++
	})
	if rest := o.Items.Len() - shown; rest > 0 {
		fmt.Fprintf(b, "… и ещё %d поз.\n", rest)
	}
}

func writeDetails(b *strings.Builder, o order.Order) {
	fmt.Fprintf(b, "💰 <b>Сумма:</b> %s %s\n", clip(o.Total, maxShortField), currency)
	fmt.Fprintf(b, "📦 <b>Получение:</b> %s\n", clip(o.FulfillmentLabel(), maxShortField))
	fmt.Fprintf(b, "💳 <b>Оплата:</b> %s\n", clip(o.PaymentLabel(), maxShortField))
	fmt.Fprintf(b, "📍 <b>Адрес:</b> %s\n", clip(o.Address, maxAddressField))
	fmt.Fprintf(b, "📞 <b>Телефон:</b> %s\n", clip(o.Phone, maxShortField))
	if o.Comment != "" {
		fmt.Fprintf(b, "💬 <b>Комментарий:</b> %s\n", clip(o.Comment, maxCommentField))
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
