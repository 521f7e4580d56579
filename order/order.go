package order

import (
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Placeholder подставляется вместо отсутствующих текстовых полей.
const Placeholder = "—"

const createdAtLayout = "02.01.2006 15:04"

var paymentLabels = map[string]string{
	"cash":  "💵 Наличные",
	"click": "💳 Click",
}

var fulfillmentLabels = map[string]string{
	"delivery": "🚚 Доставка",
	"pickup":   "🏃 Самовывоз",
}

// Quantity хранит количество позиции. Display заполнен, когда значение не удалось
// привести к целому числу и оно показывается как есть.
type Quantity struct {
	Count   int64
	Display string
}

func (q Quantity) String() string {
	if q.Display != "" {
		return q.Display
	}
	return strconv.FormatInt(q.Count, 10)
}

type Identity struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

func (i Identity) fullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// Customer хранит две личности клиента: Channel приходит от Telegram и
// используется для доставки, Embedded присылает веб-приложение и
// предпочитается при отображении.
type Customer struct {
	Channel  Identity
	Embedded *Identity
}

func (c Customer) DisplayName() string {
	if c.Embedded != nil {
		if name := c.Embedded.fullName(); name != "" {
			return name
		}
	}
	if name := c.Channel.fullName(); name != "" {
		return name
	}
	if u := c.Username(); u != "" {
		return "@" + u
	}
	return Placeholder
}

func (c Customer) ID() int64 {
	if c.Embedded != nil && c.Embedded.ID != 0 {
		return c.Embedded.ID
	}
	return c.Channel.ID
}

func (c Customer) Username() string {
	if c.Embedded != nil && c.Embedded.Username != "" {
		return c.Embedded.Username
	}
	return c.Channel.Username
}

// Order хранит нормализованный заказ из одной отправки веб-приложения.
// Живёт только в пределах обработки одного сообщения.
type Order struct {
	Items       *orderedmap.OrderedMap[string, Quantity]
	Total       string
	Payment     string
	Fulfillment string
	Address     string
	Phone       string
	Comment     string
	ID          string
	CreatedAt   string
	Customer    Customer

	// Fallback выставляется, если данные не удалось разобрать как JSON-объект.
	Fallback    bool
	RawFallback string
}

func (o Order) IsEmpty() bool {
	return o.Items == nil || o.Items.Len() == 0
}

// EachItem обходит позиции в порядке, в котором они пришли.
func (o Order) EachItem(fn func(name string, qty Quantity)) {
	if o.Items == nil {
		return
	}
	for pair := o.Items.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

func (o Order) PaymentLabel() string {
	return lookupLabel(paymentLabels, o.Payment)
}

func (o Order) FulfillmentLabel() string {
	return lookupLabel(fulfillmentLabels, o.Fulfillment)
}

func lookupLabel(labels map[string]string, raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return Placeholder
	}
	if label, ok := labels[key]; ok {
		return label
	}
	return raw
}
