package order

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var maxCount = decimal.NewFromInt(math.MaxInt64)

// Числа с таким порядком или длиннее 64 бит мантиссы не приводятся:
// сравнение и форматирование развернули бы их во все цифры.
const (
	maxExponent    = 18
	maxMantissaBit = 64
)

// Parse превращает данные веб-приложения в заказ. Никогда не возвращает
// ошибку: всё, что не удалось разобрать, заменяется значениями по умолчанию.
func Parse(raw string) Order {
	return parseAt(raw, time.Now())
}

func parseAt(raw string, now time.Time) Order {
	o := Order{
		Items:     orderedmap.New[string, Quantity](),
		Total:     "0",
		Address:   Placeholder,
		Phone:     Placeholder,
		ID:        Placeholder,
		CreatedAt: now.Format(createdAtLayout),
	}

	data := []byte(strings.TrimSpace(raw))
	if !json.Valid(data) {
		o.Fallback, o.RawFallback = true, raw
		return o
	}
	if _, kind, _, err := jsonparser.Get(data); err != nil || kind != jsonparser.Object {
		o.Fallback, o.RawFallback = true, raw
		return o
	}

	o.Items = parseItems(data)
	o.Total = resolveTotal(data)
	o.Payment = textField(data, "payment")
	o.Fulfillment = textField(data, "type")
	o.Address = orPlaceholder(textField(data, "address"))
	o.Phone = orPlaceholder(textField(data, "phone"))
	o.Comment = textField(data, "comment")
	o.ID = orPlaceholder(textField(data, "order_id"))
	if created := textField(data, "created_at"); created != "" {
		o.CreatedAt = created
	}
	o.Customer.Embedded = parseIdentity(data)

	return o
}

type rawQuantity struct {
	value []byte
	kind  jsonparser.ValueType
}

func parseItems(data []byte) *orderedmap.OrderedMap[string, Quantity] {
	items := orderedmap.New[string, Quantity]()

	block, kind, _, err := jsonparser.Get(data, "order")
	if err != nil || kind != jsonparser.Object {
		return items
	}

	// Повторяющиеся ключи: побеждает последнее значение, позиция остаётся первой.
	raw := orderedmap.New[string, rawQuantity]()
	_ = jsonparser.ObjectEach(block, func(key, value []byte, kind jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			name = string(key)
		}
		raw.Set(name, rawQuantity{value: value, kind: kind})
		return nil
	})

	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		if qty, ok := coerceQuantity(pair.Value); ok {
			items.Set(pair.Key, qty)
		}
	}
	return items
}

func coerceQuantity(raw rawQuantity) (Quantity, bool) {
	switch raw.kind {
	case jsonparser.Number:
		d, err := decimal.NewFromString(string(raw.value))
		if err != nil || !bounded(d) {
			return displayQuantity(string(raw.value))
		}
		return countQuantity(d.Truncate(0), string(raw.value))
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw.value)
		if err != nil {
			s = string(raw.value)
		}
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return countQuantity(decimal.NewFromInt(n), s)
		}
		return displayQuantity(s)
	case jsonparser.Boolean:
		if string(raw.value) == "true" {
			return Quantity{Count: 1}, true
		}
		return Quantity{}, false
	case jsonparser.Null:
		return Quantity{}, false
	default:
		return displayQuantity(string(raw.value))
	}
}

func countQuantity(d decimal.Decimal, text string) (Quantity, bool) {
	if d.Sign() <= 0 {
		return Quantity{}, false
	}
	if d.GreaterThan(maxCount) {
		return displayQuantity(text)
	}
	return Quantity{Count: d.IntPart()}, true
}

func displayQuantity(s string) (Quantity, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, false
	}
	return Quantity{Display: s}, true
}

func resolveTotal(data []byte) string {
	if total := textField(data, "total"); total != "" {
		return total
	}
	if d, ok := decimalField(data, "total_num"); ok {
		return groupThousands(d)
	}
	// Слишком большое число показываем как пришло.
	if value, kind, _, err := jsonparser.Get(data, "total_num"); err == nil && kind == jsonparser.Number {
		return string(value)
	}
	return "0"
}

// groupThousands форматирует число с пробелом между разрядами: 1500 -> "1 500".
func groupThousands(d decimal.Decimal) string {
	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
		d = d.Abs()
	}

	whole := d.Truncate(0)
	digits := whole.String()
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac := d.Sub(whole); !frac.IsZero() {
		b.WriteString(strings.TrimPrefix(frac.String(), "0"))
	}
	return b.String()
}

func parseIdentity(data []byte) *Identity {
	block, kind, _, err := jsonparser.Get(data, "tg")
	if err != nil || kind != jsonparser.Object {
		return nil
	}

	var id Identity
	if d, ok := decimalField(block, "id"); ok && d.IsInteger() && !d.GreaterThan(maxCount) {
		id.ID = d.IntPart()
	}
	id.Username = strings.TrimPrefix(textField(block, "username"), "@")
	id.FirstName = textField(block, "first_name")
	id.LastName = textField(block, "last_name")

	if id == (Identity{}) {
		return nil
	}
	return &id
}

// textField возвращает строку или литерал числа, обрезанный по краям.
// Остальные типы считаются отсутствующими.
func textField(data []byte, key string) string {
	value, kind, _, err := jsonparser.Get(data, key)
	if err != nil {
		return ""
	}
	switch kind {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case jsonparser.Number:
		return string(value)
	}
	return ""
}

func decimalField(data []byte, key string) (decimal.Decimal, bool) {
	value, kind, _, err := jsonparser.Get(data, key)
	if err != nil {
		return decimal.Decimal{}, false
	}

	var text string
	switch kind {
	case jsonparser.Number:
		text = string(value)
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return decimal.Decimal{}, false
		}
		text = strings.TrimSpace(s)
	default:
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(text)
	if err != nil || !bounded(d) {
		return decimal.Decimal{}, false
	}
	return d, true
}

func bounded(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxExponent || exp < -maxExponent {
		return false
	}
	return d.Coefficient().BitLen() <= maxMantissaBit
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}
