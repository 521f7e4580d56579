package bot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// update хранит входящее обновление. Поле web_app_data отсутствует в типах
// библиотеки, поэтому достаём его из исходного JSON отдельно.
type update struct {
	tgbotapi.Update
	WebAppData *string
}

func (b *OrderBot) fetchUpdates(ctx context.Context, offset int) ([]update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", int(b.settings.PollTimeout.Seconds()))
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return nil, err
	}

	type result struct {
		resp *tgbotapi.APIResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := b.api.MakeRequest("getUpdates", params)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("getUpdates: %w", r.err)
		}
		return decodeUpdates(r.resp.Result, offset)
	}
}

// decodeUpdates разбирает ответ getUpdates. Обновлению без update_id
// присваивается следующий ожидаемый id, чтобы offset сдвинулся за него.
func decodeUpdates(raw []byte, offset int) ([]update, error) {
	var updates []update
	var decodeErr error
	next := offset

	_, err := jsonparser.ArrayEach(raw, func(value []byte, _ jsonparser.ValueType, _ int, err error) {
		if err != nil {
			decodeErr = err
			return
		}

		id, idErr := jsonparser.GetInt(value, "update_id")
		if idErr != nil {
			decodeErr = fmt.Errorf("update after id %d has no update_id: %w", next-1, idErr)
			updates = append(updates, update{Update: tgbotapi.Update{UpdateID: next}})
			next++
			return
		}
		if int(id) >= next {
			next = int(id) + 1
		}

		var u update
		if err := json.Unmarshal(value, &u.Update); err != nil {
			// Битое обновление пропускаем, но сдвигаем offset по его id.
			updates = append(updates, update{Update: tgbotapi.Update{UpdateID: int(id)}})
			return
		}
		if data, err := jsonparser.GetString(value, "message", "web_app_data", "data"); err == nil {
			u.WebAppData = &data
		}
		updates = append(updates, u)
	})
	if err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, decodeErr
}
