package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kadima-order-bot/dedup"
	"kadima-order-bot/notify"
)

const (
	operatorID int64 = 1155607428
	aliceID    int64 = 111
	bobID      int64 = 222
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	polls    []tgbotapi.Params
	failChat map[int64]error
	pinErr   error
	batches  [][]byte
	drained  func()
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{failChat: make(map[int64]error)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := c.(tgbotapi.MessageConfig); ok {
		if err := f.failChat[m.ChatID]; err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, c)
	if _, ok := c.(tgbotapi.PinChatMessageConfig); ok && f.pinErr != nil {
		return nil, f.pinErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.polls = append(f.polls, params)
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &tgbotapi.APIResponse{Ok: true, Result: batch}, nil
	}
	drained := f.drained
	f.drained = nil
	f.mu.Unlock()

	if drained != nil {
		drained()
	}
	time.Sleep(10 * time.Millisecond)
	return &tgbotapi.APIResponse{Ok: true, Result: []byte("[]")}, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) textsTo(chatID int64) []string {
	var out []string
	for _, m := range f.messages() {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func testSettings() Settings {
	return Settings{
		OperatorID:    operatorID,
		WebAppURL:     "https://example.com/menu/",
		PollTimeout:   time.Second,
		StartTTL:      2 * time.Second,
		MaxConcurrent: 4,
	}
}

func newTestBot(api *fakeAPI, settings Settings) *OrderBot {
	sender := NewTelegramSender(api)
	dispatcher := notify.NewDispatcher(sender, zerolog.Nop(), notify.Options{SendTimeout: time.Second})
	return New(api, sender, dispatcher, dedup.NewGuard(), "kadima_bot", settings, zerolog.Nop())
}

func command(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: chatID, FirstName: "User"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func webApp(chatID int64, data string) update {
	return update{
		Update: tgbotapi.Update{
			UpdateID: 1,
			Message: &tgbotapi.Message{
				MessageID: 1,
				Chat:      &tgbotapi.Chat{ID: chatID},
				From:      &tgbotapi.User{ID: chatID, FirstName: "Alice", UserName: "alice"},
			},
		},
		WebAppData: &data,
	}
}

func TestDecodeUpdates(t *testing.T) {
	raw := []byte(`[
		{"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":111,"type":"private"},
			"from":{"id":111,"is_bot":false,"first_name":"Alice"},
			"web_app_data":{"data":"{\"order\":{\"Pilaf\":2}}","button_text":"Menu"}}},
		{"update_id":11,"message":{"message_id":2,"date":0,"chat":{"id":222,"type":"private"},"text":"hi"}},
		{"update_id":12,"message":"broken"}
	]`)

	updates, err := decodeUpdates(raw, 10)
	require.NoError(t, err)
	require.Len(t, updates, 3)

	require.NotNil(t, updates[0].WebAppData)
	assert.Equal(t, `{"order":{"Pilaf":2}}`, *updates[0].WebAppData)
	assert.Equal(t, int64(111), updates[0].Message.Chat.ID)

	assert.Nil(t, updates[1].WebAppData)
	assert.Equal(t, "hi", updates[1].Message.Text)

	assert.Equal(t, 12, updates[2].UpdateID)
	assert.Nil(t, updates[2].Message)
}

func TestDecodeUpdates_MissingID(t *testing.T) {
	testCases := []struct {
		name   string
		raw    string
		offset int
		want   []int
	}{
		{"after a valid update", `[{"update_id":20,"message":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}},{"message":"broken"}]`, 5, []int{20, 21}},
		{"only broken", `[{"message":"broken"}]`, 30, []int{30}},
		{"two in a row", `[{"oops":1},{"message":"broken"}]`, 7, []int{7, 8}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			updates, err := decodeUpdates([]byte(tc.raw), tc.offset)
			assert.Error(t, err)

			var ids []int
			for _, u := range updates {
				ids = append(ids, u.UpdateID)
				assert.Nil(t, u.WebAppData)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestRun_SkipsUpdateWithoutID(t *testing.T) {
	api := newFakeAPI()
	api.batches = [][]byte{
		[]byte(`[{"update_id":40,"message":{"message_id":1,"date":0,"chat":{"id":222,"type":"private"},"text":"hi"}},{"message":"broken"}]`),
	}

	ctx, cancel := context.WithCancel(context.Background())
	api.drained = cancel

	b := newTestBot(api, testSettings())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	require.GreaterOrEqual(t, len(api.polls), 2)
	assert.Equal(t, "42", api.polls[1]["offset"])
}

func TestWebAppData_RelaysOrder(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, testSettings())

	b.handleUpdate(context.Background(), webApp(aliceID, `{"order":{"Pilaf":2,"Salad":0},"total":"45000","payment":"cash","type":"delivery"}`))

	operator := api.textsTo(operatorID)
	require.Len(t, operator, 1)
	assert.Contains(t, operator[0], "Pilaf × 2")
	assert.Contains(t, operator[0], "@alice")
	assert.Contains(t, operator[0], "<code>111</code>")

	customer := api.textsTo(aliceID)
	require.Len(t, customer, 1)
	assert.Contains(t, customer[0], "Ваш заказ принят")

	for _, m := range api.messages() {
		assert.Equal(t, tgbotapi.ModeHTML, m.ParseMode)
	}
}

func TestWebAppData_OperatorUnreachable(t *testing.T) {
	api := newFakeAPI()
	api.failChat[operatorID] = &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	b := newTestBot(api, testSettings())

	b.handleUpdate(context.Background(), webApp(aliceID, `{"order":{"Pilaf":2}}`))

	assert.Empty(t, api.textsTo(operatorID))
	customer := api.textsTo(aliceID)
	require.Len(t, customer, 1)
	assert.Contains(t, customer[0], "оператор не был уведомлён")
	assert.Contains(t, customer[0], "(chat_not_found)")
}

func TestStart_Deduplicated(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, testSettings())
	ctx := context.Background()

	b.handleUpdate(ctx, update{Update: tgbotapi.Update{Message: command(bobID, "/start")}})
	b.handleUpdate(ctx, update{Update: tgbotapi.Update{Message: command(bobID, "/start")}})
	b.handleUpdate(ctx, update{Update: tgbotapi.Update{Message: command(aliceID, "/start")}})

	require.Len(t, api.textsTo(bobID), 1)
	require.Len(t, api.textsTo(aliceID), 1)

	msg := api.messages()[0]
	assert.Contains(t, msg.Text, "KADIMA Cafe")
	keyboard, ok := msg.ReplyMarkup.(webAppKeyboard)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/menu/", keyboard.InlineKeyboard[0][0].WebApp.URL)
}

func TestPlainText_GetsWelcome(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, testSettings())

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: bobID}, From: &tgbotapi.User{ID: bobID}, Text: "hello"}
	b.handleUpdate(context.Background(), update{Update: tgbotapi.Update{Message: msg}})
	b.handleUpdate(context.Background(), update{Update: tgbotapi.Update{Message: msg}})

	require.Len(t, api.textsTo(bobID), 1)
	assert.Contains(t, api.textsTo(bobID)[0], "KADIMA Cafe")
}

func TestPost(t *testing.T) {
	testCases := []struct {
		name      string
		channel   string
		from      int64
		pinErr    error
		wantReply string
		wantPin   bool
	}{
		{"numeric channel", "-1001234567890", operatorID, nil, "опубликовано и закреплено", true},
		{"channel username", "@kadima_cafe", operatorID, nil, "опубликовано и закреплено", true},
		{"pin fails", "@kadima_cafe", operatorID, errors.New("not enough rights"), "закрепить его не удалось", true},
		{"channel not configured", "", operatorID, nil, "не настроен", false},
		{"not an operator", "@kadima_cafe", bobID, nil, "KADIMA Cafe", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.pinErr = tc.pinErr
			settings := testSettings()
			settings.ChannelID = tc.channel
			b := newTestBot(api, settings)

			b.handleUpdate(context.Background(), update{Update: tgbotapi.Update{Message: command(tc.from, "/post")}})

			replies := api.textsTo(tc.from)
			require.Len(t, replies, 1)
			assert.Contains(t, replies[0], tc.wantReply)

			var pins []tgbotapi.PinChatMessageConfig
			for _, r := range api.requests {
				if pin, ok := r.(tgbotapi.PinChatMessageConfig); ok {
					pins = append(pins, pin)
				}
			}
			if !tc.wantPin {
				assert.Empty(t, pins)
				return
			}

			require.Len(t, pins, 1)
			assert.True(t, pins[0].DisableNotification)
			post := api.messages()[0]
			if tc.channel[0] == '@' {
				assert.Equal(t, tc.channel, post.ChannelUsername)
				assert.Equal(t, tc.channel, pins[0].ChannelUsername)
			} else {
				assert.Equal(t, int64(-1001234567890), post.ChatID)
				assert.Equal(t, int64(-1001234567890), pins[0].ChatID)
			}
			markup, ok := post.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
			require.True(t, ok)
			require.NotNil(t, markup.InlineKeyboard[0][0].URL)
			assert.Equal(t, "https://t.me/kadima_bot?start=menu", *markup.InlineKeyboard[0][0].URL)
		})
	}
}

func TestHandleUpdate_IgnoresEmpty(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, testSettings())

	require.NotPanics(t, func() {
		b.handleUpdate(context.Background(), update{})
		b.handleUpdate(context.Background(), update{Update: tgbotapi.Update{Message: &tgbotapi.Message{}}})
	})
	assert.Empty(t, api.messages())
}

func TestRun(t *testing.T) {
	api := newFakeAPI()
	api.batches = [][]byte{[]byte(`[
		{"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":111,"type":"private"},
			"from":{"id":111,"is_bot":false,"first_name":"Alice","username":"alice"},
			"web_app_data":{"data":"{\"order\":{\"Pilaf\":2},\"total_num\":45000}","button_text":"Menu"}}},
		{"update_id":11,"message":{"message_id":2,"date":0,"chat":{"id":222,"type":"private"},
			"from":{"id":222,"is_bot":false,"first_name":"Bob"},
			"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}},
		{"update_id":12,"message":{"message_id":3,"date":0,"chat":{"id":222,"type":"private"},
			"from":{"id":222,"is_bot":false,"first_name":"Bob"},
			"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}
	]`)}

	ctx, cancel := context.WithCancel(context.Background())
	api.drained = cancel

	b := newTestBot(api, testSettings())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	require.NotEmpty(t, api.requests)
	webhook, ok := api.requests[0].(tgbotapi.DeleteWebhookConfig)
	require.True(t, ok)
	assert.True(t, webhook.DropPendingUpdates)

	require.GreaterOrEqual(t, len(api.polls), 2)
	assert.Equal(t, "13", api.polls[1]["offset"])

	operator := api.textsTo(operatorID)
	require.Len(t, operator, 1)
	assert.Contains(t, operator[0], "Pilaf × 2")
	assert.Contains(t, operator[0], "45 000")
	assert.Len(t, api.textsTo(aliceID), 1)
	assert.Len(t, api.textsTo(bobID), 1)
}
