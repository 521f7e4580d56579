package bot

const (
	menuButtonText = "🍽 Открыть меню"

	welcomeText = "Добро пожаловать в <b>KADIMA Cafe</b> 👋\nНажмите кнопку ниже, чтобы открыть меню:"
	channelText = "🍽 <b>KADIMA Cafe</b>\nЗаказывайте прямо в Telegram: откройте меню через бота 👇"
)

// Кнопки web_app появились в Bot API 6.0, а в tgbotapi v5 их нет,
// поэтому разметку описываем сами.
type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

func menuKeyboard(url string) webAppKeyboard {
	return webAppKeyboard{
		InlineKeyboard: [][]webAppButton{
			{{Text: menuButtonText, WebApp: webAppInfo{URL: url}}},
		},
	}
}
