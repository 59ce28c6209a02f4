package notification

import (
	"context"
	"log"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

var levelMarks = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// markdownV2 escapes every character Telegram reserves in MarkdownV2.
var markdownV2 = func() *strings.Replacer {
	var pairs []string
	for _, c := range "_*[]()~`>#+-=|{}.!\\" {
		pairs = append(pairs, string(c), `\`+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

// TelegramNotifier delivers alerts through the Bot API sendMessage call.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	jsonPoster
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:      botToken,
		chatID:     chatID,
		baseURL:    telegramAPI,
		jsonPoster: newJSONPoster("telegram"),
	}
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	var b strings.Builder
	if mark, ok := levelMarks[alert.Level]; ok {
		b.WriteString(mark + " ")
	}
	b.WriteString("*" + markdownV2.Replace(alert.Title) + "*")
	if alert.Subject != "" {
		b.WriteString("\n`" + markdownV2.Replace(alert.Subject) + "`")
	}
	b.WriteString("\n\n" + markdownV2.Replace(alert.Message))

	msg := sendMessage{ChatID: t.chatID, Text: b.String(), ParseMode: "MarkdownV2"}
	if err := t.post(ctx, t.baseURL+"/bot"+t.token+"/sendMessage", msg); err != nil {
		return err
	}
	log.Printf("[telegram] delivered %s alert to chat %s", alert.Level, t.chatID)
	return nil
}
