package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// markdownV2Specials are the characters Telegram requires escaped in
// MarkdownV2 text.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// telegramMessage is the sendMessage request body.
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	chatID  string
	sendURL string
	client  *http.Client
}

// NewTelegramNotifier creates a Telegram notifier for the given bot token
// and target chat ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		chatID:  chatID,
		sendURL: "https://api.telegram.org/bot" + botToken + "/sendMessage",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("%s *%s*\n\n%s", levelEmoji(alert.Level), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message)),
		ParseMode: "MarkdownV2",
	}
	status, err := postJSON(ctx, t.client, t.sendURL, msg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned %d", status)
	}
	return nil
}

func levelEmoji(level AlertLevel) string {
	switch level {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

// escapeMarkdown backslash-escapes MarkdownV2 special characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownV2Specials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
