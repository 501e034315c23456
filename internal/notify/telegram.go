package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender posts to a chat through the Bot API sendMessage method.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: DefaultTelegramAPI,
		token:  token,
		chatID: chatID,
		client: defaultClient(),
	}
}

// WithAPIURL points the sender at another Bot API root.
func (t *TelegramSender) WithAPIURL(u string) *TelegramSender {
	t.apiURL = strings.TrimRight(u, "/")
	return t
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token), map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
