// Package notify sends outbound push notifications over the Telegram bot
// API. It has one outbound path — alerts and reports pushed to the bot
// owner — not a routed pub/sub between several chat platforms.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notification is one outbound push: a chat id and the text to send.
type Notification struct {
	ChatID string
	Text   string
}

// Sender posts notifications to the Telegram bot API.
type Sender struct {
	botToken string
	client   *http.Client
	log      *slog.Logger
}

func NewSender(botToken string, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		botToken: botToken,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Send posts text to chatID via sendMessage. A non-200 response is logged
// and swallowed: a missed alert push should never take down the caller
// that triggered it.
func (s *Sender) Send(ctx context.Context, n Notification) error {
	if s.botToken == "" || n.ChatID == "" {
		s.log.Warn("notify: missing bot token or chat id, skipping push")
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    n.ChatID,
		"text":       n.Text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error("notify: push failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Error("notify: push rejected", "status", resp.StatusCode)
	}
	return nil
}
