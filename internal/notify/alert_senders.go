package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPI = "https://api.telegram.org"

	// discordRed is the embed accent for every alert.
	discordRed = 0xE74C3C

	alertHTTPTimeout = 10 * time.Second
)

// jsonHook POSTs a JSON document and treats any non-2xx answer as failure.
type jsonHook struct {
	name   string
	client *http.Client
}

func newJSONHook(name string) jsonHook {
	return jsonHook{name: name, client: &http.Client{Timeout: alertHTTPTimeout}}
}

func (h jsonHook) post(ctx context.Context, url string, doc any) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", h.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: post: %w", h.name, err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: status %d: %s", h.name, resp.StatusCode, bytes.TrimSpace(reply))
	}
	return reply, nil
}

// TelegramSender relays alerts to one chat via the Bot API sendMessage call.
type TelegramSender struct {
	jsonHook
	token   string
	chatID  string
	baseURL string
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		jsonHook: newJSONHook("telegram"),
		token:    token,
		chatID:   chatID,
		baseURL:  telegramAPI,
	}
}

func (t *TelegramSender) Name() string { return t.name }

// Send renders the title in bold above the message. The Bot API can answer
// 200 with ok=false, which is reported as an error too.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	reply, err := t.post(ctx, t.baseURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     "*" + title + "*\n" + message,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	var ack struct {
		OK          *bool  `json:"ok"`
		Description string `json:"description"`
	}
	if json.Unmarshal(reply, &ack) == nil && ack.OK != nil && !*ack.OK {
		return fmt.Errorf("telegram: rejected: %s", ack.Description)
	}
	return nil
}

// DiscordSender posts alerts to a channel webhook as a single embed.
type DiscordSender struct {
	jsonHook
	webhookURL string
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{jsonHook: newJSONHook("discord"), webhookURL: webhookURL}
}

func (d *DiscordSender) Name() string { return d.name }

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	type embed struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Color       int    `json:"color"`
		Timestamp   string `json:"timestamp"`
	}
	_, err := d.post(ctx, d.webhookURL, map[string][]embed{
		"embeds": {{
			Title:       title,
			Description: message,
			Color:       discordRed,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
	return err
}
