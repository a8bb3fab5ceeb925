// Package mattermost delivers escalations via Mattermost Incoming Webhooks.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/wastewatch/internal/escalation"
)

// Channel is the channel name used for queue items.
const Channel = "mattermost"

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "WasteWatch"
)

// Config holds Mattermost sender configuration.
type Config struct {
	WebhookURL string
	Username   string
	IconURL    string
	Timeout    time.Duration
}

// Sender implements escalation delivery via Incoming Webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Channel returns the channel name.
func (s *Sender) Channel() string {
	return Channel
}

type webhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Send posts the notice as a markdown message.
func (s *Sender) Send(ctx context.Context, notice escalation.Notice) error {
	if s.config.WebhookURL == "" {
		return &escalation.DeliveryError{Channel: Channel, Message: "webhook URL is empty"}
	}

	payload := webhookPayload{
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
		Text:     notice.Body,
	}
	if notice.Subject != "" {
		payload.Text = fmt.Sprintf("### %s\n\n%s", notice.Subject, notice.Body)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &escalation.DeliveryError{Channel: Channel, Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &escalation.DeliveryError{Channel: Channel, Code: resp.StatusCode, Message: "invalid or expired webhook"}
	}
	if err := escalation.ClassifyStatus(Channel, resp.StatusCode, string(respBody)); err != nil {
		return err
	}

	slog.Debug("mattermost message sent", "webhook", maskWebhookURL(s.config.WebhookURL))
	return nil
}

// maskWebhookURL hides part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
