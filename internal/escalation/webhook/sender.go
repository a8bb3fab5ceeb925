// Package webhook delivers escalations as signed JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/escalation"
)

// Channel is the channel name used for queue items.
const Channel = "webhook"

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

const defaultTimeout = 10 * time.Second

// Config holds webhook sender configuration.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Sender posts escalations to a fixed URL.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Channel returns the channel name.
func (s *Sender) Channel() string {
	return Channel
}

type payload struct {
	Subject    string            `json:"subject"`
	Text       string            `json:"text"`
	Escalation domain.Escalation `json:"escalation"`
}

// Send posts the notice. The body is signed when a secret is configured.
func (s *Sender) Send(ctx context.Context, notice escalation.Notice) error {
	if s.config.URL == "" {
		return &escalation.DeliveryError{Channel: Channel, Message: "webhook URL is empty"}
	}

	body, err := json.Marshal(payload{
		Subject:    notice.Subject,
		Text:       notice.Body,
		Escalation: notice.Escalation,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.config.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &escalation.DeliveryError{Channel: Channel, Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return escalation.ClassifyStatus(Channel, resp.StatusCode, string(respBody))
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
