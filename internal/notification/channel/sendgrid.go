package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
)

const defaultSendGridBaseURL = "https://api.sendgrid.com"

type SendGridConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SendGrid sends email through the v3 mail send API.
type SendGrid struct {
	cfg        SendGridConfig
	httpClient *http.Client
}

func NewSendGrid(cfg SendGridConfig) *SendGrid {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultSendGridBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SendGrid{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMailSend struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (s *SendGrid) Deliver(ctx context.Context, recipient, subject, content string) (string, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return "", apperr.Misconfigured("sendgrid api key not configured")
	}
	if strings.TrimSpace(s.cfg.FromEmail) == "" {
		return "", apperr.Misconfigured("sendgrid from email not configured")
	}

	payload := sgMailSend{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: recipient}}}},
		From:             sgAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		Subject:          subject,
		Content:          []sgContent{{Type: "text/plain", Value: content}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Header.Get("X-Message-Id"), nil
}
