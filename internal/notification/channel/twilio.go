package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID      string
	AuthToken       string
	FromPhoneNumber string
	BaseURL         string
	Timeout         time.Duration
}

// Twilio sends SMS through the Messages API.
type Twilio struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Twilio{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type twilioMessage struct {
	SID string `json:"sid"`
}

func (t *Twilio) Deliver(ctx context.Context, recipient, _ string, content string) (string, error) {
	if strings.TrimSpace(t.cfg.AccountSID) == "" || strings.TrimSpace(t.cfg.AuthToken) == "" {
		return "", apperr.Misconfigured("twilio credentials not configured")
	}
	if strings.TrimSpace(t.cfg.FromPhoneNumber) == "" {
		return "", apperr.Misconfigured("twilio from phone number not configured")
	}

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", t.cfg.FromPhoneNumber)
	form.Set("Body", content)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("twilio: status %d: %s", resp.StatusCode, string(body))
	}

	var msg twilioMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", fmt.Errorf("twilio: decode: %w", err)
	}
	return msg.SID, nil
}
