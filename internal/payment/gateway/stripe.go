package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
)

const defaultStripeBaseURL = "https://api.stripe.com"

type StripeConfig struct {
	APIKey    string
	BaseURL   string
	ReturnURL string
	Timeout   time.Duration
}

// Stripe talks to the Stripe REST API directly; requests are form-encoded,
// responses JSON. The client owns its timeout, callers get no extra deadline.
type Stripe struct {
	cfg        StripeConfig
	httpClient *http.Client
}

func NewStripe(cfg StripeConfig) *Stripe {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultStripeBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Stripe{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type stripeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type paymentIntent struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	LastPaymentError *stripeError `json:"last_payment_error"`
}

type refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorEnvelope struct {
	Error *stripeError `json:"error"`
}

func (s *Stripe) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, apperr.Misconfigured("stripe api key not configured")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("payment_method", req.MethodToken)
	form.Set("confirm", "true")
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	if s.cfg.ReturnURL != "" {
		form.Set("return_url", s.cfg.ReturnURL)
	}

	status, body, err := s.post(ctx, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	if status == http.StatusPaymentRequired || status == http.StatusBadRequest {
		// Card declines come back as request errors with a card_error type.
		var env errorEnvelope
		if jerr := json.Unmarshal(body, &env); jerr == nil && env.Error != nil && env.Error.Type == "card_error" {
			return &CaptureResult{Declined: true, DeclineReason: env.Error.Message}, nil
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("stripe payment_intents: status %d: %s", status, truncate(body))
	}

	var intent paymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("stripe payment_intents: decode: %w", err)
	}
	if intent.Status != "succeeded" {
		reason := "payment not completed (status " + intent.Status + ")"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
			reason = intent.LastPaymentError.Message
		}
		return &CaptureResult{IntentID: intent.ID, Declined: true, DeclineReason: reason}, nil
	}
	return &CaptureResult{IntentID: intent.ID}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, apperr.Misconfigured("stripe api key not configured")
	}

	form := url.Values{}
	form.Set("payment_intent", req.IntentID)
	if req.AmountMinor > 0 {
		form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	}
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	status, body, err := s.post(ctx, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("stripe refunds: status %d: %s", status, truncate(body))
	}

	var r refund
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("stripe refunds: decode: %w", err)
	}
	return &RefundResult{RefundID: r.ID}, nil
}

func (s *Stripe) post(ctx context.Context, path string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
