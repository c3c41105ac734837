package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripe(StripeConfig{APIKey: "sk_test_123", BaseURL: srv.URL})
}

func TestCaptureRequiresAPIKey(t *testing.T) {
	gw := NewStripe(StripeConfig{})
	_, err := gw.Capture(context.Background(), CaptureRequest{AmountMinor: 100, Currency: "usd"})
	require.Error(t, err)
	assert.True(t, apperr.IsMisconfigured(err))
}

func TestCaptureSuccess(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "3159", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "true", r.PostForm.Get("confirm"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"succeeded"}`))
	})

	result, err := gw.Capture(context.Background(), CaptureRequest{
		AmountMinor: 3159,
		Currency:    "USD",
		MethodToken: "tok_visa",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", result.IntentID)
	assert.False(t, result.Declined)
}

func TestCaptureCardDecline(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	result, err := gw.Capture(context.Background(), CaptureRequest{AmountMinor: 3159, Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, result.Declined)
	assert.Equal(t, "Your card was declined.", result.DeclineReason)
}

func TestCaptureIncompleteIntentIsDeclined(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_action"}`))
	})

	result, err := gw.Capture(context.Background(), CaptureRequest{AmountMinor: 3159, Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, result.Declined)
	assert.Contains(t, result.DeclineReason, "requires_action")
}

func TestCaptureServerErrorIsAFault(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := gw.Capture(context.Background(), CaptureRequest{AmountMinor: 3159, Currency: "usd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestRefundSuccess(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "3159", r.PostForm.Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_123","status":"succeeded"}`))
	})

	result, err := gw.Refund(context.Background(), RefundRequest{IntentID: "pi_123", AmountMinor: 3159})
	require.NoError(t, err)
	assert.Equal(t, "re_123", result.RefundID)
}

func TestRefundServerErrorIsAFault(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.Refund(context.Background(), RefundRequest{IntentID: "pi_123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
