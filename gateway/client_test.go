package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-svc/circuitbreaker"
	"checkout-svc/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.GatewayConfig{BaseURL: srv.URL, KeyID: "rzp_test", KeySecret: "secret", Timeout: time.Second}
	return NewClient(cfg, circuitbreaker.NewCircuitBreaker("gateway", 2, time.Minute), zaptest.NewLogger(t))
}

func TestCreateOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(85000), req.Amount)

		json.NewEncoder(w).Encode(Order{ID: "order_N1", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"})
	})

	o, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 85000, Currency: "INR", Receipt: "rcpt_1"})
	require.NoError(t, err)
	assert.Equal(t, "order_N1", o.ID)
	assert.Equal(t, int64(85000), o.Amount)
}

func TestFetchPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		json.NewEncoder(w).Encode(Payment{ID: "pay_1", OrderID: "order_N1", Amount: 85000, Currency: "INR", Status: PaymentCaptured})
	})

	p, err := c.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, p.Settled())
	assert.Equal(t, "order_N1", p.OrderID)
}

func TestFetchPayment_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchPayment(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})

	for i := 0; i < 3; i++ {
		_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1, Currency: "INR"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "amount too small")
	}
	assert.Equal(t, circuitbreaker.StateClosed, c.breaker.GetState())
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := c.FetchPayment(context.Background(), "pay_1")
		require.Error(t, err)
	}

	_, err := c.FetchPayment(context.Background(), "pay_1")
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
	assert.Equal(t, 2, calls)
}

func TestPaymentSignature(t *testing.T) {
	sig := PaymentSignature("secret", "order_N1", "pay_1")

	assert.Len(t, sig, 64)
	assert.True(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", sig))

	// Any altered input must fail.
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_2", sig))
	assert.False(t, VerifyPaymentSignature("secret", "order_N2", "pay_1", sig))
	assert.False(t, VerifyPaymentSignature("other", "order_N1", "pay_1", sig))
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", string(tampered)))
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", ""))

	// Signatures are lowercase hex, compared exactly as submitted.
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", upperFirstLetter(sig)))
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", strings.ToUpper(sig)))
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", sig+" "))
	assert.False(t, VerifyPaymentSignature("secret", "order_N1", "pay_1", " "+sig))
}

// upperFirstLetter upper-cases the first hex letter in sig, or appends one
// when sig is all digits.
func upperFirstLetter(sig string) string {
	for i, r := range sig {
		if r >= 'a' && r <= 'f' {
			return sig[:i] + strings.ToUpper(string(r)) + sig[i+1:]
		}
	}
	return sig + "A"
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := WebhookSignature("whsec", body)

	assert.True(t, VerifyWebhookSignature("whsec", body, sig))
	assert.False(t, VerifyWebhookSignature("whsec", []byte(`{"event":"payment.failed"}`), sig))
	assert.False(t, VerifyWebhookSignature("whsec", body, strings.ToUpper(sig)))
	assert.False(t, VerifyWebhookSignature("whsec", body, sig+"\n"))
}
