// Package gateway talks to the payment gateway's REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"checkout-svc/circuitbreaker"
	"checkout-svc/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Payment states reported by the gateway.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

var ErrNotFound = errors.New("not found at gateway")

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Payment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

// Settled reports whether the gateway holds the buyer's money.
func (p *Payment) Settled() bool {
	return p.Status == PaymentCaptured || p.Status == PaymentAuthorized
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.GatewayConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "gateway.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("amount_minor", req.Amount), attribute.String("currency", req.Currency))

	var out Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("gateway_order_ref", out.ID))
	return &out, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "gateway.FetchPayment")
	defer span.End()
	span.SetAttributes(attribute.String("gateway_payment_ref", paymentID))

	var out Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
	}

	var notFound bool
	var rejected *requestError
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.keyID, c.keySecret)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("gateway request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read gateway response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			// 4xx is a bad request from us and does not trip the breaker.
			var apiErr apiError
			_ = json.Unmarshal(data, &apiErr)
			rejected = &requestError{status: resp.StatusCode, code: apiErr.Error.Code, description: apiErr.Error.Description}
			return nil
		}

		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrNotFound
	}
	if rejected != nil {
		c.logger.Warn("Gateway rejected request",
			zap.String("path", path),
			zap.Int("status", rejected.status),
			zap.String("code", rejected.code),
			zap.String("description", rejected.description),
		)
		return rejected
	}
	return nil
}

type requestError struct {
	status      int
	code        string
	description string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("gateway rejected request (%d %s): %s", e.status, e.code, e.description)
}
