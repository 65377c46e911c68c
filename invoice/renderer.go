// Package invoice obtains an invoice reference for a created order.
package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkout-svc/circuitbreaker"
	"checkout-svc/config"
	"checkout-svc/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Renderer interface {
	Render(ctx context.Context, order *models.Order) (string, error)
}

// New returns an HTTP renderer when a renderer service is configured,
// otherwise a local one.
func New(cfg config.InvoiceConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) Renderer {
	if cfg.RendererURL == "" {
		logger.Info("No invoice renderer configured, using local references")
		return LocalRenderer{}
	}
	return NewHTTPRenderer(cfg.RendererURL, breaker, logger)
}

// LocalRenderer derives the reference from the public order id.
type LocalRenderer struct{}

func (LocalRenderer) Render(_ context.Context, order *models.Order) (string, error) {
	return "INV-" + strings.TrimPrefix(order.OrderID, "ORD-"), nil
}

type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewHTTPRenderer(baseURL string, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    breaker,
		logger:     logger,
	}
}

type renderResponse struct {
	InvoiceRef string `json:"invoice_ref"`
}

func (r *HTTPRenderer) Render(ctx context.Context, order *models.Order) (string, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "invoice.Render")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", order.OrderID))

	payload, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("failed to encode order: %w", err)
	}

	var out renderResponse
	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/invoices", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("renderer request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("renderer returned %d", resp.StatusCode)
		}
		return json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if out.InvoiceRef == "" {
		return "", fmt.Errorf("renderer returned no invoice reference for %s", order.OrderID)
	}

	r.logger.Info("Invoice rendered", zap.String("order_id", order.OrderID), zap.String("invoice_ref", out.InvoiceRef))
	return out.InvoiceRef, nil
}
