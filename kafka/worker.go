package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"checkout-svc/config"
	"checkout-svc/invoice"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/notify"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageReader is the part of *kafkago.Reader the worker uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type OrderSource interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	SetInvoiceRef(ctx context.Context, orderID, ref string) error
}

func InitReader(cfg config.KafkaConfig, logger *zap.Logger) *kafkago.Reader {
	topics := []string{cfg.OrderTopic, cfg.NotificationTopic, cfg.AlertTopic}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	logger.Info("Kafka reader initialized", zap.String("group_id", cfg.GroupID), zap.Strings("topics", topics))
	return reader
}

// Worker performs the asynchronous side effects of checkout: invoices,
// buyer notifications and alert logging.
type Worker struct {
	reader     MessageReader
	orders     OrderSource
	renderer   invoice.Renderer
	notifier   notify.Notifier
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewWorker(reader MessageReader, orders OrderSource, renderer invoice.Renderer, notifier notify.Notifier, logger *zap.Logger) *Worker {
	return &Worker{
		reader:     reader,
		orders:     orders,
		renderer:   renderer,
		notifier:   notifier,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled. A message is committed after it was
// handled or its retries were exhausted.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Kafka worker started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				w.logger.Info("Kafka worker stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := w.handleMessageWithRetry(ctx, msg); err != nil {
			w.logger.Error("Failed to handle message after retries",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Failed to commit message", zap.Error(err))
		}
	}
}

func (w *Worker) handleMessageWithRetry(ctx context.Context, msg kafkago.Message) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.HandleMessage(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < w.maxRetries {
			backoff := time.Duration(attempt) * w.backoff
			w.logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", w.maxRetries, lastErr)
}

type envelope struct {
	EventType string `json:"event_type"`
}

func (w *Worker) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, readerHeaderCarrier(msg.Headers))

	var tracer trace.Tracer = otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "ProcessCheckoutEvent")
	defer span.End()

	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		span.RecordError(err)
		// A malformed payload will never decode; do not retry it.
		w.logger.Error("Discarding undecodable message", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	span.SetAttributes(attribute.String("event.type", env.EventType), attribute.String("messaging.topic", msg.Topic))

	var err error
	switch env.EventType {
	case models.EventOrderCreated:
		err = w.handleOrderCreated(ctx, msg.Value)
	case models.EventOrderStatusChanged, models.EventPaymentStatusChanged:
		err = w.handleOrderUpdate(ctx, msg.Value)
	case models.EventOTPRequested:
		err = w.handleOTPRequested(ctx, msg.Value)
	case models.EventReconciliationAlert:
		err = w.handleAlert(ctx, msg.Value)
	default:
		w.logger.Debug("Unknown event type", zap.String("event_type", env.EventType))
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (w *Worker) handleOrderCreated(ctx context.Context, payload []byte) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil
	}

	order, err := w.orders.GetByOrderID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", ev.OrderID, err)
	}

	if order.InvoiceRef == nil {
		ref, err := w.renderer.Render(ctx, order)
		if err != nil {
			return fmt.Errorf("failed to render invoice for %s: %w", ev.OrderID, err)
		}
		if err := w.orders.SetInvoiceRef(ctx, ev.OrderID, ref); err != nil {
			return err
		}
		w.logger.Info("Invoice reference stored",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", ev.OrderID),
			zap.String("invoice_ref", ref),
		)
	}

	return w.notifier.SendOrderUpdate(ctx, ev)
}

func (w *Worker) handleOrderUpdate(ctx context.Context, payload []byte) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil
	}
	return w.notifier.SendOrderUpdate(ctx, ev)
}

func (w *Worker) handleOTPRequested(ctx context.Context, payload []byte) error {
	var n models.OTPNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil
	}
	if time.Now().After(n.ExpiresAt) {
		w.logger.Warn("Dropping expired OTP notification", zap.String("phone", notify.MaskPhone(n.Phone)))
		return nil
	}
	return w.notifier.SendOTP(ctx, n)
}

func (w *Worker) handleAlert(ctx context.Context, payload []byte) error {
	var a models.ReconciliationAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil
	}
	w.logger.Error("Reconciliation required",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("reason", a.Reason),
		zap.String("order_id", a.OrderID),
		zap.String("gateway_order_ref", a.GatewayOrderRef),
		zap.String("gateway_payment_ref", a.GatewayPaymentRef),
		zap.String("detail", a.Detail),
	)
	return nil
}
