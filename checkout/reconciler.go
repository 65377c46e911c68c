package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"checkout-svc/apperrors"
	"checkout-svc/gateway"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Gateway webhook event types.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

const ReasonWebhookSignature = "webhook_signature_mismatch"

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity gateway.Payment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund,omitempty"`
	} `json:"payload"`
}

// paymentRef is the payment the event is about.
func (w *webhookPayload) paymentRef() string {
	if w.Payload.Payment.Entity.ID != "" {
		return w.Payload.Payment.Entity.ID
	}
	if w.Payload.Refund != nil {
		return w.Payload.Refund.Entity.PaymentID
	}
	return ""
}

type webhookRule struct {
	when       models.PaymentStatus
	to         models.PaymentStatus
	status     models.OrderStatus
	wantStatus string // gateway payment status that backs the event
}

var webhookRules = map[string]webhookRule{
	EventPaymentCaptured: {models.PaymentStatusPending, models.PaymentStatusPaid, models.OrderStatusConfirmed, gateway.PaymentCaptured},
	EventPaymentFailed:   {models.PaymentStatusPending, models.PaymentStatusFailed, models.OrderStatusCancelled, gateway.PaymentFailed},
	EventRefundProcessed: {models.PaymentStatusPaid, models.PaymentStatusRefunded, "", gateway.PaymentRefunded},
}

// HandleWebhook applies a gateway event to the order it refers to. It never
// creates orders. eventID may be empty, in which case the body hash is used.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (models.WebhookOutcome, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.HandleWebhook")
	defer span.End()

	trusted := s.gatewayCfg.WebhookSecret != ""
	if trusted && !gateway.VerifyWebhookSignature(s.gatewayCfg.WebhookSecret, body, signature) {
		middleware.RecordWebhookEvent("unknown", "rejected")
		s.logger.Error("Webhook signature mismatch", zap.String("trace_id", middleware.GetTraceID(ctx)))
		return "", apperrors.Tampered(ReasonWebhookSignature)
	}

	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "body_" + hex.EncodeToString(sum[:])
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Event == "" {
		middleware.RecordWebhookEvent("unknown", "rejected")
		return "", apperrors.Validation("invalid_webhook", "Webhook body is not a gateway event")
	}
	span.SetAttributes(attribute.String("webhook.event", payload.Event), attribute.Bool("webhook.trusted", trusted))

	seen, err := s.orders.WebhookEventSeen(ctx, eventID)
	if err != nil {
		return "", err
	}
	if seen {
		middleware.RecordWebhookEvent(payload.Event, string(models.WebhookDuplicate))
		return models.WebhookDuplicate, nil
	}

	outcome, err := s.reconcile(ctx, &payload, trusted)
	if err != nil {
		return "", err
	}

	middleware.RecordWebhookEvent(payload.Event, string(outcome))
	err = s.orders.RecordWebhookEvent(ctx, models.WebhookEvent{
		EventID:    eventID,
		EventType:  payload.Event,
		Outcome:    outcome,
		Trusted:    trusted,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		// A replay of an unrecorded event converges anyway.
		s.logger.Error("Failed to record webhook event", zap.String("event_id", eventID), zap.Error(err))
	}
	return outcome, nil
}

func (s *Service) reconcile(ctx context.Context, payload *webhookPayload, trusted bool) (models.WebhookOutcome, error) {
	rule, ok := webhookRules[payload.Event]
	if !ok {
		s.logger.Debug("Ignoring webhook event", zap.String("event", payload.Event))
		return models.WebhookIgnored, nil
	}

	paymentRef := payload.paymentRef()
	orderRef := payload.Payload.Payment.Entity.OrderID
	logFields := []zap.Field{
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event", payload.Event),
		zap.String("gateway_payment_ref", paymentRef),
		zap.Bool("trusted", trusted),
	}

	if !trusted {
		// Unsigned events only tell us which payment to look at.
		if paymentRef == "" {
			return models.WebhookIgnored, nil
		}
		p, err := s.gateway.FetchPayment(ctx, paymentRef)
		if err != nil {
			return "", fmt.Errorf("failed to re-fetch payment %s: %w", paymentRef, err)
		}
		if p.Status != rule.wantStatus {
			s.logger.Warn("Unsigned webhook contradicts gateway state",
				append(logFields, zap.String("gateway_status", p.Status))...)
			return models.WebhookIgnored, nil
		}
		orderRef = p.OrderID
	}

	if orderRef == "" {
		s.logger.Warn("Webhook event has no gateway order reference", logFields...)
		return models.WebhookIgnored, nil
	}
	logFields = append(logFields, zap.String("gateway_order_ref", orderRef))

	updated, err := s.orders.ApplyGatewayUpdate(ctx, store.GatewayUpdate{
		GatewayOrderRef:   orderRef,
		GatewayPaymentRef: paymentRef,
		WhenPaymentStatus: rule.when,
		ToPaymentStatus:   rule.to,
		ToStatus:          rule.status,
	})
	if err != nil {
		return "", err
	}
	if updated != nil {
		s.logger.Info("Webhook applied", append(logFields, zap.String("order_id", updated.OrderID))...)
		s.publishOrderEvent(ctx, models.EventPaymentStatusChanged, updated)
		return models.WebhookApplied, nil
	}

	_, err = s.orders.GetByGatewayOrderRef(ctx, orderRef)
	switch {
	case err == nil:
		return models.WebhookNoop, nil
	case !apperrors.IsNotFound(err):
		return "", err
	}

	s.logger.Warn("Webhook matched no order", logFields...)
	if payload.Event == EventPaymentCaptured {
		if _, err := s.orders.GetIntent(ctx, orderRef); err == nil {
			s.raiseAlert(ctx, models.ReconciliationAlert{
				Reason:            AlertCapturedWithoutOrder,
				GatewayOrderRef:   orderRef,
				GatewayPaymentRef: paymentRef,
				Detail:            "payment captured before browser verification created the order",
			})
		}
	}
	return models.WebhookUnmatched, nil
}
