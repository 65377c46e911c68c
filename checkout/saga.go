package checkout

import (
	"context"
	"errors"
	"fmt"

	"checkout-svc/apperrors"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxOrderIDAttempts = 3

// Alert reasons published for manual reconciliation.
const (
	AlertOrderWriteFailed     = "order_write_failed_after_capture"
	AlertCompensationFailed   = "compensation_failed"
	AlertCapturedWithoutOrder = "captured_without_order"
)

// createOrder writes the header, then the items. If the items fail the
// header is deleted again, so no order ever exists without its items.
func (s *Service) createOrder(ctx context.Context, o *models.Order, items []models.OrderItem) error {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.createOrder")
	defer span.End()
	span.SetAttributes(attribute.String("payment_method", string(o.PaymentMethod)))

	if err := s.insertHeader(ctx, o); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("order_id", o.OrderID))

	itemErr := s.orders.InsertItems(ctx, o.ID, items)
	if itemErr == nil {
		o.Items = items
		middleware.RecordOrderCreated(string(o.PaymentMethod))
		s.logger.Info("Order created",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.OrderID),
			zap.String("payment_method", string(o.PaymentMethod)),
			zap.String("total_amount", o.TotalAmount.StringFixed(2)),
		)
		s.publishOrderEvent(ctx, models.EventOrderCreated, o)
		return nil
	}
	span.RecordError(itemErr)

	failure := &apperrors.PartialFailureError{
		GatewayOrderRef:   deref(o.GatewayOrderRef),
		GatewayPaymentRef: deref(o.GatewayPaymentRef),
		Compensated:       true,
		Err:               itemErr,
	}

	if delErr := s.orders.DeleteOrder(context.WithoutCancel(ctx), o.ID); delErr != nil {
		failure.Compensated = false
		middleware.RecordCompensation("failed")
		s.logger.Error("Compensating delete failed, order header left without items",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.OrderID),
			zap.Int64("id", o.ID),
			zap.String("gateway_payment_ref", failure.GatewayPaymentRef),
			zap.NamedError("item_error", itemErr),
			zap.Error(delErr),
		)
		s.raiseAlert(ctx, models.ReconciliationAlert{
			Reason:            AlertCompensationFailed,
			OrderID:           o.OrderID,
			GatewayOrderRef:   failure.GatewayOrderRef,
			GatewayPaymentRef: failure.GatewayPaymentRef,
			Detail:            fmt.Sprintf("items: %v; delete: %v", itemErr, delErr),
		})
		return failure
	}

	middleware.RecordCompensation("ok")
	if o.PaymentMethod.Online() {
		s.logger.Error("Order write failed after payment capture, header removed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.OrderID),
			zap.String("gateway_order_ref", failure.GatewayOrderRef),
			zap.String("gateway_payment_ref", failure.GatewayPaymentRef),
			zap.Error(itemErr),
		)
		s.raiseAlert(ctx, models.ReconciliationAlert{
			Reason:            AlertOrderWriteFailed,
			OrderID:           o.OrderID,
			GatewayOrderRef:   failure.GatewayOrderRef,
			GatewayPaymentRef: failure.GatewayPaymentRef,
			Detail:            itemErr.Error(),
		})
	} else {
		s.logger.Error("COD order write failed, header removed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.OrderID),
			zap.Error(itemErr),
		)
	}
	return failure
}

func (s *Service) insertHeader(ctx context.Context, o *models.Order) error {
	for attempt := 1; ; attempt++ {
		id, err := s.newOrderID()
		if err != nil {
			return fmt.Errorf("failed to generate order id: %w", err)
		}
		o.OrderID = id

		err = s.orders.InsertHeader(ctx, o)
		if errors.Is(err, store.ErrDuplicateOrderID) && attempt < maxOrderIDAttempts {
			s.logger.Warn("Public order id collided, regenerating", zap.String("order_id", id))
			continue
		}
		return err
	}
}

func (s *Service) publishOrderEvent(ctx context.Context, eventType string, o *models.Order) {
	ev := models.OrderEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OrderID:       o.OrderID,
		InternalID:    o.ID,
		Phone:         o.Customer.Phone,
		CustomerName:  o.Customer.Name,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.events.PublishOrderEvent(ctx, ev); err != nil {
		// Don't fail the request, but log the error
		s.logger.Error("Failed to publish order event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_type", eventType),
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) raiseAlert(ctx context.Context, a models.ReconciliationAlert) {
	a.EventID = uuid.NewString()
	a.OccurredAt = s.now().UTC()
	if err := s.events.PublishAlert(ctx, a); err != nil {
		s.logger.Error("Failed to publish reconciliation alert",
			zap.String("reason", a.Reason),
			zap.String("order_id", a.OrderID),
			zap.String("gateway_payment_ref", a.GatewayPaymentRef),
			zap.Error(err),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
