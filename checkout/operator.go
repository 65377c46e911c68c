package checkout

import (
	"context"
	"encoding/json"

	"checkout-svc/apperrors"
	"checkout-svc/lifecycle"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type statusSnapshot struct {
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

// GetOrder returns an order for the operator console.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetByOrderID(ctx, orderID)
}

func (s *Service) ListOrders(ctx context.Context, f store.ListFilter) ([]models.Order, error) {
	if f.Phone != "" {
		phone, err := NormalizePhone(f.Phone)
		if err != nil {
			return nil, err
		}
		f.Phone = phone
	}
	if f.Status != "" && !lifecycle.ValidOrderStatus(f.Status) {
		return nil, apperrors.Validation("invalid_status", "Unknown order status "+string(f.Status))
	}
	if f.PaymentStatus != "" && !lifecycle.ValidPaymentStatus(f.PaymentStatus) {
		return nil, apperrors.Validation("invalid_payment_status", "Unknown payment status "+string(f.PaymentStatus))
	}
	return s.orders.ListOrders(ctx, f)
}

func (s *Service) OrderAudit(ctx context.Context, orderID string) ([]models.AuditEntry, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.orders.ListAudit(ctx, o.ID)
}

// TrackOrder returns an order to a buyer who knows both its id and phone.
func (s *Service) TrackOrder(ctx context.Context, orderID, phone string) (*models.Order, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, apperrors.NotFound("order", orderID)
	}
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Customer.Phone != normalized {
		return nil, apperrors.NotFound("order", orderID)
	}
	return o, nil
}

// UpdateOrderStatus moves an order one step along its lifecycle. Delivering
// a pending COD order also marks it paid.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor string) (*models.Order, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("to", string(to)))

	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckOrderTransition(o.Status, to); err != nil {
		return nil, err
	}
	if o.Status == to {
		return o, nil
	}

	t := store.Transition{
		FromStatus:        o.Status,
		ToStatus:          to,
		FromPaymentStatus: o.PaymentStatus,
		ToPaymentStatus:   o.PaymentStatus,
	}
	if to == models.OrderStatusDelivered {
		t.ToPaymentStatus = lifecycle.DeliveryPayment(o.PaymentMethod, o.PaymentStatus)
	}

	if err := s.applyTransition(ctx, o, t, actor, models.AuditActionUpdateStatus); err != nil {
		return nil, err
	}
	middleware.RecordOrderTransition("status", string(to))
	if t.ToPaymentStatus != t.FromPaymentStatus {
		middleware.RecordOrderTransition("payment_status", string(t.ToPaymentStatus))
	}
	s.publishOrderEvent(ctx, models.EventOrderStatusChanged, o)
	return o, nil
}

// UpdatePaymentStatus changes only the payment status of an order.
func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus, actor string) (*models.Order, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.UpdatePaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("to", string(to)))

	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckPaymentTransition(o.PaymentStatus, to); err != nil {
		return nil, err
	}
	if o.PaymentStatus == to {
		return o, nil
	}

	t := store.Transition{
		FromStatus:        o.Status,
		ToStatus:          o.Status,
		FromPaymentStatus: o.PaymentStatus,
		ToPaymentStatus:   to,
	}
	if err := s.applyTransition(ctx, o, t, actor, models.AuditActionUpdatePaymentStatus); err != nil {
		return nil, err
	}
	middleware.RecordOrderTransition("payment_status", string(to))
	s.publishOrderEvent(ctx, models.EventPaymentStatusChanged, o)
	return o, nil
}

// applyTransition writes t if the order is unchanged since it was read and
// updates o in place.
func (s *Service) applyTransition(ctx context.Context, o *models.Order, t store.Transition, actor, action string) error {
	ok, err := s.orders.ApplyTransition(ctx, o.ID, t)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.ConflictError{Message: "Order " + o.OrderID + " was changed by someone else, reload and retry"}
	}

	before, _ := json.Marshal(statusSnapshot{Status: t.FromStatus, PaymentStatus: t.FromPaymentStatus})
	after, _ := json.Marshal(statusSnapshot{Status: t.ToStatus, PaymentStatus: t.ToPaymentStatus})
	o.Status = t.ToStatus
	o.PaymentStatus = t.ToPaymentStatus
	o.UpdatedAt = s.now().UTC()

	err = s.orders.InsertAudit(ctx, models.AuditEntry{
		OrderID:    o.ID,
		Actor:      actor,
		Action:     action,
		BeforeJSON: string(before),
		AfterJSON:  string(after),
	})
	if err != nil {
		s.logger.Error("Failed to write audit entry",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.OrderID),
			zap.String("action", action),
			zap.Error(err),
		)
	}

	s.logger.Info("Order transitioned",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", o.OrderID),
		zap.String("actor", actor),
		zap.String("status", string(o.Status)),
		zap.String("payment_status", string(o.PaymentStatus)),
	)
	return nil
}
