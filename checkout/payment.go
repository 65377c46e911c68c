package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-svc/apperrors"
	"checkout-svc/gateway"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/pricing"
	"checkout-svc/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Verification failure reasons.
const (
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonUnknownOrder      = "unknown_gateway_order"
	ReasonPaymentNotFound   = "payment_not_found"
	ReasonNotCaptured       = "payment_not_captured"
	ReasonOrderMismatch     = "payment_order_mismatch"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonCurrencyMismatch  = "currency_mismatch"
)

type GatewayOrderResult struct {
	GatewayOrderRef string         `json:"gateway_order_ref"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	KeyID           string         `json:"key_id"`
	Pricing         pricing.Result `json:"pricing"`
}

// CreateGatewayOrder prices the cart server-side and opens a gateway order
// for exactly that amount. The priced cart is kept as a payment intent.
func (s *Service) CreateGatewayOrder(ctx context.Context, req models.GatewayOrderRequest) (*GatewayOrderResult, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.CreateGatewayOrder")
	defer span.End()

	customer := req.Customer
	if err := validateCustomer(&customer); err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Online() {
		return nil, apperrors.Validation("invalid_payment_method", "Payment method must be upi or card")
	}

	snap, err := s.policies.Load(ctx, req.CouponCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	p, err := s.price(ctx, req.Lines, req.CouponCode, snap)
	if err != nil {
		return nil, err
	}

	amount := pricing.ToMinorUnits(p.result.FinalPayable)
	if amount <= 0 {
		return nil, apperrors.Validation("invalid_amount", "Order total must be positive")
	}
	span.SetAttributes(attribute.Int64("amount_minor", amount))

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   amount,
		Currency: s.gatewayCfg.Currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
		Notes:    map[string]string{"phone": customer.Phone},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}
	if gwOrder.Amount != amount {
		return nil, fmt.Errorf("gateway order %s opened for %d, expected %d", gwOrder.ID, gwOrder.Amount, amount)
	}

	intent := &models.PaymentIntent{
		GatewayOrderRef: gwOrder.ID,
		AmountMinor:     amount,
		Currency:        s.gatewayCfg.Currency,
		PaymentMethod:   req.PaymentMethod,
		Customer:        customer,
		Lines:           p.lines,
		CouponCode:      appliedCoupon(p.result),
		Subtotal:        p.result.Subtotal,
		DiscountAmount:  p.result.Discount,
		DeliveryFee:     p.result.DeliveryFee,
		TotalAmount:     p.result.FinalPayable,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.orders.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}

	s.logger.Info("Gateway order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("gateway_order_ref", gwOrder.ID),
		zap.Int64("amount_minor", amount),
	)

	return &GatewayOrderResult{
		GatewayOrderRef: gwOrder.ID,
		Amount:          amount,
		Currency:        s.gatewayCfg.Currency,
		KeyID:           s.gatewayCfg.KeyID,
		Pricing:         p.result,
	}, nil
}

// VerifyPayment checks the browser's payment claim against the signature,
// the gateway's own record and the stored intent before creating a paid
// order. Repeating it for an already-created order returns that order.
func (s *Service) VerifyPayment(ctx context.Context, req models.VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.VerifyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway_order_ref", req.GatewayOrderRef),
		attribute.String("gateway_payment_ref", req.GatewayPaymentRef),
	)

	if !gateway.VerifyPaymentSignature(s.gatewayCfg.KeySecret, req.GatewayOrderRef, req.GatewayPaymentRef, req.Signature) {
		return nil, s.rejectPayment(ctx, req, apperrors.Tampered(ReasonSignatureMismatch))
	}

	existing, err := s.orders.GetByGatewayOrderRef(ctx, req.GatewayOrderRef)
	switch {
	case err == nil:
		middleware.RecordPaymentVerification("replayed")
		return existing, nil
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	intent, err := s.orders.GetIntent(ctx, req.GatewayOrderRef)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, s.rejectPayment(ctx, req, apperrors.Verification(ReasonUnknownOrder))
		}
		return nil, err
	}

	payment, err := s.gateway.FetchPayment(ctx, req.GatewayPaymentRef)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, s.rejectPayment(ctx, req, apperrors.Verification(ReasonPaymentNotFound))
		}
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}

	if verr := checkPayment(payment, req.GatewayOrderRef, intent); verr != nil {
		return nil, s.rejectPayment(ctx, req, verr)
	}

	o := &models.Order{
		Customer:          intent.Customer,
		PaymentMethod:     intent.PaymentMethod,
		PaymentStatus:     models.PaymentStatusPaid,
		Status:            models.OrderStatusConfirmed,
		Subtotal:          intent.Subtotal,
		DiscountAmount:    intent.DiscountAmount,
		DeliveryFee:       intent.DeliveryFee,
		TotalAmount:       intent.TotalAmount,
		CouponCode:        ptr(intent.CouponCode),
		GatewayOrderRef:   ptr(req.GatewayOrderRef),
		GatewayPaymentRef: ptr(req.GatewayPaymentRef),
		GatewaySignature:  ptr(req.Signature),
	}

	err = s.createOrder(ctx, o, models.ItemsFromLines(intent.Lines))
	if errors.Is(err, store.ErrDuplicateGatewayOrder) {
		// A concurrent verify for the same gateway order won.
		middleware.RecordPaymentVerification("replayed")
		return s.orders.GetByGatewayOrderRef(ctx, req.GatewayOrderRef)
	}
	if err != nil {
		middleware.RecordPaymentVerification("write_failed")
		return nil, err
	}

	middleware.RecordPaymentVerification("ok")
	return o, nil
}

func checkPayment(p *gateway.Payment, gatewayOrderRef string, intent *models.PaymentIntent) *apperrors.VerificationError {
	switch {
	case !p.Settled():
		return apperrors.Verification(ReasonNotCaptured)
	case p.OrderID != gatewayOrderRef:
		return apperrors.Tampered(ReasonOrderMismatch)
	case p.Amount != intent.AmountMinor:
		return apperrors.Tampered(ReasonAmountMismatch)
	case !strings.EqualFold(p.Currency, intent.Currency):
		return apperrors.Tampered(ReasonCurrencyMismatch)
	}
	return nil
}

func (s *Service) rejectPayment(ctx context.Context, req models.VerifyPaymentRequest, verr *apperrors.VerificationError) error {
	middleware.RecordPaymentVerification(verr.Reason)
	fields := []zap.Field{
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("gateway_order_ref", req.GatewayOrderRef),
		zap.String("gateway_payment_ref", req.GatewayPaymentRef),
		zap.String("reason", verr.Reason),
	}
	if verr.Tampering {
		s.logger.Error("Payment verification rejected, possible tampering", fields...)
	} else {
		s.logger.Warn("Payment verification rejected", fields...)
	}
	return verr
}
