package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/notify"
	"checkout-svc/pricing"
	"checkout-svc/throttle"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CODResult is either a created order or a pending OTP challenge.
type CODResult struct {
	OrderID      string         `json:"order_id,omitempty"`
	OTPRequired  bool           `json:"otp_required"`
	OTPExpiresAt *time.Time     `json:"otp_expires_at,omitempty"`
	Pricing      pricing.Result `json:"pricing"`
}

// CreateCODOrder throttles, prices and then either creates the order or
// parks it behind an OTP sent to the buyer's phone.
func (s *Service) CreateCODOrder(ctx context.Context, req models.CheckoutRequest, clientIP string) (*CODResult, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.CreateCODOrder")
	defer span.End()

	customer := req.Customer
	if err := validateCustomer(&customer); err != nil {
		middleware.RecordCODAttempt("invalid")
		return nil, err
	}

	snap, err := s.policies.Load(ctx, req.CouponCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	now := s.now()
	err = s.limiter.Allow(ctx, throttle.Attempt{Phone: customer.Phone, IP: clientIP}, throttle.LimitsFromPolicy(snap.Security), now)
	if err != nil {
		var te *apperrors.ThrottleError
		if errors.As(err, &te) {
			middleware.RecordCODThrottled(te.Ceiling)
			s.logger.Warn("COD attempt throttled",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("phone", notify.MaskPhone(customer.Phone)),
				zap.String("ip", clientIP),
				zap.String("ceiling", te.Ceiling),
			)
		}
		return nil, err
	}

	p, err := s.price(ctx, req.Lines, req.CouponCode, snap)
	if err != nil {
		middleware.RecordCODAttempt("invalid")
		return nil, err
	}
	if !p.result.CODEligible {
		middleware.RecordCODAttempt("ineligible")
		msg := "Cash on delivery is not available for this order"
		if p.result.CODDisabledMessage != "" {
			msg = p.result.CODDisabledMessage
		}
		return nil, apperrors.Validation("cod_unavailable", msg, p.result.CODIneligibleReasons...)
	}

	draft := &models.CODDraft{
		Customer:       customer,
		Lines:          p.lines,
		CouponCode:     appliedCoupon(p.result),
		Subtotal:       p.result.Subtotal,
		DiscountAmount: p.result.Discount,
		DeliveryFee:    p.result.DeliveryFee,
		TotalAmount:    p.result.FinalPayable,
	}

	// A missing security policy keeps the OTP gate on.
	if snap.Security == nil || snap.Security.OTPRequired || snap.Security.PhoneVerificationRequired {
		ch, err := s.otp.Issue(ctx, customer.Phone, draft, now)
		if err != nil {
			return nil, err
		}
		s.sendOTP(ctx, ch.Phone, ch.Code, ch.ExpiresAt)
		middleware.RecordCODAttempt("otp_issued")
		span.SetAttributes(attribute.Bool("otp_required", true))
		return &CODResult{OTPRequired: true, OTPExpiresAt: &ch.ExpiresAt, Pricing: p.result}, nil
	}

	order, err := s.createCODOrder(ctx, draft)
	if err != nil {
		return nil, err
	}
	middleware.RecordCODAttempt("created")
	return &CODResult{OrderID: order.OrderID, Pricing: p.result}, nil
}

// VerifyOTP consumes the phone's challenge and creates the order from the
// draft stored with it. The draft is gone after a successful verify, even
// if the order write then fails.
func (s *Service) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.Order, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.VerifyOTP")
	defer span.End()

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	draft, err := s.otp.Verify(ctx, phone, req.Code, s.now())
	if err != nil {
		var ve *apperrors.VerificationError
		if errors.As(err, &ve) {
			middleware.RecordOTPVerification(ve.Reason)
			s.logger.Warn("OTP verification failed",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("phone", notify.MaskPhone(phone)),
				zap.String("reason", ve.Reason),
			)
		}
		return nil, err
	}
	middleware.RecordOTPVerification("ok")

	return s.createCODOrder(ctx, draft)
}

func (s *Service) ResendOTP(ctx context.Context, req models.ResendOTPRequest) (time.Time, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return time.Time{}, err
	}

	ch, err := s.otp.Resend(ctx, phone, s.now())
	if err != nil {
		return time.Time{}, err
	}
	s.sendOTP(ctx, ch.Phone, ch.Code, ch.ExpiresAt)
	return ch.ExpiresAt, nil
}

func (s *Service) sendOTP(ctx context.Context, phone, code string, expiresAt time.Time) {
	err := s.events.PublishNotification(ctx, models.OTPNotification{
		EventID:   uuid.NewString(),
		EventType: models.EventOTPRequested,
		Phone:     phone,
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		// The buyer can ask for a resend.
		s.logger.Error("Failed to dispatch OTP",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("phone", notify.MaskPhone(phone)),
			zap.Error(err),
		)
	}
}

func (s *Service) createCODOrder(ctx context.Context, d *models.CODDraft) (*models.Order, error) {
	o := &models.Order{
		Customer:       d.Customer,
		PaymentMethod:  models.PaymentMethodCOD,
		PaymentStatus:  models.PaymentStatusPending,
		Status:         models.OrderStatusPending,
		Subtotal:       d.Subtotal,
		DiscountAmount: d.DiscountAmount,
		DeliveryFee:    d.DeliveryFee,
		TotalAmount:    d.TotalAmount,
		CouponCode:     ptr(d.CouponCode),
	}
	if err := s.createOrder(ctx, o, models.ItemsFromLines(d.Lines)); err != nil {
		return nil, err
	}
	return o, nil
}

func appliedCoupon(r pricing.Result) string {
	if r.CouponApplied {
		return r.CouponCode
	}
	return ""
}
