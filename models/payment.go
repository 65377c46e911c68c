package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentIntent records what the server priced and asked the gateway to
// collect, keyed by the gateway order reference.
type PaymentIntent struct {
	GatewayOrderRef string          `json:"gateway_order_ref"`
	AmountMinor     int64           `json:"amount_minor"`
	Currency        string          `json:"currency"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Customer        Customer        `json:"customer"`
	Lines           []CartLine      `json:"lines"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CODDraft is a priced COD order waiting for its phone to be verified.
type CODDraft struct {
	Customer       Customer        `json:"customer"`
	Lines          []CartLine      `json:"lines"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookNoop      WebhookOutcome = "noop"
	WebhookUnmatched WebhookOutcome = "unmatched"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookDuplicate WebhookOutcome = "duplicate"
)

type WebhookEvent struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Outcome    WebhookOutcome `json:"outcome"`
	Trusted    bool           `json:"trusted"`
	ReceivedAt time.Time      `json:"received_at"`
}

type CheckoutRequest struct {
	Lines      []CartLineRequest `json:"lines" binding:"required,min=1,dive"`
	Customer   Customer          `json:"customer" binding:"required"`
	CouponCode string            `json:"coupon_code"`
}

type QuoteRequest struct {
	Lines      []CartLineRequest `json:"lines" binding:"dive"`
	CouponCode string            `json:"coupon_code"`
}

type GatewayOrderRequest struct {
	CheckoutRequest
	PaymentMethod PaymentMethod `json:"payment_method" binding:"required,oneof=upi card"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type ResendOTPRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type VerifyPaymentRequest struct {
	GatewayOrderRef   string `json:"gateway_order_ref" binding:"required"`
	GatewayPaymentRef string `json:"gateway_payment_ref" binding:"required"`
	Signature         string `json:"signature" binding:"required"`
}

type UpdateStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus PaymentStatus `json:"payment_status" binding:"required"`
}
