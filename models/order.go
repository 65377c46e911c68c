package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPacked         OrderStatus = "packed"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodUPI  PaymentMethod = "upi"
	PaymentMethodCard PaymentMethod = "card"
)

func (m PaymentMethod) Online() bool {
	return m == PaymentMethodUPI || m == PaymentMethodCard
}

type Customer struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Address string `json:"address" binding:"required"`
	Notes   string `json:"notes"`
}

type Order struct {
	ID                int64           `json:"-"`
	OrderID           string          `json:"order_id"`
	Customer          Customer        `json:"customer"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	Status            OrderStatus     `json:"status"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CouponCode        *string         `json:"coupon_code,omitempty"`
	GatewayOrderRef   *string         `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef *string         `json:"gateway_payment_ref,omitempty"`
	GatewaySignature  *string         `json:"-"`
	InvoiceRef        *string         `json:"invoice_ref,omitempty"`
	Items             []OrderItem     `json:"items,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID                  int64           `json:"-"`
	OrderID             int64           `json:"-"`
	ProductID           int64           `json:"product_id"`
	ProductNameSnapshot string          `json:"product_name"`
	UnitPriceSnapshot   decimal.Decimal `json:"unit_price"`
	Quantity            int             `json:"quantity"`
	LineTotal           decimal.Decimal `json:"line_total"`
}

// ItemsFromLines snapshots trusted cart lines into order items.
func ItemsFromLines(lines []CartLine) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, OrderItem{
			ProductID:           l.ProductID,
			ProductNameSnapshot: l.ProductName,
			UnitPriceSnapshot:   l.UnitPrice,
			Quantity:            l.Quantity,
			LineTotal:           l.LineTotal(),
		})
	}
	return items
}

type OrderEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // order_created, order_status_changed, payment_status_changed
	OrderID       string          `json:"order_id"`
	InternalID    int64           `json:"internal_id"`
	Phone         string          `json:"phone"`
	CustomerName  string          `json:"customer_name"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

const (
	EventOrderCreated         = "order_created"
	EventOrderStatusChanged   = "order_status_changed"
	EventPaymentStatusChanged = "payment_status_changed"
	EventOTPRequested         = "otp_requested"
	EventReconciliationAlert  = "reconciliation_alert"
)

// ReconciliationAlert is raised when money may have moved without a matching
// fulfillable order.
type ReconciliationAlert struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	Reason            string    `json:"reason"`
	OrderID           string    `json:"order_id,omitempty"`
	GatewayOrderRef   string    `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string    `json:"gateway_payment_ref,omitempty"`
	Detail            string    `json:"detail,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type OTPNotification struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	BeforeJSON string    `json:"before"`
	AfterJSON  string    `json:"after"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	AuditActionUpdateStatus        = "UPDATE_ORDER_STATUS"
	AuditActionUpdatePaymentStatus = "UPDATE_PAYMENT_STATUS"
)
