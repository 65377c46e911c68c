// Package checkout turns priced carts into orders. It owns the COD path
// (throttle, OTP, order write), the online path (gateway order, payment
// verification, order write), the webhook reconciler and operator
// transitions.
package checkout

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"checkout-svc/config"
	"checkout-svc/gateway"
	"checkout-svc/models"
	"checkout-svc/otp"
	"checkout-svc/policy"
	"checkout-svc/store"
	"checkout-svc/throttle"

	"go.uber.org/zap"
)

type OrderRepository interface {
	InsertHeader(ctx context.Context, o *models.Order) error
	InsertItems(ctx context.Context, orderID int64, items []models.OrderItem) error
	DeleteOrder(ctx context.Context, id int64) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	GetByGatewayOrderRef(ctx context.Context, ref string) (*models.Order, error)
	ListOrders(ctx context.Context, f store.ListFilter) ([]models.Order, error)
	ApplyTransition(ctx context.Context, id int64, t store.Transition) (bool, error)
	ApplyGatewayUpdate(ctx context.Context, u store.GatewayUpdate) (*models.Order, error)

	SaveIntent(ctx context.Context, in *models.PaymentIntent) error
	GetIntent(ctx context.Context, gatewayOrderRef string) (*models.PaymentIntent, error)

	WebhookEventSeen(ctx context.Context, eventID string) (bool, error)
	RecordWebhookEvent(ctx context.Context, ev models.WebhookEvent) error

	InsertAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, orderID int64) ([]models.AuditEntry, error)
}

type PolicySource interface {
	Load(ctx context.Context, couponCode string) (*policy.Snapshot, error)
}

type CatalogResolver interface {
	Resolve(ctx context.Context, reqs []models.CartLineRequest) ([]models.CartLine, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, a throttle.Attempt, limits throttle.Limits, now time.Time) error
}

type OTPGate interface {
	Issue(ctx context.Context, phone string, draft *models.CODDraft, now time.Time) (*otp.Challenge, error)
	Resend(ctx context.Context, phone string, now time.Time) (*otp.Challenge, error)
	Verify(ctx context.Context, phone, code string, now time.Time) (*models.CODDraft, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error
	PublishNotification(ctx context.Context, n models.OTPNotification) error
	PublishAlert(ctx context.Context, a models.ReconciliationAlert) error
}

type Deps struct {
	Orders   OrderRepository
	Policies PolicySource
	Catalog  CatalogResolver
	Limiter  RateLimiter
	OTP      OTPGate
	Gateway  PaymentGateway
	Events   EventPublisher
}

type Service struct {
	orders   OrderRepository
	policies PolicySource
	catalog  CatalogResolver
	limiter  RateLimiter
	otp      OTPGate
	gateway  PaymentGateway
	events   EventPublisher

	gatewayCfg config.GatewayConfig
	now        func() time.Time
	newOrderID func() (string, error)
	logger     *zap.Logger
}

func NewService(d Deps, gatewayCfg config.GatewayConfig, logger *zap.Logger) *Service {
	return &Service{
		orders:     d.Orders,
		policies:   d.Policies,
		catalog:    d.Catalog,
		limiter:    d.Limiter,
		otp:        d.OTP,
		gateway:    d.Gateway,
		events:     d.Events,
		gatewayCfg: gatewayCfg,
		now:        time.Now,
		newOrderID: NewOrderID,
		logger:     logger,
	}
}

// Crockford base32 without I, L, O and U so ids survive being read aloud.
const orderIDAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewOrderID returns a public order id such as ORD-7K3QX9MZ2A.
func NewOrderID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("ORD-")
	for _, b := range buf {
		sb.WriteByte(orderIDAlphabet[int(b)%len(orderIDAlphabet)])
	}
	return sb.String(), nil
}
