package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/config"
	"checkout-svc/gateway"
	"checkout-svc/models"
	"checkout-svc/otp"
	"checkout-svc/policy"
	"checkout-svc/store"
	"checkout-svc/throttle"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*models.Order
	intents   map[string]*models.PaymentIntent
	webhooks  map[string]models.WebhookEvent
	audit     []models.AuditEntry
	itemsErr  error
	deleteErr error
	// staleWrites makes ApplyTransition report a lost race.
	staleWrites bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   map[int64]*models.Order{},
		intents:  map[string]*models.PaymentIntent{},
		webhooks: map[string]models.WebhookEvent{},
	}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func (r *fakeRepo) InsertHeader(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.OrderID == o.OrderID {
			return store.ErrDuplicateOrderID
		}
		if o.GatewayOrderRef != nil && existing.GatewayOrderRef != nil && *existing.GatewayOrderRef == *o.GatewayOrderRef {
			return store.ErrDuplicateGatewayOrder
		}
	}
	r.nextID++
	o.ID = r.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *fakeRepo) InsertItems(_ context.Context, orderID int64, items []models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.itemsErr != nil {
		return r.itemsErr
	}
	r.orders[orderID].Items = items
	return nil
}

func (r *fakeRepo) DeleteOrder(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.orders, id)
	return nil
}

func (r *fakeRepo) GetByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderID == orderID {
			return cloneOrder(o), nil
		}
	}
	return nil, apperrors.NotFound("order", orderID)
}

func (r *fakeRepo) GetByGatewayOrderRef(_ context.Context, ref string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.GatewayOrderRef != nil && *o.GatewayOrderRef == ref {
			return cloneOrder(o), nil
		}
	}
	return nil, apperrors.NotFound("order", ref)
}

func (r *fakeRepo) ListOrders(_ context.Context, f store.ListFilter) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Order{}
	for _, o := range r.orders {
		if f.Phone != "" && o.Customer.Phone != f.Phone {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	return out, nil
}

func (r *fakeRepo) ApplyTransition(_ context.Context, id int64, t store.Transition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || r.staleWrites || o.Status != t.FromStatus || o.PaymentStatus != t.FromPaymentStatus {
		return false, nil
	}
	o.Status = t.ToStatus
	o.PaymentStatus = t.ToPaymentStatus
	return true, nil
}

func (r *fakeRepo) ApplyGatewayUpdate(_ context.Context, u store.GatewayUpdate) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.GatewayOrderRef == nil || *o.GatewayOrderRef != u.GatewayOrderRef || o.PaymentStatus != u.WhenPaymentStatus {
			continue
		}
		o.PaymentStatus = u.ToPaymentStatus
		if u.ToStatus != "" {
			o.Status = u.ToStatus
		}
		if o.GatewayPaymentRef == nil && u.GatewayPaymentRef != "" {
			ref := u.GatewayPaymentRef
			o.GatewayPaymentRef = &ref
		}
		return cloneOrder(o), nil
	}
	return nil, nil
}

func (r *fakeRepo) SaveIntent(_ context.Context, in *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *in
	r.intents[in.GatewayOrderRef] = &cp
	return nil
}

func (r *fakeRepo) GetIntent(_ context.Context, ref string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.intents[ref]
	if !ok {
		return nil, apperrors.NotFound("payment intent", ref)
	}
	cp := *in
	return &cp, nil
}

func (r *fakeRepo) WebhookEventSeen(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.webhooks[id]
	return ok, nil
}

func (r *fakeRepo) RecordWebhookEvent(_ context.Context, ev models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[ev.EventID]; !ok {
		r.webhooks[ev.EventID] = ev
	}
	return nil
}

func (r *fakeRepo) InsertAudit(_ context.Context, e models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, e)
	return nil
}

func (r *fakeRepo) ListAudit(_ context.Context, orderID int64) ([]models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range r.audit {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakePolicies struct {
	coupons  map[string]*models.Coupon
	delivery *models.DeliveryPolicy
	payment  *models.PaymentPolicy
	security *models.CODSecurityPolicy
}

func (p *fakePolicies) Load(_ context.Context, code string) (*policy.Snapshot, error) {
	return &policy.Snapshot{
		Coupon:   p.coupons[models.NormalizeCouponCode(code)],
		Delivery: p.delivery,
		Payment:  p.payment,
		Security: p.security,
	}, nil
}

type fakeCatalog struct {
	products map[int64]models.Product
}

func (c *fakeCatalog) Resolve(_ context.Context, reqs []models.CartLineRequest) ([]models.CartLine, error) {
	if len(reqs) == 0 {
		return nil, apperrors.Validation("empty_cart", "cart is empty")
	}
	lines := make([]models.CartLine, 0, len(reqs))
	for _, r := range reqs {
		p, ok := c.products[r.ProductID]
		if !ok {
			return nil, apperrors.Validation("product_not_found", "no such product")
		}
		lines = append(lines, models.CartLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    r.Quantity,
			UnitPrice:   p.Price,
			CODAllowed:  p.CODAllowed,
		})
	}
	return lines, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	payments  map[string]*gateway.Payment
	orders    []gateway.CreateOrderRequest
	fetches   int
	nextOrder int
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextOrder++
	g.orders = append(g.orders, req)
	return &gateway.Order{ID: fmt.Sprintf("order_test%d", g.nextOrder), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	p, ok := g.payments[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeEvents struct {
	mu            sync.Mutex
	orderEvents   []models.OrderEvent
	notifications []models.OTPNotification
	alerts        []models.ReconciliationAlert
	err           error
}

func (e *fakeEvents) PublishOrderEvent(_ context.Context, ev models.OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderEvents = append(e.orderEvents, ev)
	return e.err
}

func (e *fakeEvents) PublishNotification(_ context.Context, n models.OTPNotification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifications = append(e.notifications, n)
	return e.err
}

func (e *fakeEvents) PublishAlert(_ context.Context, a models.ReconciliationAlert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, a)
	return e.err
}

func (e *fakeEvents) lastCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.notifications) == 0 {
		return ""
	}
	return e.notifications[len(e.notifications)-1].Code
}

const (
	keySecret     = "key_secret"
	webhookSecret = "webhook_secret"
	testPhone     = "9876543210"
)

var testNow = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

type harness struct {
	svc      *Service
	repo     *fakeRepo
	policies *fakePolicies
	gateway  *fakeGateway
	events   *fakeEvents
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &harness{
		repo: newFakeRepo(),
		policies: &fakePolicies{
			coupons: map[string]*models.Coupon{
				"SAVE10": {Code: "SAVE10", DiscountType: models.DiscountPercent, DiscountValue: decimal.NewFromInt(10), IsActive: true},
			},
			delivery: &models.DeliveryPolicy{FreeDeliveryMinAmount: decimal.NewFromInt(499), DefaultFee: decimal.NewFromInt(49), IsActive: true},
			payment:  &models.PaymentPolicy{CODMaxAmount: decimal.NewFromInt(5000), IsCODEnabled: true},
			security: &models.CODSecurityPolicy{OTPRequired: true, MaxPerPhonePerDay: intPtr(3), MaxPerIPPerDay: intPtr(10), MaxAttemptsPerHour: intPtr(5)},
		},
		gateway: &fakeGateway{payments: map[string]*gateway.Payment{}},
		events:  &fakeEvents{},
		clock:   testNow,
	}

	catalog := &fakeCatalog{products: map[int64]models.Product{
		1: {ID: 1, Name: "Assam Tea", Price: decimal.RequireFromString("250.00"), Stock: 10, Active: true, CODAllowed: true},
		2: {ID: 2, Name: "Gift Card", Price: decimal.NewFromInt(500), Stock: 10, Active: true, CODAllowed: false},
	}}

	h.svc = NewService(Deps{
		Orders:   h.repo,
		Policies: h.policies,
		Catalog:  catalog,
		Limiter:  throttle.NewLimiter(rdb, time.UTC),
		OTP:      otp.NewGate(rdb, otp.DefaultOptions()),
		Gateway:  h.gateway,
		Events:   h.events,
	}, config.GatewayConfig{KeyID: "key_id", KeySecret: keySecret, WebhookSecret: webhookSecret, Currency: "INR"}, zaptest.NewLogger(t))
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func checkoutRequest(lines ...models.CartLineRequest) models.CheckoutRequest {
	if len(lines) == 0 {
		lines = []models.CartLineRequest{{ProductID: 1, Quantity: 1}}
	}
	return models.CheckoutRequest{
		Lines:    lines,
		Customer: models.Customer{Name: "Asha Rao", Phone: "+91 98765-43210", Address: "12 Lake Road, Pune"},
	}
}

func asVerification(err error) *apperrors.VerificationError {
	var ve *apperrors.VerificationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}
