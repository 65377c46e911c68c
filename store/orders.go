// Package store persists orders and the records that surround them
// (payment intents, webhook receipts, operator audit) in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"checkout-svc/apperrors"
	"checkout-svc/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateGatewayOrder means an order for this gateway order
	// reference already exists.
	ErrDuplicateGatewayOrder = errors.New("order already exists for gateway order")
	// ErrDuplicateOrderID means the generated public id collided.
	ErrDuplicateOrderID = errors.New("public order id already taken")
)

const orderColumns = `id, order_id, customer_name, customer_phone, customer_address, customer_notes,
	payment_method, payment_status, status, subtotal, discount_amount, delivery_fee, total_amount,
	coupon_code, gateway_order_ref, gateway_payment_ref, gateway_signature, invoice_ref, created_at, updated_at`

type OrderStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderStore(db *sql.DB, logger *zap.Logger) *OrderStore {
	return &OrderStore{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Address, &o.Customer.Notes,
		&o.PaymentMethod, &o.PaymentStatus, &o.Status, &o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.TotalAmount,
		&o.CouponCode, &o.GatewayOrderRef, &o.GatewayPaymentRef, &o.GatewaySignature, &o.InvoiceRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertHeader writes the order row and fills in its id and timestamps.
func (s *OrderStore) InsertHeader(ctx context.Context, o *models.Order) error {
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO orders (order_id, customer_name, customer_phone, customer_address, customer_notes,
			payment_method, payment_status, status, subtotal, discount_amount, delivery_fee, total_amount,
			coupon_code, gateway_order_ref, gateway_payment_ref, gateway_signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`,
		o.OrderID, o.Customer.Name, o.Customer.Phone, o.Customer.Address, o.Customer.Notes,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.Subtotal, o.DiscountAmount, o.DeliveryFee, o.TotalAmount,
		o.CouponCode, o.GatewayOrderRef, o.GatewayPaymentRef, o.GatewaySignature,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "orders_gateway_order_ref_key":
				return ErrDuplicateGatewayOrder
			case "orders_order_id_key":
				return ErrDuplicateOrderID
			}
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertItems writes all items of an order in one statement.
func (s *OrderStore) InsertItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("order %d has no items", orderID)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, line_total) VALUES ")
	args := make([]any, 0, len(items)*6)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, orderID, it.ProductID, it.ProductNameSnapshot, it.UnitPriceSnapshot, it.Quantity, it.LineTotal)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}
	return nil
}

// DeleteOrder removes an order and, by cascade, its items.
func (s *OrderStore) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}
	return nil
}

func (s *OrderStore) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1", orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if o.Items, err = s.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *OrderStore) GetByGatewayOrderRef(ctx context.Context, ref string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE gateway_order_ref = $1", ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("order", ref)
		}
		return nil, fmt.Errorf("failed to get order by gateway ref: %w", err)
	}
	return o, nil
}

func (s *OrderStore) items(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, product_name, unit_price, quantity, line_total FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductNameSnapshot, &it.UnitPriceSnapshot, &it.Quantity, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type ListFilter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	Phone         string
	Limit         int
	Offset        int
}

// ListOrders returns order headers, newest first.
func (s *OrderStore) ListOrders(ctx context.Context, f ListFilter) ([]models.Order, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.Phone != "" {
		add("customer_phone = $%d", f.Phone)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// Transition is a guarded change of both status fields. It only applies
// while the row still holds the From values.
type Transition struct {
	FromStatus        models.OrderStatus
	ToStatus          models.OrderStatus
	FromPaymentStatus models.PaymentStatus
	ToPaymentStatus   models.PaymentStatus
}

// ApplyTransition reports whether the row matched and was updated.
func (s *OrderStore) ApplyTransition(ctx context.Context, id int64, t Transition) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND payment_status = $5`,
		t.ToStatus, t.ToPaymentStatus, id, t.FromStatus, t.FromPaymentStatus,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GatewayUpdate moves an order's payment state in response to the gateway.
// ToStatus may be empty to leave the order status alone.
type GatewayUpdate struct {
	GatewayOrderRef   string
	GatewayPaymentRef string
	WhenPaymentStatus models.PaymentStatus
	ToPaymentStatus   models.PaymentStatus
	ToStatus          models.OrderStatus
}

// ApplyGatewayUpdate updates the order only while it still carries
// WhenPaymentStatus, so replays and late arrivals change nothing. It returns
// the updated order, or nil when no row matched.
func (s *OrderStore) ApplyGatewayUpdate(ctx context.Context, u GatewayUpdate) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`UPDATE orders SET payment_status = $1,
			status = COALESCE(NULLIF($2, ''), status),
			gateway_payment_ref = COALESCE(gateway_payment_ref, NULLIF($3, '')),
			updated_at = NOW()
		WHERE gateway_order_ref = $4 AND payment_status = $5
		RETURNING `+orderColumns,
		u.ToPaymentStatus, string(u.ToStatus), u.GatewayPaymentRef, u.GatewayOrderRef, u.WhenPaymentStatus,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to apply gateway update: %w", err)
	}
	return o, nil
}

// SetInvoiceRef backfills the invoice reference once.
func (s *OrderStore) SetInvoiceRef(ctx context.Context, orderID, ref string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET invoice_ref = $1, updated_at = NOW() WHERE order_id = $2 AND invoice_ref IS NULL",
		ref, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to set invoice ref: %w", err)
	}
	return nil
}
