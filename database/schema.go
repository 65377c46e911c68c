package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		order_id VARCHAR(32) UNIQUE NOT NULL,
		customer_name VARCHAR(255) NOT NULL,
		customer_phone VARCHAR(20) NOT NULL,
		customer_address TEXT NOT NULL,
		customer_notes TEXT NOT NULL DEFAULT '',
		payment_method VARCHAR(16) NOT NULL,
		payment_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		subtotal NUMERIC(12, 2) NOT NULL,
		discount_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		delivery_fee NUMERIC(12, 2) NOT NULL DEFAULT 0,
		total_amount NUMERIC(12, 2) NOT NULL,
		coupon_code VARCHAR(64),
		gateway_order_ref VARCHAR(64) UNIQUE,
		gateway_payment_ref VARCHAR(64),
		gateway_signature VARCHAR(128),
		invoice_ref VARCHAR(128),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT orders_total_check CHECK (total_amount = subtotal - discount_amount + delivery_fee)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_phone ON orders (customer_phone)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		unit_price NUMERIC(12, 2) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		line_total NUMERIC(12, 2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_intents (
		gateway_order_ref VARCHAR(64) PRIMARY KEY,
		amount_minor BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		payment_method VARCHAR(16) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		event_id VARCHAR(128) PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		trusted BOOLEAN NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_audit (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		actor VARCHAR(255) NOT NULL,
		action VARCHAR(64) NOT NULL,
		before_json JSONB,
		after_json JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the order tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	logger.Info("Order schema applied", zap.Int("statements", len(schema)))
	return nil
}
