package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-svc/apperrors"
	"checkout-svc/models"
)

// SaveIntent stores the priced cart behind a gateway order.
func (s *OrderStore) SaveIntent(ctx context.Context, in *models.PaymentIntent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode payment intent: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO payment_intents (gateway_order_ref, amount_minor, currency, payment_method, payload) VALUES ($1, $2, $3, $4, $5)",
		in.GatewayOrderRef, in.AmountMinor, in.Currency, in.PaymentMethod, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	return nil
}

func (s *OrderStore) GetIntent(ctx context.Context, gatewayOrderRef string) (*models.PaymentIntent, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM payment_intents WHERE gateway_order_ref = $1",
		gatewayOrderRef,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("payment intent", gatewayOrderRef)
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	var in models.PaymentIntent
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	return &in, nil
}
