package store

import (
	"context"
	"fmt"

	"checkout-svc/models"
)

func (s *OrderStore) WebhookEventSeen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)",
		eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return seen, nil
}

// RecordWebhookEvent keeps the first outcome recorded for an event id.
func (s *OrderStore) RecordWebhookEvent(ctx context.Context, ev models.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, outcome, trusted, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType, ev.Outcome, ev.Trusted, ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (s *OrderStore) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO order_audit (order_id, actor, action, before_json, after_json) VALUES ($1, $2, $3, $4, $5)",
		e.OrderID, e.Actor, e.Action, e.BeforeJSON, e.AfterJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *OrderStore) ListAudit(ctx context.Context, orderID int64) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, order_id, actor, action, before_json, after_json, created_at FROM order_audit WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Actor, &e.Action, &e.BeforeJSON, &e.AfterJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
