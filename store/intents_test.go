package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetIntent(t *testing.T) {
	s, mock := setupStore(t)
	in := &models.PaymentIntent{
		GatewayOrderRef: "order_N1",
		AmountMinor:     85000,
		Currency:        "INR",
		PaymentMethod:   models.PaymentMethodCard,
		Customer:        models.Customer{Name: "Asha", Phone: "9876543210", Address: "12 Lake Rd"},
		Lines:           []models.CartLine{{ProductID: 1, ProductName: "Lamp", Quantity: 1, UnitPrice: decimal.NewFromInt(1000), CODAllowed: true}},
		TotalAmount:     decimal.NewFromInt(850),
	}

	mock.ExpectExec("INSERT INTO payment_intents").
		WithArgs("order_N1", int64(85000), "INR", models.PaymentMethodCard, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SaveIntent(context.Background(), in))

	payload, err := json.Marshal(in)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT payload FROM payment_intents WHERE gateway_order_ref = \\$1").
		WithArgs("order_N1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := s.GetIntent(context.Background(), "order_N1")
	require.NoError(t, err)
	assert.Equal(t, int64(85000), got.AmountMinor)
	assert.Equal(t, "Lamp", got.Lines[0].ProductName)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(850)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIntent_NotFound(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("SELECT payload FROM payment_intents").WillReturnError(sql.ErrNoRows)

	_, err := s.GetIntent(context.Background(), "order_missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWebhookEvents(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err := s.WebhookEventSeen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectExec("INSERT INTO webhook_events .+ ON CONFLICT \\(event_id\\) DO NOTHING").
		WithArgs("evt_2", "payment.captured", models.WebhookApplied, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.RecordWebhookEvent(context.Background(), models.WebhookEvent{
		EventID: "evt_2", EventType: "payment.captured", Outcome: models.WebhookApplied, Trusted: true, ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudit(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectExec("INSERT INTO order_audit").
		WithArgs(int64(42), "admin", models.AuditActionUpdateStatus, `{"status":"pending"}`, `{"status":"confirmed"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertAudit(context.Background(), models.AuditEntry{
		OrderID: 42, Actor: "admin", Action: models.AuditActionUpdateStatus,
		BeforeJSON: `{"status":"pending"}`, AfterJSON: `{"status":"confirmed"}`,
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM order_audit WHERE order_id = \\$1").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "actor", "action", "before_json", "after_json", "created_at"}).
			AddRow(1, 42, "admin", models.AuditActionUpdateStatus, `{"status":"pending"}`, `{"status":"confirmed"}`, time.Now()))

	entries, err := s.ListAudit(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].Actor)
}
