// Package notify delivers buyer-facing messages: OTP codes and order updates.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-svc/middleware"
	"checkout-svc/models"

	"go.uber.org/zap"
)

type Notifier interface {
	SendOTP(ctx context.Context, n models.OTPNotification) error
	SendOrderUpdate(ctx context.Context, ev models.OrderEvent) error
}

// LogNotifier writes messages to the log instead of an SMS provider.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOTP(ctx context.Context, msg models.OTPNotification) error {
	middleware.RecordNotificationSent(models.EventOTPRequested)
	n.logger.Info("OTP SMS sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("phone", MaskPhone(msg.Phone)),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

func (n *LogNotifier) SendOrderUpdate(ctx context.Context, ev models.OrderEvent) error {
	middleware.RecordNotificationSent(ev.EventType)
	n.logger.Info("Order notification sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", ev.OrderID),
		zap.String("phone", MaskPhone(ev.Phone)),
		zap.String("message", OrderMessage(ev)),
	)
	return nil
}

func OTPMessage(code string, expiresAt, now time.Time) string {
	minutes := int(expiresAt.Sub(now).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%s is your order verification code. It expires in %d min. Do not share it.", code, minutes)
}

func OrderMessage(ev models.OrderEvent) string {
	switch ev.EventType {
	case models.EventOrderCreated:
		if ev.PaymentMethod == models.PaymentMethodCOD {
			return fmt.Sprintf("Order %s placed. Please keep %s ready on delivery.", ev.OrderID, ev.TotalAmount.StringFixed(2))
		}
		return fmt.Sprintf("Order %s confirmed. We received your payment of %s.", ev.OrderID, ev.TotalAmount.StringFixed(2))
	case models.EventPaymentStatusChanged:
		return fmt.Sprintf("Payment for order %s is now %s.", ev.OrderID, ev.PaymentStatus)
	default:
		return fmt.Sprintf("Order %s is now %s.", ev.OrderID, strings.ReplaceAll(string(ev.Status), "_", " "))
	}
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
