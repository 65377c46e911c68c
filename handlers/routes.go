package handlers

import (
	"fmt"

	"checkout-svc/middleware"

	"github.com/gin-gonic/gin"
)

// NewEngine returns a bare gin engine that resolves the client IP only through
// the given proxies. With none, RemoteAddr is used and forwarding headers are
// ignored, so the per-IP COD ceiling cannot be sidestepped by a client.
func NewEngine(trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	return r, nil
}

// RegisterRoutes mounts the public checkout API and the operator console.
func RegisterRoutes(r *gin.Engine, ch *CheckoutHandler, ah *AdminHandler, jwtSecret []byte) {
	r.GET("/health", HealthCheck)
	r.GET("/metrics", middleware.PrometheusHandler())

	co := r.Group("/checkout")
	{
		co.POST("/quote", ch.Quote)
		co.POST("/cod", ch.CreateCODOrder)
		co.POST("/cod/verify-otp", ch.VerifyOTP)
		co.POST("/cod/resend-otp", ch.ResendOTP)
	}

	pay := r.Group("/payments")
	{
		pay.POST("/orders", ch.CreateGatewayOrder)
		pay.POST("/verify", ch.VerifyPayment)
	}

	r.POST("/webhooks/gateway", ch.Webhook)
	r.GET("/orders/:orderId", ch.TrackOrder)

	r.POST("/admin/login", ah.Login)
	admin := r.Group("/admin", middleware.AuthRequired(jwtSecret))
	{
		admin.GET("/orders", ah.ListOrders)
		admin.GET("/orders/:orderId", ah.GetOrder)
		admin.GET("/orders/:orderId/audit", ah.OrderAudit)
		admin.PUT("/orders/:orderId/status", ah.UpdateOrderStatus)
		admin.PUT("/orders/:orderId/payment-status", ah.UpdatePaymentStatus)
	}
}
