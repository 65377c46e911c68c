package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"checkout-svc/checkout"
	"checkout-svc/models"
	"checkout-svc/pricing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Webhook headers set by the gateway.
const (
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"
)

const maxWebhookBody = 1 << 20

// CheckoutService is what the buyer-facing routes need.
type CheckoutService interface {
	Quote(ctx context.Context, req models.QuoteRequest) (*pricing.Result, error)
	CreateCODOrder(ctx context.Context, req models.CheckoutRequest, clientIP string) (*checkout.CODResult, error)
	VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.Order, error)
	ResendOTP(ctx context.Context, req models.ResendOTPRequest) (time.Time, error)
	CreateGatewayOrder(ctx context.Context, req models.GatewayOrderRequest) (*checkout.GatewayOrderResult, error)
	VerifyPayment(ctx context.Context, req models.VerifyPaymentRequest) (*models.Order, error)
	HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (models.WebhookOutcome, error)
	TrackOrder(ctx context.Context, orderID, phone string) (*models.Order, error)
}

type CheckoutHandler struct {
	svc    CheckoutService
	logger *zap.Logger
}

func NewCheckoutHandler(svc CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		svc:    svc,
		logger: logger,
	}
}

func (h *CheckoutHandler) Quote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Quote(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *CheckoutHandler) CreateCODOrder(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.CreateCODOrder(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if res.OTPRequired {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *CheckoutHandler) VerifyOTP(c *gin.Context) {
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.VerifyOTP(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": order.OrderID, "order": order})
}

func (h *CheckoutHandler) ResendOTP(c *gin.Context) {
	var req models.ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expiresAt, err := h.svc.ResendOTP(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"otp_required": true, "otp_expires_at": expiresAt})
}

func (h *CheckoutHandler) CreateGatewayOrder(c *gin.Context) {
	var req models.GatewayOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.CreateGatewayOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *CheckoutHandler) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.OrderID, "order": order})
}

// Webhook must see the body exactly as sent; the signature covers the raw bytes.
func (h *CheckoutHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	outcome, err := h.svc.HandleWebhook(
		c.Request.Context(),
		body,
		c.GetHeader(HeaderWebhookSignature),
		c.GetHeader(HeaderWebhookEventID),
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

func (h *CheckoutHandler) TrackOrder(c *gin.Context) {
	order, err := h.svc.TrackOrder(c.Request.Context(), c.Param("orderId"), c.Query("phone"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
