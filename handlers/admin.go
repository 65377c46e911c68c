package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"checkout-svc/config"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const maxListLimit = 200

// OperatorService is what the admin console routes need.
type OperatorService interface {
	ListOrders(ctx context.Context, f store.ListFilter) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	OrderAudit(ctx context.Context, orderID string) ([]models.AuditEntry, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus, actor string) (*models.Order, error)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AdminHandler struct {
	svc    OperatorService
	auth   config.AuthConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewAdminHandler(svc OperatorService, auth config.AuthConfig, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		auth:   auth,
		now:    time.Now,
		logger: logger,
	}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := middleware.GetTraceID(c.Request.Context())
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.auth.AdminUsername)) == 1
	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(h.auth.AdminPasswordHash), []byte(req.Password)); err != nil || !userOK {
		h.logger.Warn("Operator login rejected", zap.String("trace_id", traceID), zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	now := h.now()
	token, err := middleware.IssueOperatorToken([]byte(h.auth.JWTSecret), req.Username, h.auth.TokenTTL, now)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Operator logged in", zap.String("trace_id", traceID), zap.String("username", req.Username))
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: now.Add(h.auth.TokenTTL).UTC()})
}

func (h *AdminHandler) ListOrders(c *gin.Context) {
	f := store.ListFilter{
		Status:        models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		Phone:         c.Query("phone"),
		Limit:         50,
	}
	var err error
	if raw := c.Query("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil || f.Limit <= 0 || f.Limit > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if f.Offset, err = strconv.Atoi(raw); err != nil || f.Offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
			return
		}
	}

	orders, err := h.svc.ListOrders(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *AdminHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) OrderAudit(c *gin.Context) {
	entries, err := h.svc.OrderAudit(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *AdminHandler) UpdateOrderStatus(c *gin.Context) {
	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.UpdateOrderStatus(c.Request.Context(), c.Param("orderId"), req.Status, c.GetString(middleware.OperatorKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) UpdatePaymentStatus(c *gin.Context) {
	var req models.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.UpdatePaymentStatus(c.Request.Context(), c.Param("orderId"), req.PaymentStatus, c.GetString(middleware.OperatorKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
