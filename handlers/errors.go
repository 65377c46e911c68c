package handlers

import (
	"errors"
	"net/http"

	"checkout-svc/apperrors"
	"checkout-svc/checkout"
	"checkout-svc/circuitbreaker"
	"checkout-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError writes the HTTP rendering of err. Anything that is not a
// domain error is logged and hidden behind a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		ve  *apperrors.ValidationError
		te  *apperrors.ThrottleError
		vfe *apperrors.VerificationError
		pfe *apperrors.PartialFailureError
		nfe *apperrors.NotFoundError
		ce  *apperrors.ConflictError
		ite *apperrors.InvalidTransitionError
	)
	traceID := middleware.GetTraceID(c.Request.Context())

	switch {
	case errors.As(err, &ve):
		body := gin.H{"error": ve.Error(), "code": ve.Code}
		if len(ve.Reasons) > 0 {
			body["reasons"] = ve.Reasons
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &te):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts, try again later", "ceiling": te.Ceiling})
	case errors.As(err, &vfe):
		c.JSON(verificationStatus(vfe), gin.H{"error": "Verification failed", "reason": vfe.Reason})
	case errors.As(err, &pfe):
		logger.Error("Order could not be completed after payment",
			zap.String("trace_id", traceID),
			zap.String("gateway_payment_ref", pfe.GatewayPaymentRef),
			zap.Bool("compensated", pfe.Compensated),
			zap.Error(err),
		)
		if !pfe.Paid() {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Your order could not be saved. Please try again."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":               "Your payment was received but the order could not be saved. Our team has been alerted.",
			"gateway_payment_ref": pfe.GatewayPaymentRef,
		})
	case errors.As(err, &nfe):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{"error": ce.Error()})
	case errors.As(err, &ite):
		c.JSON(http.StatusConflict, gin.H{"error": ite.Error()})
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		logger.Warn("Dependency unavailable", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	default:
		logger.Error("Request failed", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func verificationStatus(e *apperrors.VerificationError) int {
	switch {
	case e.Tampering:
		return http.StatusUnauthorized
	case e.Reason == checkout.ReasonNotCaptured || e.Reason == checkout.ReasonPaymentNotFound:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}
