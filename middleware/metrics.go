package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Orders created, by payment method",
		},
		[]string{"payment_method"},
	)

	codAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_cod_attempts_total",
			Help: "COD checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	codThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_cod_throttled_total",
			Help: "COD attempts rejected by a rate ceiling",
		},
		[]string{"ceiling"},
	)

	otpVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_otp_verifications_total",
			Help: "OTP verification outcomes",
		},
		[]string{"outcome"},
	)

	paymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_payment_verifications_total",
			Help: "Online payment verification outcomes",
		},
		[]string{"outcome"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_webhook_events_total",
			Help: "Gateway webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_compensations_total",
			Help: "Order header deletions after a failed item write",
		},
		[]string{"result"},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_order_transitions_total",
			Help: "Operator state transitions",
		},
		[]string{"field", "to"},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_events_published_total",
			Help: "Kafka events published",
		},
		[]string{"topic", "status"},
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"event_type"},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half open)",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ordersCreatedTotal,
		codAttemptsTotal,
		codThrottledTotal,
		otpVerificationsTotal,
		paymentVerificationsTotal,
		webhookEventsTotal,
		compensationsTotal,
		orderTransitionsTotal,
		eventsPublishedTotal,
		notificationsSentTotal,
		circuitBreakerState,
	)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderCreated(paymentMethod string) {
	ordersCreatedTotal.WithLabelValues(paymentMethod).Inc()
}

func RecordCODAttempt(outcome string) {
	codAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordCODThrottled(ceiling string) {
	codThrottledTotal.WithLabelValues(ceiling).Inc()
}

func RecordOTPVerification(outcome string) {
	otpVerificationsTotal.WithLabelValues(outcome).Inc()
}

func RecordPaymentVerification(outcome string) {
	paymentVerificationsTotal.WithLabelValues(outcome).Inc()
}

func RecordWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordCompensation(result string) {
	compensationsTotal.WithLabelValues(result).Inc()
}

func RecordOrderTransition(field, to string) {
	orderTransitionsTotal.WithLabelValues(field, to).Inc()
}

func RecordEventPublished(topic, status string) {
	eventsPublishedTotal.WithLabelValues(topic, status).Inc()
}

func RecordNotificationSent(eventType string) {
	notificationsSentTotal.WithLabelValues(eventType).Inc()
}

func RecordCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}
