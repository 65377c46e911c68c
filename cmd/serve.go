package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-svc/cache"
	"checkout-svc/catalog"
	"checkout-svc/checkout"
	"checkout-svc/config"
	"checkout-svc/database"
	"checkout-svc/gateway"
	"checkout-svc/handlers"
	"checkout-svc/kafka"
	"checkout-svc/middleware"
	"checkout-svc/otp"
	"checkout-svc/policy"
	"checkout-svc/store"
	"checkout-svc/throttle"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Gateway.WebhookSecret == "" {
		logger.Warn("GATEWAY_WEBHOOK_SECRET is not set, webhooks will be re-checked against the gateway")
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.Jaeger.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	gdb, err := database.OpenGorm(db)
	if err != nil {
		return err
	}

	rdb, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	catalogClient, err := catalog.InitCatalogClient(cfg.Catalog, newBreaker("catalog", 5, 30*time.Second, logger), logger)
	if err != nil {
		return err
	}
	defer catalogClient.Close()

	producer, err := kafka.InitProducer(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	publisher := kafka.NewPublisher(producer, cfg.Kafka, logger)
	defer publisher.Close()

	svc := checkout.NewService(checkout.Deps{
		Orders:   store.NewOrderStore(db, logger),
		Policies: policy.NewStore(gdb, rdb, cfg.Redis.PolicyTTL, logger),
		Catalog:  catalogClient,
		Limiter:  throttle.NewLimiter(rdb, cfg.StoreLocation),
		OTP: otp.NewGate(rdb, otp.Options{
			TTL:            cfg.OTP.TTL,
			MaxAttempts:    cfg.OTP.MaxAttempts,
			ResendCooldown: cfg.OTP.ResendCooldown,
		}),
		Gateway: gateway.NewClient(cfg.Gateway, newBreaker("gateway", 5, 30*time.Second, logger), logger),
		Events:  publisher,
	}, cfg.Gateway, logger)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := handlers.NewEngine(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	handlers.RegisterRoutes(router,
		handlers.NewCheckoutHandler(svc, logger),
		handlers.NewAdminHandler(svc, cfg.Auth, logger),
		[]byte(cfg.Auth.JWTSecret),
	)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		})(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("Checkout API started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start REST server: %w", err)
	}

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
