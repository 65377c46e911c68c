// Package cmd holds the checkout-svc command line.
package cmd

import (
	"fmt"
	"os"
	"time"

	"checkout-svc/circuitbreaker"
	"checkout-svc/config"
	"checkout-svc/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func Execute() {
	rootCmd := &cobra.Command{
		Use:           "checkout-svc",
		Short:         "Storefront checkout: pricing, COD verification, payments and order lifecycle",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// newBreaker creates a breaker whose state is exported as a gauge.
func newBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.NewCircuitBreaker(name, maxFailures, resetTimeout)
	cb.OnStateChange(func(name string, from, to circuitbreaker.State) {
		middleware.RecordCircuitBreakerState(name, int(to))
		logger.Warn("Circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	middleware.RecordCircuitBreakerState(name, int(circuitbreaker.StateClosed))
	return cb
}
