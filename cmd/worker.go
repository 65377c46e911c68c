package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"checkout-svc/config"
	"checkout-svc/database"
	"checkout-svc/invoice"
	"checkout-svc/kafka"
	"checkout-svc/middleware"
	"checkout-svc/notify"
	"checkout-svc/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume checkout events: invoices and buyer notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runWorker(cfg)
		},
	}
}

func runWorker(cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName+"-worker", cfg.Jaeger.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	reader := kafka.InitReader(cfg.Kafka, logger)
	defer reader.Close()
	renderer := invoice.New(cfg.Invoice, newBreaker("invoice", 3, time.Minute, logger), logger)
	worker := kafka.NewWorker(reader, store.NewOrderStore(db, logger), renderer, notify.NewLogNotifier(logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Checkout worker started", zap.Strings("brokers", cfg.Kafka.Brokers))
	if err := worker.Run(ctx); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("Checkout worker exited")
	return nil
}
