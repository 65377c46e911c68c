package cmd

import (
	"context"
	"fmt"

	"checkout-svc/cache"
	"checkout-svc/config"
	"checkout-svc/database"
	"checkout-svc/policy"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the checkout schema and seed default policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			db, err := database.InitDB(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			if err := database.Migrate(ctx, db, logger); err != nil {
				return err
			}

			gdb, err := database.OpenGorm(db)
			if err != nil {
				return err
			}
			if err := policy.Migrate(gdb); err != nil {
				return err
			}
			if !seed {
				return nil
			}

			// Serving instances read policies through Redis; drop what they cached.
			var rdb redis.Cmdable
			if client, err := cache.InitRedis(cfg.Redis, logger); err != nil {
				logger.Warn("Redis unavailable, cached policies expire on their own TTL", zap.Error(err))
			} else {
				defer client.Close()
				rdb = client
			}
			return policy.NewStore(gdb, rdb, cfg.Redis.PolicyTTL, logger).Seed(ctx)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "insert default delivery, payment and COD security policies")
	return cmd
}
