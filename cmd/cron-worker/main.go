package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/internal/costs"
	"github.com/angelmondragon/marketplace-backend/internal/cron"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/pricing"
	"github.com/angelmondragon/marketplace-backend/internal/settlement"
	"github.com/angelmondragon/marketplace-backend/pkg/bank"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient,
		ledger.WithOutbox(outboxSvc),
		ledger.WithLogger(logg),
		ledger.WithMetrics(pipelineMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create status ledger", err)
		os.Exit(1)
	}
	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	resolver, err := pricing.NewResolver(pricing.NewRepository(dbClient.DB()), pricing.WithLogger(logg))
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing resolver", err)
		os.Exit(1)
	}
	serviceFee, err := decimal.NewFromString(cfg.Settlement.DefaultServiceFee)
	if err != nil {
		logg.Error(context.Background(), "invalid default service fee", err)
		os.Exit(1)
	}
	aggregator, err := costs.NewAggregator(ordersRepo, resolver,
		costs.WithServiceFee(serviceFee),
		costs.WithRetries(cfg.Settlement.CostRetries),
		costs.WithLogger(logg),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create cost aggregator", err)
		os.Exit(1)
	}

	leases, err := redis.NewLeaser(redisClient, cfg.Settlement.LeaseTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create lease manager", err)
		os.Exit(1)
	}

	var gateway bank.Gateway
	if cfg.Bank.Enabled() {
		opts := []bank.Option{bank.WithMetrics(pipelineMetrics)}
		if cfg.Bank.CacheTokens {
			opts = append(opts, bank.WithTokenCache(bank.NewRedisTokenCache(redisClient, redisClient.TokenKey("bank"))))
		}
		bankClient, err := bank.NewClient(cfg.Bank, opts...)
		if err != nil {
			logg.Error(context.Background(), "failed to create bank client", err)
			os.Exit(1)
		}
		gateway = bankClient
	}

	orchestrator, err := settlement.NewOrchestrator(settlement.Deps{
		Orders:   ordersSvc,
		Costs:    aggregator,
		Ledger:   ledgerSvc,
		Gateway:  gateway,
		Leases:   leases,
		LeaseKey: redisClient.LeaseKey,
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Logger:   logg,
		Metrics:  pipelineMetrics,
		Deadline: cfg.Settlement.Deadline,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement orchestrator", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Repo:           outboxRepo,
		Retention:      cfg.Maintenance.OutboxRetentionDays,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	sweepJob, err := cron.NewSettlementSweepJob(cron.SettlementSweepJobParams{
		Logger:   logg,
		Ledger:   ledgerSvc,
		Orders:   ordersSvc,
		Settler:  orchestrator,
		MinAge:   cfg.Maintenance.SettlementMinAge,
		Lookback: cfg.Maintenance.SettlementLookback,
		Batch:    cfg.Maintenance.SettlementBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement sweep job", err)
		os.Exit(1)
	}

	maintenanceLeases, err := redis.NewLeaser(redisClient, cfg.Maintenance.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance lease manager", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retentionJob, sweepJob),
		Leases:   maintenanceLeases,
		LockKey:  redisClient.LeaseKey("maintenance", cfg.App.Env),
		Metrics:  pipelineMetrics,
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
