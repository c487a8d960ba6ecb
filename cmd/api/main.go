package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/api/routes"
	"github.com/angelmondragon/marketplace-backend/internal/catalog"
	"github.com/angelmondragon/marketplace-backend/internal/costs"
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
	"github.com/angelmondragon/marketplace-backend/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	shutdownTracing, err := telemetry.InitTracerProvider(context.Background(), cfg.Telemetry, "marketplace-api", cfg.App.Version)
	if err != nil {
		logg.Error(context.Background(), "failed to init tracing", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logg.Error(context.Background(), "error flushing traces", err)
		}
	}()

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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
	} else {
		logg.Warn(context.Background(), "bank credentials missing, settlement will skip capture")
	}

	leaser, err := redis.NewLeaser(redisClient, cfg.Settlement.LeaseTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create lease manager", err)
		os.Exit(1)
	}

	orchestrator, err := settlement.NewOrchestrator(settlement.Deps{
		Orders:   ordersSvc,
		Costs:    aggregator,
		Ledger:   ledgerSvc,
		Gateway:  gateway,
		Leases:   leaser,
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
	orchestrator.Register(ledgerSvc)

	ingestor, err := catalog.NewIngestor(catalog.NewRepository(dbClient.DB()), dbClient,
		catalog.WithChunkSize(cfg.Catalog.ChunkSize),
		catalog.WithMaxBatchSize(cfg.Catalog.MaxBatchSize),
		catalog.WithOutbox(outboxSvc),
		catalog.WithLogger(logg),
		catalog.WithMetrics(pipelineMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog ingestor", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:       dbClient,
			Redis:    redisClient,
			Ledger:   ledgerSvc,
			Orders:   ordersSvc,
			Catalog:  ingestor,
			Metrics:  pipelineMetrics,
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	logg.Info(ctx, "api server stopped")
}
