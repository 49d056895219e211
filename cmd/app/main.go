package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saas-billing/internal/config"
	payAdapters "saas-billing/internal/infra/adapters/payment"
	httpapi "saas-billing/internal/infra/api"
	"saas-billing/internal/infra/api/apiv1"
	pg "saas-billing/internal/infra/db/postgres"
	"saas-billing/internal/infra/logging"
	"saas-billing/internal/infra/metrics"
	red "saas-billing/internal/infra/redis"
	"saas-billing/internal/infra/sched"
	"saas-billing/internal/infra/worker"
	"saas-billing/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted ids)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	processed := red.NewProcessedEventStore(redisClient, red.DefaultProcessedEventTTL)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient, cfg.Redis.TTL, logger)
	subRepo := pg.NewSubscriptionRepo(pool)
	usageRepo := pg.NewUsageRepo(pool)

	// ---- Stripe ----
	gateway, err := payAdapters.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.BackendURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("stripe gateway")
	}
	normalizer := payAdapters.NewStripeWebhookNormalizer(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance)

	// ---- Use cases ----
	planUC := usecase.NewPlanUseCase(planRepo, logger)
	refs := make(map[string]usecase.PlanExternalRefs, len(cfg.Plans))
	for id, r := range cfg.Plans {
		refs[id] = usecase.PlanExternalRefs{ProductID: r.ProductID, PriceID: r.PriceID}
	}
	if _, err := planUC.SeedDefaults(ctx, refs); err != nil {
		logger.Fatal().Err(err).Msg("seed plans")
	}

	machine := usecase.NewSubscriptionStateMachine(subRepo, planRepo, tm, logger)
	webhookUC := usecase.NewWebhookUseCase(normalizer, processed, machine, logger)
	meter := usecase.NewUsageMeter(subRepo, usageRepo, planRepo, tm, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, usageRepo, planUC, meter, gateway, locker, tm, cfg.Stripe.PortalReturnURL, logger)

	// ---- Reconciler ----
	var workers *worker.Pool
	if cfg.Reconciler.Enabled {
		workers = worker.NewPool(cfg.Reconciler.Workers, logger)
		workers.Start(ctx)
		rec := sched.NewSubscriptionReconciler(subRepo, gateway, machine, workers, cfg.Reconciler.Interval, cfg.Reconciler.BatchSize, logger)
		go rec.Start(ctx)
	}

	// ---- HTTP ----
	v1 := apiv1.NewServer(subUC, webhookUC, apiv1.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer), logger).
		WithUsageRateLimit(rateLimiter, cfg.RateLimit.UsageTrackPerWindow, cfg.RateLimit.Window).
		WithWebhookTimeout(cfg.HTTP.WebhookTimeout)
	checks := map[string]httpapi.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    redisClient.Ping,
	}
	server := httpapi.NewServer(cfg.HTTP, httpapi.NewRouter(cfg.HTTP, v1, checks, logger), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	if workers != nil {
		workers.Stop()
	}
	logger.Info().Msg("bye")
}
