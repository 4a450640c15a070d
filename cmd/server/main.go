// The server binary wires the whole service: postgres and redis, the Base
// gateway provider, the order and webhook pipelines, and the two HTTP
// surfaces (merchant API, operator endpoints) plus the internal metrics
// listener. Teardown runs through the shutdown manager in reverse start
// order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brindlepay/subscription-service/internal/adapters/base"
	"github.com/brindlepay/subscription-service/internal/adapters/postgres"
	"github.com/brindlepay/subscription-service/internal/adapters/redisq"
	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/config"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/handlers/ops"
	"github.com/brindlepay/subscription-service/internal/handlers/rpc"
	"github.com/brindlepay/subscription-service/internal/services/account"
	"github.com/brindlepay/subscription-service/internal/services/order"
	"github.com/brindlepay/subscription-service/internal/services/subscription"
	"github.com/brindlepay/subscription-service/internal/services/webhook"
	"github.com/brindlepay/subscription-service/pkg/middleware"
	"github.com/brindlepay/subscription-service/pkg/observability"
	"github.com/brindlepay/subscription-service/pkg/resilience"
	"github.com/brindlepay/subscription-service/pkg/resourcemgmt"
	"github.com/brindlepay/subscription-service/pkg/shutdown"
)

const requestTimeout = 25 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, syncLogs, err := initLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer syncLogs()

	logger.Info("Starting subscription service",
		ports.String("environment", cfg.Environment),
	)

	pool, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		fatal(logger, "Failed to connect to postgres", err)
	}

	redisCfg := redisq.DefaultConfig(cfg.Redis.Addr)
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisClient, err := redisq.NewClient(ctx, redisCfg, logger)
	if err != nil {
		fatal(logger, "Failed to connect to redis", err)
	}

	store := postgres.NewStore(postgres.NewDBExecutor(pool), logger)
	tracker := resourcemgmt.NewGoroutineTracker(logger, nil)

	// CDP token auth degrades to API keys only when no keys are present;
	// merchants created through the dashboard never notice.
	keys := auth.NewPublicKeyStore()
	if err := keys.LoadDirectory(cfg.Auth.CDPKeysDir); err != nil {
		logger.Warn("CDP public keys unavailable, token auth disabled",
			ports.String("dir", cfg.Auth.CDPKeysDir),
			ports.Err(err),
		)
	} else {
		logger.Info("CDP public keys loaded",
			ports.Int("keys", keys.Len()),
			ports.Any("kids", keys.KeyIDs()),
		)
	}
	validator := auth.NewCDPValidator(keys, cfg.Auth.CDPIssuer)
	accountSvc := account.NewService(store, validator, logger, cfg.Production())

	provider := base.NewProvider(gatewayConfig(cfg.Gateway), logger)

	orderQueue := redisq.NewOrderQueue(redisClient, logger)
	webhookQueue := redisq.NewWebhookQueue(redisClient, logger)
	scheduler := redisq.NewScheduler(redisClient, logger)
	dispatcher := redisq.NewDispatcher(redisClient, orderQueue, logger, redisq.DispatcherConfig{})

	emitter := webhook.NewEmitter(store, webhookQueue, logger)
	deliverer := webhook.NewDeliverer(store, logger, webhook.DelivererConfig{})
	processor := order.NewProcessor(store, scheduler, emitter, logger, provider)
	reconciler := order.NewReconciler(store, orderQueue, logger, order.ReconcilerConfig{
		Interval:   cfg.Workers.ReconcileInterval,
		StallAfter: cfg.Workers.StallAfter,
	})
	subscriptionSvc := subscription.NewService(store, store, scheduler, emitter, tracker, logger, provider)

	orderConsumer := redisq.NewOrderConsumer(redisClient, orderQueue, processor.HandleMessage,
		resilience.UpstreamRetryBackoff(), logger, redisq.ConsumerConfig{Workers: cfg.Workers.OrderWorkers})
	webhookConsumer := redisq.NewWebhookConsumer(redisClient, webhookQueue, deliverer.Deliver,
		resilience.UpstreamRetryBackoff(), logger, redisq.ConsumerConfig{Workers: cfg.Workers.WebhookWorkers})

	health := observability.NewHealthChecker(pool, redisClient)

	mux := http.NewServeMux()
	rpc.NewHandler(subscriptionSvc, accountSvc, logger).Register(mux)
	ops.NewHandler(reconciler, orderQueue, webhookQueue, tracker, health, logger, cfg.Auth.CronSecret).Register(mux)

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	apiServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: chain(mux,
			middleware.Recovery(logger),
			middleware.RequestLogger(logger),
			middleware.Metrics,
			rateLimiter.Middleware,
			middleware.Timeout(requestTimeout),
			middleware.Gzip,
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Registration order is start order; the manager shuts down in reverse,
	// so the API server stops taking requests before anything under it goes
	// away.
	mgr := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	mgr.RegisterNoErr("postgres", pool.Close)
	mgr.RegisterCloser("redis", redisClient)
	mgr.RegisterNoErr("rate_limiter", rateLimiter.Shutdown)

	startWorker := func(name string, run func(ctx context.Context)) {
		w := shutdown.StartWorker(name, logger, run)
		mgr.Register(name, w.Shutdown)
	}
	startWorker("order_dispatcher", dispatcher.Run)
	startWorker("order_consumer", orderConsumer.Run)
	startWorker("webhook_consumer", webhookConsumer.Run)
	startWorker("order_reconciler", reconciler.Run)
	startWorker("goroutine_monitor", tracker.StartMonitoring)

	mgr.Register("background_work", tracker.Drain)

	metricsServer := observability.StartMetricsServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort), health, logger)
	mgr.Register("metrics_server", metricsServer.Shutdown)

	go func() {
		logger.Info("API server listening", ports.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "API server failed", err)
		}
	}()
	mgr.Register("api_server", apiServer.Shutdown)

	mgr.Wait()
	logger.Info("Service stopped")
}

func initLogger(cfg config.LoggerConfig) (ports.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zl, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return observability.NewZapLogger(zl), func() { _ = zl.Sync() }, nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func gatewayConfig(cfg config.GatewayConfig) *base.Config {
	gw := base.DefaultConfig()
	gw.MainnetURL = cfg.MainnetURL
	gw.TestnetURL = cfg.TestnetURL
	gw.APIKey = cfg.APIKey
	gw.Timeout = cfg.Timeout
	return gw
}

// chain wraps h with the given middleware; the first listed is outermost.
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func fatal(logger ports.Logger, msg string, err error) {
	logger.Error(msg, ports.Err(err))
	os.Exit(1)
}
