package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	"orderflow/internal/payment"
	"orderflow/pkg/bootstrap"
	"orderflow/pkg/health"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/middleware"
	"orderflow/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	ledger         idempotency.Ledger
	chargeConsumer *payment.ChargeConsumer
	server         *http.Server
	router         *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("payment-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := a.InitBroker("payment-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initLedger()
	a.initChargeConsumer()

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: a.router,
	}

	metrics.RegisterBrokerMetrics()
	metrics.RegisterPaymentMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

func (a *App) initLedger() {
	base := idempotency.NewRedisLedger(a.redis, a.Config.Idempotency.Retention)

	if a.Config.CircuitBreaker.Enabled {
		a.ledger = idempotency.NewCircuitBreakerLedger(base, a.Config.CircuitBreaker)
		initCtx := logging.WithServiceName(context.Background(), "payment-service")
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for idempotency ledger")
	} else {
		a.ledger = base
	}
}

func (a *App) initChargeConsumer() {
	charger := payment.NewGatewayCharger(a.Logger)
	a.chargeConsumer = payment.NewChargeConsumer(
		a.ledger,
		charger,
		a.Producer,
		a.Config.Broker.Kafka.PaymentTopic,
		a.Logger,
	)
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.TraceIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	verifier := payment.NewHMACVerifier(a.Config.Payment.WebhookSecret)
	webhook := payment.NewWebhookHandler(
		verifier,
		a.ledger,
		a.Producer,
		a.Config.Broker.Kafka.PaymentTopic,
		a.Logger,
	)
	httpHandler := payment.NewHTTPHandler(webhook, a.Logger)
	httpHandler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	if len(a.Config.Broker.Kafka.Brokers) > 0 {
		healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers[0]))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.OrderTopic, a.chargeConsumer.Handle)
	})

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		a.Logger.Errorw("Shutdown finished with errors", "error", shutdownErr)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "payment-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down payment service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, nil)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
