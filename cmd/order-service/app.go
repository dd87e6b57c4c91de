package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"orderflow/internal/broker"
	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/identity"
	"orderflow/internal/logger"
	"orderflow/internal/order"
	"orderflow/internal/saga"
	"orderflow/pkg/bootstrap"
	"orderflow/pkg/health"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/middleware"
	"orderflow/pkg/migrations"
	"orderflow/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	dbConnector   *bootstrap.DatabaseConnector
	db            *sql.DB
	repo          order.Repository
	ledger        *idempotency.PostgresLedger
	sagaHandler   *saga.Handler
	orderConsumer broker.Consumer
	server        *http.Server
	router        *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("order-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.InitBroker("order-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initSaga()

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: a.router,
	}

	metrics.RegisterBrokerMetrics()
	metrics.RegisterSagaMetrics()

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres configuration is required for the order service")
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db, "migrations/postgres"); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	a.repo = order.NewPostgresRepository(db)
	a.ledger = idempotency.NewPostgresLedger(db, a.Config.Idempotency.Retention)
	return nil
}

func (a *App) initSaga() {
	if kc, ok := a.Consumer.(*broker.KafkaConsumer); ok {
		kc.SetHandlerTimeout(a.Config.Saga.HandlerTimeout)
	}

	fulfiller := saga.NewNoopFulfiller(a.Logger)
	a.sagaHandler = saga.NewHandler(a.repo, a.Producer, fulfiller, saga.Config{
		OrderTopic:     a.Config.Broker.Kafka.OrderTopic,
		VersionRetries: a.Config.Saga.VersionRetryAttempts,
		ReorderTimeout: a.Config.Saga.ReorderTimeout,
	}, a.Logger)
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

	svc := order.NewService(a.repo, a.Producer, a.Config.Broker.Kafka.OrderTopic, a.Logger)
	handler := order.NewHandler(svc, a.Logger)

	var apiMiddleware []gin.HandlerFunc
	if a.Config.Server.AuthToken != "" {
		verifier := identity.NewStaticTokenVerifier(a.Config.Server.AuthToken)
		apiMiddleware = append(apiMiddleware, identity.Middleware(verifier))
	}
	handler.RegisterRoutes(router, apiMiddleware...)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
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

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

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

	// The saga handler listens on both streams: payment outcomes arrive on
	// the payment topic, follow-up order events on the order topic.
	g.Go(func() error {
		return a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.PaymentTopic, a.sagaHandler.Handle)
	})

	orderConsumer, err := broker.NewConsumer(a.Config.Broker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create order topic consumer: %w", err)
	}
	orderConsumer.SetServiceName("order-service")
	if kc, ok := orderConsumer.(*broker.KafkaConsumer); ok {
		kc.SetHandlerTimeout(a.Config.Saga.HandlerTimeout)
	}
	a.orderConsumer = orderConsumer

	g.Go(func() error {
		return orderConsumer.Consume(gCtx, a.Config.Broker.Kafka.OrderTopic, a.sagaHandler.Handle)
	})

	// Periodic ledger sweep keeps processed_events bounded. Retention
	// exceeds the broker's redelivery window, so swept marks are dead.
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
				swept, err := a.ledger.Sweep(gCtx)
				if err != nil {
					a.Logger.ErrorwCtx(gCtx, "Ledger sweep failed", "error", err)
					continue
				}
				if swept > 0 {
					a.Logger.InfowCtx(gCtx, "Ledger sweep completed", "removed", swept)
				}
			}
		}
	})

	err = g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		a.Logger.Errorw("Shutdown finished with errors", "error", shutdownErr)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "order-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down order service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.orderConsumer != nil {
			if err := a.orderConsumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("order consumer close error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.db, nil)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
