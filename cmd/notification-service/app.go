package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	"orderflow/internal/notification"
	"orderflow/pkg/bootstrap"
	"orderflow/pkg/cel"
	"orderflow/pkg/health"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/migrations"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	mongoClient *mongo.Client
	dispatcher  *notification.Dispatcher
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("notification-service")
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

	if err := a.initMongoDB(ctx); err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if err := a.InitBroker("notification-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	metrics.RegisterBrokerMetrics()
	metrics.RegisterNotificationMetrics()
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

func (a *App) initMongoDB(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb configuration is required for the notification service")
	}
	a.mongoClient = mongoClient

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	if err := migrations.EnsureReceiptCollection(ctx, mongoClient.Database(dbName)); err != nil {
		return err
	}

	return nil
}

func (a *App) initDispatcher() error {
	var ledger idempotency.Ledger = idempotency.NewRedisLedger(a.redis, a.Config.Idempotency.Retention)
	if a.Config.CircuitBreaker.Enabled {
		ledger = idempotency.NewCircuitBreakerLedger(ledger, a.Config.CircuitBreaker)
	}

	var mailer notification.Mailer = notification.NewHTTPMailer(
		a.Config.Notification.MailGatewayURL,
		a.Config.Notification.MailGatewayKey,
		a.Config.Notification.FromAddress,
	)
	if a.Config.CircuitBreaker.Enabled {
		mailer = notification.NewCircuitBreakerMailer(mailer, a.Config.CircuitBreaker)
		initCtx := logging.WithServiceName(context.Background(), "notification-service")
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for mail gateway")
	}

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	receipts := notification.NewMongoReceiptStore(a.mongoClient.Database(dbName))

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create rule evaluator: %w", err)
	}

	a.dispatcher = notification.NewDispatcher(ledger, mailer, receipts, evaluator, a.Config.Notification, a.Logger)
	return nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if len(a.Config.Broker.Kafka.Brokers) > 0 {
		healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers[0]))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

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
		return a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.OrderTopic, a.dispatcher.Handle)
	})

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		a.Logger.Errorw("Shutdown finished with errors", "error", shutdownErr)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "notification-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down notification service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
