package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/courier-notify/internal/config"
	"github.com/kursadbilgin/courier-notify/internal/handler"
	"github.com/kursadbilgin/courier-notify/internal/infra/postgresql"
	"github.com/kursadbilgin/courier-notify/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/courier-notify/internal/infra/redis"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/queue"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"github.com/kursadbilgin/courier-notify/internal/service"
	"github.com/kursadbilgin/courier-notify/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("courier-notify stopped with error", zap.Error(err))
	}
	logger.Info("courier-notify stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, cfg.DBPool(), logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	defaults, err := cfg.DefaultPolicy()
	if err != nil {
		return err
	}
	policies, err := infraredis.NewPolicyStore(rdb, defaults)
	if err != nil {
		return fmt.Errorf("policy store initialization failed: %w", err)
	}

	channelLimits, err := cfg.ChannelRateLimits()
	if err != nil {
		return err
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, channelLimits)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	providers, err := buildProviders(cfg, limiter, metrics, logger)
	if err != nil {
		return fmt.Errorf("provider registry initialization failed: %w", err)
	}

	eventsQueue := queue.QueueName(cfg.EventsQueue)
	broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, eventsQueue)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	runs := repository.NewGormRunRepo(db)
	templates := repository.NewGormTemplateRepo(db)
	shipments := repository.NewGormShipmentLookup(db)

	dispatcher, err := service.NewDispatcher(notifications, attempts, providers, shipments, cfg.ClaimLease, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	scheduler, err := service.NewRetryScheduler(
		notifications,
		runs,
		dispatcher,
		policies,
		cfg.SchedulerInterval,
		cfg.SchedulerBatchSize,
		cfg.SchedulerConcurrency,
		logger,
	)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(notifications, attempts, runs, dispatcher, scheduler, policies, logger)
	if err != nil {
		return err
	}

	eventService, err := service.NewEventIngestService(notifications, templates, policies, logger)
	if err != nil {
		return err
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	eventService.SetPublisher(publisher, eventsQueue)

	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(handler.CorrelationID())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return err
	}
	if err := handler.RegisterOperationsRoutes(app, notificationService, eventService); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("courier-notify api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("event consumer started", zap.String("queue", eventsQueue))
		return consumer.Consume(gctx, eventsQueue, eventService.HandleMessage)
	})

	return g.Wait()
}
