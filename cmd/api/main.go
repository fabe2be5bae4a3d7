package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/investor-mailer/internal/config"
	"github.com/kursadbilgin/investor-mailer/internal/handler"
	"github.com/kursadbilgin/investor-mailer/internal/infra/migrations"
	"github.com/kursadbilgin/investor-mailer/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/investor-mailer/internal/infra/redis"
	"github.com/kursadbilgin/investor-mailer/internal/infra/sqlite"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
	"github.com/kursadbilgin/investor-mailer/internal/provider"
	"github.com/kursadbilgin/investor-mailer/internal/queue"
	"github.com/kursadbilgin/investor-mailer/internal/ratelimit"
	"github.com/kursadbilgin/investor-mailer/internal/render"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"github.com/kursadbilgin/investor-mailer/internal/service"
	"github.com/kursadbilgin/investor-mailer/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("investor-mailer exited with error", zap.Error(err))
	}
	logger.Info("investor-mailer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	var rdb *redis.Client
	var limiter ratelimit.SendLimiter
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisSendLimiter(rdb, cfg.SendInterval, cfg.DailySendLimit)
		if err != nil {
			return fmt.Errorf("send limiter initialization failed: %w", err)
		}
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.SendInterval, cfg.DailySendLimit)
	}

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		client, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher = queue.NewRabbitMQPublisher(client)
	}
	defer publisher.Close() //nolint:errcheck

	contacts := repository.NewGormContactRepo(db)
	suppressions := repository.NewGormSuppressionRepo(db)
	history := repository.NewGormHistoryRepo(db)
	sends := repository.NewGormScheduledSendRepo(db)

	metrics := observability.NewMetrics()
	acquirer := provider.NewTokenFileSource(cfg.GmailTokenFile, cfg.GmailAPIBaseURL, logger)
	renderer := render.NewRenderer(cfg.TrackingPixelURL)
	recorder := service.NewHistoryRecorder(history, publisher, logger)

	scheduleService, err := service.NewScheduleService(sends, contacts, renderer, logger)
	if err != nil {
		return err
	}
	scheduleService.SetMetrics(metrics)

	mailService, err := service.NewMailService(contacts, suppressions, renderer, limiter, recorder, acquirer, logger)
	if err != nil {
		return err
	}
	mailService.SetMetrics(metrics)
	defer mailService.Disconnect()

	scheduler, err := service.NewScheduler(sends, suppressions, acquirer, limiter, recorder, service.SchedulerConfig{
		Interval:     cfg.SchedulerInterval,
		AcquireGrace: cfg.SchedulerAcquireGrace,
	}, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "investor-mailer",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterScheduledSendRoutes(app, scheduleService, history); err != nil {
		return err
	}
	if err := handler.RegisterMailRoutes(app, mailService, provider.SMTPConfig{Host: cfg.SMTPHost, Port: cfg.SMTPPort}); err != nil {
		return err
	}
	if err := handler.RegisterContactRoutes(app, contacts, suppressions); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("investor-mailer api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres initialization failed: %w", err)
		}
		return db, nil
	default:
		db, err := sqlite.NewSQLite(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite initialization failed: %w", err)
		}
		return db, nil
	}
}
