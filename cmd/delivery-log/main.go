// Command delivery-log tails the scheduled-send delivery queue and writes
// each outcome to the structured log.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/investor-mailer/internal/config"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
	"github.com/kursadbilgin/investor-mailer/internal/queue"
	"go.uber.org/zap"
)

const prefetch = 10

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

	if cfg.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(client, prefetch, logger)
	defer consumer.Close() //nolint:errcheck

	logger.Info("delivery log started", zap.String("queue", queue.DeliveryQueue))
	err = consumer.Consume(ctx, queue.DeliveryQueue, func(_ context.Context, event queue.DeliveryEvent) error {
		fields := []zap.Field{
			zap.String("scheduledSendId", event.ScheduledSendID),
			zap.Int64("recipientId", event.RecipientID),
			zap.String("status", event.Status.String()),
			zap.Time("occurredAt", event.OccurredAt),
		}
		if event.Detail != "" {
			fields = append(fields, zap.String("detail", event.Detail))
		}
		logger.Info("scheduled send delivered", fields...)
		return nil
	})
	if err != nil {
		logger.Fatal("delivery consumer failed", zap.Error(err))
	}
	logger.Info("delivery log stopped")
}
