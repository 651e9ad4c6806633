package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/habitflow/notifications/internal/config"
	"github.com/habitflow/notifications/internal/notification"
	"github.com/habitflow/notifications/internal/ratelimit"
	"github.com/habitflow/notifications/internal/resilience"
	"github.com/habitflow/notifications/pkg/database"
	"github.com/habitflow/notifications/pkg/messaging"
	"github.com/habitflow/notifications/pkg/observability"
)

const taskQueue = "notification.tasks"

func main() {
	logger := observability.NewLogger("notifications-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	producer := messaging.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	rabbit, err := messaging.NewRabbitMQClient(messaging.DefaultRabbitConfig(cfg.RabbitURL), logger)
	if err != nil {
		logger.Error("rabbitmq connection failed", "error", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	if _, err := rabbit.DeclareQueueWithDLQ(taskQueue); err != nil {
		logger.Error("queue declaration failed", "error", err)
		os.Exit(1)
	}

	store := notification.NewRepository(db)
	cache := notification.NewListCache(redisClient, cfg.CacheTTL, logger)

	userLimiter := ratelimit.NewRedisLimiter(redisClient, "user", cfg.UserRateLimit)
	orchExec := resilience.NewExecutor(cfg.Orchestrator,
		resilience.NewRedisStore(redisClient, "orchestrator"),
		resilience.WithLogger(logger),
	)

	registry := notification.NewRegistry()

	emailLimiter := ratelimit.NewRedisLimiter(redisClient, "email", cfg.ProviderRateLimit)
	emailExec := resilience.NewExecutor(cfg.Channel,
		resilience.NewRedisStore(redisClient, "channel-email"),
		resilience.WithLogger(logger),
	)
	registry.Register(notification.NewEmailChannel(
		notification.NewResendProvider(cfg.ResendAPIKey),
		cfg.EmailFrom, emailLimiter, emailExec, logger,
	))

	pushLimiter := ratelimit.NewRedisLimiter(redisClient, "push", cfg.ProviderRateLimit)
	pushExec := resilience.NewExecutor(cfg.Channel,
		resilience.NewRedisStore(redisClient, "channel-push"),
		resilience.WithLogger(logger),
	)
	registry.Register(notification.NewPushChannel(
		&notification.LogPushProvider{Logger: logger}, pushLimiter, pushExec,
	))

	svc := notification.NewService(store, cache, registry, userLimiter, orchExec, producer, logger)
	requeue := messaging.NewQueuePublisher(rabbit, taskQueue)
	worker := notification.NewWorker(svc, redisClient, requeue, logger)

	logger.Info("worker consuming", "queue", taskQueue)
	if err := rabbit.Consume(ctx, taskQueue, worker.ProcessTask); err != nil {
		logger.Error("consumer stopped", "error", err)
	}
	logger.Info("worker stopped")
}
