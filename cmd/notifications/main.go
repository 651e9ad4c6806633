package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/habitflow/notifications/internal/config"
	"github.com/habitflow/notifications/internal/notification"
	"github.com/habitflow/notifications/internal/ratelimit"
	"github.com/habitflow/notifications/internal/resilience"
	"github.com/habitflow/notifications/pkg/database"
	"github.com/habitflow/notifications/pkg/messaging"
	"github.com/habitflow/notifications/pkg/observability"
)

func main() {
	logger := observability.NewLogger("notifications")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "notifications",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.OTLPEndpoint,
		Environment:    cfg.Environment,
	})
	if err != nil {
		logger.Warn("tracer init failed", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, notification.SchemaSQL); err != nil {
		logger.Warn("schema migration failed", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, shared state degraded", "error", err)
	}

	producer := messaging.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	svc := buildService(cfg, db, redisClient, producer, logger)

	r := mux.NewRouter()
	h := &apiHandler{svc: svc, logger: logger}
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/notifications", h.sendNotification).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/notifications", h.userNotifications).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/preferences", h.updatePreferences).Methods(http.MethodPut)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(r, "notifications-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("notifications service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// buildService wires the orchestrator. Limiter and breaker state live in
// Redis so horizontally scaled replicas enforce one shared budget; each
// channel gets its own executor instance with independent breaker state.
func buildService(cfg *config.Config, db *sql.DB, redisClient *redis.Client, producer *messaging.KafkaProducer, logger *slog.Logger) *notification.Service {
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

	return notification.NewService(store, cache, registry, userLimiter, orchExec, producer, logger)
}
