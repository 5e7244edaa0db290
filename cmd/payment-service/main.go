package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudresty/go-rabbitmq"

	"github.com/fintechdev/payment-saga/internal/payment/httpx"
	"github.com/fintechdev/payment-saga/internal/payment/idempotency"
	"github.com/fintechdev/payment-saga/internal/payment/messaging"
	"github.com/fintechdev/payment-saga/internal/payment/service"
	sagasqlite "github.com/fintechdev/payment-saga/internal/payment/store/sqlite"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
	"github.com/fintechdev/payment-saga/internal/pkg/cache"
	"github.com/fintechdev/payment-saga/internal/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.InitLogger("payment-service")

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "payment-service"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	repo, err := sagasqlite.Open(getEnv("SAGA_DB_PATH", "./data/saga.db"))
	if err != nil {
		slog.Error("failed to open saga store", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	client, err := rabbitmq.NewClient(
		rabbitmq.WithHosts(getEnv("RABBITMQ_ADDR", "localhost:5672")),
		rabbitmq.WithCredentials(getEnv("RABBITMQ_USER", "guest"), getEnv("RABBITMQ_PASS", "guest")),
		rabbitmq.WithConnectionName("payment-service"),
	)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := bus.DeclareTopology(ctx, client); err != nil {
		slog.Error("failed to declare bus topology", "error", err)
		os.Exit(1)
	}

	publisher, err := bus.NewRabbitPublisher(client)
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	redisCache := cache.NewRedisCache(getEnv("REDIS_ADDR", "localhost:6379"), "payment")
	guard := idempotency.NewGuard(redisCache)

	sagaTimeout, err := time.ParseDuration(getEnv("SAGA_TIMEOUT", "30s"))
	if err != nil {
		slog.Error("invalid SAGA_TIMEOUT", "error", err)
		os.Exit(1)
	}

	eventPublisher := messaging.NewEventPublisher(publisher)
	submitter := service.NewSubmitter(repo, guard, eventPublisher, sagaTimeout)
	correlator := service.NewCorrelator(repo)
	compensator := service.NewCompensator(repo, publisher)
	orchestrator := service.NewOrchestrator(repo, correlator, compensator)
	supervisor := service.NewTimeoutSupervisor(repo, compensator, service.DefaultSweepInterval)

	sagaConsumer := messaging.NewConsumer(orchestrator, compensator)

	consumer, err := client.NewConsumer(
		rabbitmq.WithPrefetchCount(10),
		rabbitmq.WithConcurrency(4),
	)
	if err != nil {
		slog.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}

	queues := map[string]rabbitmq.MessageHandler{
		bus.QueueSagaLedgerCompleted:      sagaConsumer.HandleLedgerCompleted,
		bus.QueueSagaLedgerFailed:         sagaConsumer.HandleLedgerFailed,
		bus.QueueSagaBalanceCompleted:     sagaConsumer.HandleBalanceCompleted,
		bus.QueueSagaBalanceFailed:        sagaConsumer.HandleBalanceFailed,
		bus.QueueSagaCompensationComplete: sagaConsumer.HandleCompensationCompleted,
	}
	for queue, handler := range queues {
		go func(queue string, handler rabbitmq.MessageHandler) {
			if err := consumer.Consume(ctx, queue, handler); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("consumer stopped", "queue", queue, "error", err)
			}
		}(queue, handler)
	}

	go supervisor.Run(ctx)

	handler := httpx.NewHandler(submitter, repo)
	server := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: httpx.NewRouter(handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}()

	slog.Info("payment service running", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
