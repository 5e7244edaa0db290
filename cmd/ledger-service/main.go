package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudresty/go-rabbitmq"

	"github.com/fintechdev/payment-saga/internal/ledger/messaging"
	"github.com/fintechdev/payment-saga/internal/ledger/service"
	ledgersqlite "github.com/fintechdev/payment-saga/internal/ledger/store/sqlite"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
	"github.com/fintechdev/payment-saga/internal/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.InitLogger("ledger-service")

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "ledger-service"))
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

	repo, err := ledgersqlite.Open(getEnv("LEDGER_DB_PATH", "./data/ledger.db"))
	if err != nil {
		slog.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	client, err := rabbitmq.NewClient(
		rabbitmq.WithHosts(getEnv("RABBITMQ_ADDR", "localhost:5672")),
		rabbitmq.WithCredentials(getEnv("RABBITMQ_USER", "guest"), getEnv("RABBITMQ_PASS", "guest")),
		rabbitmq.WithConnectionName("ledger-service"),
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

	engine := service.NewEngine(repo)
	ledgerConsumer := messaging.NewConsumer(engine, publisher)

	consumer, err := client.NewConsumer(
		rabbitmq.WithPrefetchCount(10),
		rabbitmq.WithConcurrency(4),
	)
	if err != nil {
		slog.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}

	// Append requests are redelivered on error; transaction-ID uniqueness
	// makes the retry safe. Compensation requests ack unconditionally.
	go func() {
		err := consumer.Consume(ctx, bus.QueueLedgerEntryAppend, ledgerConsumer.HandleEntryAppend,
			rabbitmq.WithRejectRequeue())
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consumer stopped", "queue", bus.QueueLedgerEntryAppend, "error", err)
		}
	}()
	go func() {
		err := consumer.Consume(ctx, bus.QueueLedgerCompensation, ledgerConsumer.HandleCompensation)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consumer stopped", "queue", bus.QueueLedgerCompensation, "error", err)
		}
	}()

	slog.Info("ledger service running")
	<-ctx.Done()
	slog.Info("ledger service shutting down")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
