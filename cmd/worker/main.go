package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joao-fontenele/marbleflow/internal/messaging"
	"github.com/joao-fontenele/marbleflow/internal/notifications"
	"github.com/joao-fontenele/marbleflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "marbleflow-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")

	var mailer notifications.Mailer
	smtpAddr := os.Getenv("SMTP_ADDR")
	if smtpAddr != "" {
		smtpFrom := os.Getenv("SMTP_FROM")
		if smtpFrom == "" {
			logger.Error("SMTP_FROM is required when SMTP_ADDR is set")
			os.Exit(1)
		}
		mailer = notifications.NewSMTPMailer(smtpAddr, smtpFrom, os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"))
	} else {
		logger.Warn("SMTP_ADDR not set, emails will be logged instead of sent")
		mailer = notifications.NewLogMailer(logger)
	}

	consumer := messaging.NewConsumer(brokers, notifications.Topic, "notification-worker")
	defer func() { _ = consumer.Close() }()

	handler := notifications.NewHandler(mailer, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers, "topic", notifications.Topic)

	if err := consumer.Consume(runCtx, handler.Handle); err != nil {
		if runCtx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
