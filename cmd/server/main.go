package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/marbleflow/internal/coupons"
	"github.com/joao-fontenele/marbleflow/internal/inventory"
	"github.com/joao-fontenele/marbleflow/internal/messaging"
	"github.com/joao-fontenele/marbleflow/internal/notifications"
	"github.com/joao-fontenele/marbleflow/internal/orders"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
	"github.com/joao-fontenele/marbleflow/internal/settings"
	"github.com/joao-fontenele/marbleflow/internal/storage"
	"github.com/joao-fontenele/marbleflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "marbleflow-server", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("marbleflow-server", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	sqlDB, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	fileStore, err := storage.NewFileStore(uploadDir)
	if err != nil {
		logger.Error("failed to initialize file storage", "error", err)
		os.Exit(1)
	}

	var notifier orders.NotificationSender
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), notifications.Topic)
		defer func() { _ = producer.Close() }()
		notifier = notifications.NewKafkaSender(producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, customer notifications are disabled")
	}

	db := postgres.NewDB(sqlDB)
	service := orders.NewService(
		db,
		orders.NewOrderRepository(db),
		inventory.NewProductRepository(db),
		coupons.NewCouponRepository(db),
		settings.NewSettingsRepository(db),
		fileStore,
		notifier,
		logger,
	)
	handler := orders.NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /orders/{number}", telemetry.WithHTTPRoute(handler.HandleGetByNumber))
	mux.HandleFunc("POST /orders/{number}/payment-method", telemetry.WithHTTPRoute(handler.HandleSetPaymentMethod))
	mux.HandleFunc("POST /orders/{number}/payment-proof", telemetry.WithHTTPRoute(handler.HandleSubmitPaymentProof))
	mux.HandleFunc("POST /orders/{number}/balance-proof", telemetry.WithHTTPRoute(handler.HandleSubmitBalanceProof))
	mux.HandleFunc("GET /admin/orders", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("POST /admin/orders/{id}/verify-deposit", telemetry.WithHTTPRoute(handler.HandleVerifyDeposit))
	mux.HandleFunc("POST /admin/orders/{id}/verify-balance", telemetry.WithHTTPRoute(handler.HandleVerifyBalance))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))
	mux.HandleFunc("POST /admin/orders/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleCancel))
	mux.HandleFunc("POST /admin/orders/{id}/refund", telemetry.WithHTTPRoute(handler.HandleRefund))
	mux.HandleFunc("GET /admin/receipts/{name}", telemetry.WithHTTPRoute(handler.HandleGetReceipt))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
