// settlementd consumes the engine's domain events and drives settlement: the
// purchase fan-out, wallet funding, withdrawal dispatch and completion, plus
// the scheduled-settlement worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ticketpay/authority"
	"ticketpay/bus"
	"ticketpay/config"
	"ticketpay/observability/logging"
	telemetry "ticketpay/observability/otel"
	"ticketpay/paystack"
	"ticketpay/settlement"
	"ticketpay/storage"
	"ticketpay/withdrawal"
)

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("settlementd", "", "").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("settlementd", cfg.Environment, cfg.LogFile)
	if err := cfg.RequireSettlement(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.KafkaEnableAutoCommit {
		logger.Warn("KAFKA_ENABLE_AUTO_COMMIT is set; offsets are still committed manually after handlers succeed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "settlementd",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.Environment != "production",
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	gormLogLevel := gormlogger.Silent
	if cfg.Debug {
		gormLogLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	publisher := bus.NewPublisher(cfg.KafkaBootstrapServers, logger)
	defer publisher.Close()

	provider := paystack.NewClient(cfg.PaystackURL, cfg.PaystackSecretKey)

	tickets, err := authority.DialTicket(cfg.GRPCTicketSvcTarget)
	if err != nil {
		logger.Error("dial ticket service", "error", err)
		os.Exit(1)
	}
	defer tickets.Close()
	users, err := authority.DialUser(cfg.GRPCUserSvcTarget)
	if err != nil {
		logger.Error("dial user service", "error", err)
		os.Exit(1)
	}
	defer users.Close()

	withdrawalSvc := withdrawal.NewService(db, provider, publisher, withdrawal.Config{
		ChargeReqKey:          cfg.ChargeReqKey,
		AutoWithdrawalEnabled: cfg.AutoWithdrawalEnabled,
	}, logger)
	processor := settlement.NewProcessor(db, tickets, users, publisher, withdrawalSvc, settlement.Config{
		Delay:        cfg.SettlementDelay(),
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: cfg.WorkerPollInterval,
	}, logger)

	consumer := bus.NewConsumer(bus.ConsumerConfig{
		Brokers:     cfg.KafkaBootstrapServers,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: cfg.KafkaAutoOffsetReset,
	}, logger)
	processor.Subscribe(consumer)

	metricsServer := &http.Server{Addr: cfg.HTTPListen, Handler: metricsMux()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	errc := make(chan error, 2)
	go func() { errc <- consumer.Run(ctx) }()
	go func() { errc <- processor.Run(ctx) }()

	logger.Info("settlementd running",
		"group_id", cfg.KafkaGroupID,
		"poll_interval", cfg.WorkerPollInterval.String(),
	)
	err = <-errc
	stop()
	// Let the second loop observe the cancelled context before exiting.
	<-errc
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("settlementd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("settlementd stopped")
}
