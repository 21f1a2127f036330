// ticketpayd is the HTTP daemon of the settlement engine: it serves the
// charge, checkout, wallet and webhook routes and publishes the domain events
// the settlement daemon consumes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ticketpay/authority"
	"ticketpay/bus"
	"ticketpay/checkout"
	"ticketpay/config"
	"ticketpay/gateway"
	"ticketpay/observability/logging"
	telemetry "ticketpay/observability/otel"
	"ticketpay/paystack"
	"ticketpay/storage"
	"ticketpay/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("ticketpayd", "", "").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("ticketpayd", cfg.Environment, cfg.LogFile)
	if err := cfg.RequireAPI(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "ticketpayd",
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

	checkoutSvc := checkout.NewService(db, tickets, users, provider, publisher, checkout.Config{
		ChargeReqKey:       cfg.ChargeReqKey,
		MaxWalletBalance:   cfg.MaxWalletBalance,
		TicketCallbackURL:  cfg.PaystackTicketCallbackURL,
		DepositCallbackURL: cfg.PaystackDepositCallbackURL,
	}, logger)
	withdrawalSvc := withdrawal.NewService(db, provider, publisher, withdrawal.Config{
		ChargeReqKey:          cfg.ChargeReqKey,
		AutoWithdrawalEnabled: cfg.AutoWithdrawalEnabled,
	}, logger)

	server := gateway.NewServer(db, checkoutSvc, withdrawalSvc, provider, publisher, gateway.Config{
		AccountValidationKey: cfg.AccountValidationKey,
		AccessTokenSecret:    cfg.AccessTokenSecret,
		PaystackSecretKey:    cfg.PaystackSecretKey,
		RateLimits: map[string]gateway.RateLimit{
			"charges":  {RequestsPerMinute: 120, Burst: 30},
			"checkout": {RequestsPerMinute: 60, Burst: 20},
			"wallet":   {RequestsPerMinute: 120, Burst: 30},
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           otelhttp.NewHandler(server.Router(), "ticketpayd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("ticketpayd listening", "addr", cfg.HTTPListen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ticketpayd stopped")
}
