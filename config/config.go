// Package config loads the engine's configuration from the environment with
// typed parsing and defaults. Each daemon validates the subset of keys it
// actually needs at bootstrap.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full recognized configuration surface.
type Config struct {
	Environment string
	HTTPListen  string
	LogFile     string
	Debug       bool

	ChargeReqKey         string
	AccountValidationKey string
	AccessTokenSecret    string

	AutoWithdrawalEnabled bool
	SettlementDelayHours  int
	MaxWalletBalance      decimal.Decimal

	DatabaseURL string

	KafkaBootstrapServers []string
	KafkaGroupID          string
	KafkaAutoOffsetReset  string
	KafkaEnableAutoCommit bool

	GRPCTicketSvcTarget string
	GRPCUserSvcTarget   string

	PaystackURL                string
	PaystackSecretKey          string
	PaystackTicketCallbackURL  string
	PaystackDepositCallbackURL string

	OTLPEndpoint string

	WorkerPollInterval time.Duration
	WorkerBatchSize    int
}

type loader struct {
	lookup func(string) string
	errs   []string
}

func (l *loader) str(key, fallback string) string {
	value := strings.TrimSpace(l.lookup(key))
	if value == "" {
		return fallback
	}
	return value
}

func (l *loader) boolean(key string, fallback bool) bool {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "0", "false", "FALSE", "False":
		return false
	case "1", "true", "TRUE", "True":
		return true
	}
	l.errs = append(l.errs, fmt.Sprintf("%s: cannot parse %q as bool", key, raw))
	return fallback
}

func (l *loader) integer(key string, fallback int) int {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: cannot parse %q as int", key, raw))
		return fallback
	}
	return parsed
}

func (l *loader) dec(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: cannot parse %q as decimal", key, raw))
		return fallback
	}
	return parsed
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: cannot parse %q as duration", key, raw))
		return fallback
	}
	return parsed
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(lookup func(string) string) (*Config, error) {
	l := &loader{lookup: lookup}
	cfg := &Config{
		Environment: l.str("ENVIRONMENT", "development"),
		HTTPListen:  l.str("HTTP_LISTEN", ":8080"),
		LogFile:     l.str("LOG_FILE", ""),
		Debug:       l.boolean("DEBUG", false),

		ChargeReqKey:         l.str("CHARGE_REQ_KEY", ""),
		AccountValidationKey: l.str("ACCOUNT_VALIDATION_KEY", ""),
		AccessTokenSecret:    l.str("ACCESS_TOKEN_SECRET", ""),

		AutoWithdrawalEnabled: l.boolean("AUTO_WITHDRAWAL_ENABLED", false),
		SettlementDelayHours:  l.integer("SETTLEMENT_DELAY_HOURS", 0),
		MaxWalletBalance:      l.dec("MAX_WALLET_BALANCE", decimal.Zero),

		DatabaseURL: l.str("DATABASE_URL", ""),

		KafkaBootstrapServers: splitList(l.str("KAFKA_BOOTSTRAP_SERVERS", "")),
		KafkaGroupID:          l.str("KAFKA_GROUP_ID", "ticketpay-settlement"),
		KafkaAutoOffsetReset:  l.str("KAFKA_AUTO_OFFSET_RESET", "earliest"),
		KafkaEnableAutoCommit: l.boolean("KAFKA_ENABLE_AUTO_COMMIT", false),

		GRPCTicketSvcTarget: l.str("GRPC_TICKET_SVC_TARGET", "localhost:50051"),
		GRPCUserSvcTarget:   l.str("GRPC_USER_SVC_TARGET", "localhost:50052"),

		PaystackURL:                l.str("PAYSTACK_URL", "https://api.paystack.co"),
		PaystackSecretKey:          l.str("PAYSTACK_SECRET_KEY", ""),
		PaystackTicketCallbackURL:  l.str("PAYSTACK_TICKET_CALLBACK_URL", ""),
		PaystackDepositCallbackURL: l.str("PAYSTACK_DEPOSIT_CALLBACK_URL", ""),

		OTLPEndpoint: l.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		WorkerPollInterval: l.duration("WORKER_POLL_INTERVAL", 60*time.Second),
		WorkerBatchSize:    l.integer("WORKER_BATCH_SIZE", 20),
	}
	if cfg.SettlementDelayHours < 0 {
		l.errs = append(l.errs, "SETTLEMENT_DELAY_HOURS: must not be negative")
	}
	if reset := cfg.KafkaAutoOffsetReset; reset != "earliest" && reset != "latest" {
		l.errs = append(l.errs, fmt.Sprintf("KAFKA_AUTO_OFFSET_RESET: %q is not earliest or latest", reset))
	}
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(l.errs, "; "))
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SettlementDelay converts the configured delay hours into a duration.
func (c *Config) SettlementDelay() time.Duration {
	return time.Duration(c.SettlementDelayHours) * time.Hour
}

func requireAll(pairs map[string]string) error {
	var missing []string
	for key, value := range pairs {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireAPI validates the keys the HTTP daemon cannot run without.
func (c *Config) RequireAPI() error {
	return requireAll(map[string]string{
		"CHARGE_REQ_KEY":          c.ChargeReqKey,
		"ACCOUNT_VALIDATION_KEY":  c.AccountValidationKey,
		"DATABASE_URL":            c.DatabaseURL,
		"PAYSTACK_SECRET_KEY":     c.PaystackSecretKey,
		"KAFKA_BOOTSTRAP_SERVERS": strings.Join(c.KafkaBootstrapServers, ","),
	})
}

// RequireSettlement validates the keys the settlement daemon cannot run
// without.
func (c *Config) RequireSettlement() error {
	return requireAll(map[string]string{
		"DATABASE_URL":            c.DatabaseURL,
		"KAFKA_BOOTSTRAP_SERVERS": strings.Join(c.KafkaBootstrapServers, ","),
		"PAYSTACK_SECRET_KEY":     c.PaystackSecretKey,
	})
}
