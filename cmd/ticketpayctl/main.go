// ticketpayctl is the operator tool for the settlement engine: resolving
// manual withdrawals, seeding the charge schedules, and inspecting a user's
// ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ticketpay/bus"
	"ticketpay/config"
	"ticketpay/core/charge"
	"ticketpay/core/transaction"
	"ticketpay/observability/logging"
	"ticketpay/paystack"
	"ticketpay/storage"
	"ticketpay/withdrawal"
)

const (
	updateStatusCommand = "update-status"
	seedChargesCommand  = "seed-charges"
	listTxnsCommand     = "list-transactions"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case updateStatusCommand:
		runUpdateStatus(os.Args[2:])
	case seedChargesCommand:
		runSeedCharges(os.Args[2:])
	case listTxnsCommand:
		runListTransactions(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ticketpayctl <command> [flags]

Commands:
  %s    resolve a manual withdrawal as completed or failed
  %s     seed the default charge schedules into an empty database
  %s  print one page of a user's ledger
`, updateStatusCommand, seedChargesCommand, listTxnsCommand)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func openDB(cfg *config.Config) *gorm.DB {
	if cfg.DatabaseURL == "" {
		fatal(fmt.Errorf("DATABASE_URL is required"))
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fatal(fmt.Errorf("open database: %w", err))
	}
	return db
}

func runUpdateStatus(args []string) {
	fs := flag.NewFlagSet(updateStatusCommand, flag.ExitOnError)
	reference := fs.String("reference", "", "withdrawal transaction reference")
	status := fs.String("status", "", "target status: completed or failed")
	reason := fs.String("reason", "", "failure reason shown to the user (failed only)")
	fs.Parse(args)
	if *reference == "" || *status == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	logger := logging.Setup("ticketpayctl", cfg.Environment, "")
	db := openDB(cfg)
	publisher := bus.NewPublisher(cfg.KafkaBootstrapServers, logger)
	defer publisher.Close()
	provider := paystack.NewClient(cfg.PaystackURL, cfg.PaystackSecretKey)

	svc := withdrawal.NewService(db, provider, publisher, withdrawal.Config{
		ChargeReqKey:          cfg.ChargeReqKey,
		AutoWithdrawalEnabled: cfg.AutoWithdrawalEnabled,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.UpdateTransactionStatus(ctx, *reference, transaction.Status(*status), *reason); err != nil {
		fatal(err)
	}
	fmt.Printf("withdrawal %s marked %s\n", *reference, *status)
}

// seedSchedule is one fee schedule to create, either from the built-in
// defaults or a YAML seed file.
type seedSchedule struct {
	Name       string     `yaml:"name"`
	ChargeType string     `yaml:"charge_type"`
	Tiers      []seedTier `yaml:"tiers"`
}

type seedTier struct {
	TierName       string  `yaml:"tier_name"`
	MinPrice       string  `yaml:"min_price"`
	MaxPrice       *string `yaml:"max_price"`
	PercentageRate string  `yaml:"percentage_rate"`
	MinCharge      *string `yaml:"min_charge"`
	MaxCharge      *string `yaml:"max_charge"`
}

// defaultSeeds is the initial charge configuration: 5% on ticket purchases,
// 2% on instant withdrawals, flat from zero.
func defaultSeeds() []seedSchedule {
	return []seedSchedule{
		{
			Name:       "Ticket purchase fee",
			ChargeType: charge.TypeTicketPurchase,
			Tiers:      []seedTier{{MinPrice: "0", PercentageRate: "5"}},
		},
		{
			Name:       "Instant withdrawal fee",
			ChargeType: charge.TypeInstantWithdrawal,
			Tiers:      []seedTier{{MinPrice: "0", PercentageRate: "2"}},
		},
	}
}

func loadSeeds(path string) ([]seedSchedule, error) {
	if path == "" {
		return defaultSeeds(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var file struct {
		Schedules []seedSchedule `yaml:"schedules"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Schedules) == 0 {
		return nil, fmt.Errorf("seed file %s has no schedules", path)
	}
	return file.Schedules, nil
}

func (t seedTier) tier() (charge.Tier, error) {
	parse := func(raw string) (decimal.Decimal, error) {
		return decimal.NewFromString(raw)
	}
	parseOpt := func(raw *string) (*decimal.Decimal, error) {
		if raw == nil {
			return nil, nil
		}
		value, err := parse(*raw)
		if err != nil {
			return nil, err
		}
		return &value, nil
	}
	minPrice, err := parse(t.MinPrice)
	if err != nil {
		return charge.Tier{}, fmt.Errorf("min_price: %w", err)
	}
	rate, err := parse(t.PercentageRate)
	if err != nil {
		return charge.Tier{}, fmt.Errorf("percentage_rate: %w", err)
	}
	maxPrice, err := parseOpt(t.MaxPrice)
	if err != nil {
		return charge.Tier{}, fmt.Errorf("max_price: %w", err)
	}
	minCharge, err := parseOpt(t.MinCharge)
	if err != nil {
		return charge.Tier{}, fmt.Errorf("min_charge: %w", err)
	}
	maxCharge, err := parseOpt(t.MaxCharge)
	if err != nil {
		return charge.Tier{}, fmt.Errorf("max_charge: %w", err)
	}
	return charge.Tier{
		TierName:       t.TierName,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
		PercentageRate: rate,
		MinCharge:      minCharge,
		MaxCharge:      maxCharge,
	}, nil
}

func runSeedCharges(args []string) {
	fs := flag.NewFlagSet(seedChargesCommand, flag.ExitOnError)
	createdBy := fs.String("created-by", "ticketpayctl", "author recorded on the seeded versions")
	seedFile := fs.String("file", "", "optional YAML schedule file; defaults to the built-in seeds")
	fs.Parse(args)

	seeds, err := loadSeeds(*seedFile)
	if err != nil {
		fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	db := openDB(cfg)
	if err := storage.AutoMigrate(db); err != nil {
		fatal(err)
	}

	existing, err := storage.SettingsAll(db)
	if err != nil {
		fatal(err)
	}
	if len(existing) > 0 {
		fatal(fmt.Errorf("charge_settings already has %d rows; refusing to seed", len(existing)))
	}

	for _, seed := range seeds {
		tiers := make([]charge.Tier, 0, len(seed.Tiers))
		for i, raw := range seed.Tiers {
			tier, err := raw.tier()
			if err != nil {
				fatal(fmt.Errorf("%s tier %d: %w", seed.ChargeType, i, err))
			}
			tiers = append(tiers, tier)
		}
		setting := &charge.Setting{
			ChargeSettingID: uuid.New(),
			Name:            seed.Name,
			ChargeType:      seed.ChargeType,
			IsActive:        true,
			CreatedAt:       time.Now().UTC(),
		}
		if err := storage.SaveSetting(db, setting); err != nil {
			fatal(err)
		}
		version := &charge.Version{
			ChargeSettingID: setting.ChargeSettingID,
			Tiers:           tiers,
			EffectiveFrom:   time.Now().UTC(),
			CreatedBy:       *createdBy,
			ChangeReason:    "initial seed",
		}
		if err := storage.AddVersion(db, version); err != nil {
			fatal(err)
		}
		fmt.Printf("seeded %s (%d tiers)\n", seed.ChargeType, len(tiers))
	}
}

func runListTransactions(args []string) {
	fs := flag.NewFlagSet(listTxnsCommand, flag.ExitOnError)
	user := fs.String("user", "", "user id to list")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 20, "rows per page")
	fs.Parse(args)
	if *user == "" {
		fs.Usage()
		os.Exit(1)
	}
	if *page < 1 {
		*page = 1
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	db := openDB(cfg)

	txns, total, err := storage.TransactionsByUser(db, *user, (*page-1)**pageSize, *pageSize)
	if err != nil {
		fatal(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tTYPE\tDIRECTION\tAMOUNT\tSTATUS\tDATE")
	for _, txn := range txns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			txn.Reference, txn.Type, txn.Direction,
			txn.Amount.StringFixed(2), txn.Status,
			txn.OccurredOn.Format(time.RFC3339),
		)
	}
	w.Flush()
	fmt.Printf("%d of %d transactions (page %d)\n", len(txns), total, *page)
}
