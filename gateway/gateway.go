// Package gateway is the HTTP surface of the settlement engine: the chi
// router, auth/rate-limit/observability middleware, the JSON handlers over
// the checkout and withdrawal use cases, the wallet endpoints, and the
// provider webhook.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/checkout"
	"ticketpay/core/events"
	"ticketpay/core/transaction"
	"ticketpay/paystack"
	"ticketpay/withdrawal"
)

// CheckoutService is the money-in use-case surface the gateway exposes.
type CheckoutService interface {
	TicketPurchaseCharge(ctx context.Context, userID, ticketTypeID, slug string) (*checkout.Quote, error)
	InstantWithdrawalCharge(ctx context.Context, userID string, amount decimal.Decimal) (*checkout.Quote, error)
	CreateTicketCheckout(ctx context.Context, userID string, req checkout.TicketCheckoutRequest) (string, error)
	CreateDepositCheckout(ctx context.Context, userID string, req checkout.DepositCheckoutRequest) (string, error)
	VerifyTicketPurchase(ctx context.Context, userID, reference string) (*transaction.Transaction, error)
	VerifyDeposit(ctx context.Context, userID, reference string) (*transaction.Transaction, error)
}

// WithdrawalService is the money-out use-case surface the gateway exposes.
type WithdrawalService interface {
	SubmitWithdrawal(ctx context.Context, userID string, req withdrawal.SubmitRequest) (*transaction.Transaction, error)
}

// Provider is the slice of the payment adapter wallet endpoints call directly.
type Provider interface {
	ListBanks(ctx context.Context) ([]paystack.Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystack.ResolvedAccount, error)
}

// Publisher pushes webhook-translated events onto the bus.
type Publisher interface {
	PublishAll(ctx context.Context, evts []events.Event) error
}

// Config carries the gateway-relevant settings.
type Config struct {
	AccountValidationKey string
	AccessTokenSecret    string
	PaystackSecretKey    string
	RateLimits           map[string]RateLimit
}

// Server holds the gateway's collaborators and builds the router.
type Server struct {
	db         *gorm.DB
	checkout   CheckoutService
	withdrawal WithdrawalService
	provider   Provider
	publisher  Publisher
	cfg        Config
	logger     *slog.Logger

	auth    *Authenticator
	limiter *RateLimiter
	obs     *Observability
}

// NewServer wires a gateway over the use-case services.
func NewServer(db *gorm.DB, co CheckoutService, wd WithdrawalService, provider Provider, publisher Publisher, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:         db,
		checkout:   co,
		withdrawal: wd,
		provider:   provider,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		auth:       NewAuthenticator(cfg.AccessTokenSecret),
		limiter:    NewRateLimiter(cfg.RateLimits),
		obs:        NewObservability(logger),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	// The webhook authenticates by body signature, not session.
	r.Route("/v1/webhook", func(r chi.Router) {
		r.Use(s.obs.Middleware("webhook"))
		r.Post("/paystack", s.handlePaystackWebhook)
	})

	r.Route("/v1/charges", func(r chi.Router) {
		r.Use(s.obs.Middleware("charges"), s.limiter.Middleware("charges"), s.auth.Middleware)
		r.Get("/ticket-purchase", s.handleTicketPurchaseCharge)
		r.Get("/instant-withdrawal", s.handleInstantWithdrawalCharge)
	})

	r.Route("/v1/checkout", func(r chi.Router) {
		r.Use(s.obs.Middleware("checkout"), s.limiter.Middleware("checkout"), s.auth.Middleware)
		r.Post("/ticket-purchase", s.handleCreateTicketCheckout)
		r.Post("/verify-ticket-purchase", s.handleVerifyTicketPurchase)
		r.Post("/attendee-deposit", s.handleCreateDepositCheckout)
		r.Post("/verify-deposit", s.handleVerifyDeposit)
	})

	r.Route("/v1/wallet", func(r chi.Router) {
		r.Use(s.obs.Middleware("wallet"), s.limiter.Middleware("wallet"), s.auth.Middleware)
		r.Get("/balance", s.handleWalletBalance)
		r.Get("/transactions", s.handleWalletTransactions)
		r.Get("/banks", s.handleListBanks)
		r.Get("/resolve-personal-account", s.handleResolveAccount)
		r.Post("/update-transaction-pin", s.handleUpdatePin)
		r.Post("/update-bank", s.handleUpdateBank)
		r.Post("/withdraw", s.handleWithdraw)
	})

	return r
}
