// Package paystack is the HTTP port to the payment provider: checkout link
// creation, transaction verification, bank lookups, transfer recipients and
// transfer dispatch, plus the webhook payload shapes and their signature
// check.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticketpay/core/money"
)

const maxResponseBody = 1 << 20

// ErrTransactionNotSuccessful indicates the provider transaction did not
// complete.
var ErrTransactionNotSuccessful = errors.New("paystack: transaction not successful")

// Client calls the provider API with bearer authentication.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient builds a provider client. The default timeout is 15 seconds.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paystack: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("paystack: read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("paystack: decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return fmt.Errorf("paystack: %s %s: %d %s", method, path, resp.StatusCode, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("paystack: decode data: %w", err)
		}
	}
	return nil
}

// InitializeRequest describes a checkout link to create. Amount is in major
// units; the wire carries kobo. Metadata is JSON-string-encoded the way the
// provider echoes it back on verification.
type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal
	Reference   string
	CallbackURL string
	Metadata    any
}

type initializeWire struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Initialize creates a checkout link and returns the authorization URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	wire := initializeWire{
		Email:       req.Email,
		Amount:      money.ToMinorUnits(req.Amount),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	}
	if req.Metadata != nil {
		encoded, err := json.Marshal(req.Metadata)
		if err != nil {
			return "", fmt.Errorf("paystack: encode metadata: %w", err)
		}
		wire.Metadata = string(encoded)
	}
	var data initializeData
	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", wire, &data); err != nil {
		return "", err
	}
	return data.AuthorizationURL, nil
}

// ProviderTransaction is the verified shape of a provider transaction with
// the amount converted back to major units and the metadata decoded.
type ProviderTransaction struct {
	Reference string
	Amount    decimal.Decimal
	Status    string
	PaidAt    string
	Metadata  map[string]any
}

type verifyData struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Status    string          `json:"status"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// VerifyTransaction fetches a provider transaction by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*ProviderTransaction, error) {
	var data verifyData
	if err := c.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	metadata, err := decodeMetadata(data.Metadata)
	if err != nil {
		return nil, err
	}
	return &ProviderTransaction{
		Reference: data.Reference,
		Amount:    money.FromMinorUnits(data.Amount),
		Status:    data.Status,
		PaidAt:    data.PaidAt,
		Metadata:  metadata,
	}, nil
}

// ValidTransaction verifies reference and additionally requires the provider
// status to be success.
func (c *Client) ValidTransaction(ctx context.Context, reference string) (*ProviderTransaction, error) {
	txn, err := c.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != "success" {
		return nil, fmt.Errorf("%w: status %s", ErrTransactionNotSuccessful, txn.Status)
	}
	return txn, nil
}

// decodeMetadata accepts the metadata field as an object, a JSON-encoded
// string (the shape Initialize sends), or null. Numbers decode as
// json.Number so signed payloads survive the round trip intact.
func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("paystack: decode metadata string: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var metadata map[string]any
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("paystack: decode metadata: %w", err)
	}
	return metadata, nil
}

// Bank is one entry of the provider's bank list.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Slug string `json:"slug"`
}

// ListBanks returns the Nigerian bank directory.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	if err := c.call(ctx, http.MethodGet, "/bank?country=nigeria&perPage=100", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

// ResolvedAccount is the provider's view of a bank account.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// ResolveAccount looks up the account name behind a number and bank code.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	path := fmt.Sprintf("/bank/resolve?account_number=%s&bank_code=%s",
		url.QueryEscape(accountNumber), url.QueryEscape(bankCode))
	var account ResolvedAccount
	if err := c.call(ctx, http.MethodGet, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

type recipientWire struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

// CreateRecipient registers a transfer recipient and returns its code.
func (c *Client) CreateRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	wire := recipientWire{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}
	var data recipientData
	if err := c.call(ctx, http.MethodPost, "/transferrecipient", wire, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

type transferWire struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type transferData struct {
	Status       string `json:"status"`
	TransferCode string `json:"transfer_code"`
}

// Transfer dispatches amount (major units) to a recipient from the platform
// balance and returns the provider transfer status.
func (c *Client) Transfer(ctx context.Context, amount decimal.Decimal, recipientCode, reference, reason string) (string, error) {
	wire := transferWire{
		Source:    "balance",
		Amount:    money.ToMinorUnits(amount),
		Recipient: recipientCode,
		Reference: reference,
		Reason:    reason,
	}
	var data transferData
	if err := c.call(ctx, http.MethodPost, "/transfer", wire, &data); err != nil {
		return "", err
	}
	return data.Status, nil
}
