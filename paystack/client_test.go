package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestInitializeSendsMinorUnitsAndStringMetadata(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer sk_test_x", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.example/abc","reference":"ref-1"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_x")
	link, err := client.Initialize(context.Background(), InitializeRequest{
		Email:       "ada@example.com",
		Amount:      decimal.RequireFromString("10500.00"),
		Reference:   "ref-1",
		CallbackURL: "https://app.example/callback",
		Metadata:    map[string]string{"slug": "summer-fest", "user": "u-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example/abc", link)

	require.EqualValues(t, 1050000, captured["amount"])
	metadata, ok := captured["metadata"].(string)
	require.True(t, ok, "metadata must be JSON-string-encoded")
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(metadata), &decoded))
	require.Equal(t, "summer-fest", decoded["slug"])
}

func TestValidTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/ref-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"reference":"ref-9","amount":1050000,"status":"success","paid_at":"2026-03-02T09:00:00.000Z",
			"metadata":"{\"slug\":\"summer-fest\",\"user\":\"u-1\",\"calculated_charge\":\"500.00\"}"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk")
	txn, err := client.ValidTransaction(context.Background(), "ref-9")
	require.NoError(t, err)
	require.Equal(t, "10500.00", txn.Amount.StringFixed(2))
	require.Equal(t, "summer-fest", txn.Metadata["slug"])
	require.Equal(t, "500.00", txn.Metadata["calculated_charge"])
}

func TestValidTransactionRejectsNonSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"reference":"ref-9","amount":100,"status":"abandoned","metadata":null}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk").ValidTransaction(context.Background(), "ref-9")
	require.ErrorIs(t, err, ErrTransactionNotSuccessful)
}

func TestCallSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk").ListBanks(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid key")
}

func TestTransferAndRecipient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferrecipient":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "nuban", body["type"])
			require.Equal(t, "NGN", body["currency"])
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"recipient_code":"RCP_123"}}`))
		case "/transfer":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "balance", body["source"])
			require.EqualValues(t, 100000, body["amount"])
			require.Equal(t, "RCP_123", body["recipient"])
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"pending","transfer_code":"TRF_1"}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk")
	code, err := client.CreateRecipient(context.Background(), "Ada Obi", "0123456789", "011")
	require.NoError(t, err)
	require.Equal(t, "RCP_123", code)

	status, err := client.Transfer(context.Background(), decimal.RequireFromString("1000"), code, "ref-w", "Wallet withdrawal")
	require.NoError(t, err)
	require.Equal(t, "pending", status)
}

func TestResolveAccountAndBanks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bank":
			require.Equal(t, "nigeria", r.URL.Query().Get("country"))
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":[{"name":"First Bank","code":"011","slug":"first-bank"}]}`))
		case "/bank/resolve":
			require.Equal(t, "0123456789", r.URL.Query().Get("account_number"))
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"account_number":"0123456789","account_name":"ADA OBI"}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk")
	banks, err := client.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 1)
	require.Equal(t, "011", banks[0].Code)

	account, err := client.ResolveAccount(context.Background(), "0123456789", "011")
	require.NoError(t, err)
	require.Equal(t, "ADA OBI", account.AccountName)
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"transfer.success","data":{"amount":100000,"reference":"ref-w","status":"success"}}`)
	signature := ComputeSignature("whsec", body)
	require.True(t, VerifySignature("whsec", body, signature))
	require.False(t, VerifySignature("whsec", body, "deadbeef"))
	require.False(t, VerifySignature("other", body, signature))

	var evt Event
	require.NoError(t, json.Unmarshal(body, &evt))
	require.Equal(t, EventTransferSuccess, evt.Event)
	var data TransferData
	require.NoError(t, json.Unmarshal(evt.Data, &data))
	require.EqualValues(t, 100000, data.Amount)
}
