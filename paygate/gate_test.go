package paygate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taskblitz-backend/ledger"
	"taskblitz-backend/payments"
)

type fakeLedger struct {
	txs map[string]ledger.Transaction
}

func (f *fakeLedger) GetBalance(_ context.Context, address string) (ledger.Balance, error) {
	return ledger.Balance{Address: address}, nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, signature string) (ledger.Transaction, error) {
	tx, ok := f.txs[signature]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeLedger) Transfer(_ context.Context, _ ledger.TransferRequest) (ledger.TransferResult, error) {
	return ledger.TransferResult{}, nil
}

func testGate(fl *fakeLedger) *Gate {
	return NewGate(payments.NewVerifier(fl), Config{
		Recipient: "treasury",
		Currency:  "USDC",
		Network:   "devnet",
		Prices: map[string]decimal.Decimal{
			"POST /api/tasks": decimal.RequireFromString("0.10"),
		},
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareChallenge(t *testing.T) {
	gate := testGate(&fakeLedger{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)

	gate.Middleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status %d, want 402", rec.Code)
	}
	if rec.Header().Get(HeaderPaymentRequired) != "true" {
		t.Fatalf("missing %s header", HeaderPaymentRequired)
	}
	if rec.Header().Get(HeaderPaymentAmount) != "0.10" {
		t.Fatalf("amount header %q, want 0.10", rec.Header().Get(HeaderPaymentAmount))
	}
	if rec.Header().Get(HeaderPaymentRecipient) != "treasury" {
		t.Fatalf("recipient header %q, want treasury", rec.Header().Get(HeaderPaymentRecipient))
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate challenge")
	}

	var body struct {
		Payment map[string]string `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Payment["recipient"] != "treasury" || body.Payment["endpoint"] != "/api/tasks" {
		t.Fatalf("challenge payment block %+v", body.Payment)
	}
	if body.Payment["currency"] != "USDC" || body.Payment["network"] != "devnet" {
		t.Fatalf("challenge payment block %+v", body.Payment)
	}
}

func TestMiddlewareAcceptsValidProof(t *testing.T) {
	fl := &fakeLedger{txs: map[string]ledger.Transaction{
		"paid-tx": {
			Signature: "paid-tx",
			Status:    ledger.TxConfirmed,
			BlockTime: time.Now().Add(-time.Minute),
			Transfers: []ledger.TransferLeg{{Destination: "treasury", Amount: decimal.RequireFromString("0.10")}},
		},
	}}
	gate := testGate(fl)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
	req.Header.Set(HeaderPaymentSignature, "paid-tx")
	req.Header.Set(HeaderPaymentAmount, "0.10")
	req.Header.Set(HeaderPaymentProof, "ledger-transfer")

	gate.Middleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d with valid proof, want 200", rec.Code)
	}
}

func TestMiddlewareRejectsBadProof(t *testing.T) {
	fl := &fakeLedger{txs: map[string]ledger.Transaction{
		"short-tx": {
			Signature: "short-tx",
			Status:    ledger.TxConfirmed,
			BlockTime: time.Now().Add(-time.Minute),
			Transfers: []ledger.TransferLeg{{Destination: "treasury", Amount: decimal.RequireFromString("0.02")}},
		},
	}}
	gate := testGate(fl)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
	req.Header.Set(HeaderPaymentSignature, "short-tx")

	gate.Middleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status %d with underpaid proof, want 402", rec.Code)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Reason == "" {
		t.Fatalf("rejection carries no reason")
	}
}

func TestMiddlewarePassesUnmeteredEndpoints(t *testing.T) {
	gate := testGate(&fakeLedger{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)

	gate.Middleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d on unmetered endpoint, want 200", rec.Code)
	}
}

func TestQRHandler(t *testing.T) {
	gate := testGate(&fakeLedger{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/paygate/qr?endpoint=POST+%2Fapi%2Ftasks", nil)
	gate.QRHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q, want image/png", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("empty PNG body")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/paygate/qr?endpoint=GET+%2Fnope", nil)
	gate.QRHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d for unknown endpoint, want 404", rec.Code)
	}
}
