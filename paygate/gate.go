// Package paygate implements the pay-per-call protocol on metered endpoints:
// unpaid requests receive a 402 challenge describing the required payment, and
// retries carrying an on-ledger proof are admitted once the proof verifies.
package paygate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"taskblitz-backend/metrics"
	"taskblitz-backend/payments"
)

// Challenge headers mirrored on every 402 response.
const (
	HeaderPaymentRequired  = "X-Payment-Required"
	HeaderPaymentAmount    = "X-Payment-Amount"
	HeaderPaymentCurrency  = "X-Payment-Currency"
	HeaderPaymentRecipient = "X-Payment-Recipient"
	HeaderPaymentNetwork   = "X-Payment-Network"
)

// Proof headers supplied by the caller on the retry call.
const (
	HeaderPaymentSignature = "X-Payment-Signature"
	HeaderPaymentTimestamp = "X-Payment-Timestamp"
	HeaderPaymentProof     = "X-Payment-Proof"
)

// Config prices the metered endpoints and names the receiving wallet.
type Config struct {
	Recipient string
	Currency  string
	Network   string
	// Prices maps "METHOD /path" to the per-call price. Unlisted endpoints
	// pass through unmetered.
	Prices map[string]decimal.Decimal
}

// Gate verifies pay-per-call proofs in front of metered endpoints. Stateless:
// each request is challenged or verified on its own.
type Gate struct {
	verifier *payments.Verifier
	cfg      Config
}

// NewGate builds the gate.
func NewGate(v *payments.Verifier, cfg Config) *Gate {
	return &Gate{verifier: v, cfg: cfg}
}

// priceFor returns the configured price for a request, if any.
func (g *Gate) priceFor(r *http.Request) (decimal.Decimal, bool) {
	p, ok := g.cfg.Prices[r.Method+" "+r.URL.Path]
	return p, ok
}

// Middleware meters priced endpoints. Requests without a proof receive the 402
// challenge; requests with a proof proceed only when verification passes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		price, metered := g.priceFor(r)
		if !metered {
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(HeaderPaymentSignature)
		if signature == "" {
			metrics.PaymentChallenges.WithLabelValues(r.URL.Path).Inc()
			g.writeChallenge(w, r, price, "")
			return
		}

		claimed, _ := decimal.NewFromString(r.Header.Get(HeaderPaymentAmount))
		proof := payments.Proof{
			Signature:       signature,
			ClaimedAmount:   claimed,
			ClientTimestamp: r.Header.Get(HeaderPaymentTimestamp),
			Scheme:          r.Header.Get(HeaderPaymentProof),
		}
		if err := g.verifier.Verify(r.Context(), proof, price, g.cfg.Recipient); err != nil {
			metrics.PaymentsVerified.WithLabelValues("rejected", rejectionReason(err)).Inc()
			g.writeChallenge(w, r, price, err.Error())
			return
		}

		metrics.PaymentsVerified.WithLabelValues("accepted", "").Inc()
		next.ServeHTTP(w, r)
	})
}

// writeChallenge emits the 402 response: the structured payment body, the
// mirrored X-Payment-* headers, and the WWW-Authenticate challenge line.
func (g *Gate) writeChallenge(w http.ResponseWriter, r *http.Request, price decimal.Decimal, reason string) {
	amount := price.String()
	w.Header().Set(HeaderPaymentRequired, "true")
	w.Header().Set(HeaderPaymentAmount, amount)
	w.Header().Set(HeaderPaymentCurrency, g.cfg.Currency)
	w.Header().Set(HeaderPaymentRecipient, g.cfg.Recipient)
	w.Header().Set(HeaderPaymentNetwork, g.cfg.Network)
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Payment recipient=%q, amount=%q, currency=%q, network=%q",
			g.cfg.Recipient, amount, g.cfg.Currency, g.cfg.Network))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	body := map[string]interface{}{
		"error": "payment required",
		"payment": map[string]string{
			"recipient": g.cfg.Recipient,
			"amount":    amount,
			"currency":  g.cfg.Currency,
			"network":   g.cfg.Network,
			"endpoint":  r.URL.Path,
		},
	}
	if reason != "" {
		body["reason"] = reason
	}
	json.NewEncoder(w).Encode(body)
}

// QRHandler renders a scannable payment QR for a priced endpoint. The encoded
// URI carries the same fields as the 402 challenge.
func (g *Gate) QRHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	price, ok := g.cfg.Prices[endpoint]
	if !ok {
		http.Error(w, "unknown metered endpoint", http.StatusNotFound)
		return
	}

	uri := fmt.Sprintf("taskblitz:pay?recipient=%s&amount=%s&currency=%s&network=%s",
		g.cfg.Recipient, price.String(), g.cfg.Currency, g.cfg.Network)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// rejectionReason maps a verification failure to its metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, payments.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, payments.ErrTransactionFailed):
		return "failed"
	case errors.Is(err, payments.ErrRecipientMismatch):
		return "recipient_mismatch"
	case errors.Is(err, payments.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, payments.ErrStaleProof):
		return "stale"
	default:
		return "ledger_error"
	}
}
