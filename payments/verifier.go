// Package payments implements the escrow settlement engine and the on-chain
// payment verifier. Both operate over the external ledger gateway; neither
// holds mutable state, so they are safe for concurrent use.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"taskblitz-backend/ledger"
)

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

// Verification failure modes. Each maps to a 402-equivalent rejection; a proof
// is admitted only when every check passes.
var (
	ErrTransactionNotFound = Err("payment transaction not found on ledger")
	ErrTransactionFailed   = Err("payment transaction failed on ledger")
	ErrRecipientMismatch   = Err("payment recipient does not match expected address")
	ErrAmountMismatch      = Err("payment amount outside accepted tolerance")
	ErrStaleProof          = Err("payment transaction is too old")
)

// Ledger is the subset of the ledger gateway the payment engine needs.
type Ledger interface {
	GetBalance(ctx context.Context, address string) (ledger.Balance, error)
	GetTransaction(ctx context.Context, signature string) (ledger.Transaction, error)
	Transfer(ctx context.Context, tr ledger.TransferRequest) (ledger.TransferResult, error)
}

// Proof carries the caller-supplied payment evidence from the retry call.
// ClientTimestamp is informational only; verification trusts the ledger's own
// block time.
type Proof struct {
	Signature       string
	ClaimedAmount   decimal.Decimal
	ClientTimestamp string
	Scheme          string
}

// Verifier checks payment proofs against the ledger. It is a pure function
// over ledger lookups; concurrent verifications share nothing mutable.
type Verifier struct {
	ledger    Ledger
	tolerance decimal.Decimal // fraction of the required amount, e.g. 0.01
	floor     decimal.Decimal // minimum absolute tolerance
	maxAge    time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier with the protocol defaults: amount deltas
// within 1% of the required amount or one cent, whichever is larger (absorbs
// network fee rounding), and a 5 minute proof lifetime.
func NewVerifier(l Ledger) *Verifier {
	return &Verifier{
		ledger:    l,
		tolerance: decimal.NewFromFloat(0.01),
		floor:     decimal.NewFromFloat(0.01),
		maxAge:    5 * time.Minute,
		now:       time.Now,
	}
}

// Verify validates a proof against the required amount and recipient. All five
// checks must pass; any single failure rejects the proof outright. Ledger
// lookup errors are returned wrapped and are safe to retry: no funds move
// until verification succeeds.
func (v *Verifier) Verify(ctx context.Context, proof Proof, required decimal.Decimal, recipient string) error {
	tx, err := v.ledger.GetTransaction(ctx, proof.Signature)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("ledger lookup: %w", err)
	}

	if tx.Status == ledger.TxFailed {
		return ErrTransactionFailed
	}

	credited := tx.CreditedTo(recipient)
	if credited.IsZero() {
		return ErrRecipientMismatch
	}

	// Accept deltas within the tolerance of the required amount.
	allowed := required.Mul(v.tolerance)
	if allowed.LessThan(v.floor) {
		allowed = v.floor
	}
	delta := credited.Sub(required).Abs()
	if delta.GreaterThan(allowed) {
		return ErrAmountMismatch
	}

	// A pending transaction has no block time yet and fails here too.
	if tx.BlockTime.IsZero() || v.now().Sub(tx.BlockTime) > v.maxAge {
		return ErrStaleProof
	}

	return nil
}
