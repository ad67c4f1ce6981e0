package payments

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/ledger"
	store "taskblitz-backend/storage/marketplace"
)

// EscrowConfig carries the settlement parameters.
type EscrowConfig struct {
	FeeRate        decimal.Decimal // platform fee as a fraction, e.g. 0.10
	EscrowWallet   string          // custody wallet transfers are issued from
	PlatformWallet string          // fee destination
	Currency       string
	TokenDecimals  int32 // decimal places of the token's minimum unit
}

// EscrowEngine computes and executes fund movements for tasks. It never
// releases funds on its own: callers must first win the submission status
// claim in the store, which is the single guard against double settlement.
type EscrowEngine struct {
	ledger Ledger
	store  store.Store
	cfg    EscrowConfig
}

// NewEscrowEngine creates an escrow engine.
func NewEscrowEngine(l Ledger, s store.Store, cfg EscrowConfig) *EscrowEngine {
	return &EscrowEngine{ledger: l, store: s, cfg: cfg}
}

// EscrowAmount computes payment × workers × (1 + fee rate), exactly.
func (e *EscrowEngine) EscrowAmount(paymentPerWorker decimal.Decimal, workersNeeded int) decimal.Decimal {
	workers := decimal.NewFromInt(int64(workersNeeded))
	return paymentPerWorker.Mul(workers).Mul(decimal.NewFromInt(1).Add(e.cfg.FeeRate))
}

// round rounds half-up to the token's minimum unit before a transfer.
func (e *EscrowEngine) round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(e.cfg.TokenDecimals)
}

// settle records a pending settlement row, executes the ledger transfer, and
// promotes the row to completed with the ledger signature. A failed transfer
// promotes the row to failed so the attempt stays auditable.
func (e *EscrowEngine) settle(ctx context.Context, taskID string, typ core.TransactionType, amount decimal.Decimal, req ledger.TransferRequest) error {
	pending := core.Transaction{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      typ,
		Amount:    amount,
		Status:    core.TransactionPending,
		CreatedAt: time.Now(),
	}
	if err := e.store.RecordTransaction(ctx, pending); err != nil {
		return err
	}

	res, err := e.ledger.Transfer(ctx, req)
	if err != nil {
		if perr := e.store.PromoteTransaction(ctx, pending.ID, core.TransactionFailed, ""); perr != nil {
			log.Printf("mark transaction %s failed: %v", pending.ID, perr)
		}
		return err
	}
	return e.store.PromoteTransaction(ctx, pending.ID, core.TransactionCompleted, res.Signature)
}

// LockEscrow verifies the requester can cover the full escrow and records the
// deposit. Called once at task creation; the task stays uncreated when this
// fails.
func (e *EscrowEngine) LockEscrow(ctx context.Context, task core.Task) error {
	bal, err := e.ledger.GetBalance(ctx, task.RequesterWallet)
	if err != nil {
		return fmt.Errorf("check requester balance: %w", err)
	}
	if bal.Amount.LessThan(task.EscrowAmount) {
		return core.ErrInsufficientFunds
	}

	err = e.settle(ctx, task.ID, core.TransactionDeposit, task.EscrowAmount, ledger.TransferRequest{
		Source:      task.RequesterWallet,
		Destination: e.cfg.EscrowWallet,
		Amount:      e.round(task.EscrowAmount),
		Currency:    e.cfg.Currency,
		Memo:        "escrow:" + task.ID,
	})
	if err != nil {
		return fmt.Errorf("lock escrow: %w", err)
	}
	return nil
}

// ReleaseToWorker splits the per-worker payment into the worker share and the
// platform fee, issues both transfers, and records both settlement rows.
// Callers must have already won the pending -> approved claim on the
// submission; a losing caller observes the approved state and never reaches
// this method.
func (e *EscrowEngine) ReleaseToWorker(ctx context.Context, task core.Task, sub core.Submission) error {
	fee := task.PaymentPerWorker.Mul(e.cfg.FeeRate)
	workerPayment := task.PaymentPerWorker.Sub(fee)

	err := e.settle(ctx, task.ID, core.TransactionPayment, workerPayment, ledger.TransferRequest{
		Source:      e.cfg.EscrowWallet,
		Destination: sub.WorkerWallet,
		Amount:      e.round(workerPayment),
		Currency:    e.cfg.Currency,
		Memo:        "payment:" + sub.ID,
	})
	if err != nil {
		return fmt.Errorf("release payment to worker: %w", err)
	}

	err = e.settle(ctx, task.ID, core.TransactionFee, fee, ledger.TransferRequest{
		Source:      e.cfg.EscrowWallet,
		Destination: e.cfg.PlatformWallet,
		Amount:      e.round(fee),
		Currency:    e.cfg.Currency,
		Memo:        "fee:" + sub.ID,
	})
	if err != nil {
		return fmt.Errorf("release platform fee: %w", err)
	}
	return nil
}

// RefundEscrow returns the locked, unspent escrow to the requester. Only legal
// while the task is not completed; each settled worker slot has already
// consumed its payment plus fee.
func (e *EscrowEngine) RefundEscrow(ctx context.Context, task core.Task) error {
	if task.Status == core.TaskCompleted {
		return core.ErrInvalidState
	}

	spentPerWorker := task.PaymentPerWorker.Mul(decimal.NewFromInt(1).Add(e.cfg.FeeRate))
	spent := spentPerWorker.Mul(decimal.NewFromInt(int64(task.WorkersCompleted)))
	refund := task.EscrowAmount.Sub(spent)
	if refund.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	err := e.settle(ctx, task.ID, core.TransactionRefund, refund, ledger.TransferRequest{
		Source:      e.cfg.EscrowWallet,
		Destination: task.RequesterWallet,
		Amount:      e.round(refund),
		Currency:    e.cfg.Currency,
		Memo:        "refund:" + task.ID,
	})
	if err != nil {
		return fmt.Errorf("refund escrow: %w", err)
	}
	return nil
}
