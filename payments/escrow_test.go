package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/ledger"
	store "taskblitz-backend/storage/marketplace"
)

func testEngine(t *testing.T) (*EscrowEngine, *fakeLedger, store.Store) {
	t.Helper()
	fl := newFakeLedger()
	st := store.NewMemoryStore()
	t.Cleanup(st.Close)
	engine := NewEscrowEngine(fl, st, EscrowConfig{
		FeeRate:        decimal.RequireFromString("0.10"),
		EscrowWallet:   "escrow-wallet",
		PlatformWallet: "platform-wallet",
		Currency:       "USDC",
		TokenDecimals:  6,
	})
	return engine, fl, st
}

func TestEscrowAmount(t *testing.T) {
	engine, _, _ := testEngine(t)

	got := engine.EscrowAmount(decimal.RequireFromString("0.50"), 100)
	want := decimal.RequireFromString("55.00")
	if !got.Equal(want) {
		t.Fatalf("EscrowAmount(0.50, 100) = %s, want %s", got, want)
	}
}

func TestLockEscrow(t *testing.T) {
	engine, fl, st := testEngine(t)
	task := core.Task{
		ID:              "task-1",
		RequesterWallet: "requester-wallet",
		EscrowAmount:    decimal.RequireFromString("55.00"),
		CreatedAt:       time.Now(),
	}

	t.Run("insufficient balance", func(t *testing.T) {
		fl.balances["requester-wallet"] = decimal.RequireFromString("54.99")
		if err := engine.LockEscrow(context.Background(), task); !errors.Is(err, core.ErrInsufficientFunds) {
			t.Fatalf("LockEscrow = %v, want ErrInsufficientFunds", err)
		}
		if len(fl.transfers) != 0 {
			t.Fatalf("transfer issued despite insufficient balance")
		}
	})

	t.Run("locks and records deposit", func(t *testing.T) {
		fl.balances["requester-wallet"] = decimal.RequireFromString("100")
		if err := engine.LockEscrow(context.Background(), task); err != nil {
			t.Fatalf("LockEscrow: %v", err)
		}
		if len(fl.transfers) != 1 {
			t.Fatalf("got %d transfers, want 1", len(fl.transfers))
		}
		tr := fl.transfers[0]
		if tr.Source != "requester-wallet" || tr.Destination != "escrow-wallet" {
			t.Fatalf("transfer %s -> %s, want requester-wallet -> escrow-wallet", tr.Source, tr.Destination)
		}
		if !tr.Amount.Equal(task.EscrowAmount) {
			t.Fatalf("transfer amount %s, want %s", tr.Amount, task.EscrowAmount)
		}

		txs, err := st.ListTransactions(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("ListTransactions: %v", err)
		}
		if len(txs) != 1 || txs[0].Type != core.TransactionDeposit {
			t.Fatalf("got %d transactions (first type %v), want one deposit", len(txs), txs[0].Type)
		}
		if txs[0].Status != core.TransactionCompleted {
			t.Fatalf("deposit status %v, want completed", txs[0].Status)
		}
		if txs[0].Reference == "" {
			t.Fatalf("completed deposit carries no ledger signature")
		}
	})
}

func TestSettlementRecordsFailedTransfer(t *testing.T) {
	engine, fl, st := testEngine(t)
	fl.balances["requester-wallet"] = decimal.RequireFromString("100")
	fl.transferErr = func(ledger.TransferRequest) error {
		return errors.New("ledger unavailable")
	}
	task := core.Task{
		ID:              "task-1",
		RequesterWallet: "requester-wallet",
		EscrowAmount:    decimal.RequireFromString("55.00"),
		CreatedAt:       time.Now(),
	}

	if err := engine.LockEscrow(context.Background(), task); err == nil {
		t.Fatal("LockEscrow succeeded with the ledger down")
	}

	txs, err := st.ListTransactions(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want the failed deposit row", len(txs))
	}
	if txs[0].Status != core.TransactionFailed || txs[0].Reference != "" {
		t.Fatalf("failed deposit recorded as %v/%q, want failed with no signature", txs[0].Status, txs[0].Reference)
	}

	// Ledger recovers; the retry settles and the audit trail keeps both rows.
	fl.transferErr = nil
	if err := engine.LockEscrow(context.Background(), task); err != nil {
		t.Fatalf("retry LockEscrow: %v", err)
	}
	txs, _ = st.ListTransactions(context.Background(), "task-1")
	if len(txs) != 2 {
		t.Fatalf("got %d transactions after retry, want failed plus completed", len(txs))
	}
	statuses := map[core.TransactionStatus]int{}
	for _, tx := range txs {
		statuses[tx.Status]++
	}
	if statuses[core.TransactionFailed] != 1 || statuses[core.TransactionCompleted] != 1 {
		t.Fatalf("statuses %v, want one failed and one completed", statuses)
	}
}

func TestReleaseToWorker(t *testing.T) {
	engine, fl, st := testEngine(t)
	task := core.Task{
		ID:               "task-1",
		PaymentPerWorker: decimal.RequireFromString("0.50"),
	}
	sub := core.Submission{ID: "sub-1", TaskID: "task-1", WorkerWallet: "worker-wallet"}

	if err := engine.ReleaseToWorker(context.Background(), task, sub); err != nil {
		t.Fatalf("ReleaseToWorker: %v", err)
	}

	if len(fl.transfers) != 2 {
		t.Fatalf("got %d transfers, want worker payment plus platform fee", len(fl.transfers))
	}
	pay, fee := fl.transfers[0], fl.transfers[1]
	if pay.Destination != "worker-wallet" || !pay.Amount.Equal(decimal.RequireFromString("0.45")) {
		t.Fatalf("worker payment %s to %s, want 0.45 to worker-wallet", pay.Amount, pay.Destination)
	}
	if fee.Destination != "platform-wallet" || !fee.Amount.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("platform fee %s to %s, want 0.05 to platform-wallet", fee.Amount, fee.Destination)
	}

	txs, err := st.ListTransactions(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want payment and fee rows", len(txs))
	}
}

func TestRefundEscrow(t *testing.T) {
	engine, fl, _ := testEngine(t)

	t.Run("refuses completed task", func(t *testing.T) {
		task := core.Task{ID: "task-1", Status: core.TaskCompleted}
		if err := engine.RefundEscrow(context.Background(), task); !errors.Is(err, core.ErrInvalidState) {
			t.Fatalf("RefundEscrow on completed task = %v, want ErrInvalidState", err)
		}
	})

	t.Run("refunds unspent escrow", func(t *testing.T) {
		task := core.Task{
			ID:               "task-2",
			Status:           core.TaskCancelled,
			RequesterWallet:  "requester-wallet",
			PaymentPerWorker: decimal.RequireFromString("0.50"),
			WorkersNeeded:    100,
			WorkersCompleted: 40,
			EscrowAmount:     decimal.RequireFromString("55.00"),
		}
		if err := engine.RefundEscrow(context.Background(), task); err != nil {
			t.Fatalf("RefundEscrow: %v", err)
		}
		if len(fl.transfers) != 1 {
			t.Fatalf("got %d transfers, want 1", len(fl.transfers))
		}
		// 55.00 - 40 x 0.50 x 1.10 = 33.00
		want := decimal.RequireFromString("33.00")
		if !fl.transfers[0].Amount.Equal(want) {
			t.Fatalf("refund %s, want %s", fl.transfers[0].Amount, want)
		}
		if fl.transfers[0].Destination != "requester-wallet" {
			t.Fatalf("refund went to %s, want requester-wallet", fl.transfers[0].Destination)
		}
	})

	t.Run("skips fully consumed escrow", func(t *testing.T) {
		before := len(fl.transfers)
		task := core.Task{
			ID:               "task-3",
			Status:           core.TaskCancelled,
			PaymentPerWorker: decimal.RequireFromString("0.50"),
			WorkersNeeded:    100,
			WorkersCompleted: 100,
			EscrowAmount:     decimal.RequireFromString("55.00"),
		}
		if err := engine.RefundEscrow(context.Background(), task); err != nil {
			t.Fatalf("RefundEscrow: %v", err)
		}
		if len(fl.transfers) != before {
			t.Fatalf("refund transfer issued for fully consumed escrow")
		}
	})
}
