package marketplace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
)

func seedTask(t *testing.T, st *MemoryStore, workers int) core.Task {
	t.Helper()
	task := core.Task{
		ID:               "task-1",
		RequesterID:      "requester-1",
		Title:            "Label images",
		PaymentPerWorker: decimal.RequireFromString("0.50"),
		WorkersNeeded:    workers,
		Status:           core.TaskOpen,
		CreatedAt:        time.Now(),
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestTransitionTaskGuards(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	task := seedTask(t, st, 1)

	ok, err := st.TransitionTask(ctx, task.ID, core.TaskOpen, core.TaskCancelled)
	if err != nil || !ok {
		t.Fatalf("open->cancelled transition: ok=%v err=%v", ok, err)
	}

	// A second transition from open must lose.
	ok, err = st.TransitionTask(ctx, task.ID, core.TaskOpen, core.TaskCompleted)
	if err != nil {
		t.Fatalf("TransitionTask: %v", err)
	}
	if ok {
		t.Fatalf("transition from a stale status succeeded")
	}

	if _, err := st.TransitionTask(ctx, "missing", core.TaskOpen, core.TaskCancelled); err != core.ErrTaskNotFound {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestWorkersCompletedBounds(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	task := seedTask(t, st, 2)

	for i := 1; i <= 2; i++ {
		got, err := st.IncrementWorkersCompleted(ctx, task.ID)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if got.WorkersCompleted != i {
			t.Fatalf("workers_completed = %d after increment %d", got.WorkersCompleted, i)
		}
	}
	if _, err := st.IncrementWorkersCompleted(ctx, task.ID); err != core.ErrTaskFull {
		t.Fatalf("increment past capacity: err = %v, want ErrTaskFull", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := st.DecrementWorkersCompleted(ctx, task.ID); err != nil {
			t.Fatalf("decrement: %v", err)
		}
	}
	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.WorkersCompleted != 0 {
		t.Fatalf("workers_completed = %d, counter must stop at zero", got.WorkersCompleted)
	}
}

func TestDuplicateApplicationAndSubmission(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	task := seedTask(t, st, 1)

	app := core.Application{ID: "app-1", TaskID: task.ID, WorkerID: "worker-1", Status: core.ApplicationPending, CreatedAt: time.Now()}
	if err := st.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	dup := app
	dup.ID = "app-2"
	if err := st.CreateApplication(ctx, dup); err != core.ErrDuplicateApplication {
		t.Fatalf("duplicate application: err = %v, want ErrDuplicateApplication", err)
	}

	sub := core.Submission{ID: "sub-1", TaskID: task.ID, WorkerID: "worker-1", Status: core.SubmissionPending, CreatedAt: time.Now()}
	if err := st.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	dupSub := sub
	dupSub.ID = "sub-2"
	if err := st.CreateSubmission(ctx, dupSub); err != core.ErrAlreadySubmitted {
		t.Fatalf("duplicate submission: err = %v, want ErrAlreadySubmitted", err)
	}

	// The same worker may still submit to a different task.
	other := core.Submission{ID: "sub-3", TaskID: "task-2", WorkerID: "worker-1", Status: core.SubmissionPending, CreatedAt: time.Now()}
	if err := st.CreateSubmission(ctx, other); err != nil {
		t.Fatalf("submission to second task: %v", err)
	}
}

func TestClaimSubmissionReview(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	task := seedTask(t, st, 1)

	sub := core.Submission{ID: "sub-1", TaskID: task.ID, WorkerID: "worker-1", Status: core.SubmissionPending, CreatedAt: time.Now()}
	if err := st.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	ok, err := st.ClaimSubmissionReview(ctx, sub.ID, core.SubmissionPending, core.SubmissionRejected, "low quality")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	got, _ := st.GetSubmission(ctx, sub.ID)
	if got.Status != core.SubmissionRejected || got.RejectionReason != "low quality" || got.ReviewedAt == nil {
		t.Fatalf("submission after claim: %+v", got)
	}

	// Losing claim leaves the record untouched.
	ok, err = st.ClaimSubmissionReview(ctx, sub.ID, core.SubmissionPending, core.SubmissionApproved, "")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("claim from a stale status succeeded")
	}
	got, _ = st.GetSubmission(ctx, sub.ID)
	if got.Status != core.SubmissionRejected {
		t.Fatalf("losing claim mutated the submission: %+v", got)
	}
}

func TestClaimDisputeResolution(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	d := core.Dispute{ID: "disp-1", SubmissionID: "sub-1", Reason: "rejection unjustified", Status: core.DisputeOpen, CreatedAt: time.Now()}
	if err := st.CreateDispute(ctx, d); err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}
	dup := d
	dup.ID = "disp-2"
	if err := st.CreateDispute(ctx, dup); err != core.ErrDuplicateDispute {
		t.Fatalf("duplicate dispute: err = %v, want ErrDuplicateDispute", err)
	}

	ok, err := st.ClaimDisputeResolution(ctx, d.ID, core.DisputeResolvedWorker, "evidence checks out")
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	ok, err = st.ClaimDisputeResolution(ctx, d.ID, core.DisputeDismissed, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if ok {
		t.Fatalf("resolved dispute resolved a second time")
	}

	got, _ := st.GetDispute(ctx, d.ID)
	if got.Status != core.DisputeResolvedWorker || got.ResolutionNotes != "evidence checks out" || got.ResolvedAt == nil {
		t.Fatalf("dispute after resolution: %+v", got)
	}
}

func TestListWebhooksForEventFilters(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	base := time.Now()

	hooks := []core.Webhook{
		{ID: "h-subscribed", Events: []string{core.EventTaskCreated}, Active: true, CreatedAt: base},
		{ID: "h-other-event", Events: []string{core.EventPaymentSent}, Active: true, CreatedAt: base.Add(time.Second)},
		{ID: "h-inactive", Events: []string{core.EventTaskCreated}, Active: false, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, h := range hooks {
		if err := st.CreateWebhook(ctx, h); err != nil {
			t.Fatalf("CreateWebhook %s: %v", h.ID, err)
		}
	}

	got, err := st.ListWebhooksForEvent(ctx, core.EventTaskCreated)
	if err != nil {
		t.Fatalf("ListWebhooksForEvent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "h-subscribed" {
		t.Fatalf("got %+v, want only the active subscribed hook", got)
	}
}

func TestListTasksFilterAndPaging(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	base := time.Now()

	for i, status := range []core.TaskStatus{core.TaskOpen, core.TaskOpen, core.TaskCompleted} {
		task := core.Task{
			ID:        []string{"t-1", "t-2", "t-3"}[i],
			Status:    status,
			Category:  "data",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	open, err := st.ListTasks(ctx, core.TaskFilter{Status: core.TaskOpen})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(open) != 2 || open[0].ID != "t-1" || open[1].ID != "t-2" {
		t.Fatalf("open tasks %+v, want t-1 then t-2", open)
	}

	page, err := st.ListTasks(ctx, core.TaskFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListTasks paged: %v", err)
	}
	if len(page) != 1 || page[0].ID != "t-2" {
		t.Fatalf("page %+v, want t-2", page)
	}

	empty, err := st.ListTasks(ctx, core.TaskFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListTasks past end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("offset past end returned %+v", empty)
	}
}

func TestListTasksDefaultLimit(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < defaultListLimit+5; i++ {
		task := core.Task{
			ID:        fmt.Sprintf("t-%03d", i),
			Status:    core.TaskOpen,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	got, err := st.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != defaultListLimit {
		t.Fatalf("got %d tasks with no explicit limit, want %d", len(got), defaultListLimit)
	}
}

func TestPromoteTransaction(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	tx := core.Transaction{
		ID:        "tx-1",
		TaskID:    "task-1",
		Type:      core.TransactionDeposit,
		Amount:    decimal.RequireFromString("55.00"),
		Status:    core.TransactionPending,
		CreatedAt: time.Now(),
	}
	if err := st.RecordTransaction(ctx, tx); err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}

	if err := st.PromoteTransaction(ctx, tx.ID, core.TransactionCompleted, "sig-1"); err != nil {
		t.Fatalf("PromoteTransaction: %v", err)
	}
	txs, err := st.ListTransactions(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Status != core.TransactionCompleted || txs[0].Reference != "sig-1" {
		t.Fatalf("promoted row %+v, want completed with sig-1", txs)
	}

	// Only pending rows promote.
	if err := st.PromoteTransaction(ctx, tx.ID, core.TransactionFailed, ""); err != core.ErrInvalidState {
		t.Fatalf("second promote: err = %v, want ErrInvalidState", err)
	}
	if err := st.PromoteTransaction(ctx, "missing", core.TransactionCompleted, ""); err == nil {
		t.Fatalf("promote of unknown id succeeded")
	}
}
