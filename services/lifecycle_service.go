// Package services holds the marketplace business logic: the task/submission/
// application/dispute lifecycle state machine and the bulk import service.
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/metrics"
	"taskblitz-backend/payments"
	store "taskblitz-backend/storage/marketplace"
)

// EventSink receives lifecycle events. Emission is fire-and-continue: a sink
// must never block or fail the triggering transition.
type EventSink interface {
	Emit(ctx context.Context, event string, payload map[string]interface{})
}

// LifecycleService enforces legal transitions and their side effects. All
// atomic guards (status claims, bounded counters, uniqueness) live in the
// store; this service orchestrates them and the settlement engine.
type LifecycleService struct {
	store  store.Store
	escrow *payments.EscrowEngine
	events EventSink
}

// NewLifecycleService creates the state machine service.
func NewLifecycleService(s store.Store, escrow *payments.EscrowEngine, events EventSink) *LifecycleService {
	return &LifecycleService{store: s, escrow: escrow, events: events}
}

// CreateTaskRequest carries the validated task creation parameters.
type CreateTaskRequest struct {
	RequesterID      string
	RequesterWallet  string
	Title            string
	Description      string
	Category         string
	Difficulty       string
	PaymentPerWorker decimal.Decimal
	WorkersNeeded    int
	RequiresApproval bool
	Deadline         *time.Time
}

// CreateTask locks escrow and opens the task. The task stays uncreated when
// the requester's balance cannot cover the escrow.
func (l *LifecycleService) CreateTask(ctx context.Context, req CreateTaskRequest) (core.Task, error) {
	if req.Title == "" {
		return core.Task{}, fmt.Errorf("%w: title required", core.ErrInvalidState)
	}
	if req.WorkersNeeded <= 0 {
		return core.Task{}, fmt.Errorf("%w: workers_needed must be positive", core.ErrInvalidState)
	}
	if req.PaymentPerWorker.LessThanOrEqual(decimal.Zero) {
		return core.Task{}, fmt.Errorf("%w: payment_per_worker must be positive", core.ErrInvalidState)
	}

	task := core.Task{
		ID:               uuid.NewString(),
		RequesterID:      req.RequesterID,
		RequesterWallet:  req.RequesterWallet,
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Difficulty:       req.Difficulty,
		PaymentPerWorker: req.PaymentPerWorker,
		WorkersNeeded:    req.WorkersNeeded,
		EscrowAmount:     l.escrow.EscrowAmount(req.PaymentPerWorker, req.WorkersNeeded),
		RequiresApproval: req.RequiresApproval,
		Status:           core.TaskOpen,
		Deadline:         req.Deadline,
		CreatedAt:        time.Now(),
	}

	if err := l.escrow.LockEscrow(ctx, task); err != nil {
		return core.Task{}, err
	}
	if err := l.store.CreateTask(ctx, task); err != nil {
		return core.Task{}, err
	}

	metrics.EscrowLocked.Add(task.EscrowAmount.InexactFloat64())
	l.events.Emit(ctx, core.EventTaskCreated, map[string]interface{}{
		"task_id":       task.ID,
		"title":         task.Title,
		"escrow_amount": task.EscrowAmount.String(),
	})
	return task, nil
}

// CancelTask cancels an open task and refunds the unspent escrow.
func (l *LifecycleService) CancelTask(ctx context.Context, taskID string) (core.Task, error) {
	ok, err := l.store.TransitionTask(ctx, taskID, core.TaskOpen, core.TaskCancelled)
	if err != nil {
		return core.Task{}, err
	}
	if !ok {
		return core.Task{}, core.ErrInvalidState
	}
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return core.Task{}, err
	}
	if err := l.escrow.RefundEscrow(ctx, task); err != nil {
		return core.Task{}, err
	}
	l.events.Emit(ctx, core.EventTaskCancelled, map[string]interface{}{"task_id": task.ID})
	return task, nil
}

// ApplyToTask files a pending application on an approval-gated task.
func (l *LifecycleService) ApplyToTask(ctx context.Context, taskID, workerID, message string) (core.Application, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return core.Application{}, err
	}
	if !task.RequiresApproval {
		return core.Application{}, fmt.Errorf("%w: task does not take applications", core.ErrInvalidState)
	}
	if task.Status != core.TaskOpen {
		return core.Application{}, core.ErrTaskNotOpen
	}

	app := core.Application{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		WorkerID:  workerID,
		Message:   message,
		Status:    core.ApplicationPending,
		CreatedAt: time.Now(),
	}
	if err := l.store.CreateApplication(ctx, app); err != nil {
		return core.Application{}, err
	}
	return app, nil
}

// ApproveApplication moves a pending application to approved. Terminal
// applications cannot be re-reviewed.
func (l *LifecycleService) ApproveApplication(ctx context.Context, applicationID string) error {
	return l.reviewApplication(ctx, applicationID, core.ApplicationApproved)
}

// RejectApplication moves a pending application to rejected.
func (l *LifecycleService) RejectApplication(ctx context.Context, applicationID string) error {
	return l.reviewApplication(ctx, applicationID, core.ApplicationRejected)
}

func (l *LifecycleService) reviewApplication(ctx context.Context, applicationID string, to core.ApplicationStatus) error {
	ok, err := l.store.ClaimApplicationReview(ctx, applicationID, to)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrInvalidState
	}
	return nil
}

// SubmitWork files a pending submission for an open task with free slots.
// On an approval-gated task the worker must hold an approved application.
func (l *LifecycleService) SubmitWork(ctx context.Context, taskID, workerID, workerWallet, payload string) (core.Submission, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return core.Submission{}, err
	}
	if task.Status != core.TaskOpen || task.SlotsRemaining() <= 0 {
		return core.Submission{}, core.ErrTaskNotOpen
	}
	if task.RequiresApproval {
		app, err := l.store.GetApplicationForWorker(ctx, taskID, workerID)
		if err != nil || app.Status != core.ApplicationApproved {
			return core.Submission{}, core.ErrNotApproved
		}
	}

	sub := core.Submission{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		WorkerID:     workerID,
		WorkerWallet: workerWallet,
		Payload:      payload,
		Status:       core.SubmissionPending,
		CreatedAt:    time.Now(),
	}
	if err := l.store.CreateSubmission(ctx, sub); err != nil {
		return core.Submission{}, err
	}
	return sub, nil
}

// ApproveSubmission settles a pending submission: it claims the pending ->
// approved transition, releases payment, increments the completed counter,
// and completes the task when the last slot fills. The status claim makes the
// whole operation idempotent in effect: a second call loses the claim and
// returns a state conflict without moving funds.
func (l *LifecycleService) ApproveSubmission(ctx context.Context, submissionID string) error {
	won, err := l.store.ClaimSubmissionReview(ctx, submissionID, core.SubmissionPending, core.SubmissionApproved, "")
	if err != nil {
		return err
	}
	if !won {
		return core.ErrInvalidState
	}
	return l.settleApproval(ctx, submissionID, core.SubmissionPending)
}

// settleApproval performs the side effects shared by direct approval and
// worker-favored dispute resolution. The caller must have won the status claim;
// revertTo is the status the claim moved the submission out of. When the
// payment release fails, the claim and the counter are rolled back so the
// approval can be retried once the ledger recovers.
func (l *LifecycleService) settleApproval(ctx context.Context, submissionID string, revertTo core.SubmissionStatus) error {
	sub, err := l.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	task, err := l.store.IncrementWorkersCompleted(ctx, sub.TaskID)
	if err != nil {
		l.revertApproval(ctx, sub, revertTo, false)
		return err
	}
	if err := l.escrow.ReleaseToWorker(ctx, task, sub); err != nil {
		l.revertApproval(ctx, sub, revertTo, true)
		return err
	}

	l.events.Emit(ctx, core.EventPaymentReceived, map[string]interface{}{
		"task_id":       task.ID,
		"submission_id": sub.ID,
		"worker_id":     sub.WorkerID,
		"amount":        task.PaymentPerWorker.String(),
	})
	l.events.Emit(ctx, core.EventPaymentSent, map[string]interface{}{
		"task_id":       task.ID,
		"submission_id": sub.ID,
		"wallet":        sub.WorkerWallet,
	})

	if task.WorkersCompleted == task.WorkersNeeded {
		if ok, err := l.store.TransitionTask(ctx, task.ID, core.TaskOpen, core.TaskCompleted); err != nil {
			return err
		} else if ok {
			metrics.TasksCompleted.Inc()
			l.events.Emit(ctx, core.EventTaskCompleted, map[string]interface{}{"task_id": task.ID})
		}
	}
	return nil
}

// revertApproval undoes a won approval claim after settlement failed, restoring
// the pre-claim status (and the original rejection reason on a dispute replay).
func (l *LifecycleService) revertApproval(ctx context.Context, sub core.Submission, to core.SubmissionStatus, undoCounter bool) {
	if undoCounter {
		if _, err := l.store.DecrementWorkersCompleted(ctx, sub.TaskID); err != nil {
			log.Printf("revert workers_completed for task %s: %v", sub.TaskID, err)
		}
	}
	if _, err := l.store.ClaimSubmissionReview(ctx, sub.ID, core.SubmissionApproved, to, sub.RejectionReason); err != nil {
		log.Printf("revert submission %s to %s: %v", sub.ID, to, err)
	}
}

// RejectSubmission moves a pending submission to rejected, releases its slot,
// and reopens the task when it had been completed.
func (l *LifecycleService) RejectSubmission(ctx context.Context, submissionID, reason string) error {
	won, err := l.store.ClaimSubmissionReview(ctx, submissionID, core.SubmissionPending, core.SubmissionRejected, reason)
	if err != nil {
		return err
	}
	if !won {
		return core.ErrInvalidState
	}
	sub, err := l.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	task, err := l.store.DecrementWorkersCompleted(ctx, sub.TaskID)
	if err != nil {
		return err
	}
	if task.Status == core.TaskCompleted {
		if _, err := l.store.TransitionTask(ctx, task.ID, core.TaskCompleted, core.TaskOpen); err != nil {
			return err
		}
	}
	return nil
}

// OpenDispute contests a rejected submission. At most one dispute per
// submission, ever.
func (l *LifecycleService) OpenDispute(ctx context.Context, submissionID, reason, evidence string) (core.Dispute, error) {
	sub, err := l.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return core.Dispute{}, err
	}
	if sub.Status != core.SubmissionRejected {
		return core.Dispute{}, core.ErrInvalidState
	}

	d := core.Dispute{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Reason:       reason,
		Evidence:     evidence,
		Status:       core.DisputeOpen,
		CreatedAt:    time.Now(),
	}
	if err := l.store.CreateDispute(ctx, d); err != nil {
		return core.Dispute{}, err
	}
	return d, nil
}

// ResolveDispute closes an open dispute. A worker-favored outcome replays the
// approval side effects on the rejected submission; the other outcomes leave
// the rejection standing. Resolution is terminal: a second attempt loses the
// status claim and fails with a state conflict.
func (l *LifecycleService) ResolveDispute(ctx context.Context, disputeID string, outcome core.DisputeStatus, notes string) error {
	switch outcome {
	case core.DisputeResolvedWorker, core.DisputeResolvedRequester, core.DisputeDismissed:
	default:
		return fmt.Errorf("%w: invalid dispute outcome %q", core.ErrInvalidState, outcome)
	}

	won, err := l.store.ClaimDisputeResolution(ctx, disputeID, outcome, notes)
	if err != nil {
		return err
	}
	if !won {
		return core.ErrInvalidState
	}

	if outcome != core.DisputeResolvedWorker {
		return nil
	}

	d, err := l.store.GetDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	approved, err := l.store.ClaimSubmissionReview(ctx, d.SubmissionID, core.SubmissionRejected, core.SubmissionApproved, "")
	if err != nil {
		return err
	}
	if !approved {
		// The submission left the rejected state since the dispute was filed.
		return core.ErrInvalidState
	}
	return l.settleApproval(ctx, d.SubmissionID, core.SubmissionRejected)
}
