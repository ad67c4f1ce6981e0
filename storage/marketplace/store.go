// Package marketplace provides persistence for the marketplace domain. Two
// implementations exist: MemoryStore for tests and single-node development, and
// PGStore backed by Postgres for production. All cross-request state lives here;
// the atomic guards the lifecycle depends on (status claims, bounded counter
// updates, (task, worker) uniqueness) are store operations, not application-level
// read-modify-write.
package marketplace

import (
	"context"
	"time"

	core "taskblitz-backend/core/marketplace"
)

// defaultListLimit caps unbounded list queries.
const defaultListLimit = 200

// Store abstracts marketplace persistence.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t core.Task) error
	GetTask(ctx context.Context, id string) (core.Task, error)
	ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error)
	// TransitionTask atomically moves a task from one status to another.
	// Returns false when the task was not in the expected status.
	TransitionTask(ctx context.Context, id string, from, to core.TaskStatus) (bool, error)
	// IncrementWorkersCompleted atomically increments workers_completed, bounded
	// by workers_needed. Returns the updated task, or ErrTaskFull when no slot
	// remained.
	IncrementWorkersCompleted(ctx context.Context, id string) (core.Task, error)
	// DecrementWorkersCompleted atomically decrements workers_completed, bounded
	// below by zero.
	DecrementWorkersCompleted(ctx context.Context, id string) (core.Task, error)

	// Applications
	CreateApplication(ctx context.Context, a core.Application) error
	GetApplication(ctx context.Context, id string) (core.Application, error)
	GetApplicationForWorker(ctx context.Context, taskID, workerID string) (core.Application, error)
	ListApplications(ctx context.Context, taskID string) ([]core.Application, error)
	// ClaimApplicationReview atomically moves a pending application to a terminal
	// status. Returns false when the application was already terminal.
	ClaimApplicationReview(ctx context.Context, id string, to core.ApplicationStatus) (bool, error)

	// Submissions
	CreateSubmission(ctx context.Context, s core.Submission) error
	GetSubmission(ctx context.Context, id string) (core.Submission, error)
	ListSubmissions(ctx context.Context, taskID string) ([]core.Submission, error)
	// ClaimSubmissionReview atomically moves a submission from one status to
	// another, recording the rejection reason when rejecting. Returns false when
	// the submission was not in the expected status. This is the single guard
	// against double settlement.
	ClaimSubmissionReview(ctx context.Context, id string, from, to core.SubmissionStatus, reason string) (bool, error)

	// Disputes
	CreateDispute(ctx context.Context, d core.Dispute) error
	GetDispute(ctx context.Context, id string) (core.Dispute, error)
	GetDisputeForSubmission(ctx context.Context, submissionID string) (core.Dispute, error)
	ListDisputes(ctx context.Context, status core.DisputeStatus) ([]core.Dispute, error)
	// ClaimDisputeResolution atomically moves an open dispute to a terminal
	// outcome. Returns false when the dispute was already resolved.
	ClaimDisputeResolution(ctx context.Context, id string, outcome core.DisputeStatus, notes string) (bool, error)

	// Transactions (append-only; status promotion only)
	RecordTransaction(ctx context.Context, tx core.Transaction) error
	ListTransactions(ctx context.Context, taskID string) ([]core.Transaction, error)
	// PromoteTransaction atomically moves a pending settlement row to completed
	// or failed, attaching the ledger reference when one exists.
	PromoteTransaction(ctx context.Context, id string, status core.TransactionStatus, reference string) error

	// Webhooks
	CreateWebhook(ctx context.Context, w core.Webhook) error
	GetWebhook(ctx context.Context, id string) (core.Webhook, error)
	ListWebhooksForEvent(ctx context.Context, event string) ([]core.Webhook, error)
	ListWebhooks(ctx context.Context, ownerID string) ([]core.Webhook, error)
	RecordDelivery(ctx context.Context, d core.WebhookDelivery) error
	ListDeliveries(ctx context.Context, webhookID string) ([]core.WebhookDelivery, error)
	TouchWebhook(ctx context.Context, id string, at time.Time) error

	// Rate limits and usage
	PutRateLimit(ctx context.Context, rl core.APIRateLimit) error
	GetRateLimit(ctx context.Context, apiKey string) (core.APIRateLimit, error)
	RecordUsage(ctx context.Context, u core.APIUsage) error
	CountUsageSince(ctx context.Context, apiKey string, since time.Time) (int, error)
	// OldestUsageSince returns the timestamp of the oldest usage record at or
	// after since, or ok=false when the window is empty.
	OldestUsageSince(ctx context.Context, apiKey string, since time.Time) (time.Time, bool, error)

	Close()
}
