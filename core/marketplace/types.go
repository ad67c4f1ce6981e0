// Package marketplace defines the domain model for the TaskBlitz marketplace:
// tasks, applications, submissions, disputes, settlement transactions, webhooks,
// and API rate limits. All cross-entity links are by identifier; traversal goes
// through the store.
package marketplace

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus enumerates the task lifecycle states.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
	TaskExpired   TaskStatus = "expired"
	TaskCancelled TaskStatus = "cancelled"
	TaskDisputed  TaskStatus = "disputed"
)

// ApplicationStatus enumerates application review states.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// SubmissionStatus enumerates submission review states.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// DisputeStatus enumerates dispute states. Everything but DisputeOpen is terminal.
type DisputeStatus string

const (
	DisputeOpen              DisputeStatus = "open"
	DisputeResolvedWorker    DisputeStatus = "resolved_worker"
	DisputeResolvedRequester DisputeStatus = "resolved_requester"
	DisputeDismissed         DisputeStatus = "dismissed"
)

// TransactionType enumerates settlement record types.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionPayment TransactionType = "payment"
	TransactionFee     TransactionType = "fee"
	TransactionRefund  TransactionType = "refund"
)

// TransactionStatus enumerates settlement record states. Records are append-only;
// the only legal mutation is the pending -> completed/failed promotion.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Webhook event types.
const (
	EventTaskCreated     = "task.created"
	EventTaskCompleted   = "task.completed"
	EventTaskCancelled   = "task.cancelled"
	EventPaymentReceived = "payment.received"
	EventPaymentSent     = "payment.sent"
)

// Task is a unit of paid work posted by a requester. Invariant:
// 0 <= WorkersCompleted <= WorkersNeeded at all times; Status is TaskCompleted
// exactly when the two counts are equal.
type Task struct {
	ID               string          `json:"id"`
	RequesterID      string          `json:"requester_id"`
	RequesterWallet  string          `json:"requester_wallet"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Difficulty       string          `json:"difficulty,omitempty"`
	PaymentPerWorker decimal.Decimal `json:"payment_per_worker"`
	WorkersNeeded    int             `json:"workers_needed"`
	WorkersCompleted int             `json:"workers_completed"`
	EscrowAmount     decimal.Decimal `json:"escrow_amount"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           TaskStatus      `json:"status"`
	Deadline         *time.Time      `json:"deadline,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SlotsRemaining returns the number of unfilled worker slots.
func (t Task) SlotsRemaining() int {
	return t.WorkersNeeded - t.WorkersCompleted
}

// Application is a worker's request to work an approval-gated task.
// Unique per (task, worker); terminal once approved or rejected.
type Application struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id"`
	WorkerID   string            `json:"worker_id"`
	Message    string            `json:"message,omitempty"`
	Status     ApplicationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
}

// Submission is delivered work for a task. Unique per (task, worker).
// Approval is terminal and irreversible except via dispute resolution.
type Submission struct {
	ID              string           `json:"id"`
	TaskID          string           `json:"task_id"`
	WorkerID        string           `json:"worker_id"`
	WorkerWallet    string           `json:"worker_wallet"`
	Payload         string           `json:"payload"`
	Status          SubmissionStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
}

// Dispute contests a rejected submission. At most one per submission.
type Dispute struct {
	ID              string        `json:"id"`
	SubmissionID    string        `json:"submission_id"`
	Reason          string        `json:"reason"`
	Evidence        string        `json:"evidence,omitempty"`
	Status          DisputeStatus `json:"status"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
}

// Transaction is an immutable ledger-settlement record owned by a task.
type Transaction struct {
	ID        string            `json:"id"`
	TaskID    string            `json:"task_id"`
	Type      TransactionType   `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	Reference string            `json:"reference,omitempty"` // external ledger tx signature
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Webhook is a registered event subscriber owned by a requester account.
type Webhook struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	RetryCount      int        `json:"retry_count"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	Active          bool       `json:"active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Subscribed reports whether the webhook listens for the given event type.
func (w Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery is one immutable delivery attempt record.
type WebhookDelivery struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhook_id"`
	EventType      string    `json:"event_type"`
	Payload        string    `json:"payload"`
	ResponseStatus int       `json:"response_status"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// APIRateLimit holds the per-key ceilings for the three sliding windows.
type APIRateLimit struct {
	APIKey    string `json:"api_key"`
	PerMinute int    `json:"per_minute"`
	PerHour   int    `json:"per_hour"`
	PerDay    int    `json:"per_day"`
}

// APIUsage is one recorded metered call, used to reconstruct sliding windows.
type APIUsage struct {
	ID       string    `json:"id"`
	APIKey   string    `json:"api_key"`
	Endpoint string    `json:"endpoint"`
	CalledAt time.Time `json:"called_at"`
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Status      TaskStatus
	RequesterID string
	Category    string
	Limit       int
	Offset      int
}
