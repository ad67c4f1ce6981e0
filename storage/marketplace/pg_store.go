package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
)

// PGStore persists marketplace state in Postgres. Status claims and counter
// updates are single guarded UPDATE statements, so concurrent callers race on
// the database row, not on application state.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS tb_tasks (
  task_id TEXT PRIMARY KEY,
  requester_id TEXT NOT NULL,
  requester_wallet TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  category TEXT,
  difficulty TEXT,
  payment_per_worker NUMERIC NOT NULL,
  workers_needed INT NOT NULL,
  workers_completed INT NOT NULL DEFAULT 0,
  escrow_amount NUMERIC NOT NULL,
  requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
  status TEXT NOT NULL,
  deadline TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CHECK (workers_completed >= 0 AND workers_completed <= workers_needed)
);
CREATE TABLE IF NOT EXISTS tb_applications (
  application_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  worker_id TEXT NOT NULL,
  message TEXT,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  reviewed_at TIMESTAMPTZ,
  UNIQUE (task_id, worker_id)
);
CREATE TABLE IF NOT EXISTS tb_submissions (
  submission_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  worker_id TEXT NOT NULL,
  worker_wallet TEXT NOT NULL,
  payload TEXT,
  status TEXT NOT NULL,
  rejection_reason TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  reviewed_at TIMESTAMPTZ,
  UNIQUE (task_id, worker_id)
);
CREATE TABLE IF NOT EXISTS tb_disputes (
  dispute_id TEXT PRIMARY KEY,
  submission_id TEXT NOT NULL UNIQUE,
  reason TEXT NOT NULL,
  evidence TEXT,
  status TEXT NOT NULL,
  resolution_notes TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  resolved_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS tb_transactions (
  tx_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  reference TEXT,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tb_webhooks (
  webhook_id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  url TEXT NOT NULL,
  secret TEXT NOT NULL,
  events TEXT[] NOT NULL,
  retry_count INT NOT NULL,
  timeout_seconds INT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  last_triggered_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tb_webhook_deliveries (
  delivery_id TEXT PRIMARY KEY,
  webhook_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  response_status INT NOT NULL DEFAULT 0,
  attempt INT NOT NULL,
  success BOOLEAN NOT NULL,
  error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tb_rate_limits (
  api_key TEXT PRIMARY KEY,
  per_minute INT NOT NULL,
  per_hour INT NOT NULL,
  per_day INT NOT NULL
);
CREATE TABLE IF NOT EXISTS tb_api_usage (
  usage_id TEXT PRIMARY KEY,
  api_key TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  called_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tb_tasks_status ON tb_tasks(status);
CREATE INDEX IF NOT EXISTS idx_tb_submissions_task ON tb_submissions(task_id);
CREATE INDEX IF NOT EXISTS idx_tb_transactions_task ON tb_transactions(task_id);
CREATE INDEX IF NOT EXISTS idx_tb_deliveries_webhook ON tb_webhook_deliveries(webhook_id);
CREATE INDEX IF NOT EXISTS idx_tb_usage_key_time ON tb_api_usage(api_key, called_at);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close shuts down the pool.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *PGStore) CreateTask(ctx context.Context, t core.Task) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_tasks (task_id, requester_id, requester_wallet, title, description, category, difficulty, payment_per_worker, workers_needed, workers_completed, escrow_amount, requires_approval, status, deadline, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, t.ID, t.RequesterID, t.RequesterWallet, t.Title, t.Description, t.Category, t.Difficulty,
		t.PaymentPerWorker.String(), t.WorkersNeeded, t.WorkersCompleted, t.EscrowAmount.String(),
		t.RequiresApproval, string(t.Status), t.Deadline, t.CreatedAt)
	return err
}

const taskColumns = `task_id, requester_id, requester_wallet, title, description, category, difficulty, payment_per_worker::text, workers_needed, workers_completed, escrow_amount::text, requires_approval, status, deadline, created_at`

func (s *PGStore) GetTask(ctx context.Context, id string) (core.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tb_tasks WHERE task_id=$1`, id)
	t, err := scanTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, core.ErrTaskNotFound
	}
	return t, err
}

func (s *PGStore) ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tb_tasks
WHERE ($1 = '' OR status = $1)
AND ($2 = '' OR requester_id = $2)
AND ($3 = '' OR category = $3)
ORDER BY created_at
LIMIT $4 OFFSET $5
`, string(filter.Status), filter.RequesterID, filter.Category, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) TransitionTask(ctx context.Context, id string, from, to core.TaskStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE tb_tasks SET status=$3 WHERE task_id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) IncrementWorkersCompleted(ctx context.Context, id string) (core.Task, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE tb_tasks SET workers_completed = workers_completed + 1
WHERE task_id=$1 AND workers_completed < workers_needed
RETURNING `+taskColumns, id)
	t, err := scanTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the task is missing or every slot is filled.
		if _, gerr := s.GetTask(ctx, id); gerr != nil {
			return core.Task{}, gerr
		}
		return core.Task{}, core.ErrTaskFull
	}
	return t, err
}

func (s *PGStore) DecrementWorkersCompleted(ctx context.Context, id string) (core.Task, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE tb_tasks SET workers_completed = GREATEST(workers_completed - 1, 0)
WHERE task_id=$1
RETURNING `+taskColumns, id)
	t, err := scanTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, core.ErrTaskNotFound
	}
	return t, err
}

func scanTaskRow(scanner interface{ Scan(dest ...interface{}) error }) (core.Task, error) {
	var t core.Task
	var payment, escrow, status string
	var description, category, difficulty sql.NullString
	var deadline sql.NullTime
	if err := scanner.Scan(
		&t.ID, &t.RequesterID, &t.RequesterWallet, &t.Title, &description, &category, &difficulty,
		&payment, &t.WorkersNeeded, &t.WorkersCompleted, &escrow, &t.RequiresApproval,
		&status, &deadline, &t.CreatedAt,
	); err != nil {
		return core.Task{}, err
	}
	t.Description = description.String
	t.Category = category.String
	t.Difficulty = difficulty.String
	t.Status = core.TaskStatus(status)
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	var err error
	if t.PaymentPerWorker, err = decimal.NewFromString(payment); err != nil {
		return core.Task{}, fmt.Errorf("parse payment_per_worker: %w", err)
	}
	if t.EscrowAmount, err = decimal.NewFromString(escrow); err != nil {
		return core.Task{}, fmt.Errorf("parse escrow_amount: %w", err)
	}
	return t, nil
}

// ─── Applications ───────────────────────────────────────────────────────────

func (s *PGStore) CreateApplication(ctx context.Context, a core.Application) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_applications (application_id, task_id, worker_id, message, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, a.ID, a.TaskID, a.WorkerID, a.Message, string(a.Status), a.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrDuplicateApplication
	}
	return err
}

const applicationColumns = `application_id, task_id, worker_id, message, status, created_at, reviewed_at`

func (s *PGStore) GetApplication(ctx context.Context, id string) (core.Application, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM tb_applications WHERE application_id=$1`, id)
	a, err := scanApplicationRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Application{}, core.ErrApplicationNotFound
	}
	return a, err
}

func (s *PGStore) GetApplicationForWorker(ctx context.Context, taskID, workerID string) (core.Application, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM tb_applications WHERE task_id=$1 AND worker_id=$2`, taskID, workerID)
	a, err := scanApplicationRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Application{}, core.ErrApplicationNotFound
	}
	return a, err
}

func (s *PGStore) ListApplications(ctx context.Context, taskID string) ([]core.Application, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+applicationColumns+` FROM tb_applications WHERE task_id=$1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Application
	for rows.Next() {
		a, err := scanApplicationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) ClaimApplicationReview(ctx context.Context, id string, to core.ApplicationStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tb_applications SET status=$2, reviewed_at=now()
WHERE application_id=$1 AND status='pending'
`, id, string(to))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetApplication(ctx, id); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

func scanApplicationRow(scanner interface{ Scan(dest ...interface{}) error }) (core.Application, error) {
	var a core.Application
	var message sql.NullString
	var status string
	var reviewedAt sql.NullTime
	if err := scanner.Scan(&a.ID, &a.TaskID, &a.WorkerID, &message, &status, &a.CreatedAt, &reviewedAt); err != nil {
		return core.Application{}, err
	}
	a.Message = message.String
	a.Status = core.ApplicationStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	return a, nil
}

// ─── Submissions ────────────────────────────────────────────────────────────

func (s *PGStore) CreateSubmission(ctx context.Context, sub core.Submission) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_submissions (submission_id, task_id, worker_id, worker_wallet, payload, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, sub.ID, sub.TaskID, sub.WorkerID, sub.WorkerWallet, sub.Payload, string(sub.Status), sub.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadySubmitted
	}
	return err
}

const submissionColumns = `submission_id, task_id, worker_id, worker_wallet, payload, status, rejection_reason, created_at, reviewed_at`

func (s *PGStore) GetSubmission(ctx context.Context, id string) (core.Submission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM tb_submissions WHERE submission_id=$1`, id)
	sub, err := scanSubmissionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Submission{}, core.ErrSubmissionNotFound
	}
	return sub, err
}

func (s *PGStore) ListSubmissions(ctx context.Context, taskID string) ([]core.Submission, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+submissionColumns+` FROM tb_submissions WHERE task_id=$1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Submission
	for rows.Next() {
		sub, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PGStore) ClaimSubmissionReview(ctx context.Context, id string, from, to core.SubmissionStatus, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tb_submissions SET status=$3, reviewed_at=now(),
  rejection_reason = CASE WHEN $3 = 'rejected' THEN $4 ELSE rejection_reason END
WHERE submission_id=$1 AND status=$2
`, id, string(from), string(to), reason)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetSubmission(ctx, id); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

func scanSubmissionRow(scanner interface{ Scan(dest ...interface{}) error }) (core.Submission, error) {
	var sub core.Submission
	var payload, reason sql.NullString
	var status string
	var reviewedAt sql.NullTime
	if err := scanner.Scan(&sub.ID, &sub.TaskID, &sub.WorkerID, &sub.WorkerWallet, &payload, &status, &reason, &sub.CreatedAt, &reviewedAt); err != nil {
		return core.Submission{}, err
	}
	sub.Payload = payload.String
	sub.RejectionReason = reason.String
	sub.Status = core.SubmissionStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	return sub, nil
}

// ─── Disputes ───────────────────────────────────────────────────────────────

func (s *PGStore) CreateDispute(ctx context.Context, d core.Dispute) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_disputes (dispute_id, submission_id, reason, evidence, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, d.ID, d.SubmissionID, d.Reason, d.Evidence, string(d.Status), d.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrDuplicateDispute
	}
	return err
}

const disputeColumns = `dispute_id, submission_id, reason, evidence, status, resolution_notes, created_at, resolved_at`

func (s *PGStore) GetDispute(ctx context.Context, id string) (core.Dispute, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM tb_disputes WHERE dispute_id=$1`, id)
	d, err := scanDisputeRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Dispute{}, core.ErrDisputeNotFound
	}
	return d, err
}

func (s *PGStore) GetDisputeForSubmission(ctx context.Context, submissionID string) (core.Dispute, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM tb_disputes WHERE submission_id=$1`, submissionID)
	d, err := scanDisputeRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Dispute{}, core.ErrDisputeNotFound
	}
	return d, err
}

func (s *PGStore) ListDisputes(ctx context.Context, status core.DisputeStatus) ([]core.Dispute, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+disputeColumns+` FROM tb_disputes WHERE ($1 = '' OR status = $1) ORDER BY created_at
`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Dispute
	for rows.Next() {
		d, err := scanDisputeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) ClaimDisputeResolution(ctx context.Context, id string, outcome core.DisputeStatus, notes string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tb_disputes SET status=$2, resolution_notes=$3, resolved_at=now()
WHERE dispute_id=$1 AND status='open'
`, id, string(outcome), notes)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetDispute(ctx, id); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

func scanDisputeRow(scanner interface{ Scan(dest ...interface{}) error }) (core.Dispute, error) {
	var d core.Dispute
	var evidence, notes sql.NullString
	var status string
	var resolvedAt sql.NullTime
	if err := scanner.Scan(&d.ID, &d.SubmissionID, &d.Reason, &evidence, &status, &notes, &d.CreatedAt, &resolvedAt); err != nil {
		return core.Dispute{}, err
	}
	d.Evidence = evidence.String
	d.ResolutionNotes = notes.String
	d.Status = core.DisputeStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

func (s *PGStore) RecordTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_transactions (tx_id, task_id, type, amount, reference, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, tx.ID, tx.TaskID, string(tx.Type), tx.Amount.String(), tx.Reference, string(tx.Status), tx.CreatedAt)
	return err
}

func (s *PGStore) ListTransactions(ctx context.Context, taskID string) ([]core.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT tx_id, task_id, type, amount::text, reference, status, created_at
FROM tb_transactions WHERE task_id=$1 ORDER BY created_at
`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var tx core.Transaction
		var amount, typ, status string
		var reference sql.NullString
		if err := rows.Scan(&tx.ID, &tx.TaskID, &typ, &amount, &reference, &status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = core.TransactionType(typ)
		tx.Status = core.TransactionStatus(status)
		tx.Reference = reference.String
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PGStore) PromoteTransaction(ctx context.Context, id string, status core.TransactionStatus, reference string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tb_transactions SET status=$2, reference = COALESCE(NULLIF($3, ''), reference)
WHERE tx_id=$1 AND status='pending'
`, id, string(status), reference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrInvalidState
	}
	return nil
}

// ─── Webhooks ───────────────────────────────────────────────────────────────

func (s *PGStore) CreateWebhook(ctx context.Context, w core.Webhook) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_webhooks (webhook_id, owner_id, url, secret, events, retry_count, timeout_seconds, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, w.ID, w.OwnerID, w.URL, w.Secret, w.Events, w.RetryCount, w.TimeoutSeconds, w.Active, w.CreatedAt)
	return err
}

const webhookColumns = `webhook_id, owner_id, url, secret, events, retry_count, timeout_seconds, active, last_triggered_at, created_at`

func (s *PGStore) GetWebhook(ctx context.Context, id string) (core.Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM tb_webhooks WHERE webhook_id=$1`, id)
	w, err := scanWebhookRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Webhook{}, core.ErrWebhookNotFound
	}
	return w, err
}

func (s *PGStore) ListWebhooksForEvent(ctx context.Context, event string) ([]core.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+webhookColumns+` FROM tb_webhooks WHERE active AND $1 = ANY(events) ORDER BY created_at
`, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

func (s *PGStore) ListWebhooks(ctx context.Context, ownerID string) ([]core.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+webhookColumns+` FROM tb_webhooks WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at
`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

func collectWebhooks(rows pgx.Rows) ([]core.Webhook, error) {
	var out []core.Webhook
	for rows.Next() {
		w, err := scanWebhookRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PGStore) RecordDelivery(ctx context.Context, d core.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_webhook_deliveries (delivery_id, webhook_id, event_type, payload, response_status, attempt, success, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, d.ID, d.WebhookID, d.EventType, d.Payload, d.ResponseStatus, d.Attempt, d.Success, d.Error, d.CreatedAt)
	return err
}

func (s *PGStore) ListDeliveries(ctx context.Context, webhookID string) ([]core.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT delivery_id, webhook_id, event_type, payload, response_status, attempt, success, error, created_at
FROM tb_webhook_deliveries WHERE webhook_id=$1 ORDER BY created_at
`, webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.WebhookDelivery
	for rows.Next() {
		var d core.WebhookDelivery
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.ResponseStatus, &d.Attempt, &d.Success, &errMsg, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Error = errMsg.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) TouchWebhook(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE tb_webhooks SET last_triggered_at=$2 WHERE webhook_id=$1`, id, at)
	return err
}

func scanWebhookRow(scanner interface{ Scan(dest ...interface{}) error }) (core.Webhook, error) {
	var w core.Webhook
	var lastTriggered sql.NullTime
	if err := scanner.Scan(&w.ID, &w.OwnerID, &w.URL, &w.Secret, &w.Events, &w.RetryCount, &w.TimeoutSeconds, &w.Active, &lastTriggered, &w.CreatedAt); err != nil {
		return core.Webhook{}, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		w.LastTriggeredAt = &t
	}
	return w, nil
}

// ─── Rate limits and usage ──────────────────────────────────────────────────

func (s *PGStore) PutRateLimit(ctx context.Context, rl core.APIRateLimit) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_rate_limits (api_key, per_minute, per_hour, per_day)
VALUES ($1,$2,$3,$4)
ON CONFLICT (api_key) DO UPDATE SET
  per_minute = EXCLUDED.per_minute,
  per_hour = EXCLUDED.per_hour,
  per_day = EXCLUDED.per_day
`, rl.APIKey, rl.PerMinute, rl.PerHour, rl.PerDay)
	return err
}

func (s *PGStore) GetRateLimit(ctx context.Context, apiKey string) (core.APIRateLimit, error) {
	var rl core.APIRateLimit
	err := s.pool.QueryRow(ctx, `
SELECT api_key, per_minute, per_hour, per_day FROM tb_rate_limits WHERE api_key=$1
`, apiKey).Scan(&rl.APIKey, &rl.PerMinute, &rl.PerHour, &rl.PerDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.APIRateLimit{}, core.ErrRateLimitNotFound
	}
	return rl, err
}

func (s *PGStore) RecordUsage(ctx context.Context, u core.APIUsage) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tb_api_usage (usage_id, api_key, endpoint, called_at)
VALUES ($1,$2,$3,$4)
`, u.ID, u.APIKey, u.Endpoint, u.CalledAt)
	return err
}

func (s *PGStore) CountUsageSince(ctx context.Context, apiKey string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM tb_api_usage WHERE api_key=$1 AND called_at >= $2
`, apiKey, since).Scan(&count)
	return count, err
}

func (s *PGStore) OldestUsageSince(ctx context.Context, apiKey string, since time.Time) (time.Time, bool, error) {
	var oldest sql.NullTime
	err := s.pool.QueryRow(ctx, `
SELECT min(called_at) FROM tb_api_usage WHERE api_key=$1 AND called_at >= $2
`, apiKey, since).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !oldest.Valid {
		return time.Time{}, false, nil
	}
	return oldest.Time, true, nil
}
