package marketplace

import (
	"context"
	"sort"
	"sync"
	"time"

	core "taskblitz-backend/core/marketplace"
)

// MemoryStore keeps all marketplace state in process memory. It mirrors the
// Postgres store's atomicity guarantees with a single mutex, which is enough
// for tests and single-node development.
type MemoryStore struct {
	mu sync.Mutex

	tasks        map[string]core.Task
	applications map[string]core.Application
	appByWorker  map[string]string // taskID+"/"+workerID -> application ID
	submissions  map[string]core.Submission
	subByWorker  map[string]string // taskID+"/"+workerID -> submission ID
	disputes     map[string]core.Dispute
	dispBySub    map[string]string // submissionID -> dispute ID
	transactions map[string]core.Transaction
	txOrder      []string
	webhooks     map[string]core.Webhook
	deliveries   map[string][]core.WebhookDelivery
	rateLimits   map[string]core.APIRateLimit
	usage        map[string][]core.APIUsage
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:        make(map[string]core.Task),
		applications: make(map[string]core.Application),
		appByWorker:  make(map[string]string),
		submissions:  make(map[string]core.Submission),
		subByWorker:  make(map[string]string),
		disputes:     make(map[string]core.Dispute),
		dispBySub:    make(map[string]string),
		transactions: make(map[string]core.Transaction),
		webhooks:     make(map[string]core.Webhook),
		deliveries:   make(map[string][]core.WebhookDelivery),
		rateLimits:   make(map[string]core.APIRateLimit),
		usage:        make(map[string][]core.APIUsage),
	}
}

func pairKey(taskID, workerID string) string { return taskID + "/" + workerID }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateTask(_ context.Context, t core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, core.ErrTaskNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter core.TaskFilter) ([]core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Task
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.RequesterID != "" && t.RequesterID != filter.RequesterID {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionTask(_ context.Context, id string, from, to core.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, core.ErrTaskNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	s.tasks[id] = t
	return true, nil
}

func (s *MemoryStore) IncrementWorkersCompleted(_ context.Context, id string) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, core.ErrTaskNotFound
	}
	if t.WorkersCompleted >= t.WorkersNeeded {
		return core.Task{}, core.ErrTaskFull
	}
	t.WorkersCompleted++
	s.tasks[id] = t
	return t, nil
}

func (s *MemoryStore) DecrementWorkersCompleted(_ context.Context, id string) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, core.ErrTaskNotFound
	}
	if t.WorkersCompleted > 0 {
		t.WorkersCompleted--
		s.tasks[id] = t
	}
	return t, nil
}

// ─── Applications ───────────────────────────────────────────────────────────

func (s *MemoryStore) CreateApplication(_ context.Context, a core.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a.TaskID, a.WorkerID)
	if _, exists := s.appByWorker[key]; exists {
		return core.ErrDuplicateApplication
	}
	s.applications[a.ID] = a
	s.appByWorker[key] = a.ID
	return nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (core.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return core.Application{}, core.ErrApplicationNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetApplicationForWorker(_ context.Context, taskID, workerID string) (core.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.appByWorker[pairKey(taskID, workerID)]
	if !ok {
		return core.Application{}, core.ErrApplicationNotFound
	}
	return s.applications[id], nil
}

func (s *MemoryStore) ListApplications(_ context.Context, taskID string) ([]core.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Application
	for _, a := range s.applications {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimApplicationReview(_ context.Context, id string, to core.ApplicationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return false, core.ErrApplicationNotFound
	}
	if a.Status != core.ApplicationPending {
		return false, nil
	}
	now := time.Now()
	a.Status = to
	a.ReviewedAt = &now
	s.applications[id] = a
	return true, nil
}

// ─── Submissions ────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateSubmission(_ context.Context, sub core.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(sub.TaskID, sub.WorkerID)
	if _, exists := s.subByWorker[key]; exists {
		return core.ErrAlreadySubmitted
	}
	s.submissions[sub.ID] = sub
	s.subByWorker[key] = sub.ID
	return nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id string) (core.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return core.Submission{}, core.ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, taskID string) ([]core.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Submission
	for _, sub := range s.submissions {
		if sub.TaskID == taskID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimSubmissionReview(_ context.Context, id string, from, to core.SubmissionStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return false, core.ErrSubmissionNotFound
	}
	if sub.Status != from {
		return false, nil
	}
	now := time.Now()
	sub.Status = to
	sub.ReviewedAt = &now
	if to == core.SubmissionRejected {
		sub.RejectionReason = reason
	}
	s.submissions[id] = sub
	return true, nil
}

// ─── Disputes ───────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateDispute(_ context.Context, d core.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dispBySub[d.SubmissionID]; exists {
		return core.ErrDuplicateDispute
	}
	s.disputes[d.ID] = d
	s.dispBySub[d.SubmissionID] = d.ID
	return nil
}

func (s *MemoryStore) GetDispute(_ context.Context, id string) (core.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return core.Dispute{}, core.ErrDisputeNotFound
	}
	return d, nil
}

func (s *MemoryStore) GetDisputeForSubmission(_ context.Context, submissionID string) (core.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.dispBySub[submissionID]
	if !ok {
		return core.Dispute{}, core.ErrDisputeNotFound
	}
	return s.disputes[id], nil
}

func (s *MemoryStore) ListDisputes(_ context.Context, status core.DisputeStatus) ([]core.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Dispute
	for _, d := range s.disputes {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimDisputeResolution(_ context.Context, id string, outcome core.DisputeStatus, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return false, core.ErrDisputeNotFound
	}
	if d.Status != core.DisputeOpen {
		return false, nil
	}
	now := time.Now()
	d.Status = outcome
	d.ResolutionNotes = notes
	d.ResolvedAt = &now
	s.disputes[id] = d
	return true, nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

func (s *MemoryStore) RecordTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, taskID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.TaskID == taskID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) PromoteTransaction(_ context.Context, id string, status core.TransactionStatus, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return core.Err("transaction not found")
	}
	if tx.Status != core.TransactionPending {
		return core.ErrInvalidState
	}
	tx.Status = status
	if reference != "" {
		tx.Reference = reference
	}
	s.transactions[id] = tx
	return nil
}

// ─── Webhooks ───────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateWebhook(_ context.Context, w core.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = w
	return nil
}

func (s *MemoryStore) GetWebhook(_ context.Context, id string) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return core.Webhook{}, core.ErrWebhookNotFound
	}
	return w, nil
}

func (s *MemoryStore) ListWebhooksForEvent(_ context.Context, event string) ([]core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Webhook
	for _, w := range s.webhooks {
		if w.Active && w.Subscribed(event) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListWebhooks(_ context.Context, ownerID string) ([]core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Webhook
	for _, w := range s.webhooks {
		if ownerID == "" || w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d core.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.WebhookID] = append(s.deliveries[d.WebhookID], d)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, webhookID string) ([]core.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.WebhookDelivery, len(s.deliveries[webhookID]))
	copy(out, s.deliveries[webhookID])
	return out, nil
}

func (s *MemoryStore) TouchWebhook(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return core.ErrWebhookNotFound
	}
	w.LastTriggeredAt = &at
	s.webhooks[id] = w
	return nil
}

// ─── Rate limits and usage ──────────────────────────────────────────────────

func (s *MemoryStore) PutRateLimit(_ context.Context, rl core.APIRateLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimits[rl.APIKey] = rl
	return nil
}

func (s *MemoryStore) GetRateLimit(_ context.Context, apiKey string) (core.APIRateLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.rateLimits[apiKey]
	if !ok {
		return core.APIRateLimit{}, core.ErrRateLimitNotFound
	}
	return rl, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, u core.APIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[u.APIKey] = append(s.usage[u.APIKey], u)
	return nil
}

func (s *MemoryStore) CountUsageSince(_ context.Context, apiKey string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, u := range s.usage[apiKey] {
		if !u.CalledAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) OldestUsageSince(_ context.Context, apiKey string, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, u := range s.usage[apiKey] {
		if u.CalledAt.Before(since) {
			continue
		}
		if !found || u.CalledAt.Before(oldest) {
			oldest = u.CalledAt
			found = true
		}
	}
	return oldest, found, nil
}
