package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/models"
	"taskblitz-backend/services"
	store "taskblitz-backend/storage/marketplace"
)

// TaskHandler handles task lifecycle requests
type TaskHandler struct {
	*BaseHandler
	lifecycle *services.LifecycleService
	store     store.Store
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(lifecycle *services.LifecycleService, s store.Store) *TaskHandler {
	return &TaskHandler{
		BaseHandler: NewBaseHandler(),
		lifecycle:   lifecycle,
		store:       s,
	}
}

// HandleCreateTask creates a task, locking escrow up front
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTaskRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := decimal.NewFromString(req.PaymentPerWorker)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "payment_per_worker is not a number")
		return
	}
	var deadline *time.Time
	if req.Deadline != "" {
		t, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "deadline must be RFC3339")
			return
		}
		deadline = &t
	}

	task, err := h.lifecycle.CreateTask(r.Context(), services.CreateTaskRequest{
		RequesterID:      req.RequesterID,
		RequesterWallet:  req.RequesterWallet,
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Difficulty:       req.Difficulty,
		PaymentPerWorker: payment,
		WorkersNeeded:    req.WorkersNeeded,
		RequiresApproval: req.RequiresApproval,
		Deadline:         deadline,
	})
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendCreated(w, task)
}

// HandleListTasks lists tasks with optional filters
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.TaskFilter{
		Status:      core.TaskStatus(q.Get("status")),
		RequesterID: q.Get("requester_id"),
		Category:    q.Get("category"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, models.NewSuccessResponseWithMeta(tasks, map[string]interface{}{
		"total": len(tasks),
	}))
}

// HandleGetTask returns a single task
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, task)
}

// HandleCancelTask cancels an open task and refunds the unspent escrow
func (h *TaskHandler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.lifecycle.CancelTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, task)
}

// HandleListTransactions returns the settlement history for a task
func (h *TaskHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.store.ListTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, txs)
}

// HandleMarketStats serves the paid market overview endpoint
func (h *TaskHandler) HandleMarketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	for _, status := range []core.TaskStatus{core.TaskOpen, core.TaskCompleted, core.TaskCancelled, core.TaskDisputed} {
		tasks, err := h.store.ListTasks(r.Context(), core.TaskFilter{Status: status})
		if err != nil {
			h.sendError(w, statusFor(err), err.Error())
			return
		}
		stats[string(status)] = len(tasks)
	}
	h.sendSuccess(w, stats)
}
