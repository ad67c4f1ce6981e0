package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/models"
	"taskblitz-backend/services"
	store "taskblitz-backend/storage/marketplace"
)

// SubmissionHandler handles application, submission, and dispute requests
type SubmissionHandler struct {
	*BaseHandler
	lifecycle *services.LifecycleService
	store     store.Store
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(lifecycle *services.LifecycleService, s store.Store) *SubmissionHandler {
	return &SubmissionHandler{
		BaseHandler: NewBaseHandler(),
		lifecycle:   lifecycle,
		store:       s,
	}
}

// HandleApply files a worker application on an approval-gated task
func (h *SubmissionHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	var req models.ApplyRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WorkerID == "" {
		h.sendError(w, http.StatusBadRequest, "worker_id required")
		return
	}

	app, err := h.lifecycle.ApplyToTask(r.Context(), chi.URLParam(r, "id"), req.WorkerID, req.Message)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendCreated(w, app)
}

// HandleListApplications lists applications for a task
func (h *SubmissionHandler) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApplications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, apps)
}

// HandleReviewApplication approves or rejects a pending application
func (h *SubmissionHandler) HandleReviewApplication(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	var err error
	if req.Approve {
		err = h.lifecycle.ApproveApplication(r.Context(), id)
	} else {
		err = h.lifecycle.RejectApplication(r.Context(), id)
	}
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	app, err := h.store.GetApplication(r.Context(), id)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, app)
}

// submitWorkBody extends the submission request with its target task
type submitWorkBody struct {
	TaskID string `json:"task_id"`
	models.SubmitWorkRequest
}

// HandleSubmitWork files a work submission
func (h *SubmissionHandler) HandleSubmitWork(w http.ResponseWriter, r *http.Request) {
	var req submitWorkBody
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TaskID == "" || req.WorkerID == "" {
		h.sendError(w, http.StatusBadRequest, "task_id and worker_id required")
		return
	}

	sub, err := h.lifecycle.SubmitWork(r.Context(), req.TaskID, req.WorkerID, req.WorkerWallet, req.Payload)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendCreated(w, sub)
}

// HandleListSubmissions lists submissions for a task
func (h *SubmissionHandler) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubmissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, subs)
}

// HandleReviewSubmission approves or rejects a pending submission. Approval
// settles payment; rejection records the reason and frees the slot.
func (h *SubmissionHandler) HandleReviewSubmission(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	var err error
	if req.Approve {
		err = h.lifecycle.ApproveSubmission(r.Context(), id)
	} else {
		err = h.lifecycle.RejectSubmission(r.Context(), id, req.Reason)
	}
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	sub, err := h.store.GetSubmission(r.Context(), id)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, sub)
}

// HandleOpenDispute contests a rejected submission
func (h *SubmissionHandler) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req models.OpenDisputeRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		h.sendError(w, http.StatusBadRequest, "reason required")
		return
	}

	d, err := h.lifecycle.OpenDispute(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Evidence)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendCreated(w, d)
}

// HandleListDisputes lists disputes, optionally filtered by status
func (h *SubmissionHandler) HandleListDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.store.ListDisputes(r.Context(), core.DisputeStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, disputes)
}

// HandleResolveDispute closes an open dispute with a terminal outcome
func (h *SubmissionHandler) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveDisputeRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.lifecycle.ResolveDispute(r.Context(), id, core.DisputeStatus(req.Outcome), req.Notes); err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	d, err := h.store.GetDispute(r.Context(), id)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, d)
}
