package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/models"
	store "taskblitz-backend/storage/marketplace"
)

var subscribableEvents = map[string]bool{
	core.EventTaskCreated:     true,
	core.EventTaskCompleted:   true,
	core.EventTaskCancelled:   true,
	core.EventPaymentReceived: true,
	core.EventPaymentSent:     true,
}

// WebhookHandler handles webhook registration and delivery history
type WebhookHandler struct {
	*BaseHandler
	store             store.Store
	defaultRetries    int
	defaultTimeoutSec int
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(s store.Store, defaultRetries, defaultTimeoutSec int) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:       NewBaseHandler(),
		store:             s,
		defaultRetries:    defaultRetries,
		defaultTimeoutSec: defaultTimeoutSec,
	}
}

// HandleCreateWebhook registers a webhook subscription
func (h *WebhookHandler) HandleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWebhookRequest
	if err := h.parseJSON(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		h.sendError(w, http.StatusBadRequest, "url must be a valid http(s) URL")
		return
	}
	if req.Secret == "" {
		h.sendError(w, http.StatusBadRequest, "secret required")
		return
	}
	if len(req.Events) == 0 {
		h.sendError(w, http.StatusBadRequest, "at least one event required")
		return
	}
	for _, ev := range req.Events {
		if !subscribableEvents[ev] {
			h.sendError(w, http.StatusBadRequest, "unknown event type: "+ev)
			return
		}
	}

	hook := core.Webhook{
		ID:             uuid.NewString(),
		OwnerID:        req.OwnerID,
		URL:            req.URL,
		Secret:         req.Secret,
		Events:         req.Events,
		RetryCount:     req.RetryCount,
		TimeoutSeconds: req.TimeoutSeconds,
		Active:         true,
		CreatedAt:      time.Now(),
	}
	if hook.RetryCount <= 0 {
		hook.RetryCount = h.defaultRetries
	}
	if hook.TimeoutSeconds <= 0 {
		hook.TimeoutSeconds = h.defaultTimeoutSec
	}

	if err := h.store.CreateWebhook(r.Context(), hook); err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendCreated(w, hook)
}

// HandleListWebhooks lists webhooks for an owner
func (h *WebhookHandler) HandleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListWebhooks(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, hooks)
}

// HandleListDeliveries returns the delivery history for a webhook
func (h *WebhookHandler) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetWebhook(r.Context(), id); err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	deliveries, err := h.store.ListDeliveries(r.Context(), id)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	h.sendSuccess(w, deliveries)
}
