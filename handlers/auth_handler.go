package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	core "taskblitz-backend/core/marketplace"
	auth "taskblitz-backend/storage/auth"
	store "taskblitz-backend/storage/marketplace"
)

// APIKeyHandler issues API keys via registration.
type APIKeyHandler struct {
	*BaseHandler
	issuer    auth.APIKeyIssuer
	validator auth.APIKeyValidator
	store     store.Store
}

// NewAPIKeyHandler builds an APIKeyHandler with separate issuer/validator implementations.
func NewAPIKeyHandler(issuer auth.APIKeyIssuer, validator auth.APIKeyValidator, s store.Store) *APIKeyHandler {
	return &APIKeyHandler{BaseHandler: NewBaseHandler(), issuer: issuer, validator: validator, store: s}
}

// HandleRegister issues a new API key for the provided email and wallet.
// Request: {"email":"user@example.com","wallet_address":"..."}
// Response: {"api_key":"...","email":"user@example.com"}
func (h *APIKeyHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		Wallet string `json:"wallet_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}

	email := strings.TrimSpace(body.Email)
	wallet := strings.TrimSpace(body.Wallet)
	if wallet == "" {
		h.sendError(w, http.StatusBadRequest, "wallet_address required")
		return
	}

	rec, err := h.issuer.Issue(email, wallet, "registration")
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to issue api key")
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"api_key":    rec.Key,
		"email":      rec.Email,
		"wallet":     rec.Wallet,
		"created_at": rec.CreatedAt,
	})
}

// HandleLogin verifies an existing API key and optionally binds a wallet.
// Request: {"api_key":"...","wallet_address":"..."}
// Response: { "valid": true }
func (h *APIKeyHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
		Wallet string `json:"wallet_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if !h.validator.Validate(strings.TrimSpace(body.APIKey)) {
		h.sendError(w, http.StatusForbidden, "invalid api key")
		return
	}

	wallet := strings.TrimSpace(body.Wallet)
	if wallet != "" {
		if rec, ok := h.validator.Get(body.APIKey); ok {
			if strings.TrimSpace(rec.Wallet) != "" && rec.Wallet != wallet {
				h.sendError(w, http.StatusForbidden, "wallet already bound; rebind requires verification")
				return
			}
		}
		if updater, ok := h.validator.(auth.APIKeyWalletUpdater); ok {
			if _, err := updater.UpdateWallet(body.APIKey, wallet); err != nil {
				h.sendError(w, http.StatusInternalServerError, "failed to bind wallet to api key")
				return
			}
		}
	}

	h.sendSuccess(w, map[string]interface{}{
		"valid":   true,
		"api_key": body.APIKey,
	})
}

// HandleSetLimits stores per-key rate limit ceilings for an API key. The
// ceilings take effect on the next limit check.
// Request: {"api_key":"...","per_minute":60,"per_hour":1000,"per_day":10000}
func (h *APIKeyHandler) HandleSetLimits(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey    string `json:"api_key"`
		PerMinute int    `json:"per_minute"`
		PerHour   int    `json:"per_hour"`
		PerDay    int    `json:"per_day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !h.validator.Validate(strings.TrimSpace(body.APIKey)) {
		h.sendError(w, http.StatusForbidden, "invalid api key")
		return
	}
	if body.PerMinute < 0 || body.PerHour < 0 || body.PerDay < 0 {
		h.sendError(w, http.StatusBadRequest, "limits must be non-negative")
		return
	}

	if err := h.store.PutRateLimit(r.Context(), core.APIRateLimit{
		APIKey:    body.APIKey,
		PerMinute: body.PerMinute,
		PerHour:   body.PerHour,
		PerDay:    body.PerDay,
	}); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to store rate limits")
		return
	}
	// Mirror the ceilings onto the key record so they survive override removal.
	if setter, ok := h.validator.(auth.APIKeyLimitSetter); ok {
		if err := setter.SetLimits(body.APIKey, body.PerMinute, body.PerHour, body.PerDay); err != nil {
			h.sendError(w, http.StatusInternalServerError, "failed to store rate limits")
			return
		}
	}
	h.sendSuccess(w, map[string]interface{}{
		"api_key":    body.APIKey,
		"per_minute": body.PerMinute,
		"per_hour":   body.PerHour,
		"per_day":    body.PerDay,
	})
}
