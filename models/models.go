package models

import "time"

// CreateTaskRequest represents a task creation request
type CreateTaskRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	Difficulty       string `json:"difficulty"`
	PaymentPerWorker string `json:"payment_per_worker"`
	WorkersNeeded    int    `json:"workers_needed"`
	RequiresApproval bool   `json:"requires_approval"`
	RequesterID      string `json:"requester_id"`
	RequesterWallet  string `json:"requester_wallet"`
	Deadline         string `json:"deadline,omitempty"`
}

// ApplyRequest represents a worker application request
type ApplyRequest struct {
	WorkerID string `json:"worker_id"`
	Message  string `json:"message,omitempty"`
}

// SubmitWorkRequest represents a work submission request
type SubmitWorkRequest struct {
	WorkerID     string `json:"worker_id"`
	WorkerWallet string `json:"worker_wallet"`
	Payload      string `json:"payload"`
}

// ReviewRequest represents an approve/reject decision on a submission
type ReviewRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// OpenDisputeRequest represents a dispute filing
type OpenDisputeRequest struct {
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

// ResolveDisputeRequest represents a dispute resolution decision
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes,omitempty"`
}

// CreateWebhookRequest represents a webhook registration request
type CreateWebhookRequest struct {
	OwnerID        string   `json:"owner_id"`
	URL            string   `json:"url"`
	Secret         string   `json:"secret"`
	Events         []string `json:"events"`
	RetryCount     int      `json:"retry_count,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Clients   int    `json:"ws_clients"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// APIResponse represents a generic API response
type APIResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   *ErrorResponse         `json:"error,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) *APIResponse {
	return &APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(error string, code int) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &ErrorResponse{
			Error:     error,
			Message:   error,
			Code:      code,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewErrorResponseWithHint creates an error response with a hint.
func NewErrorResponseWithHint(error string, code int, hint string) *APIResponse {
	resp := NewErrorResponse(error, code)
	if resp != nil && resp.Error != nil {
		resp.Error.Hint = hint
	}
	return resp
}

// NewSuccessResponseWithMeta creates a success response with metadata
func NewSuccessResponseWithMeta(data interface{}, meta map[string]interface{}) *APIResponse {
	return &APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	}
}
