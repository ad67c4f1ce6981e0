package handlers

import (
	"errors"
	"net/http"

	core "taskblitz-backend/core/marketplace"
)

// statusFor maps domain errors to HTTP status codes. Unknown errors are
// treated as internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTaskNotFound),
		errors.Is(err, core.ErrApplicationNotFound),
		errors.Is(err, core.ErrSubmissionNotFound),
		errors.Is(err, core.ErrDisputeNotFound),
		errors.Is(err, core.ErrWebhookNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateApplication),
		errors.Is(err, core.ErrAlreadySubmitted),
		errors.Is(err, core.ErrDuplicateDispute),
		errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrTaskNotOpen),
		errors.Is(err, core.ErrTaskFull):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
