package marketplace

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrTaskNotFound         = Err("task not found")
	ErrApplicationNotFound  = Err("application not found")
	ErrSubmissionNotFound   = Err("submission not found")
	ErrDisputeNotFound      = Err("dispute not found")
	ErrWebhookNotFound      = Err("webhook not found")
	ErrRateLimitNotFound    = Err("rate limit not configured for api key")
	ErrDuplicateApplication = Err("worker already applied to this task")
	ErrAlreadySubmitted     = Err("worker already submitted work for this task")
	ErrDuplicateDispute     = Err("submission already has a dispute")
	ErrTaskNotOpen          = Err("task is not open for submissions")
	ErrTaskFull             = Err("all worker slots are filled")
	ErrNotApproved          = Err("worker has no approved application for this task")
	ErrInvalidState         = Err("operation not allowed in current state")
	ErrInsufficientFunds    = Err("requester balance cannot cover escrow")
)
