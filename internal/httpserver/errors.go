package httpserver

// Error bodies are stable plain-text strings; clients match on them, so they
// only change with the API version.
const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingLeadID    = "missing lead id"
	ErrMissingAttemptID = "missing attempt id"
	ErrLeadNotFound     = "lead not found"
	ErrAttemptNotFound  = "attempt not found"
	ErrAlreadyEnrolled  = "lead already enrolled"
	ErrEnrollmentParams = "plan and maxAttempts required"
	ErrDependency       = "dependency error"
	ErrBadForm          = "bad form"
	ErrInvalidSignature = "invalid signature"
)
