// Package handlers defines the HTTP-layer error codes shared by all API
// endpoints. Codes are lowercase snake_case and stable: clients branch on
// them, messages are for humans.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeUnknownTask = "unknown_task"
	ErrCodeListFailed  = "list_failed"
)
