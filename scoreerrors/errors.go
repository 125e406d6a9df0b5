package scoreerrors

import "errors"

// Submission outcome sentinel errors. Used by the gatekeeper, ledger, api and
// ws packages to avoid circular imports. Each maps to a stable wire code in
// the api package.
var (
	// ErrValidationFailed: the increment is outside the configured bounds
	// for the action type, or the request is malformed.
	ErrValidationFailed = errors.New("validation failed")

	// ErrRateLimited: the principal exhausted the window for this action
	// type. The counter is left unchanged; the client may retry after the
	// window rolls over.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockContended: another submission for the same action_id is in
	// flight. Treat as pending, not as a failure.
	ErrLockContended = errors.New("action already in flight")

	// ErrDuplicateAction: the action_id was already committed. The ledger
	// never applies it twice.
	ErrDuplicateAction = errors.New("duplicate action")

	// ErrServiceUnavailable: the store retry budget is exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")
)
