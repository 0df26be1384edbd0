package errors

import "errors"

var (
	// ErrNotFound is the sentinel for unknown entity ids.
	ErrNotFound = errors.New("not found")
	// ErrPermission is the sentinel for insufficient workspace role.
	ErrPermission = errors.New("permission denied")
	// ErrValidation is the sentinel for malformed or rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrQuotaExceeded is the sentinel for a denied quota precheck.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrExternalTask is the sentinel for dispatch/provider failures.
	ErrExternalTask = errors.New("external task failed")
	// ErrBusy is the sentinel for a saturated workspace mailbox.
	ErrBusy = errors.New("workspace busy")
)
