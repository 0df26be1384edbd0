package apierr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps domain sentinels onto HTTP status/code pairs.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, pkgerrors.ErrPermission):
		return New(http.StatusForbidden, "forbidden", err)
	case errors.Is(err, pkgerrors.ErrValidation):
		return New(http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, pkgerrors.ErrQuotaExceeded):
		return New(http.StatusTooManyRequests, "quota_exceeded", err)
	case errors.Is(err, pkgerrors.ErrExternalTask):
		return New(http.StatusBadGateway, "external_task_failed", err)
	case errors.Is(err, pkgerrors.ErrBusy):
		return New(http.StatusServiceUnavailable, "workspace_busy", err)
	default:
		return New(http.StatusInternalServerError, "internal_error", err)
	}
}
