// Package apperr defines the error taxonomy shared by services and the HTTP layer.
// Every domain failure is one of the sentinel *Error values below, optionally wrapped
// with request-specific context; handlers recover the sentinel with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the families exposed to callers.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

// Auth errors.
var (
	ErrMissingHeader             = &Error{KindAuth, "MISSING_HEADER", "required header missing", http.StatusBadRequest}
	ErrInvalidOrigin             = &Error{KindAuth, "INVALID_ORIGIN", "origin not allowed for organization", http.StatusForbidden}
	ErrInvalidAPIKey             = &Error{KindAuth, "INVALID_API_KEY", "invalid api key", http.StatusUnauthorized}
	ErrInvalidOrganization       = &Error{KindAuth, "INVALID_ORGANIZATION", "invalid organization", http.StatusUnauthorized}
	ErrInvalidHandshake          = &Error{KindAuth, "INVALID_HANDSHAKE", "invalid handshake", http.StatusUnauthorized}
	ErrInvalidTransactionContext = &Error{KindAuth, "INVALID_TRANSACTION_CONTEXT", "transaction does not belong to this session", http.StatusUnauthorized}
	ErrInvalidToken              = &Error{KindAuth, "INVALID_TOKEN", "invalid or expired token", http.StatusUnauthorized}
	ErrOrganizationMismatch      = &Error{KindAuth, "ORGANIZATION_MISMATCH", "token does not belong to this organization", http.StatusForbidden}
	ErrExpiredSession            = &Error{KindAuth, "EXPIRED_SESSION", "session expired or revoked", http.StatusUnauthorized}
)

// Validation errors.
var (
	ErrMalformedBatch = &Error{KindValidation, "MALFORMED_BATCH", "malformed event batch", http.StatusBadRequest}
	ErrDuplicateBatch = &Error{KindValidation, "DUPLICATE_BATCH", "batch already received", http.StatusConflict}
	ErrInvalidRequest = &Error{KindValidation, "INVALID_REQUEST", "invalid request", http.StatusBadRequest}
)

// Not-found errors.
var (
	ErrNoActiveTransaction = &Error{KindNotFound, "NO_ACTIVE_TRANSACTION", "no active transaction for session", http.StatusBadRequest}
	ErrUnknownTransaction  = &Error{KindNotFound, "UNKNOWN_TRANSACTION", "transaction not found", http.StatusNotFound}
)

// ErrStoreFailure is the only internal error surfaced to callers; details stay in server logs.
var ErrStoreFailure = &Error{KindInternal, "STORE_FAILURE", "internal error", http.StatusInternalServerError}

// DetailError attaches a caller-safe detail to a sentinel.
type DetailError struct {
	Err    *Error
	Detail string
}

func (e *DetailError) Error() string {
	return e.Err.Message + ": " + e.Detail
}

func (e *DetailError) Unwrap() error {
	return e.Err
}

// Malformed returns ErrMalformedBatch naming the offending field.
func Malformed(field, problem string) error {
	return &DetailError{Err: ErrMalformedBatch, Detail: fmt.Sprintf("%s %s", field, problem)}
}

// MissingHeader returns ErrMissingHeader naming the header.
func MissingHeader(name string) error {
	return &DetailError{Err: ErrMissingHeader, Detail: name}
}

// Invalid returns ErrInvalidRequest with detail.
func Invalid(detail string) error {
	return &DetailError{Err: ErrInvalidRequest, Detail: detail}
}

// Store wraps an unexpected persistence failure. The cause is kept for logging
// and errors.Is, but never rendered to callers.
func Store(op string, cause error) error {
	return &storeError{op: op, cause: cause}
}

type storeError struct {
	op    string
	cause error
}

func (e *storeError) Error() string {
	return e.op + ": " + e.cause.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreFailure, e.cause}
}

// From resolves err to its taxonomy entry and the message safe to show callers.
// Errors outside the taxonomy resolve to ErrStoreFailure.
func From(err error) (*Error, string) {
	var de *DetailError
	if errors.As(err, &de) {
		return de.Err, de.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		return e, e.Message
	}
	return ErrStoreFailure, ErrStoreFailure.Message
}
