// Package apperr defines the error taxonomy shared by all services. Handlers
// classify failures with errors.Is against these sentinels and map them to
// HTTP status codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound: a referenced product, batch or inventory item does not
	// exist for the caller's enterprise. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAttestation: missing or malformed document CID. A caller
	// input defect, never retried.
	ErrInvalidAttestation = errors.New("invalid attestation")

	// ErrInsufficientStock: a remove exceeds the current quantity. No partial
	// deduction occurs.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCommitmentFailed: the mandatory ledger commit raised. Nothing was
	// persisted; retry policy belongs to the caller.
	ErrCommitmentFailed = errors.New("ledger commitment failed")

	// ErrStoreUnavailable: the underlying database or document store is
	// unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrValidation: a request field failed validation before any protocol
	// step ran.
	ErrValidation = errors.New("validation failed")
)

type appError struct {
	kind error
	msg  string
}

func (e *appError) Error() string { return e.msg }
func (e *appError) Unwrap() error { return e.kind }

// E wraps kind with a caller-facing message. The message must name the
// offending entity and the violated precondition.
func E(kind error, format string, args ...interface{}) error {
	return &appError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps a classified error to the response code used by every
// handler. Unclassified errors are treated as server faults.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAttestation), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrCommitmentFailed), errors.Is(err, ErrStoreUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
