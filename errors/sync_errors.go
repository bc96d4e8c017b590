package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a sync error for propagation decisions.
type Kind string

const (
	KindAuth          Kind = "auth_error"
	KindPermission    Kind = "permission_error"
	KindTransport     Kind = "transport_error"
	KindValidation    Kind = "validation_error"
	KindDataIntegrity Kind = "data_integrity_error"
)

// SyncError is the error type produced by the sync engine and its
// collaborators. Body carries the remote response body when one exists,
// FieldErrors carries directory-side validation messages.
type SyncError struct {
	Kind        Kind     `json:"kind"`
	Description string   `json:"description,omitempty"`
	Body        string   `json:"body,omitempty"`
	FieldErrors []string `json:"field_errors,omitempty"`
	Err         error    `json:"-"`
}

func (e *SyncError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Description, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewAuthError reports a token acquisition failure. The response body is
// kept verbatim for diagnostics.
func NewAuthError(description, body string, err error) *SyncError {
	return &SyncError{
		Kind:        KindAuth,
		Description: description,
		Body:        body,
		Err:         err,
	}
}

// NewPermissionError reports a 403 from the directory. Distinguished from
// transport failures because it needs admin-side remediation, not a retry.
func NewPermissionError(description string) *SyncError {
	return &SyncError{
		Kind:        KindPermission,
		Description: description,
	}
}

// NewTransportError reports a network failure, timeout, or non-403
// non-2xx response.
func NewTransportError(description string, err error) *SyncError {
	return &SyncError{
		Kind:        KindTransport,
		Description: description,
		Err:         err,
	}
}

// NewValidationError reports a directory-side rejection of a create or
// update payload, with the field-level messages it returned.
func NewValidationError(description string, fieldErrors []string) *SyncError {
	return &SyncError{
		Kind:        KindValidation,
		Description: description,
		FieldErrors: fieldErrors,
	}
}

// NewDataIntegrityError reports a local store constraint violation.
func NewDataIntegrityError(description string, err error) *SyncError {
	return &SyncError{
		Kind:        KindDataIntegrity,
		Description: description,
		Err:         err,
	}
}

func kindOf(err error) (Kind, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsAuthError reports whether err is (or wraps) an auth error.
func IsAuthError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsPermissionError reports whether err is (or wraps) a permission error.
func IsPermissionError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermission
}

// IsTransportError reports whether err is (or wraps) a transport error.
func IsTransportError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransport
}

// IsValidationError reports whether err is (or wraps) a validation error.
func IsValidationError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsDataIntegrityError reports whether err is (or wraps) a data integrity error.
func IsDataIntegrityError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDataIntegrity
}
