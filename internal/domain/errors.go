package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound                   = errors.New("record not found")
	ErrDuplicateKey               = errors.New("record already exists")
	ErrValidation                 = errors.New("invalid submission")
	ErrStoreUnavailable           = errors.New("store unavailable")
	ErrStoreOperationFailed       = errors.New("store operation failed")
	ErrIdentityVerificationFailed = errors.New("identity verification failed")
	ErrCapabilityUnavailable      = errors.New("capability not configured")
	ErrInvalidRequest             = errors.New("invalid request")
	ErrInternalError              = errors.New("internal server error")
)

// Validation codes reported by ValidationError
const (
	CodeMissingField   = "missing_field"
	CodeEmptyName      = "empty_name"
	CodeBadScoreFormat = "bad_score_format"
	CodeNegativeScore  = "negative_score"
)

// ValidationError reports malformed client input. It matches ErrValidation.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Code)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Message returns the user-facing text for the validation code
func (e *ValidationError) Message() string {
	switch e.Code {
	case CodeMissingField:
		return "Missing name or score"
	case CodeEmptyName:
		return "Name cannot be empty"
	case CodeBadScoreFormat:
		return "Invalid score format"
	case CodeNegativeScore:
		return "Invalid score"
	default:
		return "Invalid request"
	}
}

// NewValidationError creates a ValidationError with the given code
func NewValidationError(code string) error {
	return &ValidationError{Code: code}
}

// Unavailable wraps a driver error as ErrStoreUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// OperationFailed wraps a driver error as ErrStoreOperationFailed
func OperationFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreOperationFailed, err)
}

// IsStoreError checks if an error is any kind of store failure
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreOperationFailed)
}
