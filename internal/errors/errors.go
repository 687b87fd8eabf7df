package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure class of the scheduling engine.
type ErrorCode string

const (
	ErrItemNotFound       ErrorCode = "ITEM_NOT_FOUND"      // 404
	ErrInvalidTarget      ErrorCode = "INVALID_TARGET"      // 400
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrSlotFull           ErrorCode = "SLOT_FULL"           // 409
	ErrMalformedSnapshot  ErrorCode = "MALFORMED_SNAPSHOT"  // 422
	ErrPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE" // 503
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// CadenceError is a structured error with code, status, and details.
type CadenceError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Retryable marks failures the user can resolve by repeating the
	// gesture.
	Retryable bool
	Err       error
}

func (e *CadenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CadenceError) Unwrap() error {
	return e.Err
}

// NewItemNotFound is returned before any remote effect is attempted.
func NewItemNotFound(itemID string) *CadenceError {
	return &CadenceError{
		Code:    ErrItemNotFound,
		Status:  404,
		Message: fmt.Sprintf("item not found: %s", itemID),
		Details: map[string]any{"itemId": itemID},
	}
}

func NewInvalidTarget(target string) *CadenceError {
	return &CadenceError{
		Code:    ErrInvalidTarget,
		Status:  400,
		Message: fmt.Sprintf("invalid drop target: %q", target),
		Details: map[string]any{"target": target},
	}
}

func NewInvalidRequest(msg string) *CadenceError {
	return &CadenceError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewSlotFull rejects a drop before the local mutation is applied.
func NewSlotFull(slotKey string, capacity int) *CadenceError {
	return &CadenceError{
		Code:    ErrSlotFull,
		Status:  409,
		Message: fmt.Sprintf("maximum of %d posts reached for %s", capacity, slotKey),
		Details: map[string]any{"slotKey": slotKey, "capacity": capacity},
	}
}

// NewMalformedSnapshot describes one remote entry dropped during
// normalization.
func NewMalformedSnapshot(itemID, reason string) *CadenceError {
	return &CadenceError{
		Code:    ErrMalformedSnapshot,
		Status:  422,
		Message: fmt.Sprintf("malformed entry %s: %s", itemID, reason),
		Details: map[string]any{"itemId": itemID, "reason": reason},
	}
}

// NewPersistenceFailure reports a write that exhausted its retries. The
// local mutation has been rolled back by the time this is returned.
func NewPersistenceFailure(itemID string, attempts int, err error) *CadenceError {
	return &CadenceError{
		Code:      ErrPersistenceFailure,
		Status:    503,
		Message:   fmt.Sprintf("could not save %s after %d attempts", itemID, attempts),
		Details:   map[string]any{"itemId": itemID, "attempts": attempts},
		Retryable: true,
		Err:       err,
	}
}

func NewInternal(err error) *CadenceError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CadenceError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is reports whether err is, or wraps, a CadenceError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CadenceError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As extracts the CadenceError from err's chain.
func As(err error) (*CadenceError, bool) {
	var cErr *CadenceError
	ok := stderrors.As(err, &cErr)
	return cErr, ok
}
