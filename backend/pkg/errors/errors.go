package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInvalidArgument represents bad caller input; nothing was written
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeNotFound represents a missing node or ledger record
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeAlreadyUndone represents a second undo of the same ledger record
	ErrorTypeAlreadyUndone ErrorType = "already_undone"
	// ErrorTypeConflict represents a graph that changed between planning and commit
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeTransientStore represents connectivity or timeout failures of the graph or ledger store
	ErrorTypeTransientStore ErrorType = "transient_store"
	// ErrorTypeInconsistentState represents a graph mutation that committed without its ledger counterpart
	ErrorTypeInconsistentState ErrorType = "inconsistent_state"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrorType reports the category; every typed error below inherits it through embedding.
func (e *BaseError) ErrorType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// ErrInvalidArgument is returned when caller input is rejected before any write
type ErrInvalidArgument struct {
	*BaseError
	Field  string
	Value  string
	Reason string
}

func NewInvalidArgument(field, value, reason string) *ErrInvalidArgument {
	return &ErrInvalidArgument{
		BaseError: NewBaseError(ErrorTypeInvalidArgument, fmt.Sprintf("invalid %s %q: %s", field, value, reason), nil),
		Field:     field,
		Value:     value,
		Reason:    reason,
	}
}

// ErrNotFound is returned when a graph node or ledger record does not exist
type ErrNotFound struct {
	*BaseError
	Resource string
	ID       string
	Label    string
}

func NewNotFound(resource, id, label string) *ErrNotFound {
	msg := fmt.Sprintf("%s not found: %s", resource, id)
	if label != "" {
		msg = fmt.Sprintf("%s not found: %s (%s)", resource, id, label)
	}
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, msg, nil),
		Resource:  resource,
		ID:        id,
		Label:     label,
	}
}

// ErrAlreadyUndone is returned when a ledger record has already been reversed
type ErrAlreadyUndone struct {
	*BaseError
	LedgerID string
	UndoneAt time.Time
	UndoneBy string
}

func NewAlreadyUndone(ledgerID string, undoneAt time.Time, undoneBy string) *ErrAlreadyUndone {
	return &ErrAlreadyUndone{
		BaseError: NewBaseError(ErrorTypeAlreadyUndone, fmt.Sprintf("merge %s already undone by %s at %s", ledgerID, undoneBy, undoneAt.UTC().Format(time.RFC3339)), nil),
		LedgerID:  ledgerID,
		UndoneAt:  undoneAt,
		UndoneBy:  undoneBy,
	}
}

// ErrConflict is returned when a planned mutation no longer matches the graph.
// The transaction is rolled back, so nothing changed.
type ErrConflict struct {
	*BaseError
	Label  string
	ID     string
	Reason string
}

func NewConflict(label, id, reason string) *ErrConflict {
	return &ErrConflict{
		BaseError: NewBaseError(ErrorTypeConflict, fmt.Sprintf("graph changed under %s %s: %s", label, id, reason), nil),
		Label:     label,
		ID:        id,
		Reason:    reason,
	}
}

// ErrTransientStore is returned when the graph or ledger store fails to answer.
// OutcomeUnknown marks write calls whose commit status cannot be known (timeouts, dropped connections).
type ErrTransientStore struct {
	*BaseError
	Store          string
	Operation      string
	OutcomeUnknown bool
}

func NewTransientStore(store, operation string, outcomeUnknown bool, err error) *ErrTransientStore {
	return &ErrTransientStore{
		BaseError:      NewBaseError(ErrorTypeTransientStore, fmt.Sprintf("%s store failed during %s", store, operation), err),
		Store:          store,
		Operation:      operation,
		OutcomeUnknown: outcomeUnknown,
	}
}

// ErrInconsistentState is returned when the graph and the ledger disagree after a partial failure.
// It requires manual reconciliation.
type ErrInconsistentState struct {
	*BaseError
	LedgerID  string
	Operation string
	Detail    string
}

func NewInconsistentState(ledgerID, operation, detail string, err error) *ErrInconsistentState {
	return &ErrInconsistentState{
		BaseError: NewBaseError(ErrorTypeInconsistentState, fmt.Sprintf("%s left graph and ledger inconsistent (ledger %s): %s", operation, ledgerID, detail), err),
		LedgerID:  ledgerID,
		Operation: operation,
		Detail:    detail,
	}
}

// Helper functions

type typed interface {
	ErrorType() ErrorType
}

// TypeOf returns the category of the first typed error in the chain, or "" for untyped errors
func TypeOf(err error) ErrorType {
	var t typed
	if stderrors.As(err, &t) {
		return t.ErrorType()
	}
	return ""
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeInconsistentState) {
		return false
	}
	var transient *ErrTransientStore
	if stderrors.As(err, &transient) {
		// A write whose outcome is unknown must be verified before any retry
		return !transient.OutcomeUnknown
	}
	// The graph moved under us; a fresh plan may succeed
	return IsErrorType(err, ErrorTypeConflict)
}
