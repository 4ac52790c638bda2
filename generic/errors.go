/*
errors.go - Centralized error types for the leave ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores return sentinels (or wrap them); the ledger core returns the
  structured types, which unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation errors - surfaced to the caller, zero mutation
     NotFoundError, InvalidStateError, InsufficientBalanceError, InvalidInputError
  2. Integrity errors - validation passed but the data disagrees with itself
     FragmentationError (always rolled back and logged as an incident)
  3. Concurrency errors - a stale read detected at commit time
     ConflictError (retried a bounded number of times before surfacing)

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ibe *generic.InsufficientBalanceError
      errors.As(err, &ibe)
      fmt.Println(ibe.Shortfall)
  }

SEE ALSO:
  - timeoff/consumption.go: Produces most of these
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a request, grant or employee doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when deciding a request that is no longer pending.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientBalance is returned when a request exceeds the active pool.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrFragmentation is returned when allocation could not cover a request
	// that passed the sufficiency check. Indicates store/data inconsistency.
	ErrFragmentation = errors.New("allocation fragmentation")

	// ErrInvalidInput is returned for malformed dates or negative durations.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicate is returned when inserting a row whose natural key exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "request", "employee", "grant"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError is returned when an operation requires a pending request.
type InvalidStateError struct {
	RequestID RequestID
	Status    RequestStatus
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s request %s: status is %s", e.Operation, e.RequestID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Unit       Unit
	Available  Amount
	Requested  Amount
	Shortfall  Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %v, requested %v (%s), shortfall %v",
		e.Available.Value, e.Requested.Value, e.Unit, e.Shortfall.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// FragmentationError reports the residual left after a full FIFO pass.
type FragmentationError struct {
	RequestID RequestID
	Unit      Unit
	Residual  Amount
}

func (e *FragmentationError) Error() string {
	return fmt.Sprintf("allocation for request %s left %v %s uncovered after sufficiency check passed",
		e.RequestID, e.Residual.Value, e.Unit)
}

func (e *FragmentationError) Unwrap() error { return ErrFragmentation }

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// ConflictError is surfaced once retries of a conflicting write are exhausted.
type ConflictError struct {
	Resource string
	ID       string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting concurrent write on %s %s after %d attempt(s)", e.Resource, e.ID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIntegrityError returns true for errors that indicate corrupted data.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrFragmentation)
}
