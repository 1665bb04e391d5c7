/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is on the
  sentinels, or errors.As on the structured types for display details.

ERROR CATEGORIES:
  1. Business rule errors - ValidationError, InvalidPlanError,
     AlreadyPaidError, NotCompletedError. Never retried by the engine.
  2. Lookup errors - NotFoundError
  3. Infrastructure errors - StorageError, lock timeouts. The only kinds a
     caller may reasonably retry.

USAGE:
  _, err := svc.MarkInstallmentPaid(ctx, id, 0)
  var paid *billing.AlreadyPaidError
  if errors.As(err, &paid) {
      // show "already paid on <paid.PaidAt>"
  }

SEE ALSO:
  - service.go: wraps store failures into StorageError
  - api/handlers.go: maps kinds to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input or a broken invariant.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPlan is returned by the plan builder for unusable parameters.
	ErrInvalidPlan = errors.New("invalid installment plan")

	// ErrNotFound is returned for unknown obligation, installment or alert ids.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPaid is returned when re-marking a paid installment or obligation.
	ErrAlreadyPaid = errors.New("already paid")

	// ErrNotCompleted is returned when an invoice is requested before full payment.
	ErrNotCompleted = errors.New("obligation not completed")

	// ErrStorage is returned when the backing store fails.
	ErrStorage = errors.New("storage failure")

	// ErrLockTimeout is returned when the per-obligation lock cannot be acquired.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrDuplicateAlert is returned by stores when an alert dedup key already exists.
	ErrDuplicateAlert = errors.New("duplicate alert")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidPlanError is a ValidationError raised by the plan builder.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid installment plan: %s", e.Reason)
}

// Is lets InvalidPlanError match both ErrInvalidPlan and ErrValidation.
func (e *InvalidPlanError) Is(target error) bool {
	return target == ErrInvalidPlan || target == ErrValidation
}

// NotFoundError identifies what was missing.
type NotFoundError struct {
	Kind string // "obligation", "installment", "alert"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func obligationNotFound(id ObligationID) error {
	return &NotFoundError{Kind: "obligation", ID: string(id)}
}

func installmentNotFound(id ObligationID, index int) error {
	return &NotFoundError{Kind: "installment", ID: fmt.Sprintf("%s#%d", id, index)}
}

// AlreadyPaidError reports a double payment entry.
// InstallmentIndex is -1 for a complete-plan obligation.
type AlreadyPaidError struct {
	ObligationID     ObligationID
	InstallmentIndex int
	PaidAt           time.Time
}

func (e *AlreadyPaidError) Error() string {
	if e.InstallmentIndex < 0 {
		return fmt.Sprintf("obligation %s already paid at %s", e.ObligationID, e.PaidAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("installment %d of obligation %s already paid at %s",
		e.InstallmentIndex, e.ObligationID, e.PaidAt.Format(time.RFC3339))
}

func (e *AlreadyPaidError) Unwrap() error { return ErrAlreadyPaid }

// NotCompletedError carries the status that blocked the invoice.
type NotCompletedError struct {
	ObligationID ObligationID
	Status       ObligationStatus
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("obligation %s is %s, invoice requires completed", e.ObligationID, e.Status)
}

func (e *NotCompletedError) Unwrap() error { return ErrNotCompleted }

// StorageError wraps a backing store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Is matches ErrStorage; Unwrap exposes the driver error.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
func (e *StorageError) Unwrap() error        { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid caller input or a
// business rule violation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrNotCompleted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isDomainError reports whether err is one of the engine's own kinds and so
// must not be rewrapped as a StorageError.
func isDomainError(err error) bool {
	return IsClientError(err) || IsNotFound(err) ||
		errors.Is(err, ErrStorage) || errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrDuplicateAlert)
}
