/*
errors.go - Centralized error types for the credit engine

PURPOSE:
  All error values in one place. The taxonomy is deliberately small:
  validation errors (malformed input rejected before the engine runs),
  not-found errors (dangling references surfaced to the caller), and the
  partial-batch result produced by bulk operations.

PROPAGATION POLICY:
  The pure functions in this package only fail on malformed input.
  Persistence failures belong to Store implementations and propagate
  unchanged; nothing in the core catches and swallows them.
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrCreditNotFound is returned when a referenced credit does not exist.
	ErrCreditNotFound = errors.New("credit not found")

	// ErrClientNotFound is returned when a referenced client does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrFineNotFound is returned when a payment references a missing fine.
	ErrFineNotFound = errors.New("fine not found")

	// ErrPaymentNotFound is returned when editing or deleting a missing payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInstallmentOutOfRange is returned when an installment number falls
	// outside 1..InstallmentCount for a write operation. Reads are laxer:
	// a dangling payment target degrades to a general payment.
	ErrInstallmentOutOfRange = errors.New("installment number out of range")

	// ErrDuplicateID is returned when appending a record whose ID exists.
	ErrDuplicateID = errors.New("duplicate record id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCreditNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrFineNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsValidation reports whether the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInstallmentOutOfRange)
}
