/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Validation errors - bad input caught at the order-edit boundary
  2. Consistency errors - a referenced order, mechanic or wallet is missing
  3. Conflict errors - invalid status transitions, double settlement
  4. Store errors - persistence failures, returned wrapped as-is

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrAlreadySettled) {
        // the order was completed before; nothing was posted
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation wraps every field-level input problem.
	ErrValidation = errors.New("validation failed")

	ErrOrderNotFound    = errors.New("order not found")
	ErrMechanicNotFound = errors.New("mechanic not found")
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrPartNotFound     = errors.New("part not found on order")

	// ErrInvalidTransition is returned when the order status does not allow
	// the requested operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadySettled is returned when completing an order that is already
	// completed. Nothing is posted.
	ErrAlreadySettled = errors.New("order already settled")

	// ErrOrderClosed is returned when editing a cancelled order.
	ErrOrderClosed = errors.New("order is closed")

	// ErrZeroAmount is returned when a zero movement would be posted.
	ErrZeroAmount = errors.New("movement amount must not be zero")

	// ErrDuplicateIdempotencyKey is returned by stores when a movement with
	// the same key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBalanceMismatch is returned by Verify when a stored balance differs
	// from the sum of the wallet's movements.
	ErrBalanceMismatch = errors.New("balance does not match movements")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	OrderID OrderID
	From    OrderStatus
	Action  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot %s from status %s", e.OrderID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrMechanicNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrPartNotFound)
}

// IsConflict returns true if the request clashes with the current order state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrOrderClosed) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrZeroAmount)
}
