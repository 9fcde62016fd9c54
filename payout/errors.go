/*
errors.go - Centralized error types for the payout engine

ERROR CATEGORIES:
  1. Validation - input rejected before any write (400)
  2. Conflict   - transition on a terminal or ineligible record (409)
  3. Not found  - unknown session or payout (404)
  4. Forbidden  - actor role may not perform the action (403)
  5. Persistence - store failures, wrapped with context (500)

Audit failures never appear here: the recorder swallows them.

USAGE:
  if errors.Is(err, payout.ErrAlreadyProcessed) {
      // tell the user "Payout already processed"
  }
*/
package payout

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPayoutNotFound  = errors.New("payout not found")

	// ErrAlreadyProcessed is returned when a payout already exists for a
	// session or a payout already reached paid. Repeated "pay" clicks land here.
	ErrAlreadyProcessed = errors.New("payout already processed")

	ErrAlreadyAttended = errors.New("session already marked as attended")

	// ErrInvalidTransition is returned when the transition table has no edge
	// for the payout's current status and the requested event.
	ErrInvalidTransition = errors.New("invalid payout status transition")

	// ErrSessionLocked is returned when editing or deleting a session that
	// already has a payout.
	ErrSessionLocked = errors.New("session has an active payout")

	ErrForbidden = errors.New("action not permitted for this actor")

	// ErrConcurrentModification is returned when a compare-and-set status
	// write finds the payout already moved by someone else.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	ErrValidation = errors.New("validation failed")
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError describes a rejected status change.
type TransitionError struct {
	PayoutID PayoutID
	From     PayoutStatus
	Event    Event
}

func (e *TransitionError) Error() string {
	if e.From == PayoutPaid {
		return fmt.Sprintf("payout %s already processed", e.PayoutID)
	}
	return fmt.Sprintf("payout %s: cannot %s from %s", e.PayoutID, e.Event, e.From)
}

// Unwrap lets callers match on ErrAlreadyProcessed for terminal payouts
// and ErrInvalidTransition otherwise.
func (e *TransitionError) Unwrap() error {
	if e.From == PayoutPaid {
		return ErrAlreadyProcessed
	}
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPaymentMethod)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyAttended) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSessionLocked) ||
		errors.Is(err, ErrConcurrentModification)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPayoutNotFound)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
