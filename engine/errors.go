/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors  - Bad input, rejected before touching the store
  2. Supply errors      - Shortage at approval time, recoverable
  3. Reservation errors - Lost CAS race, recoverable by re-planning
  4. Commit errors      - Partial handover write, fatal, manual reconciliation
  5. Transition errors  - Illegal state machine moves, no mutation

USAGE:
  Callers classify with errors.Is or the helpers:

    if engine.IsRetryable(err) {
        // re-plan and retry the approval
    }

SEE ALSO:
  - lifecycle.go: Produces transition and supply errors
  - reservation.go: Produces conflict and partial-commit errors
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownBloodGroup is returned for an unrecognized ABO/Rh combination.
	ErrUnknownBloodGroup = errors.New("unknown blood group")

	// ErrValidation is returned for bad input rejected before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientSupply is returned when compatible stock cannot cover a
	// request. Not fatal; the operator may reschedule or wait for intake.
	ErrInsufficientSupply = errors.New("insufficient compatible supply")

	// ErrReservationConflict is returned when a concurrent approval won the
	// CAS race for one or more planned units. Safe to re-plan and retry.
	ErrReservationConflict = errors.New("reservation conflict")

	// ErrPartialCommit is returned when some but not all units of a handover
	// batch were written. Fatal: requires manual reconciliation, never retried.
	ErrPartialCommit = errors.New("partial handover commit")

	// ErrIllegalTransition is returned for a state machine move that is not
	// permitted from the request's current status.
	ErrIllegalTransition = errors.New("illegal request transition")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrUnitNotFound is returned when a referenced unit doesn't exist.
	ErrUnitNotFound = errors.New("unit not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports invalid caller input with a field hint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientSupplyError breaks a shortage down for the operator.
type InsufficientSupplyError struct {
	RequestID        RequestID
	Group            BloodGroup
	Required         int
	Available        int
	Shortage         int
	CompatibleGroups []BloodGroup
	AvailableByGroup map[BloodGroup]int
}

func (e *InsufficientSupplyError) Error() string {
	return fmt.Sprintf("insufficient supply for %s: required %d, available %d, short %d",
		e.Group, e.Required, e.Available, e.Shortage)
}

func (e *InsufficientSupplyError) Unwrap() error { return ErrInsufficientSupply }

// ReservationConflictError names the units lost to a concurrent approval.
// All units this attempt did reserve have already been released.
type ReservationConflictError struct {
	RequestID      RequestID
	ContestedUnits []UnitID
}

func (e *ReservationConflictError) Error() string {
	ids := make([]string, len(e.ContestedUnits))
	for i, id := range e.ContestedUnits {
		ids[i] = string(id)
	}
	return fmt.Sprintf("reservation conflict for request %s: units contested: %s",
		e.RequestID, strings.Join(ids, ", "))
}

func (e *ReservationConflictError) Unwrap() error { return ErrReservationConflict }

// PartialCommitError records the exact outcome buckets of a failed handover
// batch. Committed units are physically handed over and cannot be un-handed;
// the request must not advance while Failed is non-empty.
type PartialCommitError struct {
	RequestID RequestID
	Committed []UnitID
	Failed    []UnitID
	Cause     error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit for request %s: %d committed, %d failed: %v",
		e.RequestID, len(e.Committed), len(e.Failed), e.Cause)
}

func (e *PartialCommitError) Unwrap() error { return ErrPartialCommit }

// IllegalTransitionError reports a rejected state machine move.
type IllegalTransitionError struct {
	RequestID RequestID
	From      RequestStatus
	Action    string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s request %s in status %q", e.Action, e.RequestID, e.From)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-planning and retrying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrReservationConflict)
}

// IsClientError returns true if the error is due to invalid caller input or
// a request the caller can correct.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownBloodGroup) ||
		errors.Is(err, ErrInsufficientSupply) ||
		errors.Is(err, ErrIllegalTransition)
}

// IsFatal returns true if the error must halt the lifecycle transition and
// surface to a human operator. Fatal errors are never silently retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPartialCommit)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrUnitNotFound)
}
