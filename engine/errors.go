/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on these with errors.Is/errors.As; the structured
  variants carry the context a settings UI needs to render a useful
  rejection ("overlapping window", "capacity exceeded by N slots").

ERROR CATEGORIES:
  1. Policy errors - Overlap and scheduling rule violations
  2. Reservation errors - Capacity and lifecycle violations
  3. Storage errors - Persistence failures, wrapped, never retried here

NOTE ON DUPLICATES:
  A replayed publish is NOT an error. It is reported through
  PublishResult.IsDuplicate with ActionTaken "skipped".

SEE ALSO:
  - publish.go: Returns OverlappingPolicyError / InvalidScheduleDateError
  - reserve.go: Returns CapacityExceededError / InvalidStateTransitionError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverlappingPolicy is returned when a publish would create a
	// second published/scheduled version whose effective window
	// intersects an existing one for the same (kind, scope).
	ErrOverlappingPolicy = errors.New("overlapping policy window")

	// ErrInvalidScheduleDate is returned when scheduling a policy for a
	// date that is not strictly in the future. Checked before any store
	// access.
	ErrInvalidScheduleDate = errors.New("schedule date must be in the future")

	// ErrCapacityExceeded is returned when a reservation would push a
	// (hub, lane, date) key past its effective capacity or rush allowance.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidStateTransition is returned on a non-forward reservation
	// promotion or any transition from a released/completed reservation.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUnknownScope is returned when no active capacity profile exists
	// for the requested hub.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrReservationNotFound is returned when a reservation ID does not
	// resolve to a stored row.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrSlotBlackedOut is returned when a reservation targets a
	// blacked-out (hub, lane, date) combination.
	ErrSlotBlackedOut = errors.New("slot blacked out")

	// ErrInvalidBlackoutRule is returned when a blackout rule fails
	// structural validation (recurring without a recurrence rule, etc).
	ErrInvalidBlackoutRule = errors.New("invalid blackout rule")

	// ErrStorage marks any underlying persistence failure. Retry policy
	// belongs to the caller, never to this engine.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlappingPolicyError details which existing version conflicts.
type OverlappingPolicyError struct {
	Kind          PolicyKind
	ScopeID       ScopeID
	EffectiveDate Date
	ConflictsWith PolicyVersionID
	ConflictState PolicyState
}

func (e *OverlappingPolicyError) Error() string {
	return fmt.Sprintf("overlapping policy window: %s/%s effective %s conflicts with %s version %s",
		e.Kind, e.ScopeID, e.EffectiveDate, e.ConflictState, e.ConflictsWith)
}

func (e *OverlappingPolicyError) Unwrap() error { return ErrOverlappingPolicy }

// CapacityExceededError details the shortfall for a rejected reservation.
type CapacityExceededError struct {
	HubID     ScopeID
	Lane      Lane
	Date      Date
	Priority  Priority
	Requested int
	Available int

	// MinutesShort is set when the QA minute budget, not the slot
	// count, is the binding constraint.
	MinutesShort int
}

func (e *CapacityExceededError) Error() string {
	if e.MinutesShort > 0 {
		return fmt.Sprintf("capacity exceeded: %s/%s on %s short %d QA minutes",
			e.HubID, e.Lane, e.Date, e.MinutesShort)
	}
	return fmt.Sprintf("capacity exceeded: %s/%s on %s requested %d %s slots, %d available",
		e.HubID, e.Lane, e.Date, e.Requested, e.Priority, e.Available)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// InvalidStateTransitionError details an illegal reservation transition.
type InvalidStateTransitionError struct {
	ReservationID ReservationID
	From          ReservationType
	FromStatus    ReservationStatus
	To            ReservationType
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: reservation %s %s/%s -> %s",
		e.ReservationID, e.From, e.FromStatus, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// StorageError wraps an underlying persistence failure with the
// operation that triggered it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err) }

// Unwrap exposes both the ErrStorage classification and the underlying
// cause, so errors.Is can still match driver sentinels through the wrap.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// WrapStorage wraps err as a StorageError unless it is already a typed
// engine error (those pass through unchanged).
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRecoverable(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRecoverable returns true for deterministic rejections the caller can
// branch on. Retrying these without new input will fail again.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrOverlappingPolicy) ||
		errors.Is(err, ErrInvalidScheduleDate) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrUnknownScope) ||
		errors.Is(err, ErrSlotBlackedOut) ||
		errors.Is(err, ErrInvalidBlackoutRule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReservationNotFound) || errors.Is(err, ErrUnknownScope)
}
