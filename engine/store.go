/*
store.go - Persistence interface for policy versions, reservations and
blackout rules

PURPOSE:
  Defines the interface between the engine and the database. The engine
  is stateless; the store is the only mutable shared resource, and it is
  mutated exclusively through Publisher and ReservationManager, never by
  direct external writes.

KEY INTERFACES:
  PolicyStore:      Versioned, effective-dated policy rows
  ReservationStore: Capacity reservations per (hub, lane, date)
  BlackoutStore:    Exclusion window rules
  TxStore:          Everything above plus WithTx for atomic
                    check-then-write sequences

TRANSACTIONAL CONTRACT:
  All cross-record invariant checks (overlap, no-oversell) run inside
  WithTx. An implementation must guarantee that two concurrent WithTx
  calls touching the same scope key cannot both observe the pre-write
  state: the SQLite implementation serializes writers with a mutex plus
  a database transaction, and backstops the application-level checks
  with unique indexes on idempotency_key and on
  (kind, scope_id, effective_date) for published/scheduled rows.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - publish.go, reserve.go: The only callers of the write methods
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// POLICY STORE
// =============================================================================

// PolicyStore persists policy versions. Rows are immutable apart from
// their lifecycle state; supersession archives, it never deletes.
type PolicyStore interface {
	// InsertPolicyVersion persists a new version row.
	InsertPolicyVersion(ctx context.Context, pv PolicyVersion) error

	// UpdatePolicyState transitions a row's lifecycle state.
	UpdatePolicyState(ctx context.Context, id PolicyVersionID, state PolicyState, at time.Time) error

	// FindByIdempotencyKey returns the existing row for a replayed
	// request, or nil when the key is unseen.
	FindByIdempotencyKey(ctx context.Context, key string) (*PolicyVersion, error)

	// VersionsByScope returns every version for (kind, scope), ordered
	// by effective date then creation time.
	VersionsByScope(ctx context.Context, kind PolicyKind, scope ScopeID) ([]PolicyVersion, error)

	// ActiveVersion returns the published version for (kind, scope)
	// whose effective date has started by asOf, or nil.
	ActiveVersion(ctx context.Context, kind PolicyKind, scope ScopeID, asOf Date) (*PolicyVersion, error)

	// PendingScheduled returns scheduled versions whose effective date
	// has arrived by asOf, across all scopes.
	PendingScheduled(ctx context.Context, asOf Date) ([]PolicyVersion, error)

	// AllPolicyVersions returns every stored version (auditor and
	// read-only summaries).
	AllPolicyVersions(ctx context.Context) ([]PolicyVersion, error)
}

// =============================================================================
// RESERVATION STORE
// =============================================================================

type ReservationStore interface {
	InsertReservation(ctx context.Context, r Reservation) error

	// GetReservation returns nil when the ID is unknown.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// UpdateReservation overwrites lifecycle fields (type, status,
	// released/completed timestamps). Slot counts never change after
	// insertion.
	UpdateReservation(ctx context.Context, r Reservation) error

	// ReservationsForSlot returns every reservation on a capacity key,
	// regardless of status. Callers filter with CountsAgainstCapacity.
	ReservationsForSlot(ctx context.Context, hub ScopeID, lane Lane, date Date) ([]Reservation, error)

	// ExpiredActiveHolds returns active holds whose TTL lapsed before now.
	ExpiredActiveHolds(ctx context.Context, now time.Time) ([]Reservation, error)

	// AllActiveReservations returns every active reservation (auditor).
	AllActiveReservations(ctx context.Context) ([]Reservation, error)
}

// =============================================================================
// BLACKOUT STORE
// =============================================================================

type BlackoutStore interface {
	InsertBlackoutRule(ctx context.Context, rule BlackoutRule) error

	// RulesForHub returns all rules for a hub, active or not.
	RulesForHub(ctx context.Context, hub ScopeID) ([]BlackoutRule, error)

	// SetBlackoutRuleActive flips a rule's active flag.
	SetBlackoutRuleActive(ctx context.Context, id string, active bool) error
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is the full persistence surface the engine operates on.
type Store interface {
	PolicyStore
	ReservationStore
	BlackoutStore
}

// TxStore adds atomic execution. Invariant checks and their writes
// always share one WithTx call.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error the
	// transaction rolls back and the error propagates unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error
}
