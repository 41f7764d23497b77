/*
reserve.go - Reservation lifecycle and no-oversell enforcement

PURPOSE:
  Creates, promotes, releases and expires capacity reservations against
  the ledger math in capacity.go. The oversell invariant is enforced
  inside the same store transaction that inserts the reservation:
  check-then-insert is atomic with respect to other writers on the same
  (hub, lane, date) key.

LIFECYCLE:
  hold (TTL-bound) -> booking -> in_progress -> completed
  Any active reservation can be released; releasing twice is a no-op.
  A hold past its TTL is logically free immediately; ExpireStaleHolds is
  the sweep that makes that visible in storage.

CAPACITY BUCKETS:
  standard  draws on effective capacity (base x seasonality x overbooking)
  rush      draws on the rush allowance only
  QA lane   additionally bounded by the minute budget
            (headcount x shift minutes), independent of slot counts

SEE ALSO:
  - capacity.go: The numbers being enforced
  - blackout.go: Slots zeroed before any usage math runs
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultHoldTTL bounds how long an unconfirmed hold keeps slots.
const DefaultHoldTTL = 30 * time.Minute

// TypeCompleted is a promotion target only; reaching it marks the
// reservation's status completed while the type stays in_progress.
const TypeCompleted ReservationType = "completed"

var promotionRank = map[ReservationType]int{
	TypeHold:       0,
	TypeBooking:    1,
	TypeInProgress: 2,
	TypeCompleted:  3,
}

// ReserveRequest asks for slots on one capacity key for one shipment.
type ReserveRequest struct {
	HubID      ScopeID
	Lane       Lane
	Date       Date
	Slots      int
	Tier       Tier
	Priority   Priority
	ShipmentID string
	ActorID    string

	// QAMinutesRequired is mandatory on the QA lane, ignored elsewhere.
	QAMinutesRequired int
}

// ReservationManager is the single write path for reservations.
type ReservationManager struct {
	store   TxStore
	holdTTL time.Duration
	now     func() time.Time
}

func NewReservationManager(store TxStore, holdTTL time.Duration) *ReservationManager {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &ReservationManager{store: store, holdTTL: holdTTL, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (m *ReservationManager) WithClock(now func() time.Time) *ReservationManager {
	m.now = now
	return m
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve creates a TTL-bound hold if the slot has headroom.
func (m *ReservationManager) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if !req.Lane.Valid() {
		return nil, fmt.Errorf("unknown lane %q", req.Lane)
	}
	if req.Slots <= 0 {
		return nil, fmt.Errorf("slots must be positive, got %d", req.Slots)
	}
	if req.Lane == LaneQA && req.QAMinutesRequired <= 0 {
		return nil, fmt.Errorf("qa reservations require qa_minutes_required")
	}

	var reservation *Reservation
	err := m.store.WithTx(ctx, func(s Store) error {
		rules, err := s.RulesForHub(ctx, req.HubID)
		if err != nil {
			return WrapStorage("reserve.blackouts", err)
		}
		if IsBlackedOut(rules, req.Lane, req.Date) {
			return fmt.Errorf("%w: %s/%s on %s", ErrSlotBlackedOut, req.HubID, req.Lane, req.Date)
		}

		profile, err := m.activeProfile(ctx, s, req.HubID, req.Date)
		if err != nil {
			return err
		}

		now := m.now().UTC()
		existing, err := s.ReservationsForSlot(ctx, req.HubID, req.Lane, req.Date)
		if err != nil {
			return WrapStorage("reserve.usage", err)
		}
		usage := UsageAt(existing, now)

		if req.Priority == PriorityRush {
			available := RushAllowance(profile, req.Lane) - usage.Rush
			if req.Slots > available {
				return &CapacityExceededError{
					HubID: req.HubID, Lane: req.Lane, Date: req.Date,
					Priority: req.Priority, Requested: req.Slots, Available: max(available, 0),
				}
			}
		} else {
			available := EffectiveCapacity(profile, req.Lane, req.Date) - usage.Standard
			if req.Slots > available {
				return &CapacityExceededError{
					HubID: req.HubID, Lane: req.Lane, Date: req.Date,
					Priority: req.Priority, Requested: req.Slots, Available: max(available, 0),
				}
			}
		}

		if req.Lane == LaneQA {
			budget := profile.QAMinuteBudget()
			if usage.QAMinutes+req.QAMinutesRequired > budget {
				return &CapacityExceededError{
					HubID: req.HubID, Lane: req.Lane, Date: req.Date,
					Priority:     req.Priority,
					MinutesShort: usage.QAMinutes + req.QAMinutesRequired - budget,
				}
			}
		}

		expires := now.Add(m.holdTTL)
		r := Reservation{
			ID:                ReservationID(uuid.NewString()),
			ShipmentID:        req.ShipmentID,
			HubID:             req.HubID,
			Lane:              req.Lane,
			Date:              req.Date,
			SlotsReserved:     req.Slots,
			Tier:              req.Tier,
			Priority:          req.Priority,
			Type:              TypeHold,
			Status:            StatusActive,
			QAMinutesRequired: req.QAMinutesRequired,
			CreatedBy:         req.ActorID,
			CreatedAt:         now,
			ExpiresAt:         &expires,
		}
		if err := s.InsertReservation(ctx, r); err != nil {
			return WrapStorage("reserve.insert", err)
		}
		reservation = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// =============================================================================
// RELEASE / PROMOTE
// =============================================================================

// Release frees a reservation's slots. Releasing an already-released
// reservation is a no-op, not an error.
func (m *ReservationManager) Release(ctx context.Context, id ReservationID) error {
	return m.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, id)
		if err != nil {
			return WrapStorage("release.get", err)
		}
		if r == nil {
			return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
		}
		switch r.Status {
		case StatusReleased:
			return nil
		case StatusCompleted:
			return &InvalidStateTransitionError{ReservationID: id, From: r.Type, FromStatus: r.Status, To: r.Type}
		}

		now := m.now().UTC()
		r.Status = StatusReleased
		r.ReleasedAt = &now
		if err := s.UpdateReservation(ctx, *r); err != nil {
			return WrapStorage("release.update", err)
		}
		return nil
	})
}

// Promote moves a reservation forward: hold -> booking -> in_progress
// -> completed. Backward moves, repeats, promotion of released or
// completed reservations, and promotion of expired holds all fail with
// InvalidStateTransitionError.
func (m *ReservationManager) Promote(ctx context.Context, id ReservationID, to ReservationType) error {
	toRank, ok := promotionRank[to]
	if !ok {
		return fmt.Errorf("unknown promotion target %q", to)
	}
	return m.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, id)
		if err != nil {
			return WrapStorage("promote.get", err)
		}
		if r == nil {
			return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
		}

		now := m.now().UTC()
		if r.Status != StatusActive || r.Expired(now) || toRank <= promotionRank[r.Type] {
			return &InvalidStateTransitionError{ReservationID: id, From: r.Type, FromStatus: r.Status, To: to}
		}

		if to == TypeCompleted {
			r.Type = TypeInProgress
			r.Status = StatusCompleted
			r.CompletedAt = &now
		} else {
			r.Type = to
			if to != TypeHold {
				// Confirmed reservations no longer carry a TTL.
				r.ExpiresAt = nil
			}
		}
		if err := s.UpdateReservation(ctx, *r); err != nil {
			return WrapStorage("promote.update", err)
		}
		return nil
	})
}

// =============================================================================
// HOLD EXPIRY SWEEP
// =============================================================================

// ExpireStaleHolds releases active holds whose TTL lapsed before now and
// returns the count. Expired holds stopped counting against capacity the
// moment they lapsed; this sweep only records that in storage. Safe to
// run concurrently with Reserve: both take the same transaction.
func (m *ReservationManager) ExpireStaleHolds(ctx context.Context, now time.Time) (int, error) {
	released := 0
	err := m.store.WithTx(ctx, func(s Store) error {
		stale, err := s.ExpiredActiveHolds(ctx, now)
		if err != nil {
			return WrapStorage("expire.scan", err)
		}
		at := now.UTC()
		for _, r := range stale {
			r.Status = StatusReleased
			r.ReleasedAt = &at
			if err := s.UpdateReservation(ctx, r); err != nil {
				return WrapStorage("expire.update", err)
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// =============================================================================
// CAPACITY SNAPSHOT - Read-only view for planners
// =============================================================================

// SlotSnapshot is the current state of one capacity key.
type SlotSnapshot struct {
	HubID          ScopeID   `json:"hub_id"`
	Lane           Lane      `json:"lane"`
	Date           Date      `json:"-"`
	Effective      int       `json:"effective_capacity"`
	RushAllowance  int       `json:"rush_allowance"`
	Usage          SlotUsage `json:"-"`
	StandardUsed   int       `json:"standard_used"`
	RushUsed       int       `json:"rush_used"`
	QAMinutesUsed  int       `json:"qa_minutes_used"`
	QAMinuteBudget int       `json:"qa_minute_budget,omitempty"`
	UtilizationPct float64   `json:"utilization_pct"`
	BlackedOut     bool      `json:"blacked_out"`
}

// Snapshot computes the capacity view for one (hub, lane, date) key.
func (m *ReservationManager) Snapshot(ctx context.Context, hub ScopeID, lane Lane, date Date) (*SlotSnapshot, error) {
	var snap *SlotSnapshot
	err := m.store.WithTx(ctx, func(s Store) error {
		profile, err := m.activeProfile(ctx, s, hub, date)
		if err != nil {
			return err
		}
		rules, err := s.RulesForHub(ctx, hub)
		if err != nil {
			return WrapStorage("snapshot.blackouts", err)
		}
		existing, err := s.ReservationsForSlot(ctx, hub, lane, date)
		if err != nil {
			return WrapStorage("snapshot.usage", err)
		}

		usage := UsageAt(existing, m.now().UTC())
		effective := EffectiveCapacityWithBlackouts(profile, lane, date, rules)
		snap = &SlotSnapshot{
			HubID:          hub,
			Lane:           lane,
			Date:           date,
			Effective:      effective,
			RushAllowance:  RushAllowance(profile, lane),
			Usage:          usage,
			StandardUsed:   usage.Standard,
			RushUsed:       usage.Rush,
			QAMinutesUsed:  usage.QAMinutes,
			UtilizationPct: Utilization(usage.Total(), effective),
			BlackedOut:     IsBlackedOut(rules, lane, date),
		}
		if lane == LaneQA {
			snap.QAMinuteBudget = profile.QAMinuteBudget()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *ReservationManager) activeProfile(ctx context.Context, s Store, hub ScopeID, date Date) (CapacityProfile, error) {
	pv, err := s.ActiveVersion(ctx, KindHubCapacity, hub, date)
	if err != nil {
		return CapacityProfile{}, WrapStorage("profile.lookup", err)
	}
	if pv == nil {
		return CapacityProfile{}, fmt.Errorf("%w: no active capacity profile for hub %s", ErrUnknownScope, hub)
	}
	return ParseCapacityProfile(pv.Payload)
}
