package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelier/capacity-engine/engine"
	"github.com/atelier/capacity-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testHub = engine.ScopeID("hub-nyc")

// newTestManager publishes a capacity profile for testHub effective
// Jan 1 and returns a manager with a 30-minute hold TTL under the
// fixed clock: auth 10 slots, sewing 4, qa 6, 2 QA staff x 480 minutes,
// no overbooking, 20% rush bucket.
func newTestManager(t *testing.T) (*engine.ReservationManager, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	publisher := engine.NewPublisher(s).WithClock(fixedNow)
	_, err := publisher.Publish(context.Background(), engine.PublishRequest{
		Kind:    engine.KindHubCapacity,
		ScopeID: testHub,
		Payload: map[string]any{
			"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6,
			"qa_headcount": 2, "qa_shift_minutes": 480,
			"overbooking_percent": 0, "rush_bucket_percent": 20,
		},
		EffectiveDate: date(2026, time.January, 1),
		State:         engine.StatePublished,
		ActorID:       "ops-1",
	})
	if err != nil {
		t.Fatalf("publishing capacity profile: %v", err)
	}
	return engine.NewReservationManager(s, 30*time.Minute).WithClock(fixedNow), s
}

func reserveSlots(t *testing.T, m *engine.ReservationManager, lane engine.Lane, slots int, priority engine.Priority) *engine.Reservation {
	t.Helper()
	r, err := m.Reserve(context.Background(), engine.ReserveRequest{
		HubID:      testHub,
		Lane:       lane,
		Date:       date(2026, time.March, 20),
		Slots:      slots,
		Priority:   priority,
		ShipmentID: "shp-1",
		ActorID:    "ops-1",
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	return r
}

// =============================================================================
// NO-OVERSELL TESTS
// =============================================================================

func TestReserve_FillsCapacityThenRejects(t *testing.T) {
	// GIVEN: Auth lane with 10 effective slots
	// WHEN: Reserving 10, then 1 more
	// THEN: The 11th slot is rejected with the shortfall detailed

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 10, engine.PriorityStandard)

	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneAuth, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard,
	})

	var exceeded *engine.CapacityExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if exceeded.Available != 0 || exceeded.Requested != 1 {
		t.Errorf("shortfall detail wrong: requested %d available %d", exceeded.Requested, exceeded.Available)
	}
}

func TestReserve_ReleaseFreesExactlyReleasedSlots(t *testing.T) {
	// GIVEN: A full auth lane (10/10)
	// WHEN: Releasing a 1-slot hold
	// THEN: Exactly 1 slot is reservable again, not 2

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 9, engine.PriorityStandard)
	small := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)

	if err := manager.Release(context.Background(), small.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)
	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneAuth, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard,
	})
	if !errors.Is(err, engine.ErrCapacityExceeded) {
		t.Fatalf("released slot double-counted: %v", err)
	}
}

func TestReserve_RushBucketIndependentOfStandard(t *testing.T) {
	// GIVEN: Auth lane full on standard capacity (10/10), rush bucket
	//        of ceil(10 x 20%) = 2 untouched
	// WHEN: Reserving 2 rush slots, then a 3rd
	// THEN: Rush succeeds independently; the 3rd rush slot is rejected

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 10, engine.PriorityStandard)

	reserveSlots(t, manager, engine.LaneAuth, 2, engine.PriorityRush)

	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneAuth, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityRush,
	})
	if !errors.Is(err, engine.ErrCapacityExceeded) {
		t.Fatalf("rush bucket not enforced: %v", err)
	}
}

func TestReserve_LanesIndependent(t *testing.T) {
	// GIVEN: Auth lane full
	// WHEN: Reserving on the sewing lane
	// THEN: Sewing capacity is unaffected

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 10, engine.PriorityStandard)
	reserveSlots(t, manager, engine.LaneSewing, 4, engine.PriorityStandard)
}

// =============================================================================
// QA MINUTE BUDGET
// =============================================================================

func TestReserve_QAMinuteBudgetBindsBeforeSlots(t *testing.T) {
	// GIVEN: QA lane with 6 slots but only 960 minutes (2 x 480)
	// WHEN: Two 400-minute jobs are booked and a 200-minute job follows
	// THEN: The third is rejected on minutes despite free slots

	manager, _ := newTestManager(t)
	for i := 0; i < 2; i++ {
		_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
			HubID: testHub, Lane: engine.LaneQA, Date: date(2026, time.March, 20),
			Slots: 1, Priority: engine.PriorityStandard, QAMinutesRequired: 400,
		})
		if err != nil {
			t.Fatalf("qa reserve failed: %v", err)
		}
	}

	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneQA, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard, QAMinutesRequired: 200,
	})

	var exceeded *engine.CapacityExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if exceeded.MinutesShort != 40 {
		t.Errorf("expected 40 minutes short, got %d", exceeded.MinutesShort)
	}
}

func TestReserve_QARequiresMinutes(t *testing.T) {
	// GIVEN: A QA reservation request without a minute estimate
	// WHEN: Reserving
	// THEN: Rejected before any store access

	manager, _ := newTestManager(t)
	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneQA, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard,
	})
	if err == nil {
		t.Fatal("qa reservation without minutes accepted")
	}
}

// =============================================================================
// HOLD EXPIRY
// =============================================================================

func TestReserve_ExpiredHoldIsLogicallyFree(t *testing.T) {
	// GIVEN: A full auth lane held at 12:00 with a 30-minute TTL
	// WHEN: A new reservation arrives at 12:31, before any sweep
	// THEN: The expired hold no longer counts; the reservation succeeds

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 10, engine.PriorityStandard)

	later := func() time.Time { return fixedNow().Add(31 * time.Minute) }
	manager.WithClock(later)

	reserveSlots(t, manager, engine.LaneAuth, 10, engine.PriorityStandard)
}

func TestExpireStaleHolds_ReleasesOnlyLapsedHolds(t *testing.T) {
	// GIVEN: An expired hold and a confirmed booking
	// WHEN: The sweep runs
	// THEN: Only the hold is released; the booking is untouched

	manager, s := newTestManager(t)
	hold := reserveSlots(t, manager, engine.LaneAuth, 2, engine.PriorityStandard)
	booking := reserveSlots(t, manager, engine.LaneAuth, 3, engine.PriorityStandard)
	if err := manager.Promote(context.Background(), booking.ID, engine.TypeBooking); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	released, err := manager.ExpireStaleHolds(context.Background(), fixedNow().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released hold, got %d", released)
	}

	got, _ := s.GetReservation(context.Background(), hold.ID)
	if got.Status != engine.StatusReleased {
		t.Error("expired hold not released")
	}
	got, _ = s.GetReservation(context.Background(), booking.ID)
	if got.Status != engine.StatusActive {
		t.Error("booking released by sweep")
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestPromote_ForwardOnlyLifecycle(t *testing.T) {
	// GIVEN: A fresh hold
	// WHEN: Promoting hold -> booking -> in_progress -> completed
	// THEN: Every forward step succeeds; the final state is completed

	manager, s := newTestManager(t)
	r := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)
	ctx := context.Background()

	for _, to := range []engine.ReservationType{engine.TypeBooking, engine.TypeInProgress, engine.TypeCompleted} {
		if err := manager.Promote(ctx, r.ID, to); err != nil {
			t.Fatalf("promote to %s failed: %v", to, err)
		}
	}

	got, _ := s.GetReservation(ctx, r.ID)
	if got.Status != engine.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected completed with timestamp, got status %s", got.Status)
	}
}

func TestPromote_BackwardAndRepeatRejected(t *testing.T) {
	// GIVEN: A reservation promoted to in_progress
	// WHEN: Promoting back to booking, or to in_progress again
	// THEN: Both fail with InvalidStateTransitionError

	manager, _ := newTestManager(t)
	r := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)
	ctx := context.Background()

	if err := manager.Promote(ctx, r.ID, engine.TypeBooking); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if err := manager.Promote(ctx, r.ID, engine.TypeInProgress); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	for _, to := range []engine.ReservationType{engine.TypeBooking, engine.TypeInProgress} {
		err := manager.Promote(ctx, r.ID, to)
		if !errors.Is(err, engine.ErrInvalidStateTransition) {
			t.Errorf("promote to %s: expected invalid transition, got %v", to, err)
		}
	}
}

func TestPromote_ExpiredHoldRejected(t *testing.T) {
	// GIVEN: A hold whose TTL lapsed
	// WHEN: Promoting it to booking
	// THEN: Rejected; lapsed holds cannot be confirmed

	manager, _ := newTestManager(t)
	r := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)

	manager.WithClock(func() time.Time { return fixedNow().Add(time.Hour) })
	err := manager.Promote(context.Background(), r.ID, engine.TypeBooking)
	if !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRelease_IdempotentAndTerminal(t *testing.T) {
	// GIVEN: A released reservation and a completed reservation
	// WHEN: Releasing each again
	// THEN: Released -> no-op; completed -> invalid transition

	manager, _ := newTestManager(t)
	ctx := context.Background()

	released := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)
	if err := manager.Release(ctx, released.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := manager.Release(ctx, released.ID); err != nil {
		t.Errorf("second release not a no-op: %v", err)
	}

	completed := reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityStandard)
	if err := manager.Promote(ctx, completed.ID, engine.TypeCompleted); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	err := manager.Release(ctx, completed.ID)
	if !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Errorf("release of completed reservation: expected invalid transition, got %v", err)
	}
}

func TestRelease_UnknownReservation(t *testing.T) {
	// GIVEN: No such reservation
	// WHEN: Releasing it
	// THEN: ErrReservationNotFound

	manager, _ := newTestManager(t)
	err := manager.Release(context.Background(), "no-such-id")
	if !errors.Is(err, engine.ErrReservationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// =============================================================================
// BLACKOUTS AND MISSING PROFILES
// =============================================================================

func TestReserve_BlackedOutSlotRejected(t *testing.T) {
	// GIVEN: A one-time blackout covering the target date
	// WHEN: Reserving on that date
	// THEN: ErrSlotBlackedOut

	manager, s := newTestManager(t)
	err := s.InsertBlackoutRule(context.Background(), engine.BlackoutRule{
		ID: "b-1", HubID: testHub, RuleType: engine.BlackoutOneTime,
		StartDate: date(2026, time.March, 20),
		IsActive:  true, CreatedAt: fixedNow(),
	})
	if err != nil {
		t.Fatalf("inserting rule: %v", err)
	}

	_, err = manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: testHub, Lane: engine.LaneAuth, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard,
	})
	if !errors.Is(err, engine.ErrSlotBlackedOut) {
		t.Fatalf("expected blackout rejection, got %v", err)
	}
}

func TestReserve_UnknownHubRejected(t *testing.T) {
	// GIVEN: No capacity profile for the hub
	// WHEN: Reserving
	// THEN: ErrUnknownScope

	manager, _ := newTestManager(t)
	_, err := manager.Reserve(context.Background(), engine.ReserveRequest{
		HubID: "hub-unknown", Lane: engine.LaneAuth, Date: date(2026, time.March, 20),
		Slots: 1, Priority: engine.PriorityStandard,
	})
	if !errors.Is(err, engine.ErrUnknownScope) {
		t.Fatalf("expected unknown scope, got %v", err)
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func TestSnapshot_ReflectsUsageAndBudget(t *testing.T) {
	// GIVEN: 4 standard and 1 rush slot held on the auth lane
	// WHEN: Taking a snapshot
	// THEN: Effective capacity, usage and utilization line up

	manager, _ := newTestManager(t)
	reserveSlots(t, manager, engine.LaneAuth, 4, engine.PriorityStandard)
	reserveSlots(t, manager, engine.LaneAuth, 1, engine.PriorityRush)

	snap, err := manager.Snapshot(context.Background(), testHub, engine.LaneAuth, date(2026, time.March, 20))
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	if snap.Effective != 10 || snap.RushAllowance != 2 {
		t.Errorf("capacity wrong: effective %d rush %d", snap.Effective, snap.RushAllowance)
	}
	if snap.StandardUsed != 4 || snap.RushUsed != 1 {
		t.Errorf("usage wrong: standard %d rush %d", snap.StandardUsed, snap.RushUsed)
	}
	if snap.UtilizationPct != 50 {
		t.Errorf("expected 50%% utilization, got %v", snap.UtilizationPct)
	}
	if snap.BlackedOut {
		t.Error("slot reported blacked out")
	}
}
