package engine_test

import (
	"testing"
	"time"

	"github.com/atelier/capacity-engine/engine"
)

func profile(base, overbooking, rush int, seasonality map[int]float64) engine.CapacityProfile {
	return engine.CapacityProfile{
		AuthCapacity:          base,
		SeasonalityMultiplier: seasonality,
		OverbookingPercent:    overbooking,
		RushBucketPercent:     rush,
	}
}

// =============================================================================
// EFFECTIVE CAPACITY
// =============================================================================

func TestEffectiveCapacity_SeasonalityAndOverbooking(t *testing.T) {
	// GIVEN: 20 base slots, December multiplier 0.85, 10% overbooking
	// WHEN: Computing effective capacity for a December date
	// THEN: floor(20 x 0.85 x 1.10) = floor(18.7) = 18, exactly

	p := profile(20, 10, 0, map[int]float64{12: 0.85})
	got := engine.EffectiveCapacity(p, engine.LaneAuth, date(2026, time.December, 5))
	if got != 18 {
		t.Errorf("expected 18 effective slots, got %d", got)
	}
}

func TestEffectiveCapacity_ExactDecimalProduct(t *testing.T) {
	// GIVEN: 20 base slots and multiplier 0.85 (no overbooking)
	// WHEN: Computing effective capacity
	// THEN: Exactly 17 - float drift toward 16.999... must not floor to 16

	p := profile(20, 0, 0, map[int]float64{6: 0.85})
	got := engine.EffectiveCapacity(p, engine.LaneAuth, date(2026, time.June, 15))
	if got != 17 {
		t.Errorf("expected exactly 17, got %d", got)
	}
}

func TestEffectiveCapacity_MissingMonthDefaultsToOne(t *testing.T) {
	// GIVEN: Seasonality set only for December
	// WHEN: Computing a July date
	// THEN: Multiplier defaults to 1.0

	p := profile(10, 0, 0, map[int]float64{12: 0.85})
	if got := engine.EffectiveCapacity(p, engine.LaneAuth, date(2026, time.July, 1)); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestEffectiveCapacityWithBlackouts_ZeroesMatchingSlot(t *testing.T) {
	// GIVEN: A one-time blackout on the date
	// WHEN: Computing effective capacity with the rule set
	// THEN: Zero

	p := profile(10, 0, 0, nil)
	rules := []engine.BlackoutRule{{
		ID: "b-1", HubID: "hub-nyc", RuleType: engine.BlackoutOneTime,
		StartDate: date(2026, time.July, 4), IsActive: true,
	}}

	if got := engine.EffectiveCapacityWithBlackouts(p, engine.LaneAuth, date(2026, time.July, 4), rules); got != 0 {
		t.Errorf("expected 0 on blacked-out day, got %d", got)
	}
	if got := engine.EffectiveCapacityWithBlackouts(p, engine.LaneAuth, date(2026, time.July, 5), rules); got != 10 {
		t.Errorf("expected 10 on a clear day, got %d", got)
	}
}

// =============================================================================
// RUSH ALLOWANCE
// =============================================================================

func TestRushAllowance_RoundsUp(t *testing.T) {
	// GIVEN: Small lanes with nonzero rush percent
	// WHEN: Computing the rush bucket
	// THEN: Always rounds up so the bucket is never silently zero

	cases := []struct {
		base, pct, want int
	}{
		{10, 20, 2},  // exact
		{5, 10, 1},   // 0.5 -> 1
		{3, 15, 1},   // 0.45 -> 1
		{10, 0, 0},   // zero percent stays zero
		{0, 20, 0},   // zero base stays zero
		{100, 13, 13},
	}
	for _, tc := range cases {
		p := profile(tc.base, 0, tc.pct, nil)
		if got := engine.RushAllowance(p, engine.LaneAuth); got != tc.want {
			t.Errorf("base %d pct %d: expected %d, got %d", tc.base, tc.pct, tc.want, got)
		}
	}
}

// =============================================================================
// UTILIZATION
// =============================================================================

func TestUtilization_ZeroCapacityReportsZero(t *testing.T) {
	// GIVEN: A blacked-out (zero capacity) slot with stranded usage
	// WHEN: Computing utilization
	// THEN: 0, not a division by zero or infinity

	if got := engine.Utilization(3, 0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestUtilization_RoundsToTwoDecimals(t *testing.T) {
	// GIVEN: 1 of 3 slots used
	// WHEN: Computing utilization
	// THEN: 33.33

	if got := engine.Utilization(1, 3); got != 33.33 {
		t.Errorf("expected 33.33, got %v", got)
	}
}

// =============================================================================
// SLOT USAGE
// =============================================================================

func TestUsageAt_SkipsExpiredAndInactive(t *testing.T) {
	// GIVEN: An active booking, an expired hold, and a released booking
	// WHEN: Summing usage at now
	// THEN: Only the active booking counts

	now := fixedNow()
	expired := now.Add(-time.Minute)
	live := now.Add(time.Hour)

	reservations := []engine.Reservation{
		{Priority: engine.PriorityStandard, SlotsReserved: 3, Type: engine.TypeBooking, Status: engine.StatusActive},
		{Priority: engine.PriorityStandard, SlotsReserved: 5, Type: engine.TypeHold, Status: engine.StatusActive, ExpiresAt: &expired},
		{Priority: engine.PriorityStandard, SlotsReserved: 7, Type: engine.TypeBooking, Status: engine.StatusReleased},
		{Priority: engine.PriorityRush, SlotsReserved: 1, Type: engine.TypeHold, Status: engine.StatusActive, ExpiresAt: &live},
	}

	usage := engine.UsageAt(reservations, now)
	if usage.Standard != 3 {
		t.Errorf("expected 3 standard slots, got %d", usage.Standard)
	}
	if usage.Rush != 1 {
		t.Errorf("expected 1 rush slot, got %d", usage.Rush)
	}
}

func TestUsageAt_QAMinutesTrackedSeparately(t *testing.T) {
	// GIVEN: Two active QA reservations
	// WHEN: Summing usage
	// THEN: Minutes accumulate alongside slot counts

	reservations := []engine.Reservation{
		{Lane: engine.LaneQA, Priority: engine.PriorityStandard, SlotsReserved: 1,
			Type: engine.TypeBooking, Status: engine.StatusActive, QAMinutesRequired: 300},
		{Lane: engine.LaneQA, Priority: engine.PriorityStandard, SlotsReserved: 1,
			Type: engine.TypeBooking, Status: engine.StatusActive, QAMinutesRequired: 150},
	}

	usage := engine.UsageAt(reservations, fixedNow())
	if usage.QAMinutes != 450 {
		t.Errorf("expected 450 QA minutes, got %d", usage.QAMinutes)
	}
	if usage.Standard != 2 {
		t.Errorf("expected 2 slots, got %d", usage.Standard)
	}
}
