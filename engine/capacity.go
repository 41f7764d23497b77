/*
capacity.go - Capacity ledger math

PURPOSE:
  Derives sellable capacity for a (hub, lane, date) key from the active
  hub capacity profile:

    effective = floor(base x seasonality(month) x (1 + overbooking/100))
    rush      = ceil(base x rushBucket/100)

  Rush capacity is a separate allowance carved out for priority work;
  standard reservations never dip into it and rush reservations never
  dip into the standard pool. A matching blackout rule zeroes effective
  capacity outright.

  The QA lane is additionally time-bound: total QA minutes on a day may
  not exceed headcount x shift minutes, independent of slot counts.

PRECISION:
  Multipliers run through decimal.Decimal. 0.85 x 20 must be exactly 17,
  not 16.999999 floored to 16.

SEE ALSO:
  - reserve.go: Enforces these numbers inside the reservation transaction
  - audit.go: Re-checks them over the whole store
*/
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY DERIVATION
// =============================================================================

// SeasonalityFor returns the month multiplier, defaulting to 1.0 for
// months without an entry.
func (p CapacityProfile) SeasonalityFor(date Date) decimal.Decimal {
	if m, ok := p.SeasonalityMultiplier[int(date.Month())]; ok {
		return decimal.NewFromFloat(m)
	}
	return decimal.NewFromInt(1)
}

// EffectiveCapacity computes sellable standard slots for a lane on a
// date, before blackout rules are considered.
func EffectiveCapacity(p CapacityProfile, lane Lane, date Date) int {
	base := decimal.NewFromInt(int64(p.BaseCapacity(lane)))
	overbooking := decimal.NewFromInt(int64(p.OverbookingPercent)).
		Div(decimal.NewFromInt(100)).
		Add(decimal.NewFromInt(1))

	slots := base.Mul(p.SeasonalityFor(date)).Mul(overbooking)
	return int(slots.Floor().IntPart())
}

// EffectiveCapacityWithBlackouts is EffectiveCapacity reduced to zero
// when any blackout rule matches the slot.
func EffectiveCapacityWithBlackouts(p CapacityProfile, lane Lane, date Date, rules []BlackoutRule) int {
	if IsBlackedOut(rules, lane, date) {
		return 0
	}
	return EffectiveCapacity(p, lane, date)
}

// RushAllowance computes the reserved rush bucket for a lane. Rounds up
// so a nonzero rush percent on a small lane still yields one slot.
func RushAllowance(p CapacityProfile, lane Lane) int {
	base := decimal.NewFromInt(int64(p.BaseCapacity(lane)))
	rush := base.Mul(decimal.NewFromInt(int64(p.RushBucketPercent))).Div(decimal.NewFromInt(100))
	return int(rush.Ceil().IntPart())
}

// Utilization returns used/effective as a percentage. A zero-capacity
// slot reports 0 rather than dividing by zero; callers treat a
// blacked-out day as fully unavailable, not infinitely utilized.
func Utilization(used, effective int) float64 {
	if effective <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(used)).
		Div(decimal.NewFromInt(int64(effective))).
		Mul(decimal.NewFromInt(100))
	f, _ := pct.Round(2).Float64()
	return f
}

// =============================================================================
// SLOT USAGE - Committed consumption on a (hub, lane, date) key
// =============================================================================

// SlotUsage aggregates the active reservations on one capacity key.
type SlotUsage struct {
	Standard  int // active non-rush slots (holds + bookings + in_progress)
	Rush      int // active rush slots
	QAMinutes int // active QA minutes (QA lane only)
}

func (u SlotUsage) Total() int { return u.Standard + u.Rush }

// UsageAt sums the reservations that count against capacity at the
// given instant. Expired holds are logically free even before the
// sweep releases them.
func UsageAt(reservations []Reservation, now time.Time) SlotUsage {
	var usage SlotUsage
	for _, r := range reservations {
		if !r.CountsAgainstCapacity(now) {
			continue
		}
		if r.Priority == PriorityRush {
			usage.Rush += r.SlotsReserved
		} else {
			usage.Standard += r.SlotsReserved
		}
		if r.Lane == LaneQA {
			usage.QAMinutes += r.QAMinutesRequired
		}
	}
	return usage
}

// =============================================================================
// PROFILE PARSING
// =============================================================================

// ParseCapacityProfile decodes a stored hub_capacity_profile payload.
// Structural validation happens at the boundary (factory package); this
// only guards against records written before validation existed.
func ParseCapacityProfile(raw json.RawMessage) (CapacityProfile, error) {
	var p CapacityProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return CapacityProfile{}, fmt.Errorf("malformed capacity profile payload: %w", err)
	}
	return p, nil
}
