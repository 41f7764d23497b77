/*
audit.go - Read-only integrity checks over the whole store

PURPOSE:
  On-demand verification that the invariants the write paths enforce
  still hold: no overlapping active policies, no oversold capacity key,
  no stale hold still marked active. Run before a release or on a
  schedule. Findings are reported, never auto-corrected; correction is
  an operator decision.

CHECKS:
  policy_overlap     duplicate published/scheduled effective dates, or
                     more than one started published version per scope
  capacity_oversell  committed usage beyond effective capacity, rush
                     allowance, or the QA minute budget
  stale_holds        active holds past their expiry

SEE ALSO:
  - publish.go, reserve.go: The write paths these checks shadow
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// Auditor runs the invariant battery. It only ever reads.
type Auditor struct {
	store Store
	now   func() time.Time
}

func NewAuditor(store Store) *Auditor {
	return &Auditor{store: store, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	a.now = now
	return a
}

// CheckIntegrity runs every check and returns the violations found. An
// empty slice means the store is consistent.
func (a *Auditor) CheckIntegrity(ctx context.Context) ([]Violation, error) {
	var violations []Violation

	if v, err := a.checkPolicyOverlap(ctx); err != nil {
		return nil, err
	} else if v != nil {
		violations = append(violations, *v)
	}

	if v, err := a.checkCapacityOversell(ctx); err != nil {
		return nil, err
	} else if v != nil {
		violations = append(violations, *v)
	}

	if v, err := a.checkStaleHolds(ctx); err != nil {
		return nil, err
	} else if v != nil {
		violations = append(violations, *v)
	}

	return violations, nil
}

// =============================================================================
// CHECK: POLICY OVERLAP
// =============================================================================

func (a *Auditor) checkPolicyOverlap(ctx context.Context) (*Violation, error) {
	all, err := a.store.AllPolicyVersions(ctx)
	if err != nil {
		return nil, WrapStorage("audit.policies", err)
	}

	type scopeKey struct {
		Kind  PolicyKind
		Scope ScopeID
	}
	byScope := make(map[scopeKey][]PolicyVersion)
	for _, pv := range all {
		if pv.State != StatePublished && pv.State != StateScheduled {
			continue
		}
		k := scopeKey{pv.Kind, pv.ScopeID}
		byScope[k] = append(byScope[k], pv)
	}

	today := DateOf(a.now())
	var details []string
	for k, versions := range byScope {
		seen := make(map[string]PolicyVersionID)
		started := 0
		for _, pv := range versions {
			dateKey := pv.EffectiveDate.String()
			if other, dup := seen[dateKey]; dup {
				details = append(details, fmt.Sprintf(
					"%s/%s: versions %s and %s share effective date %s",
					k.Kind, k.Scope, other, pv.ID, dateKey))
			}
			seen[dateKey] = pv.ID
			if pv.State == StatePublished && pv.EffectiveDate.BeforeOrEqual(today) {
				started++
			}
		}
		if started > 1 {
			details = append(details, fmt.Sprintf(
				"%s/%s: %d published versions with started windows", k.Kind, k.Scope, started))
		}
	}

	if len(details) == 0 {
		return nil, nil
	}
	return &Violation{CheckName: "policy_overlap", Count: len(details), Details: details}, nil
}

// =============================================================================
// CHECK: CAPACITY OVERSELL
// =============================================================================

func (a *Auditor) checkCapacityOversell(ctx context.Context) (*Violation, error) {
	active, err := a.store.AllActiveReservations(ctx)
	if err != nil {
		return nil, WrapStorage("audit.reservations", err)
	}

	type slotKey struct {
		Hub  ScopeID
		Lane Lane
		Date string
	}
	bySlot := make(map[slotKey][]Reservation)
	dates := make(map[slotKey]Date)
	for _, r := range active {
		k := slotKey{r.HubID, r.Lane, r.Date.String()}
		bySlot[k] = append(bySlot[k], r)
		dates[k] = r.Date
	}

	now := a.now().UTC()
	var details []string
	for k, reservations := range bySlot {
		date := dates[k]
		pv, err := a.store.ActiveVersion(ctx, KindHubCapacity, k.Hub, date)
		if err != nil {
			return nil, WrapStorage("audit.profile", err)
		}
		if pv == nil {
			details = append(details, fmt.Sprintf(
				"%s/%s on %s: reservations exist without an active capacity profile",
				k.Hub, k.Lane, k.Date))
			continue
		}
		profile, err := ParseCapacityProfile(pv.Payload)
		if err != nil {
			details = append(details, fmt.Sprintf("%s: %v", k.Hub, err))
			continue
		}
		rules, err := a.store.RulesForHub(ctx, k.Hub)
		if err != nil {
			return nil, WrapStorage("audit.blackouts", err)
		}

		usage := UsageAt(reservations, now)
		effective := EffectiveCapacityWithBlackouts(profile, k.Lane, date, rules)
		if usage.Standard > effective {
			details = append(details, fmt.Sprintf(
				"%s/%s on %s: %d standard slots committed, %d effective",
				k.Hub, k.Lane, k.Date, usage.Standard, effective))
		}
		if rush := RushAllowance(profile, k.Lane); usage.Rush > rush {
			details = append(details, fmt.Sprintf(
				"%s/%s on %s: %d rush slots committed, %d allowed",
				k.Hub, k.Lane, k.Date, usage.Rush, rush))
		}
		if k.Lane == LaneQA && usage.QAMinutes > profile.QAMinuteBudget() {
			details = append(details, fmt.Sprintf(
				"%s/qa on %s: %d QA minutes committed, %d budgeted",
				k.Hub, k.Date, usage.QAMinutes, profile.QAMinuteBudget()))
		}
	}

	if len(details) == 0 {
		return nil, nil
	}
	return &Violation{CheckName: "capacity_oversell", Count: len(details), Details: details}, nil
}

// =============================================================================
// CHECK: STALE HOLDS
// =============================================================================

func (a *Auditor) checkStaleHolds(ctx context.Context) (*Violation, error) {
	stale, err := a.store.ExpiredActiveHolds(ctx, a.now())
	if err != nil {
		return nil, WrapStorage("audit.holds", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	details := make([]string, 0, len(stale))
	for _, r := range stale {
		details = append(details, fmt.Sprintf(
			"hold %s (%s/%s on %s) expired %s but still active",
			r.ID, r.HubID, r.Lane, r.Date, r.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return &Violation{CheckName: "stale_holds", Count: len(stale), Details: details}, nil
}
