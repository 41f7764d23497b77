package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atelier/capacity-engine/engine"
)

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateBlackoutRule(t *testing.T) {
	start := date(2026, time.July, 1)
	end := date(2026, time.June, 1) // before start

	cases := []struct {
		name string
		rule engine.BlackoutRule
		ok   bool
	}{
		{"one_time single day", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutOneTime, StartDate: start}, true},
		{"one_time end before start", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutOneTime, StartDate: start, EndDate: &end}, false},
		{"one_time missing start", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutOneTime}, false},
		{"weekly recurrence", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start,
			RecurrenceRule: "weekly:sat,sun"}, true},
		{"monthly recurrence", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start,
			RecurrenceRule: "monthly:1,15"}, true},
		{"recurring without rule", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start}, false},
		{"unknown weekday", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start,
			RecurrenceRule: "weekly:caturday"}, false},
		{"day of month out of range", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start,
			RecurrenceRule: "monthly:0,32"}, false},
		{"unknown recurrence kind", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutRecurring, StartDate: start,
			RecurrenceRule: "daily:1"}, false},
		{"missing hub", engine.BlackoutRule{
			RuleType: engine.BlackoutOneTime, StartDate: start}, false},
		{"unknown rule type", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: "forever", StartDate: start}, false},
		{"bad lane", engine.BlackoutRule{
			HubID: "hub-nyc", RuleType: engine.BlackoutOneTime, StartDate: start,
			AffectedLanes: []engine.Lane{"shipping"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.ValidateBlackoutRule(tc.rule)
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, engine.ErrInvalidBlackoutRule) {
					t.Errorf("expected ErrInvalidBlackoutRule, got %v", err)
				}
			}
		})
	}
}

// =============================================================================
// MATCHING
// =============================================================================

func TestBlackoutMatches_OneTimeRange(t *testing.T) {
	// GIVEN: A one-time blackout July 1-3
	// WHEN: Checking dates around the range
	// THEN: Inclusive on both ends

	end := date(2026, time.July, 3)
	rule := engine.BlackoutRule{
		HubID: "hub-nyc", RuleType: engine.BlackoutOneTime,
		StartDate: date(2026, time.July, 1), EndDate: &end, IsActive: true,
	}

	for _, tc := range []struct {
		day  int
		want bool
	}{{30, false}, {1, true}, {2, true}, {3, true}, {4, false}} {
		m := time.July
		if tc.day == 30 {
			m = time.June
		}
		if got := rule.Matches(engine.LaneAuth, date(2026, m, tc.day)); got != tc.want {
			t.Errorf("day %d: expected %v, got %v", tc.day, tc.want, got)
		}
	}
}

func TestBlackoutMatches_WeeklyRecurrence(t *testing.T) {
	// GIVEN: A weekend blackout active from March 1
	// WHEN: Checking a Saturday, a Monday, and a Saturday before the start
	// THEN: Only the in-window Saturday matches

	rule := engine.BlackoutRule{
		HubID: "hub-nyc", RuleType: engine.BlackoutRecurring,
		StartDate: date(2026, time.March, 1), RecurrenceRule: "weekly:sat,sun", IsActive: true,
	}

	saturday := date(2026, time.March, 14)
	monday := date(2026, time.March, 16)
	earlySaturday := date(2026, time.February, 14)

	if !rule.Matches(engine.LaneAuth, saturday) {
		t.Error("in-window Saturday should match")
	}
	if rule.Matches(engine.LaneAuth, monday) {
		t.Error("Monday should not match")
	}
	if rule.Matches(engine.LaneAuth, earlySaturday) {
		t.Error("Saturday before the rule starts should not match")
	}
}

func TestBlackoutMatches_MonthlyRecurrenceWithEnd(t *testing.T) {
	// GIVEN: An inventory-count blackout on the 1st and 15th, ending June 30
	// WHEN: Checking matching days inside and outside the window
	// THEN: Day-of-month matches only within [start, end]

	end := date(2026, time.June, 30)
	rule := engine.BlackoutRule{
		HubID: "hub-nyc", RuleType: engine.BlackoutRecurring,
		StartDate: date(2026, time.January, 1), EndDate: &end,
		RecurrenceRule: "monthly:1,15", IsActive: true,
	}

	if !rule.Matches(engine.LaneSewing, date(2026, time.March, 15)) {
		t.Error("March 15 should match")
	}
	if rule.Matches(engine.LaneSewing, date(2026, time.March, 14)) {
		t.Error("March 14 should not match")
	}
	if rule.Matches(engine.LaneSewing, date(2026, time.July, 1)) {
		t.Error("July 1 is past the end date")
	}
}

func TestBlackoutMatches_LaneFilterAndActiveFlag(t *testing.T) {
	// GIVEN: A qa-only blackout
	// WHEN: Checking qa and auth lanes, then deactivating the rule
	// THEN: Lane filter applies; inactive rules never match

	rule := engine.BlackoutRule{
		HubID: "hub-nyc", RuleType: engine.BlackoutOneTime,
		StartDate:     date(2026, time.July, 4),
		AffectedLanes: []engine.Lane{engine.LaneQA},
		IsActive:      true,
	}

	if !rule.Matches(engine.LaneQA, date(2026, time.July, 4)) {
		t.Error("qa lane should match")
	}
	if rule.Matches(engine.LaneAuth, date(2026, time.July, 4)) {
		t.Error("auth lane should not match a qa-only rule")
	}

	rule.IsActive = false
	if rule.Matches(engine.LaneQA, date(2026, time.July, 4)) {
		t.Error("inactive rule matched")
	}
}

func TestIsBlackedOut_AnyRuleSuffices(t *testing.T) {
	// GIVEN: One non-matching and one matching rule
	// WHEN: Evaluating the set
	// THEN: Blacked out

	rules := []engine.BlackoutRule{
		{HubID: "hub-nyc", RuleType: engine.BlackoutOneTime,
			StartDate: date(2026, time.July, 10), IsActive: true},
		{HubID: "hub-nyc", RuleType: engine.BlackoutRecurring,
			StartDate: date(2026, time.January, 1), RecurrenceRule: "weekly:sat", IsActive: true},
	}

	// 2026-07-04 is a Saturday.
	if !engine.IsBlackedOut(rules, engine.LaneAuth, date(2026, time.July, 4)) {
		t.Error("expected blackout from the weekly rule")
	}
	if engine.IsBlackedOut(rules, engine.LaneAuth, date(2026, time.July, 6)) {
		t.Error("Monday July 6 should be clear")
	}
}
