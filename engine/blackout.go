/*
blackout.go - Blackout rule validation and evaluation

PURPOSE:
  Blackout rules zero out effective capacity for matching lane/date
  combinations at a hub: inventory counts, deep cleans, regional
  holidays. A reservation may never be created against a blacked-out
  slot.

RECURRENCE GRAMMAR:
  weekly:<days>    comma-separated lowercase day abbreviations
                   e.g. "weekly:sat,sun"
  monthly:<days>   comma-separated day-of-month numbers
                   e.g. "monthly:1,15"

RULE SEMANTICS:
  - one_time: [StartDate, EndDate]; nil EndDate means a single day
  - recurring: active from StartDate (optionally until EndDate), days
    selected by the recurrence rule
  - AffectedLanes empty matches every lane
  - Rules may overlap each other freely; there is no exclusivity
    requirement between blackout rules

SEE ALSO:
  - capacity.go: Zeroes effective capacity when a rule matches
  - reserve.go: Rejects reservations against blacked-out slots
*/
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateBlackoutRule checks structural requirements before a rule is
// stored. Recurring rules require a parseable recurrence rule; one-time
// rules require a start date.
func ValidateBlackoutRule(rule BlackoutRule) error {
	if rule.HubID == "" {
		return fmt.Errorf("%w: missing hub", ErrInvalidBlackoutRule)
	}
	for _, lane := range rule.AffectedLanes {
		if !lane.Valid() {
			return fmt.Errorf("%w: unknown lane %q", ErrInvalidBlackoutRule, lane)
		}
	}
	switch rule.RuleType {
	case BlackoutOneTime:
		if rule.StartDate.IsZero() {
			return fmt.Errorf("%w: one_time rule requires start_date", ErrInvalidBlackoutRule)
		}
		if rule.EndDate != nil && rule.EndDate.Before(rule.StartDate) {
			return fmt.Errorf("%w: end_date before start_date", ErrInvalidBlackoutRule)
		}
	case BlackoutRecurring:
		if rule.RecurrenceRule == "" {
			return fmt.Errorf("%w: recurring rule requires recurrence_rule", ErrInvalidBlackoutRule)
		}
		if _, _, err := parseRecurrence(rule.RecurrenceRule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBlackoutRule, err)
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidBlackoutRule, rule.RuleType)
	}
	return nil
}

func parseRecurrence(rule string) (weekdays map[time.Weekday]bool, monthDays map[int]bool, err error) {
	kind, spec, found := strings.Cut(rule, ":")
	if !found || spec == "" {
		return nil, nil, fmt.Errorf("malformed recurrence %q", rule)
	}
	switch kind {
	case "weekly":
		weekdays = make(map[time.Weekday]bool)
		for _, part := range strings.Split(spec, ",") {
			wd, ok := weekdayNames[strings.TrimSpace(part)]
			if !ok {
				return nil, nil, fmt.Errorf("unknown weekday %q", part)
			}
			weekdays[wd] = true
		}
		return weekdays, nil, nil
	case "monthly":
		monthDays = make(map[int]bool)
		for _, part := range strings.Split(spec, ",") {
			day, convErr := strconv.Atoi(strings.TrimSpace(part))
			if convErr != nil || day < 1 || day > 31 {
				return nil, nil, fmt.Errorf("invalid day-of-month %q", part)
			}
			monthDays[day] = true
		}
		return nil, monthDays, nil
	default:
		return nil, nil, fmt.Errorf("unknown recurrence kind %q", kind)
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

// Matches reports whether this rule blacks out the given lane on the
// given date.
func (r BlackoutRule) Matches(lane Lane, date Date) bool {
	if !r.IsActive {
		return false
	}
	if len(r.AffectedLanes) > 0 && !containsLane(r.AffectedLanes, lane) {
		return false
	}

	switch r.RuleType {
	case BlackoutOneTime:
		end := r.StartDate
		if r.EndDate != nil {
			end = *r.EndDate
		}
		return r.StartDate.BeforeOrEqual(date) && date.BeforeOrEqual(end)
	case BlackoutRecurring:
		if date.Before(r.StartDate) {
			return false
		}
		if r.EndDate != nil && date.After(*r.EndDate) {
			return false
		}
		weekdays, monthDays, err := parseRecurrence(r.RecurrenceRule)
		if err != nil {
			return false
		}
		if weekdays != nil {
			return weekdays[date.Weekday()]
		}
		return monthDays[date.Day()]
	}
	return false
}

// IsBlackedOut evaluates a rule set for a lane/date combination.
func IsBlackedOut(rules []BlackoutRule, lane Lane, date Date) bool {
	for _, rule := range rules {
		if rule.Matches(lane, date) {
			return true
		}
	}
	return false
}

func containsLane(lanes []Lane, lane Lane) bool {
	for _, l := range lanes {
		if l == lane {
			return true
		}
	}
	return false
}
