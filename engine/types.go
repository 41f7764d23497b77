/*
Package engine implements the policy versioning and capacity reservation core.

PURPOSE:
  This package contains the domain types and algorithms that govern
  effective-dated configuration policies (SLA/margin targets, risk
  thresholds, hub capacity profiles) and live allocation of finite hub
  processing capacity (authentication, sewing, QA lanes). Everything with
  a correctness invariant lives here; UI layers and planners are external
  callers of these operations.

KEY CONCEPTS IN THIS FILE (types.go):
  - PolicyVersion: One effective-dated, versioned row of a logical policy
  - CapacityProfile: Per-hub lane capacities, the payload of a
    hub_capacity_profile policy
  - Reservation: A hold/booking of lane slots for a shipment on a date
  - BlackoutRule: Exclusion windows that zero out lane capacity
  - PublishResult / Violation: Operation outputs

DESIGN PRINCIPLES:
  1. Idempotency: Every publish carries an idempotency key; replays are
     detected and reported, never re-applied
  2. Precision: decimal.Decimal for seasonality/overbooking math, no
     floating-point drift in capacity computation
  3. Type Safety: Strong typing for kinds, lanes, states and IDs
  4. Single choke point: All mutation goes through Publisher and
     ReservationManager, never direct store writes

SEE ALSO:
  - publish.go: Publish/schedule workflow enforcing the overlap invariant
  - capacity.go: Effective capacity, rush allowance, utilization math
  - reserve.go: Reservation lifecycle and no-oversell enforcement
  - blackout.go: Blackout rule evaluation
  - audit.go: Read-only integrity checks
*/
package engine

import (
	"encoding/json"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyVersionID string
type ReservationID string
type ScopeID string

// =============================================================================
// POLICY KINDS AND STATES
// =============================================================================

// PolicyKind tags the payload shape of a policy version.
type PolicyKind string

const (
	KindSLAMargin     PolicyKind = "sla_margin"
	KindRiskThreshold PolicyKind = "risk_threshold"
	KindHubCapacity   PolicyKind = "hub_capacity_profile"
)

func (k PolicyKind) Valid() bool {
	switch k {
	case KindSLAMargin, KindRiskThreshold, KindHubCapacity:
		return true
	}
	return false
}

// PolicyState is the lifecycle state of a policy version.
//
// Lifecycle: draft|published|scheduled on creation -> a later-effective
// publish archives the prior published row -> scheduled rows become
// published when their effective date arrives (ActivatePending) or are
// archived when superseded before activation.
type PolicyState string

const (
	StateDraft     PolicyState = "draft"
	StatePublished PolicyState = "published"
	StateScheduled PolicyState = "scheduled"
	StateArchived  PolicyState = "archived"
)

// =============================================================================
// POLICY VERSION - One effective-dated row of a logical policy
// =============================================================================

// PolicyVersion is an immutable, effective-dated version of a logical
// policy identified by (Kind, ScopeID). For hub capacity profiles the
// scope is the hub; SLA/margin and risk policies use a global scope.
type PolicyVersion struct {
	ID      PolicyVersionID
	Kind    PolicyKind
	ScopeID ScopeID

	// PolicyID is the stable identifier of the logical policy,
	// derived as "<kind>/<scope>".
	PolicyID string

	Version       int
	State         PolicyState
	EffectiveDate Date

	// Payload is the canonical JSON serialization of the kind-specific
	// payload. Always produced by CanonicalJSON before storage.
	Payload json.RawMessage

	IdempotencyKey string
	PayloadHash    string
	ChangeReason   string
	ActorID        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogicalPolicyID derives the stable policy identifier for a scope.
func LogicalPolicyID(kind PolicyKind, scope ScopeID) string {
	return string(kind) + "/" + string(scope)
}

// PublishAction reports what a publish call actually did.
type PublishAction string

const (
	ActionCreated   PublishAction = "created"
	ActionPublished PublishAction = "published"
	ActionScheduled PublishAction = "scheduled"
	ActionSkipped   PublishAction = "skipped"
)

// PublishResult is returned by Publish/SchedulePolicy.
type PublishResult struct {
	PolicyID       string
	VersionID      PolicyVersionID
	IsDuplicate    bool
	ActionTaken    PublishAction
	IdempotencyKey string
	PayloadHash    string
}

// =============================================================================
// POLICY PAYLOADS - Tagged union, one struct per kind
// =============================================================================

// CapacityProfile is the payload of a hub_capacity_profile policy.
// Seasonality is keyed by month number (1-12); missing months default
// to a multiplier of 1.0.
type CapacityProfile struct {
	AuthCapacity   int `json:"auth_capacity"`
	SewingCapacity int `json:"sewing_capacity"`
	QACapacity     int `json:"qa_capacity"`

	// QA throughput is time-bound: headcount x shift minutes is a
	// budget tracked independently of slot counts.
	QAHeadcount    int `json:"qa_headcount"`
	QAShiftMinutes int `json:"qa_shift_minutes"`

	SeasonalityMultiplier map[int]float64 `json:"seasonality_multiplier,omitempty"`

	OverbookingPercent int `json:"overbooking_percent"` // 0-30
	RushBucketPercent  int `json:"rush_bucket_percent"` // 0-20

	WorkingDays      []string `json:"working_days,omitempty"`
	WorkingHours     string   `json:"working_hours,omitempty"`
	BackToBackCutoff string   `json:"back_to_back_cutoff,omitempty"`
}

// BaseCapacity returns the raw slot capacity for a lane, before
// seasonality and overbooking adjustments.
func (p CapacityProfile) BaseCapacity(lane Lane) int {
	switch lane {
	case LaneAuth:
		return p.AuthCapacity
	case LaneSewing:
		return p.SewingCapacity
	case LaneQA:
		return p.QACapacity
	}
	return 0
}

// QAMinuteBudget is the total QA minutes available per day.
func (p CapacityProfile) QAMinuteBudget() int {
	return p.QAHeadcount * p.QAShiftMinutes
}

// SLAMarginPolicy is the payload of an sla_margin policy.
type SLAMarginPolicy struct {
	AuthSLAHours   int `json:"auth_sla_hours"`
	SewingSLAHours int `json:"sewing_sla_hours"`
	QASLAHours     int `json:"qa_sla_hours"`

	TargetMarginPercent  float64 `json:"target_margin_percent"`
	FloorMarginPercent   float64 `json:"floor_margin_percent"`
	RushSurchargePercent float64 `json:"rush_surcharge_percent"`
}

// RiskThresholdPolicy is the payload of a risk_threshold policy.
type RiskThresholdPolicy struct {
	MaxDeclaredValue  float64  `json:"max_declared_value"`
	HighRiskBrands    []string `json:"high_risk_brands,omitempty"`
	ManualReviewScore float64  `json:"manual_review_score"`
	AutoRejectScore   float64  `json:"auto_reject_score"`
}

// =============================================================================
// LANES, TIERS, PRIORITIES
// =============================================================================

// Lane is a distinct processing stage at a hub with independent capacity.
type Lane string

const (
	LaneAuth   Lane = "auth"
	LaneSewing Lane = "sewing"
	LaneQA     Lane = "qa"
)

func (l Lane) Valid() bool {
	switch l {
	case LaneAuth, LaneSewing, LaneQA:
		return true
	}
	return false
}

type Tier string

const (
	TierT2 Tier = "T2"
	TierT3 Tier = "T3"
)

// Priority selects which capacity bucket a reservation draws from.
// Rush reservations consume the rush allowance, standard reservations
// consume effective capacity.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityRush     Priority = "rush"
)

// =============================================================================
// RESERVATION - A hold/booking of lane capacity for a shipment
// =============================================================================

type ReservationType string

const (
	TypeHold       ReservationType = "hold"
	TypeBooking    ReservationType = "booking"
	TypeInProgress ReservationType = "in_progress"
)

type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusReleased  ReservationStatus = "released"
	StatusCompleted ReservationStatus = "completed"
)

// Reservation claims slots on a (hub, lane, date) key for one shipment.
// Holds carry an expiry; a hold past ExpiresAt is logically free even
// before a sweep marks it released.
type Reservation struct {
	ID         ReservationID
	ShipmentID string
	HubID      ScopeID
	Lane       Lane
	Date       Date

	SlotsReserved int
	Tier          Tier
	Priority      Priority
	Type          ReservationType
	Status        ReservationStatus

	// QAMinutesRequired is only meaningful on the QA lane.
	QAMinutesRequired int

	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	ReleasedAt  *time.Time
	CompletedAt *time.Time
}

// Expired reports whether a hold's TTL has lapsed at the given instant.
// Non-holds never expire.
func (r Reservation) Expired(now time.Time) bool {
	return r.Type == TypeHold && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// CountsAgainstCapacity reports whether this reservation consumes slots
// at the given instant.
func (r Reservation) CountsAgainstCapacity(now time.Time) bool {
	return r.Status == StatusActive && !r.Expired(now)
}

// =============================================================================
// BLACKOUT RULES
// =============================================================================

type BlackoutRuleType string

const (
	BlackoutOneTime   BlackoutRuleType = "one_time"
	BlackoutRecurring BlackoutRuleType = "recurring"
)

// BlackoutRule zeroes effective capacity for matching lane/date
// combinations at a hub. Multiple rules may legitimately overlap.
type BlackoutRule struct {
	ID       string
	HubID    ScopeID
	RuleType BlackoutRuleType

	// One-time rules: [StartDate, EndDate]; a nil EndDate means a
	// single day. Recurring rules: StartDate opens the rule,
	// RecurrenceRule selects days (see blackout.go for the grammar).
	StartDate      Date
	EndDate        *Date
	RecurrenceRule string

	// AffectedLanes empty means all lanes.
	AffectedLanes []Lane

	Reason   string
	IsActive bool

	CreatedAt time.Time
}

// =============================================================================
// INTEGRITY VIOLATIONS
// =============================================================================

// Violation is one failed invariant check reported by the auditor.
type Violation struct {
	CheckName string   `json:"check_name"`
	Count     int      `json:"count"`
	Details   []string `json:"details"`
}
