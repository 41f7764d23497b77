/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Shape validation of policy payloads happens in the factory package
  (JSON Schema); everything else is validated in handlers. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/payload.go: Payload schema validation
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/atelier/capacity-engine/engine"
)

// =============================================================================
// POLICY TYPES
// =============================================================================

// PublishPolicyRequest is the request to publish or draft a policy version.
type PublishPolicyRequest struct {
	Kind          string          `json:"kind"`
	ScopeID       string          `json:"scope_id"`
	Payload       json.RawMessage `json:"payload"`
	EffectiveDate string          `json:"effective_date"` // YYYY-MM-DD
	State         string          `json:"state,omitempty"` // draft|published; default published
	ActorID       string          `json:"actor_id"`
	ChangeReason  string          `json:"change_reason,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// SchedulePolicyRequest is the request to schedule a future activation.
type SchedulePolicyRequest struct {
	Kind          string          `json:"kind"`
	ScopeID       string          `json:"scope_id"`
	Payload       json.RawMessage `json:"payload"`
	EffectiveDate string          `json:"effective_date"` // YYYY-MM-DD, strictly future
	ActorID       string          `json:"actor_id"`
	ChangeReason  string          `json:"change_reason,omitempty"`
}

// PublishResultDTO reports what a publish call did.
type PublishResultDTO struct {
	PolicyID       string `json:"policy_id"`
	VersionID      string `json:"version_id"`
	IsDuplicate    bool   `json:"is_duplicate"`
	ActionTaken    string `json:"action_taken"`
	IdempotencyKey string `json:"idempotency_key"`
	PayloadHash    string `json:"payload_hash"`
}

// PolicyVersionDTO represents a policy version in API responses.
type PolicyVersionDTO struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	ScopeID       string          `json:"scope_id"`
	PolicyID      string          `json:"policy_id"`
	Version       int             `json:"version"`
	State         string          `json:"state"`
	EffectiveDate string          `json:"effective_date"`
	Payload       json.RawMessage `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
	ChangeReason  string          `json:"change_reason,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	UpdatedAt     string          `json:"updated_at,omitempty"`
}

// ActivationResultDTO is the result of a scheduler tick.
type ActivationResultDTO struct {
	Activated int `json:"activated"`
}

// =============================================================================
// RESERVATION TYPES
// =============================================================================

// CreateReservationRequest asks for slots on a capacity key.
type CreateReservationRequest struct {
	HubID             string `json:"hub_id"`
	Lane              string `json:"lane"`
	Date              string `json:"date"` // YYYY-MM-DD
	Slots             int    `json:"slots"`
	Tier              string `json:"tier,omitempty"`
	Priority          string `json:"priority,omitempty"` // standard|rush; default standard
	ShipmentID        string `json:"shipment_id,omitempty"`
	ActorID           string `json:"actor_id,omitempty"`
	QAMinutesRequired int    `json:"qa_minutes_required,omitempty"`
}

// PromoteReservationRequest moves a reservation forward in its lifecycle.
type PromoteReservationRequest struct {
	To string `json:"to"` // booking|in_progress|completed
}

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID                string  `json:"id"`
	ShipmentID        string  `json:"shipment_id,omitempty"`
	HubID             string  `json:"hub_id"`
	Lane              string  `json:"lane"`
	Date              string  `json:"date"`
	SlotsReserved     int     `json:"slots_reserved"`
	Tier              string  `json:"tier,omitempty"`
	Priority          string  `json:"priority"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	QAMinutesRequired int     `json:"qa_minutes_required,omitempty"`
	CreatedBy         string  `json:"created_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	ReleasedAt        *string `json:"released_at,omitempty"`
	CompletedAt       *string `json:"completed_at,omitempty"`
}

// ExpireResultDTO is the result of a hold expiry sweep.
type ExpireResultDTO struct {
	Released int `json:"released"`
}

// SlotSnapshotDTO is the capacity view of one (hub, lane, date) key.
type SlotSnapshotDTO struct {
	HubID          string  `json:"hub_id"`
	Lane           string  `json:"lane"`
	Date           string  `json:"date"`
	Effective      int     `json:"effective_capacity"`
	RushAllowance  int     `json:"rush_allowance"`
	StandardUsed   int     `json:"standard_used"`
	RushUsed       int     `json:"rush_used"`
	QAMinutesUsed  int     `json:"qa_minutes_used"`
	QAMinuteBudget int     `json:"qa_minute_budget,omitempty"`
	UtilizationPct float64 `json:"utilization_pct"`
	BlackedOut     bool    `json:"blacked_out"`
}

// =============================================================================
// BLACKOUT TYPES
// =============================================================================

// CreateBlackoutRequest defines a new blackout rule for a hub.
type CreateBlackoutRequest struct {
	RuleType       string   `json:"rule_type"` // one_time|recurring
	StartDate      string   `json:"start_date"`
	EndDate        *string  `json:"end_date,omitempty"`
	RecurrenceRule string   `json:"recurrence_rule,omitempty"` // weekly:sat,sun / monthly:1,15
	AffectedLanes  []string `json:"affected_lanes,omitempty"`  // empty = all lanes
	Reason         string   `json:"reason,omitempty"`
}

// SetBlackoutActiveRequest flips a rule's active flag.
type SetBlackoutActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// BlackoutRuleDTO represents a blackout rule in API responses.
type BlackoutRuleDTO struct {
	ID             string   `json:"id"`
	HubID          string   `json:"hub_id"`
	RuleType       string   `json:"rule_type"`
	StartDate      string   `json:"start_date"`
	EndDate        *string  `json:"end_date,omitempty"`
	RecurrenceRule string   `json:"recurrence_rule,omitempty"`
	AffectedLanes  []string `json:"affected_lanes,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	IsActive       bool     `json:"is_active"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// =============================================================================
// INTEGRITY TYPES
// =============================================================================

// IntegrityReportDTO is the auditor's output.
type IntegrityReportDTO struct {
	Consistent bool               `json:"consistent"`
	Violations []engine.Violation `json:"violations"`
	CheckedAt  string             `json:"checked_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPolicyVersionDTO(pv engine.PolicyVersion) PolicyVersionDTO {
	return PolicyVersionDTO{
		ID:            string(pv.ID),
		Kind:          string(pv.Kind),
		ScopeID:       string(pv.ScopeID),
		PolicyID:      pv.PolicyID,
		Version:       pv.Version,
		State:         string(pv.State),
		EffectiveDate: pv.EffectiveDate.String(),
		Payload:       pv.Payload,
		PayloadHash:   pv.PayloadHash,
		ChangeReason:  pv.ChangeReason,
		ActorID:       pv.ActorID,
		CreatedAt:     pv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     pv.UpdatedAt.Format(time.RFC3339),
	}
}

func toPolicyVersionDTOs(pvs []engine.PolicyVersion) []PolicyVersionDTO {
	dtos := make([]PolicyVersionDTO, len(pvs))
	for i, pv := range pvs {
		dtos[i] = toPolicyVersionDTO(pv)
	}
	return dtos
}

func toPublishResultDTO(res engine.PublishResult) PublishResultDTO {
	return PublishResultDTO{
		PolicyID:       res.PolicyID,
		VersionID:      string(res.VersionID),
		IsDuplicate:    res.IsDuplicate,
		ActionTaken:    string(res.ActionTaken),
		IdempotencyKey: res.IdempotencyKey,
		PayloadHash:    res.PayloadHash,
	}
}

func toReservationDTO(r engine.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:                string(r.ID),
		ShipmentID:        r.ShipmentID,
		HubID:             string(r.HubID),
		Lane:              string(r.Lane),
		Date:              r.Date.String(),
		SlotsReserved:     r.SlotsReserved,
		Tier:              string(r.Tier),
		Priority:          string(r.Priority),
		Type:              string(r.Type),
		Status:            string(r.Status),
		QAMinutesRequired: r.QAMinutesRequired,
		CreatedBy:         r.CreatedBy,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
		ExpiresAt:         fmtTimePtr(r.ExpiresAt),
		ReleasedAt:        fmtTimePtr(r.ReleasedAt),
		CompletedAt:       fmtTimePtr(r.CompletedAt),
	}
}

func toSlotSnapshotDTO(s engine.SlotSnapshot) SlotSnapshotDTO {
	return SlotSnapshotDTO{
		HubID:          string(s.HubID),
		Lane:           string(s.Lane),
		Date:           s.Date.String(),
		Effective:      s.Effective,
		RushAllowance:  s.RushAllowance,
		StandardUsed:   s.StandardUsed,
		RushUsed:       s.RushUsed,
		QAMinutesUsed:  s.QAMinutesUsed,
		QAMinuteBudget: s.QAMinuteBudget,
		UtilizationPct: s.UtilizationPct,
		BlackedOut:     s.BlackedOut,
	}
}

func toBlackoutRuleDTO(rule engine.BlackoutRule) BlackoutRuleDTO {
	lanes := make([]string, len(rule.AffectedLanes))
	for i, l := range rule.AffectedLanes {
		lanes[i] = string(l)
	}
	var endDate *string
	if rule.EndDate != nil {
		d := rule.EndDate.String()
		endDate = &d
	}
	return BlackoutRuleDTO{
		ID:             rule.ID,
		HubID:          string(rule.HubID),
		RuleType:       string(rule.RuleType),
		StartDate:      rule.StartDate.String(),
		EndDate:        endDate,
		RecurrenceRule: rule.RecurrenceRule,
		AffectedLanes:  lanes,
		Reason:         rule.Reason,
		IsActive:       rule.IsActive,
		CreatedAt:      rule.CreatedAt.Format(time.RFC3339),
	}
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
