/*
handlers.go - HTTP API handlers for the capacity engine

PURPOSE:
  Exposes the policy versioning and capacity reservation engine via REST
  API. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Policies:
    POST   /api/policies                        Publish (or draft) a policy version
    POST   /api/policies/schedule               Schedule a future activation
    POST   /api/policies/activate               Scheduler tick: promote due versions
    GET    /api/policies/active                 Active policies (?kind=&as_of=)
    GET    /api/policies/{kind}/{scope}/versions Version history for one scope

  Reservations:
    POST   /api/reservations                    Create a hold
    POST   /api/reservations/{id}/release       Release (idempotent)
    POST   /api/reservations/{id}/promote       hold->booking->in_progress->completed
    GET    /api/reservations/{id}               Fetch one reservation
    POST   /api/reservations/expire             Sweep stale holds

  Capacity:
    GET    /api/capacity/{hub}/{lane}/{date}    Slot snapshot for planners

  Blackouts:
    GET    /api/hubs/{hub}/blackouts            List rules for a hub
    POST   /api/hubs/{hub}/blackouts            Create a rule
    PUT    /api/blackouts/{id}/active           Flip a rule's active flag

  Admin:
    GET    /api/integrity                       Run the integrity auditor

ERROR HANDLING:
  Domain errors map to HTTP status by classification:
  - 400: Malformed JSON, bad dates, unknown enum values
  - 404: Unknown reservation / no active profile for a hub
  - 409: Overlap conflicts, oversell, blackouts, bad transitions
  - 422: Payload failed schema validation, past schedule dates
  - 500: Storage failures (never retried here)
  Replayed publishes are NOT errors: 200 with is_duplicate=true.

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Put this behind the platform gateway in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/errors.go: The classification being mapped
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelier/capacity-engine/engine"
	"github.com/atelier/capacity-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        engine.TxStore
	Publisher    *engine.Publisher
	Reservations *engine.ReservationManager
	Auditor      *engine.Auditor
	Payloads     *factory.PayloadFactory

	log zerolog.Logger
}

// NewHandler wires the engine components around the given store.
func NewHandler(store engine.TxStore, holdTTL time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		Store:        store,
		Publisher:    engine.NewPublisher(store),
		Reservations: engine.NewReservationManager(store, holdTTL),
		Auditor:      engine.NewAuditor(store),
		Payloads:     factory.NewPayloadFactory(),
		log:          log,
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// PublishPolicy publishes or drafts a policy version.
// POST /api/policies
func (h *Handler) PublishPolicy(w http.ResponseWriter, r *http.Request) {
	var req PublishPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := engine.PolicyKind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown policy kind", nil)
		return
	}
	effective, err := engine.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}
	state := engine.StatePublished
	if req.State != "" {
		state = engine.PolicyState(req.State)
		if state != engine.StateDraft && state != engine.StatePublished {
			writeError(w, http.StatusBadRequest, "State must be draft or published", nil)
			return
		}
	}
	if err := h.Payloads.Validate(kind, req.Payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Payload validation failed", err)
		return
	}

	result, err := h.Publisher.Publish(r.Context(), engine.PublishRequest{
		Kind:          kind,
		ScopeID:       engine.ScopeID(req.ScopeID),
		Payload:       req.Payload,
		EffectiveDate: effective,
		State:         state,
		ActorID:       req.ActorID,
		ChangeReason:  req.ChangeReason,
		RequestID:     req.RequestID,
	})
	if err != nil {
		h.writeEngineError(w, r, "publish failed", err)
		return
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	h.log.Info().
		Str("policy_id", result.PolicyID).
		Str("action", string(result.ActionTaken)).
		Bool("duplicate", result.IsDuplicate).
		Msg("policy publish")
	writeJSON(w, status, toPublishResultDTO(result))
}

// SchedulePolicy schedules a future-effective version.
// POST /api/policies/schedule
func (h *Handler) SchedulePolicy(w http.ResponseWriter, r *http.Request) {
	var req SchedulePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := engine.PolicyKind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown policy kind", nil)
		return
	}
	effective, err := engine.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}
	if err := h.Payloads.Validate(kind, req.Payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Payload validation failed", err)
		return
	}

	result, err := h.Publisher.SchedulePolicy(r.Context(), kind,
		engine.ScopeID(req.ScopeID), req.Payload, effective, req.ActorID, req.ChangeReason)
	if err != nil {
		h.writeEngineError(w, r, "schedule failed", err)
		return
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toPublishResultDTO(result))
}

// ActivatePending promotes scheduled versions whose date has arrived.
// POST /api/policies/activate
func (h *Handler) ActivatePending(w http.ResponseWriter, r *http.Request) {
	activated, err := h.Publisher.ActivatePending(r.Context(), time.Now())
	if err != nil {
		h.writeEngineError(w, r, "activation failed", err)
		return
	}
	if activated > 0 {
		h.log.Info().Int("activated", activated).Msg("scheduled policies activated")
	}
	writeJSON(w, http.StatusOK, ActivationResultDTO{Activated: activated})
}

// GetActivePolicies returns published versions in effect.
// GET /api/policies/active?kind=...&as_of=YYYY-MM-DD
func (h *Handler) GetActivePolicies(w http.ResponseWriter, r *http.Request) {
	var kind *engine.PolicyKind
	if k := r.URL.Query().Get("kind"); k != "" {
		pk := engine.PolicyKind(k)
		if !pk.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown policy kind", nil)
			return
		}
		kind = &pk
	}

	asOf := engine.Today()
	if d := r.URL.Query().Get("as_of"); d != "" {
		parsed, err := engine.ParseDate(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	active, err := h.Publisher.GetActivePolicies(r.Context(), kind, asOf)
	if err != nil {
		h.writeEngineError(w, r, "active policy lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyVersionDTOs(active))
}

// GetVersionHistory returns every version for one (kind, scope).
// GET /api/policies/{kind}/{scope}/versions
func (h *Handler) GetVersionHistory(w http.ResponseWriter, r *http.Request) {
	kind := engine.PolicyKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown policy kind", nil)
		return
	}
	scope := engine.ScopeID(chi.URLParam(r, "scope"))

	versions, err := h.Store.VersionsByScope(r.Context(), kind, scope)
	if err != nil {
		h.writeEngineError(w, r, "version history lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyVersionDTOs(versions))
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation creates a TTL-bound hold.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	priority := engine.PriorityStandard
	if req.Priority != "" {
		priority = engine.Priority(req.Priority)
		if priority != engine.PriorityStandard && priority != engine.PriorityRush {
			writeError(w, http.StatusBadRequest, "Priority must be standard or rush", nil)
			return
		}
	}

	reservation, err := h.Reservations.Reserve(r.Context(), engine.ReserveRequest{
		HubID:             engine.ScopeID(req.HubID),
		Lane:              engine.Lane(req.Lane),
		Date:              date,
		Slots:             req.Slots,
		Tier:              engine.Tier(req.Tier),
		Priority:          priority,
		ShipmentID:        req.ShipmentID,
		ActorID:           req.ActorID,
		QAMinutesRequired: req.QAMinutesRequired,
	})
	if err != nil {
		h.writeEngineError(w, r, "reservation failed", err)
		return
	}

	h.log.Info().
		Str("reservation_id", string(reservation.ID)).
		Str("hub", req.HubID).Str("lane", req.Lane).Str("date", req.Date).
		Int("slots", req.Slots).
		Msg("hold created")
	writeJSON(w, http.StatusCreated, toReservationDTO(*reservation))
}

// GetReservation fetches one reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "reservation lookup failed", err)
		return
	}
	if reservation == nil {
		writeError(w, http.StatusNotFound, "Reservation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// ReleaseReservation frees a reservation's slots.
// POST /api/reservations/{id}/release
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	if err := h.Reservations.Release(r.Context(), id); err != nil {
		h.writeEngineError(w, r, "release failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// PromoteReservation moves a reservation forward in its lifecycle.
// POST /api/reservations/{id}/promote
func (h *Handler) PromoteReservation(w http.ResponseWriter, r *http.Request) {
	var req PromoteReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := engine.ReservationID(chi.URLParam(r, "id"))
	if err := h.Reservations.Promote(r.Context(), id, engine.ReservationType(req.To)); err != nil {
		h.writeEngineError(w, r, "promotion failed", err)
		return
	}

	reservation, err := h.Store.GetReservation(r.Context(), id)
	if err != nil || reservation == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// ExpireHolds sweeps stale holds.
// POST /api/reservations/expire
func (h *Handler) ExpireHolds(w http.ResponseWriter, r *http.Request) {
	released, err := h.Reservations.ExpireStaleHolds(r.Context(), time.Now())
	if err != nil {
		h.writeEngineError(w, r, "expiry sweep failed", err)
		return
	}
	if released > 0 {
		h.log.Info().Int("released", released).Msg("stale holds swept")
	}
	writeJSON(w, http.StatusOK, ExpireResultDTO{Released: released})
}

// =============================================================================
// CAPACITY HANDLERS
// =============================================================================

// GetCapacitySnapshot returns the live state of one capacity key.
// GET /api/capacity/{hub}/{lane}/{date}
func (h *Handler) GetCapacitySnapshot(w http.ResponseWriter, r *http.Request) {
	lane := engine.Lane(chi.URLParam(r, "lane"))
	if !lane.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown lane", nil)
		return
	}
	date, err := engine.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	snap, err := h.Reservations.Snapshot(r.Context(), engine.ScopeID(chi.URLParam(r, "hub")), lane, date)
	if err != nil {
		h.writeEngineError(w, r, "snapshot failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotSnapshotDTO(*snap))
}

// =============================================================================
// BLACKOUT HANDLERS
// =============================================================================

// ListBlackouts returns all rules for a hub.
// GET /api/hubs/{hub}/blackouts
func (h *Handler) ListBlackouts(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.RulesForHub(r.Context(), engine.ScopeID(chi.URLParam(r, "hub")))
	if err != nil {
		h.writeEngineError(w, r, "blackout lookup failed", err)
		return
	}
	dtos := make([]BlackoutRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toBlackoutRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBlackout defines a new rule for a hub.
// POST /api/hubs/{hub}/blackouts
func (h *Handler) CreateBlackout(w http.ResponseWriter, r *http.Request) {
	var req CreateBlackoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startDate, err := engine.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	var endDate *engine.Date
	if req.EndDate != nil {
		d, err := engine.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
			return
		}
		endDate = &d
	}
	lanes := make([]engine.Lane, 0, len(req.AffectedLanes))
	for _, l := range req.AffectedLanes {
		lane := engine.Lane(l)
		if !lane.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown lane in affected_lanes", nil)
			return
		}
		lanes = append(lanes, lane)
	}

	rule := engine.BlackoutRule{
		ID:             uuid.NewString(),
		HubID:          engine.ScopeID(chi.URLParam(r, "hub")),
		RuleType:       engine.BlackoutRuleType(req.RuleType),
		StartDate:      startDate,
		EndDate:        endDate,
		RecurrenceRule: req.RecurrenceRule,
		AffectedLanes:  lanes,
		Reason:         req.Reason,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := engine.ValidateBlackoutRule(rule); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid blackout rule", err)
		return
	}
	if err := h.Store.InsertBlackoutRule(r.Context(), rule); err != nil {
		h.writeEngineError(w, r, "blackout insert failed", err)
		return
	}

	h.log.Info().
		Str("rule_id", rule.ID).Str("hub", string(rule.HubID)).
		Str("type", string(rule.RuleType)).
		Msg("blackout rule created")
	writeJSON(w, http.StatusCreated, toBlackoutRuleDTO(rule))
}

// SetBlackoutActive flips a rule's active flag.
// PUT /api/blackouts/{id}/active
func (h *Handler) SetBlackoutActive(w http.ResponseWriter, r *http.Request) {
	var req SetBlackoutActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Store.SetBlackoutRuleActive(r.Context(), id, req.IsActive); err != nil {
		writeError(w, http.StatusNotFound, "Blackout rule not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": req.IsActive})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CheckIntegrity runs the read-only invariant battery.
// GET /api/integrity
func (h *Handler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	violations, err := h.Auditor.CheckIntegrity(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "integrity check failed", err)
		return
	}
	if violations == nil {
		violations = []engine.Violation{}
	}
	writeJSON(w, http.StatusOK, IntegrityReportDTO{
		Consistent: len(violations) == 0,
		Violations: violations,
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// ERROR MAPPING AND RESPONSE HELPERS
// =============================================================================

// writeEngineError translates domain errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var (
		overlap    *engine.OverlappingPolicyError
		exceeded   *engine.CapacityExceededError
		transition *engine.InvalidStateTransitionError
		storage    *engine.StorageError
	)

	switch {
	case errors.As(err, &overlap):
		writeErrorCode(w, http.StatusConflict, "overlapping_policy", err)
	case errors.As(err, &exceeded):
		writeErrorCode(w, http.StatusConflict, "capacity_exceeded", err)
	case errors.As(err, &transition):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, engine.ErrSlotBlackedOut):
		writeErrorCode(w, http.StatusConflict, "slot_blacked_out", err)
	case errors.Is(err, engine.ErrInvalidScheduleDate):
		writeErrorCode(w, http.StatusUnprocessableEntity, "invalid_schedule_date", err)
	case errors.Is(err, engine.ErrReservationNotFound):
		writeErrorCode(w, http.StatusNotFound, "reservation_not_found", err)
	case errors.Is(err, engine.ErrUnknownScope):
		writeErrorCode(w, http.StatusNotFound, "unknown_scope", err)
	case errors.As(err, &storage):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		writeErrorCode(w, http.StatusInternalServerError, "storage_error", errors.New("internal storage error"))
	default:
		writeError(w, http.StatusBadRequest, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
