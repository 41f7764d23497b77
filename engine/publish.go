/*
publish.go - Publish/schedule workflow for policy versions

PURPOSE:
  The single write path for policy versions. Every call derives an
  idempotency key, short-circuits replays, enforces the non-overlap
  invariant inside one store transaction, and archives superseded rows
  atomically with the insert.

INVARIANTS ENFORCED HERE:
  - One published version per (kind, scope) at a time. Publishing a
    later-effective version archives the prior published row.
  - Published/scheduled effective dates are unique per scope; a new
    published date must be strictly later than the current one.
  - Drafts are exempt from overlap checks and may coexist freely.
  - An idempotency key maps to exactly one stored row. Replaying the
    same logical request returns that row with IsDuplicate=true and
    never inserts.

FAILURE SEMANTICS:
  Overlap and schedule-date violations surface as typed, recoverable
  errors (OverlappingPolicyError, ErrInvalidScheduleDate). Persistence
  failures wrap into StorageError and propagate; this engine never
  retries them.

SEE ALSO:
  - canonical.go: Key/hash derivation
  - store.go: Transactional contract the workflow relies on
  - audit.go: Re-verifies the overlap invariant store-wide
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PublishRequest carries one policy version submission. Payloads arrive
// already validated by the boundary (factory package).
type PublishRequest struct {
	Kind          PolicyKind
	ScopeID       ScopeID
	Payload       any
	EffectiveDate Date
	State         PolicyState
	ActorID       string
	ChangeReason  string

	// RequestID, when set, is used as the idempotency key verbatim.
	// Otherwise the key is derived from payload + actor + RequestedAt.
	RequestID string

	// RequestedAt is the coarse submission timestamp for key
	// derivation. Zero means "derive from the effective date", which
	// keeps unadorned retries deterministic.
	RequestedAt time.Time
}

// Publisher runs the publish/schedule workflow over a transactional store.
type Publisher struct {
	store TxStore
	now   func() time.Time
}

func NewPublisher(store TxStore) *Publisher {
	return &Publisher{store: store, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// =============================================================================
// PUBLISH
// =============================================================================

// Publish upserts a policy version with duplicate-safe semantics.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if !req.Kind.Valid() {
		return PublishResult{}, fmt.Errorf("unknown policy kind %q", req.Kind)
	}
	if req.ScopeID == "" {
		return PublishResult{}, fmt.Errorf("%w: empty scope", ErrUnknownScope)
	}
	switch req.State {
	case StateDraft, StatePublished, StateScheduled:
	default:
		return PublishResult{}, fmt.Errorf("cannot publish into state %q", req.State)
	}

	canonical, err := CanonicalJSON(req.Payload)
	if err != nil {
		return PublishResult{}, fmt.Errorf("canonicalize payload: %w", err)
	}

	key := req.RequestID
	if key == "" {
		ts := req.RequestedAt
		if ts.IsZero() {
			ts = req.EffectiveDate.Time
		}
		key = IdempotencyKey(req.Payload, req.ActorID, ts)
	}
	payloadHash := HashPayload(req.Payload)

	// Replays short-circuit before any lock is taken. Retried requests
	// are cheap and never double-count.
	existing, err := p.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return PublishResult{}, WrapStorage("publish.dedup", err)
	}
	if existing != nil {
		return duplicateResult(existing), nil
	}

	var result PublishResult
	err = p.store.WithTx(ctx, func(s Store) error {
		// Re-check under the transaction; a concurrent replay may have
		// committed between the fast-path check and the lock.
		existing, err := s.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return WrapStorage("publish.dedup", err)
		}
		if existing != nil {
			result = duplicateResult(existing)
			return nil
		}

		versions, err := s.VersionsByScope(ctx, req.Kind, req.ScopeID)
		if err != nil {
			return WrapStorage("publish.scope", err)
		}

		if req.State != StateDraft {
			if conflict := findOverlap(versions, req); conflict != nil {
				return &OverlappingPolicyError{
					Kind:          req.Kind,
					ScopeID:       req.ScopeID,
					EffectiveDate: req.EffectiveDate,
					ConflictsWith: conflict.ID,
					ConflictState: conflict.State,
				}
			}
		}

		now := p.now().UTC()
		pv := PolicyVersion{
			ID:             PolicyVersionID(uuid.NewString()),
			Kind:           req.Kind,
			ScopeID:        req.ScopeID,
			PolicyID:       LogicalPolicyID(req.Kind, req.ScopeID),
			Version:        nextVersion(versions),
			State:          req.State,
			EffectiveDate:  req.EffectiveDate,
			Payload:        canonical,
			IdempotencyKey: key,
			PayloadHash:    payloadHash,
			ChangeReason:   req.ChangeReason,
			ActorID:        req.ActorID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.InsertPolicyVersion(ctx, pv); err != nil {
			return WrapStorage("publish.insert", err)
		}

		if req.State == StatePublished {
			if err := archiveSuperseded(ctx, s, versions, req.EffectiveDate, pv.ID, now); err != nil {
				return err
			}
		}

		result = PublishResult{
			PolicyID:       pv.PolicyID,
			VersionID:      pv.ID,
			IsDuplicate:    false,
			ActionTaken:    actionFor(req.State),
			IdempotencyKey: key,
			PayloadHash:    payloadHash,
		}
		return nil
	})
	if err != nil {
		return PublishResult{}, err
	}
	return result, nil
}

// SchedulePolicy is Publish with state=scheduled and a strict-future
// precondition, checked before any store access.
func (p *Publisher) SchedulePolicy(ctx context.Context, kind PolicyKind, scope ScopeID, payload any, effectiveAt Date, actorID, changeReason string) (PublishResult, error) {
	if !effectiveAt.After(DateOf(p.now())) {
		return PublishResult{}, fmt.Errorf("%w: %s", ErrInvalidScheduleDate, effectiveAt)
	}
	return p.Publish(ctx, PublishRequest{
		Kind:          kind,
		ScopeID:       scope,
		Payload:       payload,
		EffectiveDate: effectiveAt,
		State:         StateScheduled,
		ActorID:       actorID,
		ChangeReason:  changeReason,
	})
}

// =============================================================================
// SCHEDULER TICK
// =============================================================================

// ActivatePending promotes scheduled versions whose effective date has
// arrived to published, archiving the versions they supersede. Returns
// the number of activations. Driven by an external scheduler tick.
func (p *Publisher) ActivatePending(ctx context.Context, now time.Time) (int, error) {
	activated := 0
	err := p.store.WithTx(ctx, func(s Store) error {
		pending, err := s.PendingScheduled(ctx, DateOf(now))
		if err != nil {
			return WrapStorage("activate.pending", err)
		}
		for _, pv := range pending {
			versions, err := s.VersionsByScope(ctx, pv.Kind, pv.ScopeID)
			if err != nil {
				return WrapStorage("activate.scope", err)
			}
			if err := archiveSuperseded(ctx, s, versions, pv.EffectiveDate, pv.ID, now); err != nil {
				return err
			}
			if err := s.UpdatePolicyState(ctx, pv.ID, StatePublished, now); err != nil {
				return WrapStorage("activate.promote", err)
			}
			activated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return activated, nil
}

// =============================================================================
// READ-ONLY SUMMARY
// =============================================================================

// GetActivePolicies returns the published versions whose effective date
// has started by asOf, optionally filtered by kind.
func (p *Publisher) GetActivePolicies(ctx context.Context, kind *PolicyKind, asOf Date) ([]PolicyVersion, error) {
	all, err := p.store.AllPolicyVersions(ctx)
	if err != nil {
		return nil, WrapStorage("policies.list", err)
	}
	var active []PolicyVersion
	for _, pv := range all {
		if pv.State != StatePublished || pv.EffectiveDate.After(asOf) {
			continue
		}
		if kind != nil && pv.Kind != *kind {
			continue
		}
		active = append(active, pv)
	}
	return active, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// findOverlap applies the window rule: published/scheduled dates are
// unique per scope, and a new published date must fall strictly after
// the current published window start.
func findOverlap(versions []PolicyVersion, req PublishRequest) *PolicyVersion {
	for i := range versions {
		v := &versions[i]
		if v.State != StatePublished && v.State != StateScheduled {
			continue
		}
		if v.EffectiveDate.Equal(req.EffectiveDate) {
			return v
		}
		// The published window runs from its effective date until the
		// next published version starts; any new activation at or
		// before that start lands inside a window already served.
		if v.State == StatePublished && req.EffectiveDate.Before(v.EffectiveDate) {
			return v
		}
	}
	return nil
}

// archiveSuperseded archives the prior published row and any scheduled
// rows at or before the new effective date.
func archiveSuperseded(ctx context.Context, s Store, versions []PolicyVersion, newEffective Date, exclude PolicyVersionID, at time.Time) error {
	for _, v := range versions {
		superseded := (v.State == StatePublished && v.EffectiveDate.Before(newEffective)) ||
			(v.State == StateScheduled && v.EffectiveDate.BeforeOrEqual(newEffective))
		if v.ID == exclude || !superseded {
			continue
		}
		if err := s.UpdatePolicyState(ctx, v.ID, StateArchived, at); err != nil {
			return WrapStorage("publish.archive", err)
		}
	}
	return nil
}

func nextVersion(versions []PolicyVersion) int {
	max := 0
	for _, v := range versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1
}

func actionFor(state PolicyState) PublishAction {
	switch state {
	case StatePublished:
		return ActionPublished
	case StateScheduled:
		return ActionScheduled
	default:
		return ActionCreated
	}
}

func duplicateResult(pv *PolicyVersion) PublishResult {
	return PublishResult{
		PolicyID:       pv.PolicyID,
		VersionID:      pv.ID,
		IsDuplicate:    true,
		ActionTaken:    ActionSkipped,
		IdempotencyKey: pv.IdempotencyKey,
		PayloadHash:    pv.PayloadHash,
	}
}
