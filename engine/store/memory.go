// Package store provides Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/atelier/capacity-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var errDuplicateKey = errors.New("unique constraint violated: idempotency_key")

type data struct {
	policies     []engine.PolicyVersion
	reservations []engine.Reservation
	blackouts    []engine.BlackoutRule
}

func (d *data) clone() data {
	return data{
		policies:     append([]engine.PolicyVersion{}, d.policies...),
		reservations: append([]engine.Reservation{}, d.reservations...),
		blackouts:    append([]engine.BlackoutRule{}, d.blackouts...),
	}
}

type Memory struct {
	mu sync.RWMutex
	d  data
}

func NewMemory() *Memory {
	return &Memory{}
}

// =============================================================================
// POLICY STORE
// =============================================================================

func (m *Memory) InsertPolicyVersion(_ context.Context, pv engine.PolicyVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.insertPolicy(pv)
}

func (m *Memory) UpdatePolicyState(_ context.Context, id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updatePolicyState(id, state, at)
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (*engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.findByIdempotencyKey(key), nil
}

func (m *Memory) VersionsByScope(_ context.Context, kind engine.PolicyKind, scope engine.ScopeID) ([]engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.versionsByScope(kind, scope), nil
}

func (m *Memory) ActiveVersion(_ context.Context, kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) (*engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.activeVersion(kind, scope, asOf), nil
}

func (m *Memory) PendingScheduled(_ context.Context, asOf engine.Date) ([]engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.pendingScheduled(asOf), nil
}

func (m *Memory) AllPolicyVersions(_ context.Context) ([]engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.PolicyVersion{}, m.d.policies...), nil
}

// =============================================================================
// RESERVATION STORE
// =============================================================================

func (m *Memory) InsertReservation(_ context.Context, r engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.insertReservation(r)
}

func (m *Memory) GetReservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getReservation(id), nil
}

func (m *Memory) UpdateReservation(_ context.Context, r engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateReservation(r)
}

func (m *Memory) ReservationsForSlot(_ context.Context, hub engine.ScopeID, lane engine.Lane, date engine.Date) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.reservationsForSlot(hub, lane, date), nil
}

func (m *Memory) ExpiredActiveHolds(_ context.Context, now time.Time) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.expiredActiveHolds(now), nil
}

func (m *Memory) AllActiveReservations(_ context.Context) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.allActiveReservations(), nil
}

// =============================================================================
// BLACKOUT STORE
// =============================================================================

func (m *Memory) InsertBlackoutRule(_ context.Context, rule engine.BlackoutRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.blackouts = append(m.d.blackouts, rule)
	return nil
}

func (m *Memory) RulesForHub(_ context.Context, hub engine.ScopeID) ([]engine.BlackoutRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.rulesForHub(hub), nil
}

func (m *Memory) SetBlackoutRuleActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.setBlackoutActive(id, active)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
// The lock held for the whole of WithTx also serializes writers the way
// the production store does, so check-then-insert stays atomic.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot
// plus rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.d.clone()
	if err := fn(&memView{d: &tm.d}); err != nil {
		tm.d = snapshot
		return err
	}
	return nil
}

// memView is the in-transaction view: same data, no locking (the
// surrounding WithTx already holds the write lock).
type memView struct {
	d *data
}

func (v *memView) InsertPolicyVersion(_ context.Context, pv engine.PolicyVersion) error {
	return v.d.insertPolicy(pv)
}
func (v *memView) UpdatePolicyState(_ context.Context, id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	return v.d.updatePolicyState(id, state, at)
}
func (v *memView) FindByIdempotencyKey(_ context.Context, key string) (*engine.PolicyVersion, error) {
	return v.d.findByIdempotencyKey(key), nil
}
func (v *memView) VersionsByScope(_ context.Context, kind engine.PolicyKind, scope engine.ScopeID) ([]engine.PolicyVersion, error) {
	return v.d.versionsByScope(kind, scope), nil
}
func (v *memView) ActiveVersion(_ context.Context, kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) (*engine.PolicyVersion, error) {
	return v.d.activeVersion(kind, scope, asOf), nil
}
func (v *memView) PendingScheduled(_ context.Context, asOf engine.Date) ([]engine.PolicyVersion, error) {
	return v.d.pendingScheduled(asOf), nil
}
func (v *memView) AllPolicyVersions(_ context.Context) ([]engine.PolicyVersion, error) {
	return append([]engine.PolicyVersion{}, v.d.policies...), nil
}
func (v *memView) InsertReservation(_ context.Context, r engine.Reservation) error {
	return v.d.insertReservation(r)
}
func (v *memView) GetReservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return v.d.getReservation(id), nil
}
func (v *memView) UpdateReservation(_ context.Context, r engine.Reservation) error {
	return v.d.updateReservation(r)
}
func (v *memView) ReservationsForSlot(_ context.Context, hub engine.ScopeID, lane engine.Lane, date engine.Date) ([]engine.Reservation, error) {
	return v.d.reservationsForSlot(hub, lane, date), nil
}
func (v *memView) ExpiredActiveHolds(_ context.Context, now time.Time) ([]engine.Reservation, error) {
	return v.d.expiredActiveHolds(now), nil
}
func (v *memView) AllActiveReservations(_ context.Context) ([]engine.Reservation, error) {
	return v.d.allActiveReservations(), nil
}
func (v *memView) InsertBlackoutRule(_ context.Context, rule engine.BlackoutRule) error {
	v.d.blackouts = append(v.d.blackouts, rule)
	return nil
}
func (v *memView) RulesForHub(_ context.Context, hub engine.ScopeID) ([]engine.BlackoutRule, error) {
	return v.d.rulesForHub(hub), nil
}
func (v *memView) SetBlackoutRuleActive(_ context.Context, id string, active bool) error {
	return v.d.setBlackoutActive(id, active)
}

// =============================================================================
// UNSYNCHRONIZED CORE
// =============================================================================

func (d *data) insertPolicy(pv engine.PolicyVersion) error {
	if pv.IdempotencyKey != "" && d.findByIdempotencyKey(pv.IdempotencyKey) != nil {
		return errDuplicateKey
	}
	d.policies = append(d.policies, pv)
	return nil
}

func (d *data) updatePolicyState(id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	for i := range d.policies {
		if d.policies[i].ID == id {
			d.policies[i].State = state
			d.policies[i].UpdatedAt = at
			return nil
		}
	}
	return errors.New("policy version not found: " + string(id))
}

func (d *data) findByIdempotencyKey(key string) *engine.PolicyVersion {
	for i := range d.policies {
		if d.policies[i].IdempotencyKey == key {
			pv := d.policies[i]
			return &pv
		}
	}
	return nil
}

func (d *data) versionsByScope(kind engine.PolicyKind, scope engine.ScopeID) []engine.PolicyVersion {
	var out []engine.PolicyVersion
	for _, pv := range d.policies {
		if pv.Kind == kind && pv.ScopeID == scope {
			out = append(out, pv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (d *data) activeVersion(kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) *engine.PolicyVersion {
	var best *engine.PolicyVersion
	for i := range d.policies {
		pv := &d.policies[i]
		if pv.Kind != kind || pv.ScopeID != scope || pv.State != engine.StatePublished {
			continue
		}
		if pv.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || best.EffectiveDate.Before(pv.EffectiveDate) {
			best = pv
		}
	}
	if best == nil {
		return nil
	}
	pv := *best
	return &pv
}

func (d *data) pendingScheduled(asOf engine.Date) []engine.PolicyVersion {
	var out []engine.PolicyVersion
	for _, pv := range d.policies {
		if pv.State == engine.StateScheduled && pv.EffectiveDate.BeforeOrEqual(asOf) {
			out = append(out, pv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out
}

func (d *data) insertReservation(r engine.Reservation) error {
	for i := range d.reservations {
		if d.reservations[i].ID == r.ID {
			return errors.New("duplicate reservation id: " + string(r.ID))
		}
	}
	d.reservations = append(d.reservations, r)
	return nil
}

func (d *data) getReservation(id engine.ReservationID) *engine.Reservation {
	for i := range d.reservations {
		if d.reservations[i].ID == id {
			r := d.reservations[i]
			return &r
		}
	}
	return nil
}

func (d *data) updateReservation(r engine.Reservation) error {
	for i := range d.reservations {
		if d.reservations[i].ID == r.ID {
			d.reservations[i] = r
			return nil
		}
	}
	return errors.New("reservation not found: " + string(r.ID))
}

func (d *data) reservationsForSlot(hub engine.ScopeID, lane engine.Lane, date engine.Date) []engine.Reservation {
	var out []engine.Reservation
	for _, r := range d.reservations {
		if r.HubID == hub && r.Lane == lane && r.Date.Equal(date) {
			out = append(out, r)
		}
	}
	return out
}

func (d *data) expiredActiveHolds(now time.Time) []engine.Reservation {
	var out []engine.Reservation
	for _, r := range d.reservations {
		if r.Status == engine.StatusActive && r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

func (d *data) allActiveReservations() []engine.Reservation {
	var out []engine.Reservation
	for _, r := range d.reservations {
		if r.Status == engine.StatusActive {
			out = append(out, r)
		}
	}
	return out
}

func (d *data) rulesForHub(hub engine.ScopeID) []engine.BlackoutRule {
	var out []engine.BlackoutRule
	for _, rule := range d.blackouts {
		if rule.HubID == hub {
			out = append(out, rule)
		}
	}
	return out
}

func (d *data) setBlackoutActive(id string, active bool) error {
	for i := range d.blackouts {
		if d.blackouts[i].ID == id {
			d.blackouts[i].IsActive = active
			return nil
		}
	}
	return errors.New("blackout rule not found: " + id)
}
