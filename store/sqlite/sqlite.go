/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  policy_versions: Effective-dated, versioned policy rows
  reservations:    Capacity reservations per (hub, lane, date)
  blackout_rules:  Exclusion window rules

INVARIANT BACKSTOPS:
  The engine enforces idempotency and non-overlap inside WithTx; the
  schema backstops those checks so a bug can never corrupt the store:
  - UNIQUE index on idempotency_key
  - UNIQUE partial index on (kind, scope_id, effective_date) over
    published/scheduled rows

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; writers are fully serialized,
  which is what makes the engine's check-then-insert sequences atomic.
  In production with PostgreSQL, SELECT ... FOR UPDATE on the scope row
  replaces the mutex.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't
  block behind the single writer.

USAGE:
  store, err := sqlite.New("./data/capacity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  publisher := engine.NewPublisher(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions and transactional contract
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atelier/capacity-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing database handle without migrating. The
// caller owns the schema. Used by tests to inject a mocked handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policy versions (immutable apart from lifecycle state)
	CREATE TABLE IF NOT EXISTS policy_versions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		state TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		payload_hash TEXT NOT NULL,
		change_reason TEXT,
		actor_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policy_versions_scope
		ON policy_versions(kind, scope_id, effective_date);
	CREATE INDEX IF NOT EXISTS idx_policy_versions_state
		ON policy_versions(state);

	-- CRITICAL: backstop for the non-overlap invariant. Two concurrent
	-- publishes on the same scope cannot both commit the same window.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_policy_active_window
		ON policy_versions(kind, scope_id, effective_date)
		WHERE state IN ('published', 'scheduled');

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		shipment_id TEXT,
		hub_id TEXT NOT NULL,
		lane TEXT NOT NULL,
		date TEXT NOT NULL,
		slots_reserved INTEGER NOT NULL,
		tier TEXT,
		priority TEXT NOT NULL,
		res_type TEXT NOT NULL,
		status TEXT NOT NULL,
		qa_minutes_required INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		released_at TEXT,
		completed_at TEXT
	);

	-- Hot path: usage computation inside the reservation transaction
	CREATE INDEX IF NOT EXISTS idx_reservations_slot
		ON reservations(hub_id, lane, date);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry
		ON reservations(status, res_type, expires_at);

	-- Blackout rules
	CREATE TABLE IF NOT EXISTS blackout_rules (
		id TEXT PRIMARY KEY,
		hub_id TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		recurrence_rule TEXT,
		affected_lanes_json TEXT,
		reason TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_blackout_rules_hub
		ON blackout_rules(hub_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same queries serve both the
// direct path and the in-transaction path.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// POLICY STORE (engine.PolicyStore interface)
// =============================================================================

const policyColumns = `id, kind, scope_id, policy_id, version, state, effective_date,
	payload_json, idempotency_key, payload_hash, change_reason, actor_id, created_at, updated_at`

func (s *Store) InsertPolicyVersion(ctx context.Context, pv engine.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPolicyVersion(ctx, s.db, pv)
}

func insertPolicyVersion(ctx context.Context, q dbtx, pv engine.PolicyVersion) error {
	query := `
		INSERT INTO policy_versions
		(id, kind, scope_id, policy_id, version, state, effective_date,
		 payload_json, idempotency_key, payload_hash, change_reason, actor_id,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		pv.ID, pv.Kind, pv.ScopeID, pv.PolicyID, pv.Version, pv.State,
		pv.EffectiveDate.String(),
		string(pv.Payload),
		pv.IdempotencyKey, pv.PayloadHash, pv.ChangeReason, pv.ActorID,
		pv.CreatedAt.UTC().Format(time.RFC3339),
		pv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy version: %w", err)
	}
	return nil
}

func (s *Store) UpdatePolicyState(ctx context.Context, id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePolicyState(ctx, s.db, id, state, at)
}

func updatePolicyState(ctx context.Context, q dbtx, id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	res, err := q.ExecContext(ctx,
		"UPDATE policy_versions SET state = ?, updated_at = ? WHERE id = ?",
		state, at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("policy version not found: %s", id)
	}
	return nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByIdempotencyKey(ctx, s.db, key)
}

func findByIdempotencyKey(ctx context.Context, q dbtx, key string) (*engine.PolicyVersion, error) {
	pvs, err := queryPolicyVersions(ctx, q,
		"SELECT "+policyColumns+" FROM policy_versions WHERE idempotency_key = ?", key)
	if err != nil {
		return nil, err
	}
	if len(pvs) == 0 {
		return nil, nil
	}
	return &pvs[0], nil
}

func (s *Store) VersionsByScope(ctx context.Context, kind engine.PolicyKind, scope engine.ScopeID) ([]engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return versionsByScope(ctx, s.db, kind, scope)
}

func versionsByScope(ctx context.Context, q dbtx, kind engine.PolicyKind, scope engine.ScopeID) ([]engine.PolicyVersion, error) {
	return queryPolicyVersions(ctx, q, `
		SELECT `+policyColumns+` FROM policy_versions
		WHERE kind = ? AND scope_id = ?
		ORDER BY effective_date ASC, created_at ASC`, kind, scope)
}

func (s *Store) ActiveVersion(ctx context.Context, kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) (*engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeVersion(ctx, s.db, kind, scope, asOf)
}

func activeVersion(ctx context.Context, q dbtx, kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) (*engine.PolicyVersion, error) {
	pvs, err := queryPolicyVersions(ctx, q, `
		SELECT `+policyColumns+` FROM policy_versions
		WHERE kind = ? AND scope_id = ? AND state = 'published' AND effective_date <= ?
		ORDER BY effective_date DESC
		LIMIT 1`, kind, scope, asOf.String())
	if err != nil {
		return nil, err
	}
	if len(pvs) == 0 {
		return nil, nil
	}
	return &pvs[0], nil
}

func (s *Store) PendingScheduled(ctx context.Context, asOf engine.Date) ([]engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pendingScheduled(ctx, s.db, asOf)
}

func pendingScheduled(ctx context.Context, q dbtx, asOf engine.Date) ([]engine.PolicyVersion, error) {
	return queryPolicyVersions(ctx, q, `
		SELECT `+policyColumns+` FROM policy_versions
		WHERE state = 'scheduled' AND effective_date <= ?
		ORDER BY effective_date ASC, created_at ASC`, asOf.String())
}

func (s *Store) AllPolicyVersions(ctx context.Context) ([]engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allPolicyVersions(ctx, s.db)
}

func allPolicyVersions(ctx context.Context, q dbtx) ([]engine.PolicyVersion, error) {
	return queryPolicyVersions(ctx, q, `
		SELECT `+policyColumns+` FROM policy_versions
		ORDER BY kind, scope_id, effective_date ASC`)
}

func queryPolicyVersions(ctx context.Context, q dbtx, query string, args ...any) ([]engine.PolicyVersion, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy versions: %w", err)
	}
	defer rows.Close()

	var versions []engine.PolicyVersion
	for rows.Next() {
		pv, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}

func scanPolicyVersion(rows *sql.Rows) (engine.PolicyVersion, error) {
	var (
		pv            engine.PolicyVersion
		effectiveDate string
		payloadJSON   string
		changeReason  sql.NullString
		actorID       sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := rows.Scan(
		&pv.ID, &pv.Kind, &pv.ScopeID, &pv.PolicyID, &pv.Version, &pv.State,
		&effectiveDate, &payloadJSON, &pv.IdempotencyKey, &pv.PayloadHash,
		&changeReason, &actorID, &createdAt, &updatedAt,
	)
	if err != nil {
		return pv, fmt.Errorf("failed to scan policy version: %w", err)
	}

	pv.EffectiveDate, _ = engine.ParseDate(effectiveDate)
	pv.Payload = json.RawMessage(payloadJSON)
	pv.ChangeReason = changeReason.String
	pv.ActorID = actorID.String
	pv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	pv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return pv, nil
}

// =============================================================================
// RESERVATION STORE (engine.ReservationStore interface)
// =============================================================================

const reservationColumns = `id, shipment_id, hub_id, lane, date, slots_reserved, tier,
	priority, res_type, status, qa_minutes_required, created_by, created_at,
	expires_at, released_at, completed_at`

func (s *Store) InsertReservation(ctx context.Context, r engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertReservation(ctx, s.db, r)
}

func insertReservation(ctx context.Context, q dbtx, r engine.Reservation) error {
	query := `
		INSERT INTO reservations
		(id, shipment_id, hub_id, lane, date, slots_reserved, tier, priority,
		 res_type, status, qa_minutes_required, created_by, created_at,
		 expires_at, released_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		r.ID, r.ShipmentID, r.HubID, r.Lane, r.Date.String(),
		r.SlotsReserved, r.Tier, r.Priority, r.Type, r.Status,
		r.QAMinutesRequired, r.CreatedBy,
		r.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(r.ExpiresAt), nullTime(r.ReleasedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReservation(ctx, s.db, id)
}

func getReservation(ctx context.Context, q dbtx, id engine.ReservationID) (*engine.Reservation, error) {
	rs, err := queryReservations(ctx, q,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

func (s *Store) UpdateReservation(ctx context.Context, r engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateReservation(ctx, s.db, r)
}

func updateReservation(ctx context.Context, q dbtx, r engine.Reservation) error {
	res, err := q.ExecContext(ctx, `
		UPDATE reservations
		SET res_type = ?, status = ?, expires_at = ?, released_at = ?, completed_at = ?
		WHERE id = ?`,
		r.Type, r.Status, nullTime(r.ExpiresAt), nullTime(r.ReleasedAt), nullTime(r.CompletedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reservation not found: %s", r.ID)
	}
	return nil
}

func (s *Store) ReservationsForSlot(ctx context.Context, hub engine.ScopeID, lane engine.Lane, date engine.Date) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reservationsForSlot(ctx, s.db, hub, lane, date)
}

func reservationsForSlot(ctx context.Context, q dbtx, hub engine.ScopeID, lane engine.Lane, date engine.Date) ([]engine.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE hub_id = ? AND lane = ? AND date = ?
		ORDER BY created_at ASC`, hub, lane, date.String())
}

func (s *Store) ExpiredActiveHolds(ctx context.Context, now time.Time) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiredActiveHolds(ctx, s.db, now)
}

func expiredActiveHolds(ctx context.Context, q dbtx, now time.Time) ([]engine.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'active' AND res_type = 'hold'
		  AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at ASC`, now.UTC().Format(time.RFC3339))
}

func (s *Store) AllActiveReservations(ctx context.Context) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allActiveReservations(ctx, s.db)
}

func allActiveReservations(ctx context.Context, q dbtx) ([]engine.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'active'
		ORDER BY hub_id, lane, date, created_at ASC`)
}

func queryReservations(ctx context.Context, q dbtx, query string, args ...any) ([]engine.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []engine.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(rows *sql.Rows) (engine.Reservation, error) {
	var (
		r           engine.Reservation
		shipmentID  sql.NullString
		date        string
		tier        sql.NullString
		createdBy   sql.NullString
		createdAt   string
		expiresAt   sql.NullString
		releasedAt  sql.NullString
		completedAt sql.NullString
	)

	err := rows.Scan(
		&r.ID, &shipmentID, &r.HubID, &r.Lane, &date, &r.SlotsReserved, &tier,
		&r.Priority, &r.Type, &r.Status, &r.QAMinutesRequired, &createdBy,
		&createdAt, &expiresAt, &releasedAt, &completedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan reservation: %w", err)
	}

	r.ShipmentID = shipmentID.String
	r.Date, _ = engine.ParseDate(date)
	r.Tier = engine.Tier(tier.String)
	r.CreatedBy = createdBy.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.ExpiresAt = parseNullTime(expiresAt)
	r.ReleasedAt = parseNullTime(releasedAt)
	r.CompletedAt = parseNullTime(completedAt)
	return r, nil
}

// =============================================================================
// BLACKOUT STORE (engine.BlackoutStore interface)
// =============================================================================

func (s *Store) InsertBlackoutRule(ctx context.Context, rule engine.BlackoutRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBlackoutRule(ctx, s.db, rule)
}

func insertBlackoutRule(ctx context.Context, q dbtx, rule engine.BlackoutRule) error {
	lanesJSON, err := json.Marshal(rule.AffectedLanes)
	if err != nil {
		return fmt.Errorf("failed to encode affected lanes: %w", err)
	}

	var endDate *string
	if rule.EndDate != nil {
		d := rule.EndDate.String()
		endDate = &d
	}

	query := `
		INSERT INTO blackout_rules
		(id, hub_id, rule_type, start_date, end_date, recurrence_rule,
		 affected_lanes_json, reason, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		rule.ID, rule.HubID, rule.RuleType, rule.StartDate.String(), endDate,
		rule.RecurrenceRule, string(lanesJSON), rule.Reason, rule.IsActive,
		rule.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert blackout rule: %w", err)
	}
	return nil
}

func (s *Store) RulesForHub(ctx context.Context, hub engine.ScopeID) ([]engine.BlackoutRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rulesForHub(ctx, s.db, hub)
}

func rulesForHub(ctx context.Context, q dbtx, hub engine.ScopeID) ([]engine.BlackoutRule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, hub_id, rule_type, start_date, end_date, recurrence_rule,
		       affected_lanes_json, reason, is_active, created_at
		FROM blackout_rules
		WHERE hub_id = ?
		ORDER BY created_at ASC`, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to query blackout rules: %w", err)
	}
	defer rows.Close()

	var rules []engine.BlackoutRule
	for rows.Next() {
		var (
			rule       engine.BlackoutRule
			startDate  string
			endDate    sql.NullString
			recurrence sql.NullString
			lanesJSON  sql.NullString
			reason     sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&rule.ID, &rule.HubID, &rule.RuleType, &startDate,
			&endDate, &recurrence, &lanesJSON, &reason, &rule.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blackout rule: %w", err)
		}

		rule.StartDate, _ = engine.ParseDate(startDate)
		if endDate.Valid {
			d, err := engine.ParseDate(endDate.String)
			if err == nil {
				rule.EndDate = &d
			}
		}
		rule.RecurrenceRule = recurrence.String
		rule.Reason = reason.String
		rule.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lanesJSON.Valid && lanesJSON.String != "" {
			if err := json.Unmarshal([]byte(lanesJSON.String), &rule.AffectedLanes); err != nil {
				return nil, fmt.Errorf("failed to decode affected lanes: %w", err)
			}
		}

		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) SetBlackoutRuleActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBlackoutRuleActive(ctx, s.db, id, active)
}

func setBlackoutRuleActive(ctx context.Context, q dbtx, id string, active bool) error {
	res, err := q.ExecContext(ctx,
		"UPDATE blackout_rules SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update blackout rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("blackout rule not found: %s", id)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is
// held for the duration, serializing writers; reads inside fn see the
// transaction's own uncommitted writes.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every query through the open transaction.
type txStore struct {
	q *sql.Tx
}

func (ts *txStore) InsertPolicyVersion(ctx context.Context, pv engine.PolicyVersion) error {
	return insertPolicyVersion(ctx, ts.q, pv)
}
func (ts *txStore) UpdatePolicyState(ctx context.Context, id engine.PolicyVersionID, state engine.PolicyState, at time.Time) error {
	return updatePolicyState(ctx, ts.q, id, state, at)
}
func (ts *txStore) FindByIdempotencyKey(ctx context.Context, key string) (*engine.PolicyVersion, error) {
	return findByIdempotencyKey(ctx, ts.q, key)
}
func (ts *txStore) VersionsByScope(ctx context.Context, kind engine.PolicyKind, scope engine.ScopeID) ([]engine.PolicyVersion, error) {
	return versionsByScope(ctx, ts.q, kind, scope)
}
func (ts *txStore) ActiveVersion(ctx context.Context, kind engine.PolicyKind, scope engine.ScopeID, asOf engine.Date) (*engine.PolicyVersion, error) {
	return activeVersion(ctx, ts.q, kind, scope, asOf)
}
func (ts *txStore) PendingScheduled(ctx context.Context, asOf engine.Date) ([]engine.PolicyVersion, error) {
	return pendingScheduled(ctx, ts.q, asOf)
}
func (ts *txStore) AllPolicyVersions(ctx context.Context) ([]engine.PolicyVersion, error) {
	return allPolicyVersions(ctx, ts.q)
}
func (ts *txStore) InsertReservation(ctx context.Context, r engine.Reservation) error {
	return insertReservation(ctx, ts.q, r)
}
func (ts *txStore) GetReservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return getReservation(ctx, ts.q, id)
}
func (ts *txStore) UpdateReservation(ctx context.Context, r engine.Reservation) error {
	return updateReservation(ctx, ts.q, r)
}
func (ts *txStore) ReservationsForSlot(ctx context.Context, hub engine.ScopeID, lane engine.Lane, date engine.Date) ([]engine.Reservation, error) {
	return reservationsForSlot(ctx, ts.q, hub, lane, date)
}
func (ts *txStore) ExpiredActiveHolds(ctx context.Context, now time.Time) ([]engine.Reservation, error) {
	return expiredActiveHolds(ctx, ts.q, now)
}
func (ts *txStore) AllActiveReservations(ctx context.Context) ([]engine.Reservation, error) {
	return allActiveReservations(ctx, ts.q)
}
func (ts *txStore) InsertBlackoutRule(ctx context.Context, rule engine.BlackoutRule) error {
	return insertBlackoutRule(ctx, ts.q, rule)
}
func (ts *txStore) RulesForHub(ctx context.Context, hub engine.ScopeID) ([]engine.BlackoutRule, error) {
	return rulesForHub(ctx, ts.q, hub)
}
func (ts *txStore) SetBlackoutRuleActive(ctx context.Context, id string, active bool) error {
	return setBlackoutRuleActive(ctx, ts.q, id, active)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"policy_versions", "reservations", "blackout_rules"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
