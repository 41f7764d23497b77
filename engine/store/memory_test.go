package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelier/capacity-engine/engine"
	"github.com/atelier/capacity-engine/engine/store"
)

func samplePolicy(id, key string) engine.PolicyVersion {
	return engine.PolicyVersion{
		ID: engine.PolicyVersionID(id), Kind: engine.KindSLAMargin, ScopeID: "global",
		PolicyID: "sla_margin/global", Version: 1, State: engine.StatePublished,
		EffectiveDate:  engine.NewDate(2026, time.January, 1),
		Payload:        []byte(`{}`),
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
}

func TestMemory_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: A stored version
	// WHEN: Inserting a second row with the same idempotency key
	// THEN: The insert fails; the unique key is a storage-level backstop

	m := store.NewMemory()
	ctx := context.Background()

	if err := m.InsertPolicyVersion(ctx, samplePolicy("pv-1", "key-1")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := m.InsertPolicyVersion(ctx, samplePolicy("pv-2", "key-1")); err == nil {
		t.Fatal("duplicate idempotency key accepted")
	}
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts and then fails
	// WHEN: WithTx returns the error
	// THEN: The insert is rolled back; the store is unchanged

	tm := store.NewTxMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := tm.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertPolicyVersion(ctx, samplePolicy("pv-1", "key-1")); err != nil {
			return err
		}
		// Uncommitted writes are visible inside the transaction.
		if found, _ := s.FindByIdempotencyKey(ctx, "key-1"); found == nil {
			t.Error("in-transaction read missed own write")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	all, _ := tm.AllPolicyVersions(ctx)
	if len(all) != 0 {
		t.Errorf("rolled-back insert persisted: %d rows", len(all))
	}
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	// GIVEN: A transaction that inserts and succeeds
	// WHEN: WithTx returns nil
	// THEN: The insert is visible afterwards

	tm := store.NewTxMemory()
	ctx := context.Background()

	err := tm.WithTx(ctx, func(s engine.Store) error {
		return s.InsertPolicyVersion(ctx, samplePolicy("pv-1", "key-1"))
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	found, err := tm.FindByIdempotencyKey(ctx, "key-1")
	if err != nil || found == nil {
		t.Fatal("committed insert not visible")
	}
}

func TestMemory_ActiveVersionPicksLatestStarted(t *testing.T) {
	// GIVEN: Published versions effective Jan 1 and Mar 1, archived noise
	// WHEN: Resolving the active version as of Feb 1 and Apr 1
	// THEN: Jan 1 and Mar 1 respectively

	m := store.NewMemory()
	ctx := context.Background()

	jan := samplePolicy("pv-jan", "key-jan")
	mar := samplePolicy("pv-mar", "key-mar")
	mar.EffectiveDate = engine.NewDate(2026, time.March, 1)
	mar.Version = 2
	old := samplePolicy("pv-old", "key-old")
	old.State = engine.StateArchived

	for _, pv := range []engine.PolicyVersion{jan, mar, old} {
		if err := m.InsertPolicyVersion(ctx, pv); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	got, err := m.ActiveVersion(ctx, engine.KindSLAMargin, "global", engine.NewDate(2026, time.February, 1))
	if err != nil || got == nil || got.ID != "pv-jan" {
		t.Fatalf("as of Feb 1: expected pv-jan, got %+v (err %v)", got, err)
	}
	got, err = m.ActiveVersion(ctx, engine.KindSLAMargin, "global", engine.NewDate(2026, time.April, 1))
	if err != nil || got == nil || got.ID != "pv-mar" {
		t.Fatalf("as of Apr 1: expected pv-mar, got %+v (err %v)", got, err)
	}
}
