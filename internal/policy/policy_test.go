package policy

import (
	"testing"
	"time"

	"github.com/railops/section-control/api/decision"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	t.Parallel()

	p := Policy{}.Normalize()
	if p.MaxHoldMin != DefaultMaxHoldMin {
		t.Fatalf("expected default max hold, got %v", p.MaxHoldMin)
	}
	if p.CadenceSec != DefaultCadenceSec {
		t.Fatalf("expected default cadence, got %v", p.CadenceSec)
	}
	if p.Epsilon != DefaultEpsilon {
		t.Fatalf("expected default epsilon, got %v", p.Epsilon)
	}

	p = Policy{MaxHoldMin: 8, Epsilon: 0.1}.Normalize()
	if p.MaxHoldMin != 8 || p.Epsilon != 0.1 {
		t.Fatalf("expected explicit values kept, got %+v", p)
	}
}

func TestValidateRejectsClassKeys(t *testing.T) {
	t.Parallel()

	p := Default()
	p.PriorityWeights = map[string]int{"Superfast": 3}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected rejection of class-named key")
	}

	p.PriorityWeights = map[string]int{"12301": 3}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected per-train key accepted, got %v", err)
	}
}

func TestStationLocked(t *testing.T) {
	t.Parallel()

	p := Default()
	p.LockedStations = []string{"S2"}
	if !p.StationLocked("S2") || p.StationLocked("S1") {
		t.Fatalf("expected only S2 locked")
	}
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()

	p := Default()
	p.PriorityWeights = map[string]int{"T1": 2}
	c := p.Clone()
	c.PriorityWeights["T1"] = 9
	if p.PriorityWeights["T1"] != 2 {
		t.Fatalf("expected clone isolation, got %d", p.PriorityWeights["T1"])
	}
}

func TestStorePersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("expected open, got %v", err)
	}
	if s.Policy().MaxHoldMin != DefaultMaxHoldMin {
		t.Fatalf("expected defaults on empty dir")
	}

	p := Default()
	p.MaxHoldMin = 7
	prov, err := s.Update(p, "controller-1")
	if err != nil {
		t.Fatalf("expected update, got %v", err)
	}
	if prov.UpdatedBy != "controller-1" || prov.LastPolicyUpdateTS == "" || prov.RevisionID == "" {
		t.Fatalf("expected stamped provenance, got %+v", prov)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("expected reopen, got %v", err)
	}
	if reopened.Policy().MaxHoldMin != 7 {
		t.Fatalf("expected persisted policy, got %v", reopened.Policy().MaxHoldMin)
	}
	if reopened.Provenance().UpdatedBy != "controller-1" {
		t.Fatalf("expected persisted provenance, got %+v", reopened.Provenance())
	}
}

func TestStoreRejectsClassKeyedUpdate(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("expected open, got %v", err)
	}
	p := Default()
	p.PriorityWeights = map[string]int{"Freight": 1}
	if _, err := s.Update(p, "x"); err == nil {
		t.Fatalf("expected class-keyed update rejected")
	}
}

func TestStoreLocks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("expected open, got %v", err)
	}
	if err := s.SetResourceLock(decision.ResourceLock{Type: "block", ID: "S1-S2", Locked: true}); err != nil {
		t.Fatalf("expected lock set, got %v", err)
	}
	if err := s.SetPrecedencePin(decision.PrecedencePin{BlockID: "S1-S2", Leader: "A", Follower: "B"}); err != nil {
		t.Fatalf("expected pin set, got %v", err)
	}

	// Upsert replaces, never duplicates.
	if err := s.SetResourceLock(decision.ResourceLock{Type: "block", ID: "S1-S2", Locked: false}); err != nil {
		t.Fatalf("expected lock update, got %v", err)
	}
	locks := s.Locks()
	if len(locks.Resources) != 1 || locks.Resources[0].Locked {
		t.Fatalf("expected single unlocked entry, got %+v", locks.Resources)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("expected reopen, got %v", err)
	}
	if f, ok := reopened.Locks().PinnedFollower("S1-S2"); !ok || f != "B" {
		t.Fatalf("expected persisted pin, got %q ok=%v", f, ok)
	}

	if err := reopened.ClearLocks(); err != nil {
		t.Fatalf("expected clear, got %v", err)
	}
	if got := reopened.Locks(); len(got.Resources) != 0 || len(got.Pins) != 0 {
		t.Fatalf("expected cleared locks, got %+v", got)
	}
}

func TestNewProvenance(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	prov := NewProvenance("ops", now)
	if prov.LastPolicyUpdateTS != "2026-08-25T10:00:00Z" {
		t.Fatalf("expected RFC3339 UTC stamp, got %s", prov.LastPolicyUpdateTS)
	}
}
