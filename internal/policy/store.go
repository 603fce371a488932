package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/artifacts"
)

// Store persists policy, provenance, and locks as JSON artifacts and serves
// reads from memory. Updates take effect for subsequent readers only.
type Store struct {
	mu    sync.Mutex
	dir   string
	state State
	now   func() time.Time
}

// Open loads existing state from dir, falling back to defaults where files
// are absent.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, now: time.Now}
	s.state.Policy = Default()

	var p Policy
	err := artifacts.ReadJSON(s.path(artifacts.PolicyState), &p)
	switch {
	case err == nil:
		p = p.Normalize()
		if verr := p.Validate(); verr != nil {
			return nil, fmt.Errorf("policy_state: %w", verr)
		}
		s.state.Policy = p
	case !artifacts.IsMissing(err):
		return nil, err
	}

	var prov ProvenanceRecord
	if err := artifacts.ReadJSON(s.path(artifacts.Provenance), &prov); err == nil {
		s.state.Provenance = prov
	} else if !artifacts.IsMissing(err) {
		return nil, err
	}

	var locks decision.LockState
	if err := artifacts.ReadJSON(s.path(artifacts.LocksState), &locks); err == nil {
		s.state.Locks = locks
	} else if !artifacts.IsMissing(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return s.dir + "/" + name
}

// Policy returns the current policy snapshot.
func (s *Store) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Policy.Clone()
}

// Provenance returns the latest provenance record.
func (s *Store) Provenance() ProvenanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Provenance
}

// Locks returns the current lock set.
func (s *Store) Locks() decision.LockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.state.Locks
	l.Resources = append([]decision.ResourceLock(nil), l.Resources...)
	l.Pins = append([]decision.PrecedencePin(nil), l.Pins...)
	return l
}

// Update validates and persists a new policy, stamping provenance.
func (s *Store) Update(p Policy, updatedBy string) (ProvenanceRecord, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return ProvenanceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prov := NewProvenance(updatedBy, s.now())
	if err := artifacts.WriteJSON(s.path(artifacts.PolicyState), p); err != nil {
		return ProvenanceRecord{}, err
	}
	if err := artifacts.WriteJSON(s.path(artifacts.Provenance), prov); err != nil {
		return ProvenanceRecord{}, err
	}
	s.state.Policy = p
	s.state.Provenance = prov
	return prov, nil
}

// SetResourceLock upserts a platform or block lock and persists the set.
func (s *Store) SetResourceLock(lock decision.ResourceLock) error {
	if err := lock.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, l := range s.state.Locks.Resources {
		if l.Type == lock.Type && l.ID == lock.ID {
			s.state.Locks.Resources[i] = lock
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Locks.Resources = append(s.state.Locks.Resources, lock)
	}
	return artifacts.WriteJSON(s.path(artifacts.LocksState), s.state.Locks)
}

// SetPrecedencePin upserts a precedence pin for a block and persists the set.
func (s *Store) SetPrecedencePin(pin decision.PrecedencePin) error {
	if err := pin.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, p := range s.state.Locks.Pins {
		if p.BlockID == pin.BlockID {
			s.state.Locks.Pins[i] = pin
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Locks.Pins = append(s.state.Locks.Pins, pin)
	}
	return artifacts.WriteJSON(s.path(artifacts.LocksState), s.state.Locks)
}

// ClearLocks removes every lock and pin.
func (s *Store) ClearLocks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Locks = decision.LockState{}
	return artifacts.WriteJSON(s.path(artifacts.LocksState), s.state.Locks)
}
