// Package policy holds the durable optimizer policy, its provenance record,
// and the resource lock set. Read-mostly: consumers load at the start of each
// optimizer call and never see mid-tick changes.
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
)

// Defaults applied by Normalize.
const (
	DefaultMaxHoldMin       = 5.0
	DefaultMaxHoldsPerTrain = 1
	DefaultHorizonMin       = 60.0
	DefaultBucketMin        = 5.0
	DefaultCadenceSec       = 120
	DefaultSolverSLASec     = 5.0
	DefaultEpsilon          = 0.3
)

// Policy is the optimizer's rule set.
type Policy struct {
	MaxHoldMin       float64 `json:"max_hold_min"`
	MaxHoldsPerTrain int     `json:"max_holds_per_train"`
	HorizonMin       float64 `json:"horizon_min"`
	BucketMin        float64 `json:"bucket_min"`
	CadenceSec       int     `json:"cadence_sec"`
	SolverSLASec     float64 `json:"solver_sla_sec"`
	// Epsilon is the chance-constraint level for the risk-aware slack rule.
	Epsilon float64 `json:"epsilon"`
	// PriorityWeights is keyed by train_id. Class names are rejected at parse
	// time: per-class weighting is expressed through the timetable classes.
	PriorityWeights map[string]int `json:"priority_weights,omitempty"`
	LockedStations  []string       `json:"locked_stations,omitempty"`
}

// Default returns the baseline policy.
func Default() Policy {
	return Policy{
		MaxHoldMin:       DefaultMaxHoldMin,
		MaxHoldsPerTrain: DefaultMaxHoldsPerTrain,
		HorizonMin:       DefaultHorizonMin,
		BucketMin:        DefaultBucketMin,
		CadenceSec:       DefaultCadenceSec,
		SolverSLASec:     DefaultSolverSLASec,
		Epsilon:          DefaultEpsilon,
	}
}

// Normalize fills unset fields with defaults and clamps out-of-range values.
func (p Policy) Normalize() Policy {
	d := Default()
	if p.MaxHoldMin <= 0 {
		p.MaxHoldMin = d.MaxHoldMin
	}
	if p.MaxHoldsPerTrain <= 0 {
		p.MaxHoldsPerTrain = d.MaxHoldsPerTrain
	}
	if p.HorizonMin <= 0 {
		p.HorizonMin = d.HorizonMin
	}
	if p.BucketMin <= 0 {
		p.BucketMin = d.BucketMin
	}
	if p.CadenceSec <= 0 {
		p.CadenceSec = d.CadenceSec
	}
	if p.SolverSLASec <= 0 {
		p.SolverSLASec = d.SolverSLASec
	}
	if p.Epsilon <= 0 || p.Epsilon >= 1 {
		p.Epsilon = d.Epsilon
	}
	return p
}

// Validate rejects malformed policies. Priority weight keys naming a train
// class are a hard error: the map is strictly per-train.
func (p Policy) Validate() error {
	if p.MaxHoldMin < 0 {
		return fmt.Errorf("max_hold_min must be >=0")
	}
	if p.MaxHoldsPerTrain < 0 {
		return fmt.Errorf("max_holds_per_train must be >=0")
	}
	for key, w := range p.PriorityWeights {
		if timetable.IsTrainClass(key) {
			return fmt.Errorf("priority_weights key %q names a train class; keys must be train ids", key)
		}
		if w < 0 {
			return fmt.Errorf("priority_weights[%s] must be >=0", key)
		}
	}
	return nil
}

// PriorityOf returns the delay cost weight of a train, zero when unknown.
func (p Policy) PriorityOf(trainID string) int {
	return p.PriorityWeights[trainID]
}

// StationLocked reports whether a station is out of the optimizer's reach.
func (p Policy) StationLocked(stationID string) bool {
	for _, s := range p.LockedStations {
		if s == stationID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for the caller to hold across ticks.
func (p Policy) Clone() Policy {
	out := p
	if p.PriorityWeights != nil {
		out.PriorityWeights = make(map[string]int, len(p.PriorityWeights))
		for k, v := range p.PriorityWeights {
			out.PriorityWeights[k] = v
		}
	}
	out.LockedStations = append([]string(nil), p.LockedStations...)
	return out
}

// ProvenanceRecord stamps who changed the policy and when.
type ProvenanceRecord struct {
	LastPolicyUpdateTS string `json:"last_policy_update_ts"`
	UpdatedBy          string `json:"updated_by"`
	RevisionID         string `json:"revision_id"`
}

// NewProvenance builds a record for an update happening now.
func NewProvenance(updatedBy string, now time.Time) ProvenanceRecord {
	return ProvenanceRecord{
		LastPolicyUpdateTS: now.UTC().Format(time.RFC3339),
		UpdatedBy:          updatedBy,
		RevisionID:         uuid.NewString(),
	}
}

// State bundles what the store persists together.
type State struct {
	Policy     Policy
	Provenance ProvenanceRecord
	Locks      decision.LockState
}
