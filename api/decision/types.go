package decision

import (
	"fmt"
	"time"
)

// RiskType classifies a detected conflict.
type RiskType string

const (
	RiskHeadway          RiskType = "headway"
	RiskBlockCapacity    RiskType = "block_capacity"
	RiskPlatformOverflow RiskType = "platform_overflow"
)

func IsRiskType(v RiskType) bool {
	switch v {
	case RiskHeadway, RiskBlockCapacity, RiskPlatformOverflow:
		return true
	default:
		return false
	}
}

// Severity buckets a risk by lead time from the scan origin.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// Rank returns the ordering weight of a severity; higher sorts first.
func (s Severity) Rank() int {
	return severityRank[s]
}

func IsSeverity(v Severity) bool {
	_, ok := severityRank[v]
	return ok
}

// SeverityForLead maps lead minutes from the scan origin to a severity bucket.
func SeverityForLead(leadMin float64) Severity {
	switch {
	case leadMin <= 5:
		return SeverityCritical
	case leadMin <= 30:
		return SeverityHigh
	case leadMin <= 120:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// TimeWindow is the [start, end] span a risk covers.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Risk is one detected conflict within the radar horizon. For headway risks
// TrainIDs is ordered [leader, follower].
type Risk struct {
	Type            RiskType   `json:"type"`
	Severity        Severity   `json:"severity"`
	LeadMin         float64    `json:"lead_min"`
	Window          TimeWindow `json:"time_window"`
	BlockID         string     `json:"block_id,omitempty"`
	StationID       string     `json:"station_id,omitempty"`
	U               string     `json:"u,omitempty"`
	V               string     `json:"v,omitempty"`
	TrainIDs        []string   `json:"train_ids"`
	RequiredHoldMin float64    `json:"required_hold_min"`
}

func (r Risk) Validate() error {
	if !IsRiskType(r.Type) {
		return fmt.Errorf("invalid risk type: %q", r.Type)
	}
	if !IsSeverity(r.Severity) {
		return fmt.Errorf("invalid severity: %q", r.Severity)
	}
	if r.LeadMin < 0 {
		return fmt.Errorf("lead_min must be >=0")
	}
	if r.RequiredHoldMin < 0 {
		return fmt.Errorf("required_hold_min must be >=0")
	}
	if r.BlockID == "" && r.StationID == "" {
		return fmt.Errorf("risk needs a block_id or station_id")
	}
	if len(r.TrainIDs) == 0 {
		return fmt.Errorf("risk needs at least one train")
	}
	if r.Window.End.Before(r.Window.Start) {
		return fmt.Errorf("time_window end before start")
	}
	return nil
}

// PrimaryTrain is the train a mitigation would hold; for headway risks that is
// the follower.
func (r Risk) PrimaryTrain() string {
	if r.Type == RiskHeadway && len(r.TrainIDs) >= 2 {
		return r.TrainIDs[1]
	}
	return r.TrainIDs[len(r.TrainIDs)-1]
}

// MitigationPreview estimates whether small holds clear a risk and what they
// cost the primary train downstream.
type MitigationPreview struct {
	RiskIndex       int      `json:"risk_index"`
	Type            RiskType `json:"type"`
	BlockID         string   `json:"block_id,omitempty"`
	StationID       string   `json:"station_id,omitempty"`
	TrainIDs        []string `json:"train_ids"`
	RequiredHoldMin float64  `json:"required_hold_min"`
	Hold2Resolves   bool     `json:"hold_2min_resolves"`
	Hold5Resolves   bool     `json:"hold_5min_resolves"`
	ETADelta2Min    float64  `json:"eta_delta_min_2"`
	ETADelta5Min    float64  `json:"eta_delta_min_5"`
}

// ActionType names the micro-action kinds the optimizer can emit.
type ActionType string

const (
	ActionHold             ActionType = "HOLD"
	ActionPlatformReassign ActionType = "PLATFORM_REASSIGN"
	ActionSpeedTune        ActionType = "SPEED_TUNE"
	ActionOvertake         ActionType = "OVERTAKE"
)

func IsActionType(v ActionType) bool {
	switch v {
	case ActionHold, ActionPlatformReassign, ActionSpeedTune, ActionOvertake:
		return true
	default:
		return false
	}
}

// Action is one operator-facing micro-action. ActionID is the SHA-1 of the
// canonical JSON form with the id field itself excluded.
type Action struct {
	ActionID string     `json:"action_id,omitempty"`
	Type     ActionType `json:"type"`

	TrainID   string  `json:"train_id"`
	AtStation string  `json:"at_station,omitempty"`
	Minutes   float64 `json:"minutes,omitempty"`

	StationID string `json:"station_id,omitempty"`
	Platform  string `json:"platform,omitempty"`

	BlockID     string  `json:"block_id,omitempty"`
	SpeedFactor float64 `json:"speed_factor,omitempty"`

	Reason             string         `json:"reason,omitempty"`
	Why                string         `json:"why,omitempty"`
	BindingConstraints []string       `json:"binding_constraints,omitempty"`
	Impact             map[string]int `json:"impact,omitempty"`
	SafetyChecks       []string       `json:"safety_checks,omitempty"`
}

func (a Action) Validate() error {
	if !IsActionType(a.Type) {
		return fmt.Errorf("invalid action type: %q", a.Type)
	}
	if a.TrainID == "" {
		return fmt.Errorf("train_id is required")
	}
	switch a.Type {
	case ActionHold, ActionOvertake:
		if a.AtStation == "" {
			return fmt.Errorf("%s requires at_station", a.Type)
		}
		if a.Minutes <= 0 {
			return fmt.Errorf("%s requires minutes >0", a.Type)
		}
	case ActionPlatformReassign:
		if a.StationID == "" {
			return fmt.Errorf("PLATFORM_REASSIGN requires station_id")
		}
		if a.Platform == "" {
			return fmt.Errorf("PLATFORM_REASSIGN requires a platform slot or \"any\"")
		}
	case ActionSpeedTune:
		if a.BlockID == "" {
			return fmt.Errorf("SPEED_TUNE requires block_id")
		}
		if a.SpeedFactor < 0.8 || a.SpeedFactor > 1.0 {
			return fmt.Errorf("SPEED_TUNE factor must be in [0.8,1.0], got %v", a.SpeedFactor)
		}
	}
	return nil
}

// Plan is an ordered list of actions with a deterministic version hash.
type Plan struct {
	PlanVersion string         `json:"plan_version,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
	Strategy    string         `json:"strategy,omitempty"`
	Actions     []Action       `json:"actions"`
	AltOptions  []Action       `json:"alt_options,omitempty"`
	Metrics     map[string]any `json:"plan_metrics,omitempty"`
}

func (p Plan) Validate() error {
	for i, a := range p.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// Decision names an operator verdict on an action.
type Decision string

const (
	DecisionApply   Decision = "APPLY"
	DecisionDismiss Decision = "DISMISS"
	DecisionModify  Decision = "MODIFY"
	DecisionAck     Decision = "ACK"
)

func IsDecision(v Decision) bool {
	switch v {
	case DecisionApply, DecisionDismiss, DecisionModify, DecisionAck:
		return true
	default:
		return false
	}
}

// AuditEntry is one immutable ledger record of an operator decision.
type AuditEntry struct {
	TS          string         `json:"ts"`
	Who         string         `json:"who"`
	Role        string         `json:"role"`
	ActionID    string         `json:"action_id"`
	Decision    Decision       `json:"decision"`
	Details     map[string]any `json:"details,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	PlanVersion string         `json:"plan_version"`
	Action      *Action        `json:"action,omitempty"`
}

func (e AuditEntry) Validate() error {
	if e.TS == "" {
		return fmt.Errorf("ts is required")
	}
	if e.Who == "" {
		return fmt.Errorf("who is required")
	}
	if !IsDecision(e.Decision) {
		return fmt.Errorf("invalid decision: %q", e.Decision)
	}
	if e.ActionID == "" {
		return fmt.Errorf("action_id is required")
	}
	if e.PlanVersion == "" {
		return fmt.Errorf("plan_version is required")
	}
	return nil
}

// ResourceLock removes a platform or block from the optimizer's reach.
type ResourceLock struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Locked bool   `json:"locked"`
}

func (l ResourceLock) Validate() error {
	if l.Type != "platform" && l.Type != "block" {
		return fmt.Errorf("lock type must be platform or block, got %q", l.Type)
	}
	if l.ID == "" {
		return fmt.Errorf("lock id is required")
	}
	return nil
}

// PrecedencePin forces follower choice on a block.
type PrecedencePin struct {
	BlockID  string `json:"block_id"`
	Leader   string `json:"leader"`
	Follower string `json:"follower"`
}

func (p PrecedencePin) Validate() error {
	if p.BlockID == "" {
		return fmt.Errorf("block_id is required")
	}
	if p.Leader == "" || p.Follower == "" {
		return fmt.Errorf("leader and follower are required")
	}
	if p.Leader == p.Follower {
		return fmt.Errorf("leader and follower must differ")
	}
	return nil
}

// LockState is the durable lock set consumed by the optimizer.
type LockState struct {
	Resources []ResourceLock  `json:"resource_locks"`
	Pins      []PrecedencePin `json:"precedence_pins"`
}

// LockedResources returns the set of locked ids for one resource type.
func (s LockState) LockedResources(resourceType string) map[string]bool {
	out := make(map[string]bool)
	for _, l := range s.Resources {
		if l.Locked && l.Type == resourceType {
			out[l.ID] = true
		}
	}
	return out
}

// PinnedFollower returns the pinned follower for a block, if any.
func (s LockState) PinnedFollower(blockID string) (string, bool) {
	for _, p := range s.Pins {
		if p.BlockID == blockID {
			return p.Follower, true
		}
	}
	return "", false
}
