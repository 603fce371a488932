package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/artifacts"
)

// GlobalModelsScope is the artifact scope holding cross-run learning outputs.
const GlobalModelsScope = "global_models"

// TransitionState carries the optimizer-facing features at decision time.
type TransitionState struct {
	SeverityRank   int     `json:"severity_rank"`
	LeadMin        float64 `json:"lead_min"`
	HeadwayMin     float64 `json:"headway_min"`
	Capacity       int     `json:"capacity"`
	BlockLenTrains int     `json:"block_len_trains"`
	Platforms      int     `json:"platforms"`
}

// TransitionAction is the discretised hold the controller accepted.
type TransitionAction struct {
	Type      string  `json:"type"`
	HoldClass int     `json:"hold_class"`
	Minutes   float64 `json:"minutes"`
}

// TransitionInfo ties a transition back to its run and risk.
type TransitionInfo struct {
	Scope          string  `json:"scope"`
	Date           string  `json:"date"`
	RiskType       string  `json:"risk_type"`
	BlockID        string  `json:"block_id,omitempty"`
	StationID      string  `json:"station_id,omitempty"`
	TrainID        string  `json:"train_id"`
	Resolved       bool    `json:"resolved"`
	PriorityWeight float64 `json:"priority_weight"`
	RecentHolds    int     `json:"recent_holds"`
}

// Transition is one offline-RL sample.
type Transition struct {
	State  TransitionState  `json:"state"`
	Action TransitionAction `json:"action"`
	Reward float64          `json:"reward"`
	Info   TransitionInfo   `json:"info"`
}

// HoldClass buckets minutes into the discrete classes {2, 3, 5}.
func HoldClass(minutes float64) int {
	switch {
	case minutes <= 2.5:
		return 2
	case minutes <= 4.0:
		return 3
	default:
		return 5
	}
}

// Resolved decides whether a hold of the given minutes clears the risk,
// preferring the mitigation preview when one matched.
func Resolved(risk decision.Risk, preview *decision.MitigationPreview, minutes float64) bool {
	if preview != nil {
		need := preview.RequiredHoldMin
		if need == 0 {
			need = risk.RequiredHoldMin
		}
		if need > 0 && minutes >= need {
			return true
		}
		if minutes <= 2.5 && preview.Hold2Resolves {
			return true
		}
		if minutes >= 4.0 && preview.Hold5Resolves {
			return true
		}
		return false
	}
	return risk.RequiredHoldMin > 0 && minutes >= risk.RequiredHoldMin
}

// Reward applies the shaping rule: success minus cost of minutes, weighted by
// the held train's priority and its recent hold count.
func Reward(resolved bool, minutes, priorityWeight float64, recentHolds int, alpha, beta, gamma float64) float64 {
	base := 0.0
	if resolved {
		base = 1.0
	}
	return base - alpha*minutes - beta*priorityWeight*minutes - gamma*float64(recentHolds)
}

// TransitionLog appends offline-RL samples to the global JSONL.
type TransitionLog struct {
	mu    sync.Mutex
	store artifacts.Store
}

// NewTransitionLog binds the log to an artifact store root.
func NewTransitionLog(store artifacts.Store) *TransitionLog {
	return &TransitionLog{store: store}
}

func (t *TransitionLog) path() string {
	return filepath.Join(t.store.Root, GlobalModelsScope, artifacts.RLTransitions)
}

// Append writes one transition as a JSONL line.
func (t *TransitionLog) Append(tr Transition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("transition encode: %w", err)
	}
	path := t.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("transition dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("transition open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("transition write: %w", err)
	}
	return nil
}

// All reads every appended transition, oldest first.
func (t *TransitionLog) All() ([]Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transition open: %w", err)
	}
	defer f.Close()

	var out []Transition
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var tr Transition
		if err := json.Unmarshal(sc.Bytes(), &tr); err != nil {
			return nil, fmt.Errorf("transition decode: %w", err)
		}
		out = append(out, tr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transition scan: %w", err)
	}
	return out, nil
}

// RecordHoldDecision builds and appends a transition for an accepted HOLD.
// Non-hold actions and DISMISS decisions are silently skipped.
func (t *TransitionLog) RecordHoldDecision(scope, date string, entry decision.AuditEntry, risk decision.Risk, preview *decision.MitigationPreview, state TransitionState, priorityWeight float64, recentHolds int) error {
	if entry.Action == nil || entry.Action.Type != decision.ActionHold {
		return nil
	}
	switch entry.Decision {
	case decision.DecisionApply, decision.DecisionModify, decision.DecisionAck:
	default:
		return nil
	}
	minutes := entry.Action.Minutes
	resolved := Resolved(risk, preview, minutes)
	tr := Transition{
		State: state,
		Action: TransitionAction{
			Type:      string(decision.ActionHold),
			HoldClass: HoldClass(minutes),
			Minutes:   minutes,
		},
		Reward: Reward(resolved, minutes, priorityWeight, recentHolds, DefaultAlpha, DefaultBeta, DefaultGamma),
		Info: TransitionInfo{
			Scope:          scope,
			Date:           date,
			RiskType:       string(risk.Type),
			BlockID:        risk.BlockID,
			StationID:      risk.StationID,
			TrainID:        entry.Action.TrainID,
			Resolved:       resolved,
			PriorityWeight: priorityWeight,
			RecentHolds:    recentHolds,
		},
	}
	return t.Append(tr)
}
