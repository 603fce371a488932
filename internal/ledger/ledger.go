// Package ledger is the audit and feedback trail: an immutable append-only
// decision log per (scope, date), a tabular analytics mirror, and offline-RL
// transitions derived from accepted holds.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/artifacts"
)

// Reward shaping coefficients.
const (
	DefaultAlpha = 0.2  // per held minute
	DefaultBeta  = 0.1  // per held minute, scaled by train priority weight
	DefaultGamma = 0.05 // per recent hold already charged to the train
)

// FeedbackRow mirrors one decision into the analytics table.
type FeedbackRow struct {
	TS       string `json:"ts" parquet:"ts"`
	Decision string `json:"decision" parquet:"decision"`
	Reason   string `json:"reason" parquet:"reason,optional"`
	Modified string `json:"modified" parquet:"modified,optional"`
	Action   string `json:"action" parquet:"action"`
}

// Ledger appends decisions for one (scope, date). The mutex is the advisory
// writer lock: within a process, audit writes never interleave.
type Ledger struct {
	mu    sync.Mutex
	store artifacts.Store
	scope string
	date  string
}

// New binds a ledger to one artifact scope and date.
func New(store artifacts.Store, scope, date string) *Ledger {
	return &Ledger{store: store, scope: scope, date: date}
}

// Append derives missing identity fields, validates the entry, and appends it
// to audit_trail.json and the feedback mirror. Entries already written are
// never touched; the trail only grows.
func (l *Ledger) Append(entry decision.AuditEntry) (decision.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.TS == "" {
		entry.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.ActionID == "" && entry.Action != nil {
		id, err := decision.ComputeActionID(*entry.Action)
		if err != nil {
			return entry, fmt.Errorf("derive action_id: %w", err)
		}
		entry.ActionID = id
	}
	if entry.PlanVersion == "" {
		v, err := l.currentPlanVersion(entry.Action)
		if err != nil {
			return entry, err
		}
		entry.PlanVersion = v
	}
	if err := entry.Validate(); err != nil {
		return entry, fmt.Errorf("audit entry: %w", err)
	}

	trailPath := l.store.Path(l.scope, l.date, artifacts.AuditTrail)
	var trail []decision.AuditEntry
	if err := artifacts.ReadJSON(trailPath, &trail); err != nil && !artifacts.IsMissing(err) {
		return entry, fmt.Errorf("read trail: %w", err)
	}
	trail = append(trail, entry)
	if err := artifacts.WriteJSON(trailPath, trail); err != nil {
		return entry, fmt.Errorf("write trail: %w", err)
	}

	if err := l.mirror(entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// Trail returns the decisions appended so far, oldest first.
func (l *Ledger) Trail() ([]decision.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var trail []decision.AuditEntry
	path := l.store.Path(l.scope, l.date, artifacts.AuditTrail)
	if err := artifacts.ReadJSON(path, &trail); err != nil {
		if artifacts.IsMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	return trail, nil
}

// Completeness is decisions_logged / recommendations; zero recommendations
// reads as fully covered.
func (l *Ledger) Completeness(recommendations int) (float64, error) {
	trail, err := l.Trail()
	if err != nil {
		return 0, err
	}
	if recommendations <= 0 {
		return 1, nil
	}
	return float64(len(trail)) / float64(recommendations), nil
}

func (l *Ledger) mirror(entry decision.AuditEntry) error {
	row := FeedbackRow{
		TS:       entry.TS,
		Decision: string(entry.Decision),
		Reason:   entry.Reason,
	}
	if entry.Action != nil {
		b, err := json.Marshal(entry.Action)
		if err != nil {
			return fmt.Errorf("mirror action: %w", err)
		}
		row.Action = string(b)
	}
	if entry.Decision == decision.DecisionModify && entry.Details != nil {
		if mod, ok := entry.Details["modified"]; ok {
			b, err := json.Marshal(mod)
			if err != nil {
				return fmt.Errorf("mirror modified: %w", err)
			}
			row.Modified = string(b)
		}
	}

	path := l.store.Path(l.scope, l.date, artifacts.Feedback)
	rows, err := artifacts.ReadParquet[FeedbackRow](path)
	if err != nil && !artifacts.IsMissing(err) {
		return fmt.Errorf("read feedback: %w", err)
	}
	rows = append(rows, row)
	if err := artifacts.WriteParquet(path, rows); err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	return nil
}

// currentPlanVersion prefers the published plan's version; absent that, the
// entry's action alone identifies a one-action plan.
func (l *Ledger) currentPlanVersion(action *decision.Action) (string, error) {
	var plan decision.Plan
	path := l.store.Path(l.scope, l.date, artifacts.RecPlan)
	if err := artifacts.ReadJSON(path, &plan); err == nil && plan.PlanVersion != "" {
		return plan.PlanVersion, nil
	} else if err != nil && !artifacts.IsMissing(err) {
		return "", fmt.Errorf("read plan: %w", err)
	}
	if action == nil {
		return decision.ComputePlanVersion(nil)
	}
	return decision.ComputePlanVersion([]decision.Action{*action})
}
