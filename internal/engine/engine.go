// Package engine is the runtime loop: a single-threaded cooperative tick at
// fixed cadence that ingests live events, rebuilds the twin, scans for risk,
// re-optimizes, and publishes an immutable snapshot by pointer swap.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/ingest"
	"github.com/railops/section-control/internal/learn"
	"github.com/railops/section-control/internal/optimize"
	"github.com/railops/section-control/internal/policy"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/scenario"
	"github.com/railops/section-control/internal/twin"
)

// DefaultCadence paces the tick loop.
const DefaultCadence = 120 * time.Second

// Config wires one engine instance.
type Config struct {
	Scope   string
	Date    string
	Cadence time.Duration
	// Live gates outbound dispatch; the default sandbox never applies.
	Live  bool
	UseGA bool
	Seed  int64
}

// TrainPosition is the compact per-train presence in the snapshot.
type TrainPosition struct {
	TrainID     string  `json:"train_id"`
	BlockID     string  `json:"block_id"`
	U           string  `json:"u"`
	V           string  `json:"v"`
	ProgressPct float64 `json:"progress_pct"`
}

// Snapshot is one tick's consistent view. Snapshots are immutable once
// published; readers always see a whole tick.
type Snapshot struct {
	TickID      string
	At          time.Time
	Events      []timetable.TrainEvent
	Twin        *twin.Result
	Radar       *radar.Report
	Plan        decision.Plan
	AltOptions  []decision.Action
	PlanMetrics map[string]float64
	AuditLog    optimize.AuditLog
	Positions   []TrainPosition
	// PlanChanged is false when hysteresis suppressed re-emission.
	PlanChanged bool
}

// Engine runs the cooperative loop. All mutation happens on the tick
// goroutine; the published snapshot is the only cross-goroutine surface.
type Engine struct {
	cfg      Config
	logger   hclog.Logger
	store    artifacts.Store
	graph    *graph.SectionGraph
	base     []timetable.TrainEvent
	adapters []*ingest.FileDropAdapter
	events   *ingest.EventStore
	policies *policy.Store

	snapshot atomic.Pointer[Snapshot]
	now      func() time.Time
}

// New assembles an engine over prepared inputs. The policy store is re-read
// at the start of every tick so updates land on the next tick, never mid-way.
func New(cfg Config, logger hclog.Logger, store artifacts.Store, g *graph.SectionGraph, base []timetable.TrainEvent, policies *policy.Store, adapters ...*ingest.FileDropAdapter) (*Engine, error) {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	events, err := ingest.NewEventStore()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		store:    store,
		graph:    g,
		base:     base,
		adapters: adapters,
		events:   events,
		policies: policies,
		now:      time.Now,
	}, nil
}

// Snapshot returns the latest published tick, or nil before the first one.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Run ticks until stop is closed. The stop signal is honoured only between
// ticks; per-tick work is bounded by the solver SLA in policy.
func (e *Engine) Run(stop <-chan struct{}) {
	for {
		start := e.now()
		if err := e.Tick(); err != nil {
			e.logger.Error("tick failed, previous snapshot retained", "error", err)
			metrics.IncrCounter([]string{"engine", "tick_errors"}, 1)
		}
		elapsed := e.now().Sub(start)
		wait := e.cfg.Cadence - elapsed
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

// Tick runs one full cycle: ingest, recompute, hysteresis, publish. On error
// the published snapshot is left untouched.
func (e *Engine) Tick() (err error) {
	start := e.now()
	defer metrics.MeasureSince([]string{"engine", "tick"}, start)

	merged := e.ingestTick()
	metrics.IncrCounter([]string{"engine", "events_merged"}, float32(merged))

	snap, err := e.recompute(start)
	if err != nil {
		return err
	}

	prev := e.snapshot.Load()
	if prev != nil {
		if sameActionSet(snap.Plan.Actions, prev.Plan.Actions) {
			// Identical set: suppress re-emission, keep the published plan.
			snap.Plan = prev.Plan
			snap.AltOptions = prev.AltOptions
			snap.PlanChanged = false
		} else {
			applyHysteresis(&snap.Plan, prev.Plan)
		}
	}

	if err := e.publish(snap); err != nil {
		return err
	}
	e.snapshot.Store(snap)

	metrics.IncrCounter([]string{"engine", "risks_detected"}, float32(len(snap.Radar.Risks)))
	metrics.IncrCounter([]string{"engine", "actions_proposed"}, float32(len(snap.Plan.Actions)))
	e.logger.Debug("tick published",
		"tick_id", snap.TickID,
		"events", merged,
		"risks", len(snap.Radar.Risks),
		"actions", len(snap.Plan.Actions),
		"plan_changed", snap.PlanChanged)
	return nil
}

// ingestTick drains every adapter sequentially into the event store. Adapter
// failures trip their own breakers and never fail the tick.
func (e *Engine) ingestTick() int {
	merged := 0
	for _, a := range e.adapters {
		stats, err := a.Tick(func(env timetable.EventEnvelope) error {
			fresh, err := e.events.Merge(env)
			if err != nil {
				return err
			}
			if fresh {
				merged++
			}
			return nil
		})
		if err != nil {
			e.logger.Warn("adapter tick degraded", "adapter", a.Name, "error", err)
		}
		if stats.Skipped {
			e.logger.Debug("adapter skipped, breaker open", "adapter", a.Name)
		}
	}
	return merged
}

// recompute rebuilds twin, radar, and plan over the folded event set.
func (e *Engine) recompute(start time.Time) (*Snapshot, error) {
	pol := e.policies.Policy()
	locks := e.policies.Locks()

	envs, err := e.events.All()
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}
	events, _, err := ingest.Fold(e.base, envs)
	if err != nil {
		return nil, fmt.Errorf("fold events: %w", err)
	}

	sim, err := twin.Replay(e.graph, events, twin.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	rep := radar.Run(e.graph, sim, radar.Scan{
		HorizonMin: pol.HorizonMin,
		BucketMin:  pol.BucketMin,
	})

	heat, err := learn.LoadHeat(e.store, e.cfg.Scope, e.cfg.Date)
	if err != nil {
		return nil, err
	}
	opt, err := optimize.Propose(optimize.Request{
		Graph:     e.graph,
		Occupancy: sim.BlockOccupancy,
		Platforms: sim.PlatformOccupancy,
		Risks:     rep.Risks,
		Policy:    pol,
		Locks:     locks,
		RiskHeat:  map[string]float64(heat),
		T0:        rep.T0,
		UseGA:     e.cfg.UseGA,
		Seed:      e.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	return &Snapshot{
		TickID:      uuid.NewString(),
		At:          start.UTC(),
		Events:      events,
		Twin:        sim,
		Radar:       rep,
		Plan:        opt.Plan,
		AltOptions:  opt.Plan.AltOptions,
		PlanMetrics: opt.Metrics,
		AuditLog:    opt.AuditLog,
		Positions:   positions(sim.BlockOccupancy),
		PlanChanged: true,
	}, nil
}

// positions keeps the last known block per train.
func positions(occ []timetable.BlockOccupancy) []TrainPosition {
	last := make(map[string]timetable.BlockOccupancy)
	order := []string{}
	for _, w := range occ {
		prev, ok := last[w.TrainID]
		if !ok {
			order = append(order, w.TrainID)
		}
		if !ok || w.ExitTime.After(prev.ExitTime) {
			last[w.TrainID] = w
		}
	}
	out := make([]TrainPosition, 0, len(order))
	for _, tid := range order {
		w := last[tid]
		out = append(out, TrainPosition{
			TrainID:     w.TrainID,
			BlockID:     w.BlockID,
			U:           w.U,
			V:           w.V,
			ProgressPct: 100,
		})
	}
	return out
}

// sameActionSet compares plans by their canonical action identities,
// ignoring order.
func sameActionSet(a, b []decision.Action) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, x := range a {
		counts[x.ActionID]++
	}
	for _, x := range b {
		counts[x.ActionID]--
		if counts[x.ActionID] < 0 {
			return false
		}
	}
	return true
}

// applyHysteresis reorders the new plan so actions carried over from the
// previous plan come first, then re-finalizes to restamp the version.
func applyHysteresis(plan *decision.Plan, prev decision.Plan) {
	if len(plan.Actions) == 0 || len(prev.Actions) == 0 {
		return
	}
	prevIDs := make(map[string]bool, len(prev.Actions))
	for _, a := range prev.Actions {
		prevIDs[a.ActionID] = true
	}
	kept := make([]decision.Action, 0, len(plan.Actions))
	fresh := make([]decision.Action, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		if prevIDs[a.ActionID] {
			kept = append(kept, a)
		} else {
			fresh = append(fresh, a)
		}
	}
	if len(kept) == 0 {
		return
	}
	plan.Actions = append(kept, fresh...)
	if err := plan.Finalize(); err != nil {
		// Finalize over already-stamped actions cannot fail; keep the
		// original ordering if it somehow does.
		plan.Actions = append(fresh, kept...)
	}
}

// publish persists the tick's artifacts; the plan files rotate only when the
// plan actually changed.
func (e *Engine) publish(snap *Snapshot) error {
	scope, date := e.cfg.Scope, e.cfg.Date
	if _, err := e.store.Dir(scope, date); err != nil {
		return err
	}

	if err := artifacts.WriteParquet(e.store.Path(scope, date, artifacts.BlockOccupancy), snap.Twin.BlockOccupancy); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(e.store.Path(scope, date, artifacts.PlatformOccupancy), snap.Twin.PlatformOccupancy); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(e.store.Path(scope, date, artifacts.WaitingLedger), snap.Twin.WaitingLedger); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.SimKPIs), snap.Twin.KPIs); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.ConflictRadar), snap.Radar.Risks); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.MitigationPreview), snap.Radar.Preview); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(e.store.Path(scope, date, artifacts.RiskTimeline), snap.Radar.Timeline); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.RiskKPIs), snap.Radar.KPIs()); err != nil {
		return err
	}
	if snap.PlanChanged {
		if err := scenario.PublishPlan(e.store, scope, date, snap.Plan); err != nil {
			return err
		}
		if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.AltOptions), snap.AltOptions); err != nil {
			return err
		}
		if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.PlanMetrics), snap.PlanMetrics); err != nil {
			return err
		}
		if err := artifacts.WriteJSON(e.store.Path(scope, date, artifacts.AuditLog), snap.AuditLog); err != nil {
			return err
		}
	}
	return nil
}

// ApplyStatus is the outcome of an apply_action call.
type ApplyStatus struct {
	Status  string `json:"status"`
	Applied bool   `json:"applied"`
}

// ApplyAction gates outbound dispatch. Sandbox mode never applies; live mode
// acknowledges but external dispatch stays out of scope.
func (e *Engine) ApplyAction(actionID string, modifiers map[string]any) (ApplyStatus, error) {
	snap := e.snapshot.Load()
	if snap == nil {
		return ApplyStatus{}, fmt.Errorf("no snapshot yet")
	}
	found := false
	for _, a := range snap.Plan.Actions {
		if a.ActionID == actionID {
			found = true
			break
		}
	}
	if !found {
		return ApplyStatus{}, fmt.Errorf("unknown action %s", actionID)
	}
	if !e.cfg.Live {
		return ApplyStatus{Status: "sandbox, not applied", Applied: false}, nil
	}
	return ApplyStatus{Status: "ok", Applied: true}, nil
}
