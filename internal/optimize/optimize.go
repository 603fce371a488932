// Package optimize proposes ranked micro-actions (holds, reassignments,
// speed tuning) that clear radar risks subject to policy and locks.
package optimize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/policy"
)

// Request carries everything one optimizer call needs.
type Request struct {
	Graph     *graph.SectionGraph
	Occupancy []timetable.BlockOccupancy
	Platforms []timetable.PlatformOccupancy
	Risks     []decision.Risk
	Policy    policy.Policy
	Locks     decision.LockState
	// RiskHeat maps block_id to incident probability for the slack rule.
	RiskHeat map[string]float64
	T0       time.Time
	UseGA    bool
	// Seed drives the GA; identical seeds reproduce identical plans.
	Seed int64
	// now is swapped in tests to exercise the solver SLA.
	now func() time.Time
}

// AuditLog records how a plan was produced.
type AuditLog struct {
	Strategy   string  `json:"strategy"`
	RuntimeSec float64 `json:"runtime_sec"`
	T0         string  `json:"t0"`
	HorizonMin float64 `json:"horizon_min"`
	MaxHoldMin float64 `json:"max_hold_min"`
	SLAHit     bool    `json:"sla_hit"`
}

// Result is the optimizer output.
type Result struct {
	Plan     decision.Plan
	Metrics  map[string]float64
	AuditLog AuditLog
}

// Propose runs the heuristic and falls back to the genetic search when it
// yields nothing or the caller asks for it.
func Propose(req Request) (*Result, error) {
	if req.now == nil {
		req.now = time.Now
	}
	start := req.now()
	pol := req.Policy.Normalize()
	deadline := start.Add(time.Duration(pol.SolverSLASec * float64(time.Second)))

	risks := rankRisks(req.Risks, pol)
	idx := indexOccupancy(req.Occupancy)

	var res *Result
	if req.UseGA {
		res = runGA(req, pol, risks, idx)
	} else {
		res = heuristic(req, pol, risks, idx, deadline)
		if len(res.Plan.Actions) == 0 && len(risks) > 0 && !res.AuditLog.SLAHit {
			res = runGA(req, pol, risks, idx)
		}
	}

	if err := res.Plan.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize plan: %w", err)
	}
	res.Plan.CreatedAt = start.UTC()
	res.AuditLog.RuntimeSec = req.now().Sub(start).Seconds()
	res.AuditLog.T0 = req.T0.UTC().Format(time.RFC3339)
	res.AuditLog.HorizonMin = pol.HorizonMin
	res.AuditLog.MaxHoldMin = pol.MaxHoldMin
	res.Plan.Strategy = res.AuditLog.Strategy
	return res, nil
}

// rankRisks orders by severity first, then lead time, then the worst involved
// priority so costly trains surface earlier.
func rankRisks(risks []decision.Risk, pol policy.Policy) []decision.Risk {
	out := append([]decision.Risk(nil), risks...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.LeadMin != b.LeadMin {
			return a.LeadMin < b.LeadMin
		}
		return maxPriority(a.TrainIDs, pol) > maxPriority(b.TrainIDs, pol)
	})
	return out
}

func maxPriority(trains []string, pol policy.Policy) int {
	best := 0
	for _, t := range trains {
		if p := pol.PriorityOf(t); p > best {
			best = p
		}
	}
	return best
}

type occIndex struct {
	byBlock map[string][]timetable.BlockOccupancy
}

func indexOccupancy(occ []timetable.BlockOccupancy) occIndex {
	idx := occIndex{byBlock: make(map[string][]timetable.BlockOccupancy)}
	for _, w := range occ {
		idx.byBlock[w.BlockID] = append(idx.byBlock[w.BlockID], w)
	}
	for id := range idx.byBlock {
		ws := idx.byBlock[id]
		sort.SliceStable(ws, func(i, j int) bool { return ws[i].EntryTime.Before(ws[j].EntryTime) })
	}
	return idx
}

// inboundBlock finds the block a train rides into a station nearest the risk
// time, for upstream holds.
func (idx occIndex) inboundBlock(trainID, stationID string, near time.Time) (timetable.BlockOccupancy, bool) {
	var best timetable.BlockOccupancy
	found := false
	for _, ws := range idx.byBlock {
		for _, w := range ws {
			if w.TrainID != trainID || w.V != stationID {
				continue
			}
			if !found || gap(w.ExitTime, near) < gap(best.ExitTime, near) {
				best = w
				found = true
			}
		}
	}
	return best, found
}

func gap(a, b time.Time) time.Duration {
	if a.Before(b) {
		return b.Sub(a)
	}
	return a.Sub(b)
}

func heuristic(req Request, pol policy.Policy, risks []decision.Risk, idx occIndex, deadline time.Time) *Result {
	res := &Result{
		Metrics:  map[string]float64{},
		AuditLog: AuditLog{Strategy: "heuristic"},
	}
	holds := make(map[string]int)
	lockedPlatformStations := req.Locks.LockedResources("platform")
	targeted := 0

	for _, r := range risks {
		if req.now().After(deadline) {
			res.AuditLog.SLAHit = true
			break
		}
		switch r.Type {
		case decision.RiskHeadway, decision.RiskBlockCapacity:
			action, alts, ok := holdForBlockRisk(req, pol, r, idx, holds)
			if !ok {
				res.Plan.AltOptions = append(res.Plan.AltOptions, alts...)
				continue
			}
			holds[action.TrainID]++
			res.Plan.Actions = append(res.Plan.Actions, action)
			res.Plan.AltOptions = append(res.Plan.AltOptions, alts...)
			targeted++
		case decision.RiskPlatformOverflow:
			actions := platformActions(req, pol, r, idx, holds, lockedPlatformStations)
			for _, a := range actions {
				if a.Type == decision.ActionHold {
					holds[a.TrainID]++
				}
				res.Plan.Actions = append(res.Plan.Actions, a)
			}
			if len(actions) > 0 {
				targeted++
			}
		}
	}

	res.Metrics["actions"] = float64(len(res.Plan.Actions))
	res.Metrics["conflicts_targeted"] = float64(targeted)
	res.Metrics["expected_conflict_reduction"] = float64(targeted)
	return res
}

// holdForBlockRisk picks the follower, sizes the hold, verifies it against
// live occupancy, and attaches the alternative menu. Returns ok=false when
// the fairness budget forces escalation to alt options only.
func holdForBlockRisk(req Request, pol policy.Policy, r decision.Risk, idx occIndex, holds map[string]int) (decision.Action, []decision.Action, bool) {
	follower := chooseFollower(req, pol, r, idx, holds)
	budgetOK := holds[follower] < pol.MaxHoldsPerTrain

	need := r.RequiredHoldMin
	if r.Type == decision.RiskBlockCapacity || need <= 0 {
		need = 2
	}
	hold := clamp(need, 2, pol.MaxHoldMin)
	hold, heatNote := applyRiskHeat(hold, req.RiskHeat[r.BlockID], pol)

	var binding []string
	if heatNote != "" {
		binding = append(binding, heatNote)
	}

	// Re-verify against the live plan: the hold must restore headway behind
	// the latest predecessor on the block.
	if block, ok := req.Graph.Block(r.BlockID); ok {
		if w, found := followerWindow(idx, r.BlockID, follower, r.Window.Start); found {
			prevExit, havePrev := latestPredecessorExit(idx, r.BlockID, w.EntryTime)
			if havePrev {
				needed := prevExit.Add(time.Duration(block.HeadwayMin * float64(time.Minute)))
				entryNew := w.EntryTime.Add(time.Duration(hold * float64(time.Minute)))
				if entryNew.Before(needed) {
					gapMin := needed.Sub(w.EntryTime).Minutes()
					hold = clamp(gapMin, 2, pol.MaxHoldMin)
					entryNew = w.EntryTime.Add(time.Duration(hold * float64(time.Minute)))
					if entryNew.Before(needed) {
						binding = append(binding, fmt.Sprintf("max_hold_min=%.1f insufficient for required gap %.1f", pol.MaxHoldMin, gapMin))
					}
				}
			}
		}
	}

	others := exclude(r.TrainIDs, follower)
	action := decision.Action{
		Type:      decision.ActionHold,
		TrainID:   follower,
		AtStation: r.U,
		Minutes:   round1(hold),
		BlockID:   r.BlockID,
		Reason:    string(r.Type),
		Why:       fmt.Sprintf("Resolve %s on %s vs %s", r.Type, r.BlockID, strings.Join(others, ", ")),
		SafetyChecks: []string{
			"headway_reverified_against_live_occupancy",
		},
		BindingConstraints: binding,
		Impact:             map[string]int{"trains_held": 1},
	}

	alts := []decision.Action{
		{Type: decision.ActionHold, TrainID: follower, AtStation: r.U, Minutes: 2, BlockID: r.BlockID, Reason: string(r.Type), Why: "short hold"},
		{Type: decision.ActionHold, TrainID: follower, AtStation: r.U, Minutes: clamp(5, 2, pol.MaxHoldMin), BlockID: r.BlockID, Reason: string(r.Type), Why: "safer longer hold"},
		{Type: decision.ActionSpeedTune, TrainID: follower, BlockID: r.BlockID, SpeedFactor: 0.95, Reason: string(r.Type), Why: "slight pace reduction instead of a stop"},
	}
	if len(r.TrainIDs) >= 2 {
		leader := r.TrainIDs[0]
		if pol.PriorityOf(follower) > pol.PriorityOf(leader) {
			alts = append(alts, decision.Action{
				Type: decision.ActionOvertake, TrainID: leader, AtStation: r.U, Minutes: round1(hold),
				BlockID: r.BlockID, Reason: string(r.Type),
				Why: fmt.Sprintf("Hold lower-priority leader %s and let %s pass", leader, follower),
			})
		}
	}

	if !budgetOK {
		// Budget exhausted: escalate the primary action into alternatives.
		alts = append([]decision.Action{action}, alts...)
		return decision.Action{}, alts, false
	}
	return action, alts, true
}

// chooseFollower honours precedence pins, then holds the later-arriving
// train, swapping to the other train when the budget is gone.
func chooseFollower(req Request, pol policy.Policy, r decision.Risk, idx occIndex, holds map[string]int) string {
	if pinned, ok := req.Locks.PinnedFollower(r.BlockID); ok {
		return pinned
	}
	follower := latestFollower(pol, r, idx, holds)
	if len(r.TrainIDs) == 2 && holds[follower] >= pol.MaxHoldsPerTrain {
		other := r.TrainIDs[0]
		if other == follower {
			other = r.TrainIDs[1]
		}
		if holds[other] < pol.MaxHoldsPerTrain {
			return other
		}
	}
	return follower
}

// latestFollower ranks candidates by block entry time; entry ties go to the
// lower-priority train, then the one with fewer holds so far, then id. Falls
// back to the risk's own ordering when no occupancy window is known.
func latestFollower(pol policy.Policy, r decision.Risk, idx occIndex, holds map[string]int) string {
	best := r.PrimaryTrain()
	bestEntry, bestKnown := followerWindow(idx, r.BlockID, best, r.Window.Start)
	for _, id := range r.TrainIDs {
		if id == best {
			continue
		}
		w, known := followerWindow(idx, r.BlockID, id, r.Window.Start)
		if !known {
			continue
		}
		switch {
		case !bestKnown:
			best, bestEntry, bestKnown = id, w, true
		case w.EntryTime.After(bestEntry.EntryTime):
			best, bestEntry = id, w
		case w.EntryTime.Equal(bestEntry.EntryTime) && followerBefore(pol, holds, id, best):
			best, bestEntry = id, w
		}
	}
	return best
}

func followerBefore(pol policy.Policy, holds map[string]int, a, b string) bool {
	pa, pb := pol.PriorityOf(a), pol.PriorityOf(b)
	if pa != pb {
		return pa < pb
	}
	if holds[a] != holds[b] {
		return holds[a] < holds[b]
	}
	return a < b
}

// applyRiskHeat widens a hold on blocks with elevated incident probability.
// threshold_hi = max(0.5, 1-epsilon), threshold_lo = threshold_hi - 0.2.
func applyRiskHeat(hold, heat float64, pol policy.Policy) (float64, string) {
	hi := 1 - pol.Epsilon
	if hi < 0.5 {
		hi = 0.5
	}
	lo := hi - 0.2
	switch {
	case heat >= hi:
		return clamp(hold+2, 2, pol.MaxHoldMin), fmt.Sprintf("risk_heat=%.2f>=%.2f slack+2", heat, hi)
	case heat >= lo:
		return clamp(hold+1, 2, pol.MaxHoldMin), fmt.Sprintf("risk_heat=%.2f>=%.2f slack+1", heat, lo)
	default:
		return hold, ""
	}
}

func platformActions(req Request, pol policy.Policy, r decision.Risk, idx occIndex, holds map[string]int, lockedPlatforms map[string]bool) []decision.Action {
	if len(r.TrainIDs) == 0 || pol.StationLocked(r.StationID) {
		return nil
	}
	train := r.TrainIDs[len(r.TrainIDs)-1]
	if holds[train] >= pol.MaxHoldsPerTrain {
		return nil
	}

	at := r.StationID
	if w, ok := idx.inboundBlock(train, r.StationID, r.Window.Start); ok {
		at = w.U
	}
	hold := clamp(3, 2, pol.MaxHoldMin)
	if need := r.RequiredHoldMin; need > hold {
		hold = clamp(need, 2, pol.MaxHoldMin)
	}
	out := []decision.Action{{
		Type:      decision.ActionHold,
		TrainID:   train,
		AtStation: at,
		Minutes:   round1(hold),
		StationID: r.StationID,
		Reason:    string(r.Type),
		Why:       fmt.Sprintf("Reduce concurrent dwells at %s", r.StationID),
		Impact:    map[string]int{"trains_held": 1},
	}}

	if station, ok := req.Graph.Station(r.StationID); ok && station.Platforms > 1 && !lockedPlatforms[r.StationID] {
		slot := earliestFreeSlot(req.Platforms, r.StationID, station.Platforms, r.Window.Start)
		out = append(out, decision.Action{
			Type:      decision.ActionPlatformReassign,
			TrainID:   train,
			StationID: r.StationID,
			Platform:  fmt.Sprintf("%d", slot),
			Reason:    string(r.Type),
			Why:       fmt.Sprintf("Move %s to the earliest-free platform at %s", train, r.StationID),
		})
	}
	return out
}

// earliestFreeSlot greedily replays the horizon's dwell windows and picks the
// slot that frees first before the risk time.
func earliestFreeSlot(occ []timetable.PlatformOccupancy, stationID string, platforms int, before time.Time) int {
	tails := make([]time.Time, platforms)
	windows := make([]timetable.PlatformOccupancy, 0)
	for _, p := range occ {
		if p.StationID == stationID && p.ArrPlatform.Before(before) {
			windows = append(windows, p)
		}
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].ArrPlatform.Before(windows[j].ArrPlatform) })
	for _, w := range windows {
		slot := 0
		for i := 1; i < platforms; i++ {
			if tails[i].Before(tails[slot]) {
				slot = i
			}
		}
		if w.DepPlatform.After(tails[slot]) {
			tails[slot] = w.DepPlatform
		}
	}
	best := 0
	for i := 1; i < platforms; i++ {
		if tails[i].Before(tails[best]) {
			best = i
		}
	}
	return best
}

func followerWindow(idx occIndex, blockID, trainID string, from time.Time) (timetable.BlockOccupancy, bool) {
	for _, w := range idx.byBlock[blockID] {
		if w.TrainID == trainID && !w.EntryTime.Before(from) {
			return w, true
		}
	}
	return timetable.BlockOccupancy{}, false
}

func latestPredecessorExit(idx occIndex, blockID string, before time.Time) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, w := range idx.byBlock[blockID] {
		if w.EntryTime.Before(before) {
			if !found || w.ExitTime.After(latest) {
				latest = w.ExitTime
				found = true
			}
		}
	}
	return latest, found
}

func exclude(trains []string, drop string) []string {
	out := make([]string, 0, len(trains))
	for _, t := range trains {
		if t != drop {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
