// Package applyplan applies a plan to a cloned event set, replays it, and
// verifies the result actually cleared the targeted risks.
package applyplan

import (
	"fmt"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/twin"
)

// HorizonKPIs aggregates one replay+scan over the apply window.
type HorizonKPIs struct {
	RisksTotal      int            `json:"risks_total"`
	RisksByType     map[string]int `json:"risks_by_type"`
	WaitMin         float64        `json:"wait_min"`
	OTPExitPct      float64        `json:"otp_exit_pct"`
	AvgExitDelayMin float64        `json:"avg_exit_delay_min"`
}

// Report is the apply-and-validate outcome.
type Report struct {
	PlanVersion     string           `json:"plan_version"`
	AppliedActions  int              `json:"applied_actions"`
	AppliedRisks    int              `json:"applied_risks"`
	KPIBefore       HorizonKPIs      `json:"kpi_before"`
	KPIAfter        HorizonKPIs      `json:"kpi_after"`
	ValidationAfter radar.Validation `json:"validation_after"`
}

// Outcome bundles the report with the post-apply twin and radar for callers
// that persist or chain them.
type Outcome struct {
	Report Report
	Twin   *twin.Result
	Radar  *radar.Report
	Events []timetable.TrainEvent
}

// Apply is pure over its inputs: the source events are cloned, never mutated.
func Apply(g *graph.SectionGraph, events []timetable.TrainEvent, plan decision.Plan, scan radar.Scan) (*Outcome, error) {
	before, err := twin.Replay(g, events, twin.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("baseline replay: %w", err)
	}
	radarBefore := radar.Run(g, before, scan)

	shifted, ov := applyActions(events, plan.Actions)

	after, err := twin.Replay(g, shifted, ov)
	if err != nil {
		return nil, fmt.Errorf("post-plan replay: %w", err)
	}
	radarAfter := radar.Run(g, after, scan)
	validation := radar.Validate(g, after.BlockOccupancy, radarAfter.Risks)

	report := Report{
		PlanVersion:     plan.PlanVersion,
		AppliedActions:  len(plan.Actions),
		AppliedRisks:    len(radarAfter.Risks),
		KPIBefore:       horizonKPIs(before, radarBefore),
		KPIAfter:        horizonKPIs(after, radarAfter),
		ValidationAfter: validation,
	}
	return &Outcome{Report: report, Twin: after, Radar: radarAfter, Events: shifted}, nil
}

// applyActions clones the events and folds each action in: holds shift the
// departure, speed tunes and platform pins become replay overrides. A
// reassignment to "any" is advisory and ignored.
func applyActions(events []timetable.TrainEvent, actions []decision.Action) ([]timetable.TrainEvent, twin.Overrides) {
	out := make([]timetable.TrainEvent, len(events))
	copy(out, events)

	ov := twin.Overrides{
		SpeedFactors:  make(map[string]map[string]float64),
		PlatformSlots: make(map[string]map[string]int),
	}
	for _, a := range actions {
		switch a.Type {
		case decision.ActionHold, decision.ActionOvertake:
			shiftDeparture(out, a.TrainID, a.AtStation, a.Minutes)
		case decision.ActionSpeedTune:
			if ov.SpeedFactors[a.TrainID] == nil {
				ov.SpeedFactors[a.TrainID] = make(map[string]float64)
			}
			ov.SpeedFactors[a.TrainID][a.BlockID] = a.SpeedFactor
		case decision.ActionPlatformReassign:
			slot, ok := parseSlot(a.Platform)
			if !ok {
				continue
			}
			if ov.PlatformSlots[a.TrainID] == nil {
				ov.PlatformSlots[a.TrainID] = make(map[string]int)
			}
			ov.PlatformSlots[a.TrainID][a.StationID] = slot
		}
	}
	return out, ov
}

func shiftDeparture(events []timetable.TrainEvent, trainID, stationID string, minutes float64) {
	d := time.Duration(minutes * float64(time.Minute))
	for i := range events {
		e := &events[i]
		if e.TrainID != trainID || e.StationID != stationID {
			continue
		}
		switch {
		case e.ActDep != nil:
			t := e.ActDep.Add(d)
			e.ActDep = &t
		case e.SchedDep != nil:
			t := e.SchedDep.Add(d)
			e.ActDep = &t
		}
	}
}

func parseSlot(platform string) (int, bool) {
	if platform == "" || platform == "any" {
		return 0, false
	}
	slot := 0
	if _, err := fmt.Sscanf(platform, "%d", &slot); err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}

func horizonKPIs(res *twin.Result, rep *radar.Report) HorizonKPIs {
	k := HorizonKPIs{
		RisksTotal:      len(rep.Risks),
		RisksByType:     make(map[string]int),
		WaitMin:         res.KPIs.TotalWaitMin,
		OTPExitPct:      res.KPIs.OTPExitPct,
		AvgExitDelayMin: res.KPIs.AvgExitDelayMin,
	}
	for _, r := range rep.Risks {
		k.RisksByType[string(r.Type)]++
	}
	return k
}
