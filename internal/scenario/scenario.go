// Package scenario runs what-if disruptions over the current run: apply a
// template to the inputs, replay, re-scan, re-optimize, and report KPI
// deltas. Batches are reduced to a Pareto front.
package scenario

import (
	"fmt"
	"time"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/optimize"
	"github.com/railops/section-control/internal/policy"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/twin"
)

// Kind names a disruption template.
type Kind string

const (
	KindLateStart        Kind = "late_start"
	KindPlatformOutage   Kind = "platform_outage"
	KindSpeedRestriction Kind = "speed_restriction"
	KindSingleLine       Kind = "single_line_working"
)

// Spec is one scenario to inject.
type Spec struct {
	Name string `json:"name,omitempty"`
	Kind Kind   `json:"kind"`

	// late_start
	TrainID   string  `json:"train_id,omitempty"`
	StationID string  `json:"station_id,omitempty"`
	DelayMin  float64 `json:"delay_min,omitempty"`

	// platform_outage
	Platforms int `json:"platforms,omitempty"`

	// speed_restriction
	U           string  `json:"u,omitempty"`
	V           string  `json:"v,omitempty"`
	SpeedFactor float64 `json:"speed_factor,omitempty"`
}

// Title is the display name for reports.
func (s Spec) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Disruption is the +delay injection surface: a late_start at one stop.
func Disruption(trainID, stationID string, delayMin float64) Spec {
	return Spec{Kind: KindLateStart, TrainID: trainID, StationID: stationID, DelayMin: delayMin}
}

// Apply folds the template into cloned inputs; the originals are untouched.
func Apply(spec Spec, events []timetable.TrainEvent, stations []timetable.Station, blocks []timetable.Block) ([]timetable.TrainEvent, []timetable.Station, []timetable.Block, error) {
	ev := append([]timetable.TrainEvent(nil), events...)
	st := append([]timetable.Station(nil), stations...)
	bl := append([]timetable.Block(nil), blocks...)

	switch spec.Kind {
	case KindLateStart:
		if spec.TrainID == "" || spec.StationID == "" {
			return nil, nil, nil, fmt.Errorf("late_start needs train_id and station_id")
		}
		delay := spec.DelayMin
		if delay == 0 {
			delay = 5
		}
		shiftStop(ev, spec.TrainID, spec.StationID, delay)
	case KindPlatformOutage:
		for i := range st {
			if st[i].StationID == spec.StationID {
				st[i].Platforms = max(1, spec.Platforms)
			}
		}
	case KindSpeedRestriction:
		factor := spec.SpeedFactor
		if factor < 1 {
			factor = 1.2
		}
		for i := range bl {
			if bl[i].U == spec.U && bl[i].V == spec.V {
				bl[i].MinRunTimeMin *= factor
			}
		}
	case KindSingleLine:
		for i := range bl {
			bl[i].Capacity = 1
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown scenario kind %q", spec.Kind)
	}
	return ev, st, bl, nil
}

func shiftStop(events []timetable.TrainEvent, trainID, stationID string, minutes float64) {
	d := time.Duration(minutes * float64(time.Minute))
	for i := range events {
		e := &events[i]
		if e.TrainID != trainID || e.StationID != stationID {
			continue
		}
		if e.SchedDep != nil {
			t := e.SchedDep.Add(d)
			e.SchedDep = &t
		}
		if e.ActDep != nil {
			t := e.ActDep.Add(d)
			e.ActDep = &t
		}
	}
}

// Outcome summarises one scenario run.
type Outcome struct {
	Name        string             `json:"name"`
	KPIs        twin.KPIs          `json:"kpis"`
	RiskCount   int                `json:"risk_count"`
	PlanMetrics map[string]float64 `json:"plan_metrics"`
	RecCount    int                `json:"rec_count"`
}

// Run injects one scenario and runs the full pipeline over it.
func Run(spec Spec, events []timetable.TrainEvent, stations []timetable.Station, blocks []timetable.Block, pol policy.Policy, scan radar.Scan) (*Outcome, error) {
	ev, st, bl, err := Apply(spec, events, stations, blocks)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(st, bl)
	if err != nil {
		return nil, fmt.Errorf("scenario graph: %w", err)
	}
	sim, err := twin.Replay(g, ev, twin.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("scenario replay: %w", err)
	}
	rep := radar.Run(g, sim, scan)
	opt, err := optimize.Propose(optimize.Request{
		Graph:     g,
		Occupancy: sim.BlockOccupancy,
		Platforms: sim.PlatformOccupancy,
		Risks:     rep.Risks,
		Policy:    pol,
		T0:        rep.T0,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario optimize: %w", err)
	}
	return &Outcome{
		Name:        spec.Title(),
		KPIs:        sim.KPIs,
		RiskCount:   len(rep.Risks),
		PlanMetrics: opt.Metrics,
		RecCount:    len(opt.Plan.Actions),
	}, nil
}

// Batch is the result of running several scenarios.
type Batch struct {
	Results       []Outcome `json:"results"`
	ParetoIndices []int     `json:"pareto_indices"`
}

// RunBatch runs each spec and marks the non-dominated outcomes.
func RunBatch(specs []Spec, events []timetable.TrainEvent, stations []timetable.Station, blocks []timetable.Block, pol policy.Policy, scan radar.Scan) (*Batch, error) {
	batch := &Batch{}
	for _, spec := range specs {
		out, err := Run(spec, events, stations, blocks, pol, scan)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", spec.Title(), err)
		}
		batch.Results = append(batch.Results, *out)
	}
	batch.ParetoIndices = ParetoFront(batch.Results)
	return batch, nil
}

// ParetoFront returns indices of outcomes not dominated on
// (avg exit delay ascending, trains served descending).
func ParetoFront(results []Outcome) []int {
	var front []int
	for i, a := range results {
		dominated := false
		for j, b := range results {
			if i == j {
				continue
			}
			noWorse := b.KPIs.AvgExitDelayMin <= a.KPIs.AvgExitDelayMin && b.KPIs.TrainsServed >= a.KPIs.TrainsServed
			better := b.KPIs.AvgExitDelayMin < a.KPIs.AvgExitDelayMin || b.KPIs.TrainsServed > a.KPIs.TrainsServed
			if noWorse && better {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, i)
		}
	}
	return front
}
