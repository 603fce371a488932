// Package learn builds the imitation-learning feature table and the per-block
// incident heat map consumed by the optimizer's risk-aware slack rule.
package learn

import (
	"encoding/json"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/ledger"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/twin"
)

// FeatureRow is one training example: features per identified risk with the
// target hold class in {2,3,5}.
type FeatureRow struct {
	RiskType       string  `json:"risk_type" parquet:"risk_type"`
	SeverityRank   int     `json:"severity_rank" parquet:"severity_rank"`
	LeadMin        float64 `json:"lead_min" parquet:"lead_min"`
	HeadwayMin     float64 `json:"headway_min" parquet:"headway_min"`
	Capacity       int     `json:"capacity" parquet:"capacity"`
	BlockLenTrains int     `json:"block_len_trains" parquet:"block_len_trains"`
	Platforms      int     `json:"platforms" parquet:"platforms"`
	TrainClass     string  `json:"train_class" parquet:"train_class"`
	PriorityWeight int     `json:"priority_weight" parquet:"priority_weight"`
	RecentHolds    int     `json:"recent_holds" parquet:"recent_holds"`
	HoldClass      int     `json:"hold_class" parquet:"hold_class"`
	TrainID        string  `json:"train_id" parquet:"train_id"`
	BlockID        string  `json:"block_id" parquet:"block_id,optional"`
	StationID      string  `json:"station_id" parquet:"station_id,optional"`
}

// Inputs gathers the run artifacts the feature builder reads.
type Inputs struct {
	Graph    *graph.SectionGraph
	Twin     *twin.Result
	Radar    *radar.Report
	Plan     []decision.Action    // expert recommendations, HOLDs preferred as labels
	Feedback []ledger.FeedbackRow // accepted decisions override the expert label
	Events   []timetable.TrainEvent
}

// BuildExamples produces one feature row per risk in the radar report.
// The label prefers controller-accepted minutes, then the expert plan, then
// the risk's own required hold.
func BuildExamples(in Inputs) []FeatureRow {
	if in.Radar == nil {
		return nil
	}

	names := trainNames(in.Events)
	accepted := acceptedMinutes(in.Feedback)
	holdsByTrain := make(map[string]int)
	if in.Twin != nil {
		for _, w := range in.Twin.WaitingLedger {
			holdsByTrain[w.TrainID]++
		}
	}

	var rows []FeatureRow
	for _, r := range in.Radar.Risks {
		target := r.PrimaryTrain()
		row := FeatureRow{
			RiskType:     string(r.Type),
			SeverityRank: r.Severity.Rank(),
			LeadMin:      r.LeadMin,
			Capacity:     1,
			Platforms:    1,
			RecentHolds:  holdsByTrain[target],
			TrainID:      target,
			BlockID:      r.BlockID,
			StationID:    r.StationID,
		}
		if in.Graph != nil {
			if b, ok := in.Graph.Block(r.BlockID); ok {
				row.HeadwayMin = b.HeadwayMin
				row.Capacity = b.Capacity
			}
			if s, ok := in.Graph.Station(r.StationID); ok {
				row.Platforms = s.Platforms
			}
		}
		if in.Twin != nil && r.BlockID != "" {
			row.BlockLenTrains = blockDensity(in.Twin.BlockOccupancy, r.BlockID, r.Window.Start)
		}
		class := timetable.ClassFromName(names[target])
		row.TrainClass = string(class)
		row.PriorityWeight = timetable.ClassPriorityWeight(class)

		row.HoldClass = ledger.HoldClass(targetMinutes(r, target, in, accepted))
		rows = append(rows, row)
	}
	return rows
}

// SaveExamples persists the table as il_training.parquet.
func SaveExamples(store artifacts.Store, scope, date string, rows []FeatureRow) error {
	return artifacts.WriteParquet(store.Path(scope, date, artifacts.ILTraining), rows)
}

func trainNames(events []timetable.TrainEvent) map[string]string {
	names := make(map[string]string)
	for _, e := range events {
		if e.TrainName != "" && names[e.TrainID] == "" {
			names[e.TrainID] = e.TrainName
		}
	}
	return names
}

// acceptedMinutes indexes controller-accepted hold minutes by (train, place).
func acceptedMinutes(feedback []ledger.FeedbackRow) map[[2]string]float64 {
	out := make(map[[2]string]float64)
	for _, row := range feedback {
		switch row.Decision {
		case string(decision.DecisionApply), string(decision.DecisionModify), string(decision.DecisionAck):
		default:
			continue
		}
		var a decision.Action
		if err := json.Unmarshal([]byte(row.Action), &a); err != nil {
			continue
		}
		if a.Type != decision.ActionHold || a.Minutes <= 0 {
			continue
		}
		place := a.BlockID
		if place == "" {
			place = a.StationID
		}
		if place == "" {
			place = a.AtStation
		}
		if place == "" {
			continue
		}
		out[[2]string{a.TrainID, place}] = a.Minutes
	}
	return out
}

func blockDensity(occ []timetable.BlockOccupancy, blockID string, at time.Time) int {
	n := 0
	for _, w := range occ {
		if w.BlockID != blockID {
			continue
		}
		if !w.EntryTime.After(at) && !w.ExitTime.Before(at) {
			n++
		}
	}
	return n
}

// targetMinutes decides the label: accepted feedback beats the expert plan
// beats the risk's own requirement; 2 minutes is the floor when nothing is
// known.
func targetMinutes(r decision.Risk, target string, in Inputs, accepted map[[2]string]float64) float64 {
	place := r.BlockID
	if place == "" {
		place = r.StationID
	}
	if m, ok := accepted[[2]string{target, place}]; ok {
		return m
	}

	for _, a := range in.Plan {
		if a.Type != decision.ActionHold || a.TrainID != target {
			continue
		}
		if matchesPlace(a, r, target, in) {
			return a.Minutes
		}
	}

	need := r.RequiredHoldMin
	if need == 0 && r.Type == decision.RiskBlockCapacity {
		need = 2
	}
	if need > 0 {
		return need
	}
	return 2
}

// matchesPlace ties a plan action to a risk location; block risks commonly
// carry the upstream station as at_station.
func matchesPlace(a decision.Action, r decision.Risk, target string, in Inputs) bool {
	if r.BlockID != "" && a.BlockID == r.BlockID {
		return true
	}
	if r.StationID != "" && (a.StationID == r.StationID || a.AtStation == r.StationID) {
		return true
	}
	if r.BlockID != "" && a.AtStation != "" && in.Graph != nil {
		if b, ok := in.Graph.Block(r.BlockID); ok && a.AtStation == b.U {
			return true
		}
	}
	return false
}
