package learn

import (
	"fmt"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/graph"
)

// Heat maps block_id to an incident probability in [0,1].
type Heat map[string]float64

// BuildHeat estimates per-block incident likelihood from observed block
// waits: blocks that made trains wait are hot, scaled against the block's
// nominal headway so a 5-minute wait on a tight block scores higher than on
// a slack one.
func BuildHeat(g *graph.SectionGraph, waits []timetable.WaitEntry) Heat {
	totals := make(map[string]float64)
	for _, w := range waits {
		if w.Resource != "block" {
			continue
		}
		totals[w.ID] += w.Minutes
	}

	heat := make(Heat)
	for _, b := range g.Blocks() {
		total := totals[b.BlockID]
		if total <= 0.1 {
			heat[b.BlockID] = 0
			continue
		}
		// Saturating estimate: one headway's worth of wait is 0.5.
		heat[b.BlockID] = total / (total + b.HeadwayMin + 1)
	}
	return heat
}

// SaveHeat persists incident_heat.json for the optimizer.
func SaveHeat(store artifacts.Store, scope, date string, heat Heat) error {
	return artifacts.WriteJSON(store.Path(scope, date, artifacts.IncidentHeat), heat)
}

// LoadHeat reads incident_heat.json; a missing file is an empty map.
func LoadHeat(store artifacts.Store, scope, date string) (Heat, error) {
	var heat Heat
	err := artifacts.ReadJSON(store.Path(scope, date, artifacts.IncidentHeat), &heat)
	if artifacts.IsMissing(err) {
		return Heat{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("incident heat: %w", err)
	}
	return heat, nil
}
