package radar

import (
	"math"
	"sort"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
)

// Validation is the independent post-enforcement check consumed by
// apply-and-validate to detect regressions.
type Validation struct {
	OKPostNoOverlap   bool    `json:"ok_post_no_overlap"`
	OKHeadwayEnforced bool    `json:"ok_headway_enforced"`
	MinCriticalLead   float64 `json:"min_critical_lead_min"`
	OverlapCount      int     `json:"overlap_count"`
	HeadwayViolations int     `json:"headway_violations"`
}

// Validate re-checks the enforced occupancy against capacity and headway
// without trusting the allocator, and summarises critical exposure.
func Validate(g *graph.SectionGraph, occ []timetable.BlockOccupancy, risks []decision.Risk) Validation {
	v := Validation{OKPostNoOverlap: true, OKHeadwayEnforced: true, MinCriticalLead: math.Inf(1)}

	byBlock := make(map[string][]timetable.BlockOccupancy)
	for _, w := range occ {
		byBlock[w.BlockID] = append(byBlock[w.BlockID], w)
	}
	for blockID, windows := range byBlock {
		block, ok := g.Block(blockID)
		if !ok {
			continue
		}
		sort.SliceStable(windows, func(i, j int) bool {
			return windows[i].EntryTime.Before(windows[j].EntryTime)
		})
		headway := dur(block.HeadwayMin)

		// Concurrency beyond capacity is an overlap; same-track headway is
		// approximated by greedy earliest-free assignment.
		tails := make([]time.Time, 0, block.Capacity)
		for _, w := range windows {
			if len(tails) < block.Capacity {
				tails = append(tails, w.ExitTime.Add(headway))
				continue
			}
			minIdx := 0
			for i := 1; i < len(tails); i++ {
				if tails[i].Before(tails[minIdx]) {
					minIdx = i
				}
			}
			if w.EntryTime.Before(tails[minIdx]) {
				if w.EntryTime.Before(tails[minIdx].Add(-headway)) {
					v.OKPostNoOverlap = false
					v.OverlapCount++
				} else {
					v.OKHeadwayEnforced = false
					v.HeadwayViolations++
				}
			}
			tails[minIdx] = w.ExitTime.Add(headway)
		}
	}

	for _, r := range risks {
		if r.Severity == decision.SeverityCritical && r.LeadMin < v.MinCriticalLead {
			v.MinCriticalLead = r.LeadMin
		}
	}
	if math.IsInf(v.MinCriticalLead, 1) {
		v.MinCriticalLead = -1
	}
	return v
}
