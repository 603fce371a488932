package optimize

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/policy"
)

// GA tuning knobs.
const (
	gaPopSize   = 40
	gaIters     = 40
	gaEliteFrac = 0.2
	gaMutRate   = 0.15
	gaTopRisks  = 20
	gaTournK    = 3
)

// runGA searches per-risk hold assignments in {0,2,3,max} minutes minimising
// conflicts_remaining + 0.02 * total_hold_minutes.
func runGA(req Request, pol policy.Policy, risks []decision.Risk, idx occIndex) *Result {
	res := &Result{
		Metrics:  map[string]float64{},
		AuditLog: AuditLog{Strategy: "ga"},
	}
	if len(risks) == 0 {
		return res
	}

	focus := append([]decision.Risk(nil), risks...)
	sort.SliceStable(focus, func(i, j int) bool {
		a, b := focus[i], focus[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.LeadMin < b.LeadMin
	})
	if len(focus) > gaTopRisks {
		focus = focus[:gaTopRisks]
	}

	choices := [4]float64{0, 2, 3, pol.MaxHoldMin}
	rng := rand.New(rand.NewSource(req.Seed))

	score := func(chrom []int) float64 {
		penalties := 0.0
		totalHold := 0.0
		for gi, r := range focus {
			mins := choices[chrom[gi]]
			totalHold += mins
			switch r.Type {
			case decision.RiskHeadway, decision.RiskBlockCapacity:
				penalties += blockGenePenalty(req, r, mins, idx)
			case decision.RiskPlatformOverflow:
				if mins <= 0 {
					penalties++
				}
			}
		}
		return penalties + 0.02*totalHold
	}

	type scored struct {
		chrom []int
		score float64
	}
	pop := make([]scored, gaPopSize)
	for i := range pop {
		chrom := make([]int, len(focus))
		for j := range chrom {
			chrom[j] = rng.Intn(4)
		}
		pop[i] = scored{chrom, score(chrom)}
	}
	eliteK := int(gaEliteFrac * gaPopSize)
	if eliteK < 1 {
		eliteK = 1
	}

	tournament := func() []int {
		best := pop[rng.Intn(len(pop))]
		for i := 1; i < gaTournK; i++ {
			c := pop[rng.Intn(len(pop))]
			if c.score < best.score {
				best = c
			}
		}
		return append([]int(nil), best.chrom...)
	}

	for iter := 0; iter < gaIters; iter++ {
		sort.SliceStable(pop, func(i, j int) bool { return pop[i].score < pop[j].score })
		next := make([]scored, 0, gaPopSize)
		for i := 0; i < eliteK; i++ {
			next = append(next, pop[i])
		}
		for len(next) < gaPopSize {
			p1, p2 := tournament(), tournament()
			cx := 0
			if len(focus) > 1 {
				cx = 1 + rng.Intn(len(focus)-1)
			}
			child := append(append([]int(nil), p1[:cx]...), p2[cx:]...)
			for i := range child {
				if rng.Float64() < gaMutRate {
					child[i] = rng.Intn(4)
				}
			}
			next = append(next, scored{child, score(child)})
		}
		pop = next
	}

	sort.SliceStable(pop, func(i, j int) bool { return pop[i].score < pop[j].score })
	best := pop[0]

	for gi, r := range focus {
		hold := choices[best.chrom[gi]]
		if hold <= 0 {
			continue
		}
		train := r.PrimaryTrain()
		at := r.U
		if r.Type == decision.RiskPlatformOverflow {
			at = r.StationID
		}
		res.Plan.Actions = append(res.Plan.Actions, decision.Action{
			Type:      decision.ActionHold,
			TrainID:   train,
			AtStation: at,
			Minutes:   round1(hold),
			BlockID:   r.BlockID,
			StationID: r.StationID,
			Reason:    string(r.Type),
			Why:       fmt.Sprintf("Genetic search resolved %s via short hold", r.Type),
		})
	}

	res.Metrics["actions"] = float64(len(res.Plan.Actions))
	res.Metrics["score"] = best.score
	res.Metrics["conflicts_targeted"] = float64(len(res.Plan.Actions))
	return res
}

// blockGenePenalty charges 1 for an unresolved block risk, 0.5 when
// feasibility cannot be judged from live occupancy.
func blockGenePenalty(req Request, r decision.Risk, mins float64, idx occIndex) float64 {
	if r.BlockID == "" || len(r.TrainIDs) == 0 {
		return 1
	}
	block, ok := req.Graph.Block(r.BlockID)
	if !ok {
		return 1
	}
	w, found := followerWindow(idx, r.BlockID, r.PrimaryTrain(), r.Window.Start)
	if !found {
		return 1
	}
	prevExit, havePrev := latestPredecessorExit(idx, r.BlockID, w.EntryTime)
	if !havePrev {
		return 0.5
	}
	needed := prevExit.Add(time.Duration(block.HeadwayMin * float64(time.Minute)))
	entryNew := w.EntryTime.Add(time.Duration(mins * float64(time.Minute)))
	if entryNew.Before(needed) {
		return 1
	}
	return 0
}
