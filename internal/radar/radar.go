// Package radar scans twin occupancy within a look-ahead horizon and emits
// ranked conflict risks with a mitigation preview.
package radar

import (
	"sort"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/twin"
)

// Defaults for the scan window.
const (
	DefaultHorizonMin = 60
	DefaultBucketMin  = 5
)

// Scan parameterises one radar run. Zero values take the defaults; a zero T0
// uses the earliest block entry in the twin.
type Scan struct {
	T0         time.Time
	HorizonMin float64
	BucketMin  float64
}

func (s Scan) withDefaults(res *twin.Result) Scan {
	if s.T0.IsZero() {
		if t, ok := res.EarliestEntry(); ok {
			s.T0 = t
		}
	}
	if s.HorizonMin <= 0 {
		s.HorizonMin = DefaultHorizonMin
	}
	if s.BucketMin <= 0 {
		s.BucketMin = DefaultBucketMin
	}
	return s
}

// TimelineBucket counts risks falling into one time bucket of the horizon.
type TimelineBucket struct {
	BucketStart time.Time `json:"bucket_start" parquet:"bucket_start,timestamp"`
	Count       int       `json:"count" parquet:"count"`
	Critical    int       `json:"critical" parquet:"critical"`
	High        int       `json:"high" parquet:"high"`
}

// Report is the full radar output for one scan.
type Report struct {
	T0         time.Time                    `json:"t0"`
	HorizonMin float64                      `json:"horizon_min"`
	Risks      []decision.Risk              `json:"risks"`
	Preview    []decision.MitigationPreview `json:"mitigation_preview"`
	Timeline   []TimelineBucket             `json:"timeline"`
}

type preWindow struct {
	trainID  string
	preEntry time.Time
	preExit  time.Time
	entry    time.Time
}

// Run detects headway, capacity, and platform risks on the twin result.
func Run(g *graph.SectionGraph, res *twin.Result, scan Scan) *Report {
	scan = scan.withDefaults(res)
	report := &Report{T0: scan.T0, HorizonMin: scan.HorizonMin}
	horizonEnd := scan.T0.Add(dur(scan.HorizonMin))

	report.Risks = append(report.Risks, blockRisks(g, res, scan)...)
	report.Risks = append(report.Risks, platformRisks(g, res, scan)...)

	// Horizon filter, then stable severity/lead ordering.
	kept := report.Risks[:0]
	for _, r := range report.Risks {
		if r.Window.Start.Before(scan.T0) || r.Window.Start.After(horizonEnd) {
			continue
		}
		kept = append(kept, r)
	}
	report.Risks = kept
	sort.SliceStable(report.Risks, func(i, j int) bool {
		a, b := report.Risks[i], report.Risks[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.LeadMin < b.LeadMin
	})

	report.Preview = buildPreview(g, res, report.Risks)
	report.Timeline = buildTimeline(report.Risks, scan, horizonEnd)
	return report
}

// blockRisks sweeps each block's pre-safety windows. The pre window is the
// enforced window shifted back by the allocation delay, approximating what
// the schedule wanted before safety pushed it out.
func blockRisks(g *graph.SectionGraph, res *twin.Result, scan Scan) []decision.Risk {
	byBlock := make(map[string][]preWindow)
	for _, w := range res.BlockOccupancy {
		shift := dur(w.HeadwayAppliedMin)
		byBlock[w.BlockID] = append(byBlock[w.BlockID], preWindow{
			trainID:  w.TrainID,
			preEntry: w.EntryTime.Add(-shift),
			preExit:  w.ExitTime.Add(-shift),
			entry:    w.EntryTime,
		})
	}

	blockIDs := make([]string, 0, len(byBlock))
	for id := range byBlock {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	var risks []decision.Risk
	for _, blockID := range blockIDs {
		block, ok := g.Block(blockID)
		if !ok {
			continue
		}
		windows := byBlock[blockID]
		sort.SliceStable(windows, func(i, j int) bool {
			return windows[i].preEntry.Before(windows[j].preEntry)
		})
		headway := dur(block.HeadwayMin)

		// A window stays relevant until its headway shadow has passed, so a
		// successor entering inside [pre_exit, pre_exit+headway) still trips
		// the headway check even without physical overlap.
		var active []preWindow
		for _, w := range windows {
			live := active[:0]
			for _, a := range active {
				if a.preExit.Add(headway).After(w.preEntry) {
					live = append(live, a)
				}
			}
			active = live

			overlapping := make([]preWindow, 0, len(active))
			for _, a := range active {
				if a.preExit.After(w.preEntry) {
					overlapping = append(overlapping, a)
				}
			}
			if len(overlapping) >= block.Capacity {
				trains := make([]string, 0, len(overlapping)+1)
				for _, a := range overlapping {
					trains = append(trains, a.trainID)
				}
				trains = append(trains, w.trainID)
				risks = append(risks, newRisk(decision.RiskBlockCapacity, scan.T0, w.preEntry, w.preExit, block, trains, 0))
			}
			if len(active) > 0 {
				prev := active[0]
				for _, a := range active[1:] {
					if a.preExit.After(prev.preExit) {
						prev = a
					}
				}
				needed := prev.preExit.Add(headway)
				if w.preEntry.Before(needed) {
					required := needed.Sub(w.preEntry).Minutes()
					risks = append(risks, newRisk(decision.RiskHeadway, scan.T0, w.preEntry, needed,
						block, []string{prev.trainID, w.trainID}, required))
				}
			}
			active = append(active, w)
		}
	}
	return risks
}

// platformRisks prefers the waiting ledger; occupancy sweeping fills in when
// the ledger carries no platform entries.
func platformRisks(g *graph.SectionGraph, res *twin.Result, scan Scan) []decision.Risk {
	var risks []decision.Risk
	ledgerHit := false
	for _, w := range res.WaitingLedger {
		if w.Resource != "platform" || w.Reason != timetable.WaitPlatformBusy {
			continue
		}
		ledgerHit = true
		station, ok := g.Station(w.ID)
		if !ok {
			continue
		}
		risks = append(risks, decision.Risk{
			Type:            decision.RiskPlatformOverflow,
			Severity:        decision.SeverityForLead(lead(scan.T0, w.StartTime)),
			LeadMin:         lead(scan.T0, w.StartTime),
			Window:          decision.TimeWindow{Start: w.StartTime, End: w.EndTime},
			StationID:       station.StationID,
			TrainIDs:        []string{w.TrainID},
			RequiredHoldMin: w.Minutes,
		})
	}
	if ledgerHit {
		return risks
	}

	byStation := make(map[string][]timetable.PlatformOccupancy)
	for _, p := range res.PlatformOccupancy {
		byStation[p.StationID] = append(byStation[p.StationID], p)
	}
	stationIDs := make([]string, 0, len(byStation))
	for id := range byStation {
		stationIDs = append(stationIDs, id)
	}
	sort.Strings(stationIDs)

	for _, stationID := range stationIDs {
		station, ok := g.Station(stationID)
		if !ok {
			continue
		}
		occ := byStation[stationID]
		sort.SliceStable(occ, func(i, j int) bool { return occ[i].ArrPlatform.Before(occ[j].ArrPlatform) })
		var active []timetable.PlatformOccupancy
		for _, p := range occ {
			live := active[:0]
			for _, a := range active {
				if a.DepPlatform.After(p.ArrPlatform) {
					live = append(live, a)
				}
			}
			active = live
			if len(active) >= station.Platforms {
				trains := make([]string, 0, len(active)+1)
				for _, a := range active {
					trains = append(trains, a.TrainID)
				}
				trains = append(trains, p.TrainID)
				risks = append(risks, decision.Risk{
					Type:      decision.RiskPlatformOverflow,
					Severity:  decision.SeverityForLead(lead(scan.T0, p.ArrPlatform)),
					LeadMin:   lead(scan.T0, p.ArrPlatform),
					Window:    decision.TimeWindow{Start: p.ArrPlatform, End: p.DepPlatform},
					StationID: stationID,
					TrainIDs:  trains,
				})
			}
			active = append(active, p)
		}
	}
	return risks
}

func newRisk(rt decision.RiskType, t0, start, end time.Time, block timetable.Block, trains []string, requiredHold float64) decision.Risk {
	l := lead(t0, start)
	return decision.Risk{
		Type:            rt,
		Severity:        decision.SeverityForLead(l),
		LeadMin:         l,
		Window:          decision.TimeWindow{Start: start, End: end},
		BlockID:         block.BlockID,
		U:               block.U,
		V:               block.V,
		TrainIDs:        trains,
		RequiredHoldMin: requiredHold,
	}
}

// buildPreview estimates whether 2 and 5 minute holds clear each risk and the
// downstream shift on the primary train's remaining hops.
func buildPreview(g *graph.SectionGraph, res *twin.Result, risks []decision.Risk) []decision.MitigationPreview {
	hopsByTrain := make(map[string][]timetable.BlockOccupancy)
	for _, w := range res.BlockOccupancy {
		hopsByTrain[w.TrainID] = append(hopsByTrain[w.TrainID], w)
	}
	for id := range hopsByTrain {
		hops := hopsByTrain[id]
		sort.SliceStable(hops, func(i, j int) bool { return hops[i].EntryTime.Before(hops[j].EntryTime) })
	}
	previews := make([]decision.MitigationPreview, 0, len(risks))
	for i, r := range risks {
		need := r.RequiredHoldMin
		// Capacity risks carry no exact gap; a 2-5 min spread eases the
		// overlap, so the preview assumes 2.
		if r.Type == decision.RiskBlockCapacity && need <= 0 {
			need = 2
		}
		p := decision.MitigationPreview{
			RiskIndex:       i,
			Type:            r.Type,
			BlockID:         r.BlockID,
			StationID:       r.StationID,
			TrainIDs:        r.TrainIDs,
			RequiredHoldMin: need,
			Hold2Resolves:   need > 0 && need <= 2,
			Hold5Resolves:   need > 0 && need <= 5,
		}
		hops := hopsByTrain[r.PrimaryTrain()]
		p.ETADelta2Min = etaDelta(g, hops, r.Window.Start, 2)
		p.ETADelta5Min = etaDelta(g, hops, r.Window.Start, 5)
		previews = append(previews, p)
	}
	return previews
}

// etaDelta forward-shifts the train's hops from the risk onward and reports
// the residual delay at its final exit; dwell slack beyond the station
// minimum absorbs part of the shift at each intermediate stop.
func etaDelta(g *graph.SectionGraph, hops []timetable.BlockOccupancy, from time.Time, hold float64) float64 {
	shift := hold
	var prev timetable.BlockOccupancy
	seen := false
	for _, w := range hops {
		if w.EntryTime.Before(from) {
			continue
		}
		if seen {
			slack := w.EntryTime.Sub(prev.ExitTime).Minutes()
			if s, ok := g.Station(prev.V); ok {
				slack -= s.MinDwellMin
			}
			if slack > 0 {
				shift -= slack
				if shift <= 0 {
					return 0
				}
			}
		}
		prev = w
		seen = true
	}
	if !seen {
		return 0
	}
	return shift
}

func buildTimeline(risks []decision.Risk, scan Scan, horizonEnd time.Time) []TimelineBucket {
	bucket := dur(scan.BucketMin)
	n := int(horizonEnd.Sub(scan.T0) / bucket)
	if n <= 0 {
		return nil
	}
	buckets := make([]TimelineBucket, n)
	for i := range buckets {
		buckets[i].BucketStart = scan.T0.Add(time.Duration(i) * bucket)
	}
	for _, r := range risks {
		idx := int(r.Window.Start.Sub(scan.T0) / bucket)
		if idx < 0 || idx >= n {
			continue
		}
		buckets[idx].Count++
		switch r.Severity {
		case decision.SeverityCritical:
			buckets[idx].Critical++
		case decision.SeverityHigh:
			buckets[idx].High++
		}
	}
	return buckets
}

func lead(t0, at time.Time) float64 {
	l := at.Sub(t0).Minutes()
	if l < 0 {
		return 0
	}
	return l
}

func dur(min float64) time.Duration {
	return time.Duration(min * float64(time.Minute))
}
