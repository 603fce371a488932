// Package twin replays normalised events through the section graph, enforcing
// block capacity, headway, and platform dwell, and explaining every deviation
// through a waiting ledger.
package twin

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
)

// SafetyInvariantError reports allocator state that violates separation after
// enforcement. It is fatal: the replay result must be discarded.
type SafetyInvariantError struct {
	BlockID string
	Detail  string
}

func (e *SafetyInvariantError) Error() string {
	return fmt.Sprintf("safety invariant broken on block %s: %s", e.BlockID, e.Detail)
}

// IsSafetyInvariantBroken reports whether err is a fatal separation failure.
func IsSafetyInvariantBroken(err error) bool {
	var se *SafetyInvariantError
	return errors.As(err, &se)
}

// Overrides carries the per-train tweaks a plan application feeds back into
// the replay.
type Overrides struct {
	// SpeedFactors maps train_id -> block_id -> factor in [0.8, 1.0].
	SpeedFactors map[string]map[string]float64
	// PlatformSlots maps train_id -> station_id -> pinned slot index.
	PlatformSlots map[string]map[string]int
}

func (o Overrides) speedFactor(trainID, blockID string) float64 {
	if m, ok := o.SpeedFactors[trainID]; ok {
		if f, ok := m[blockID]; ok && f >= 0.8 && f <= 1.0 {
			return f
		}
	}
	return 1.0
}

func (o Overrides) platformSlot(trainID, stationID string) int {
	if m, ok := o.PlatformSlots[trainID]; ok {
		if slot, ok := m[stationID]; ok {
			return slot
		}
	}
	return -1
}

// KPIs summarises one replay.
type KPIs struct {
	TrainsServed    int                `json:"trains_served"`
	OTPExitPct      float64            `json:"otp_exit_pct"`
	AvgExitDelayMin float64            `json:"avg_exit_delay_min"`
	P90ExitDelayMin float64            `json:"p90_exit_delay_min"`
	TotalWaitMin    float64            `json:"total_wait_min"`
	WaitByReason    map[string]float64 `json:"wait_by_reason"`
}

// Result is the full output of one replay.
type Result struct {
	BlockOccupancy    []timetable.BlockOccupancy
	PlatformOccupancy []timetable.PlatformOccupancy
	WaitingLedger     []timetable.WaitEntry
	KPIs              KPIs
	SkippedHops       int
}

// EarliestEntry returns the earliest block entry in the result, used as the
// default radar scan origin.
func (r *Result) EarliestEntry() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, occ := range r.BlockOccupancy {
		if !found || occ.EntryTime.Before(earliest) {
			earliest = occ.EntryTime
			found = true
		}
	}
	return earliest, found
}

type stop struct {
	event timetable.TrainEvent
}

// Replay runs the event-driven simulation over the graph.
func Replay(g *graph.SectionGraph, events []timetable.TrainEvent, ov Overrides) (*Result, error) {
	itins := buildItineraries(events)

	blockAllocs := make(map[string]*blockAllocator)
	platAllocs := make(map[string]*platformAllocator)
	res := &Result{}

	for _, it := range itins {
		replayTrain(g, it, ov, blockAllocs, platAllocs, res)
	}

	if err := CheckBlockSeparation(g, res.BlockOccupancy); err != nil {
		return nil, err
	}
	res.KPIs = computeKPIs(itins, res)
	return res, nil
}

type itinerary struct {
	trainID string
	stops   []stop
	initial time.Time
}

// buildItineraries groups and orders events per train, then orders trains by
// their earliest known initial time.
func buildItineraries(events []timetable.TrainEvent) []itinerary {
	byTrain := make(map[string][]stop)
	for _, e := range events {
		byTrain[e.TrainID] = append(byTrain[e.TrainID], stop{event: e})
	}
	itins := make([]itinerary, 0, len(byTrain))
	for trainID, stops := range byTrain {
		sort.SliceStable(stops, func(i, j int) bool {
			a, b := stops[i].event, stops[j].event
			if a.StopSeq != b.StopSeq {
				return a.StopSeq < b.StopSeq
			}
			ea, eb := a.EarliestKnown(), b.EarliestKnown()
			if ea != nil && eb != nil && !ea.Equal(*eb) {
				return ea.Before(*eb)
			}
			return a.StationID < b.StationID
		})
		it := itinerary{trainID: trainID, stops: stops}
		for _, s := range stops {
			if t := s.event.EarliestKnown(); t != nil {
				it.initial = *t
				break
			}
		}
		itins = append(itins, it)
	}
	sort.SliceStable(itins, func(i, j int) bool {
		a, b := itins[i], itins[j]
		if !a.initial.Equal(b.initial) {
			return a.initial.Before(b.initial)
		}
		return a.trainID < b.trainID
	})
	return itins
}

func replayTrain(g *graph.SectionGraph, it itinerary, ov Overrides,
	blockAllocs map[string]*blockAllocator, platAllocs map[string]*platformAllocator, res *Result) {

	if len(it.stops) == 0 {
		return
	}

	origin := it.stops[0].event
	station, ok := g.Station(origin.StationID)
	if !ok {
		res.SkippedHops++
		return
	}
	dwell := minutes(station.MinDwellMin)

	arr := pickArrival(origin, dwell)
	if arr == nil {
		res.SkippedHops++
		return
	}

	pa := platformFor(platAllocs, station)
	slot, start := pa.Allocate(*arr, ov.platformSlot(it.trainID, origin.StationID))
	if start.After(*arr) {
		res.WaitingLedger = append(res.WaitingLedger, waitEntry(it.trainID, "platform", origin.StationID, *arr, start, timetable.WaitPlatformBusy))
	}
	dep := start.Add(dwell)
	dep = floorDeparture(dep, origin)
	pa.Commit(slot, dep)
	res.PlatformOccupancy = append(res.PlatformOccupancy, timetable.PlatformOccupancy{
		TrainID: it.trainID, StationID: origin.StationID,
		ArrPlatform: start, DepPlatform: dep, SlotIndex: slot,
	})

	current := dep
	prev := origin
	for i := 1; i < len(it.stops); i++ {
		next := it.stops[i].event
		block, ok := g.BlockBetween(prev.StationID, next.StationID)
		if !ok {
			res.SkippedHops++
			prev = next
			continue
		}
		vStation, ok := g.Station(next.StationID)
		if !ok {
			res.SkippedHops++
			prev = next
			continue
		}

		run, source := hopRun(prev, next, block, ov.speedFactor(it.trainID, block.BlockID))

		ba := blockFor(blockAllocs, block)
		entry := ba.Allocate(current)
		if entry.After(current) {
			res.WaitingLedger = append(res.WaitingLedger, waitEntry(it.trainID, "block", block.BlockID, current, entry, timetable.WaitBlockOrHeadway))
		}
		exit := entry.Add(run)
		if next.ActArr != nil && exit.Before(*next.ActArr) {
			exit = *next.ActArr
			if source == timetable.SourceScheduled {
				source = timetable.SourceHybrid
			}
		}
		ba.Commit(exit.Add(minutes(block.HeadwayMin)))
		res.BlockOccupancy = append(res.BlockOccupancy, timetable.BlockOccupancy{
			TrainID: it.trainID, BlockID: block.BlockID, U: block.U, V: block.V,
			EntryTime: entry, ExitTime: exit,
			HeadwayAppliedMin: entry.Sub(current).Minutes(), Source: source,
		})

		request := exit.Add(minutes(vStation.RouteSetupMin))
		vpa := platformFor(platAllocs, vStation)
		vslot, vstart := vpa.Allocate(request, ov.platformSlot(it.trainID, next.StationID))
		if vstart.After(request) {
			res.WaitingLedger = append(res.WaitingLedger, waitEntry(it.trainID, "platform", next.StationID, request, vstart, timetable.WaitPlatformBusyOrRoute))
		}
		vdep := vstart.Add(minutes(vStation.MinDwellMin))
		vdep = floorDeparture(vdep, next)
		vpa.Commit(vslot, vdep)
		res.PlatformOccupancy = append(res.PlatformOccupancy, timetable.PlatformOccupancy{
			TrainID: it.trainID, StationID: next.StationID,
			ArrPlatform: vstart, DepPlatform: vdep, SlotIndex: vslot,
		})

		current = vdep
		prev = next
	}
}

// pickArrival resolves the origin arrival; when only a departure is known the
// train is assumed on-platform one dwell earlier.
func pickArrival(e timetable.TrainEvent, dwell time.Duration) *time.Time {
	if e.ActArr != nil {
		return e.ActArr
	}
	if e.SchedArr != nil {
		return e.SchedArr
	}
	if e.ActDep != nil {
		t := e.ActDep.Add(-dwell)
		return &t
	}
	if e.SchedDep != nil {
		t := e.SchedDep.Add(-dwell)
		return &t
	}
	return nil
}

// floorDeparture never departs earlier than the actual or scheduled departure.
func floorDeparture(dep time.Time, e timetable.TrainEvent) time.Time {
	if e.ActDep != nil && dep.Before(*e.ActDep) {
		return *e.ActDep
	}
	if e.ActDep == nil && e.SchedDep != nil && dep.Before(*e.SchedDep) {
		return *e.SchedDep
	}
	return dep
}

// hopRun picks the run time: observed when both endpoints are actual, else
// the edge minimum scaled by any speed-tune factor.
func hopRun(u, v timetable.TrainEvent, block timetable.Block, factor float64) (time.Duration, timetable.OccupancySource) {
	if u.ActDep != nil && v.ActArr != nil && v.ActArr.After(*u.ActDep) {
		return v.ActArr.Sub(*u.ActDep), timetable.SourceActual
	}
	run := minutes(block.MinRunTimeMin * factor)
	if u.ActDep != nil || v.ActArr != nil {
		return run, timetable.SourceHybrid
	}
	return run, timetable.SourceScheduled
}

func blockFor(allocs map[string]*blockAllocator, b timetable.Block) *blockAllocator {
	a, ok := allocs[b.BlockID]
	if !ok {
		a = newBlockAllocator(b.Capacity)
		allocs[b.BlockID] = a
	}
	return a
}

func platformFor(allocs map[string]*platformAllocator, s timetable.Station) *platformAllocator {
	a, ok := allocs[s.StationID]
	if !ok {
		a = newPlatformAllocator(s.Platforms)
		allocs[s.StationID] = a
	}
	return a
}

func waitEntry(trainID, resource, id string, from, to time.Time, reason timetable.WaitReason) timetable.WaitEntry {
	return timetable.WaitEntry{
		TrainID: trainID, Resource: resource, ID: id,
		StartTime: from, EndTime: to,
		Minutes: to.Sub(from).Minutes(), Reason: reason,
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func computeKPIs(itins []itinerary, res *Result) KPIs {
	k := KPIs{WaitByReason: make(map[string]float64)}

	lastArr := make(map[string]time.Time)
	for _, p := range res.PlatformOccupancy {
		lastArr[p.TrainID+"|"+p.StationID] = p.ArrPlatform
	}

	var delays []float64
	onTime := 0
	for _, it := range itins {
		if len(it.stops) == 0 {
			continue
		}
		k.TrainsServed++
		last := it.stops[len(it.stops)-1].event
		sched := last.SchedArr
		if sched == nil {
			continue
		}
		arr, ok := lastArr[it.trainID+"|"+last.StationID]
		if !ok {
			continue
		}
		delay := arr.Sub(*sched).Minutes()
		delays = append(delays, delay)
		if delay <= 5 && delay >= -5 {
			onTime++
		}
	}
	if len(delays) > 0 {
		sum := 0.0
		for _, d := range delays {
			sum += d
		}
		k.AvgExitDelayMin = sum / float64(len(delays))
		sorted := append([]float64(nil), delays...)
		sort.Float64s(sorted)
		idx := int(0.9 * float64(len(sorted)-1))
		k.P90ExitDelayMin = sorted[idx]
		k.OTPExitPct = 100 * float64(onTime) / float64(len(delays))
	}
	for _, w := range res.WaitingLedger {
		k.TotalWaitMin += w.Minutes
		k.WaitByReason[string(w.Reason)] += w.Minutes
	}
	return k
}
