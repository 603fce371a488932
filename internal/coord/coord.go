// Package coord computes the boundary handshake between two sections that
// share a station: holds in the upstream section aligning its arrivals with
// the downstream section's earliest departure slot at the boundary.
package coord

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
)

// Result is one handshake outcome.
type Result struct {
	Actions      []decision.Action `json:"actions"`
	EarliestDepB time.Time         `json:"earliest_dep_b"`
	Candidates   int               `json:"candidates"`
	Note         string            `json:"note,omitempty"`
}

// Handshake inspects block occupancy on both sides of the boundary station.
// For each train in A whose arrival at the boundary lands past B's earliest
// departure slot, it emits a HOLD at the train's upstream station sized to
// the overshoot.
func Handshake(occA, occB []timetable.BlockOccupancy, scopeB, boundaryStation string) (Result, error) {
	if boundaryStation == "" {
		return Result{}, fmt.Errorf("boundary station is required")
	}

	arrivals := lastArrivalAt(occA, boundaryStation)
	earliest, ok := earliestDepartureFrom(occB, boundaryStation)
	if !ok {
		return Result{Note: "no departures in B"}, nil
	}

	res := Result{EarliestDepB: earliest, Candidates: len(arrivals)}
	for _, w := range arrivals {
		if !w.ExitTime.After(earliest) {
			continue
		}
		minutes := round1(w.ExitTime.Sub(earliest).Minutes())
		if minutes <= 0 {
			continue
		}
		at := w.U
		if at == "" {
			at = boundaryStation
		}
		a := decision.Action{
			Type:      decision.ActionHold,
			TrainID:   w.TrainID,
			AtStation: at,
			Minutes:   minutes,
			StationID: boundaryStation,
			Reason:    "boundary_handshake",
			Why:       fmt.Sprintf("Align arrival into %s boundary %s", scopeB, boundaryStation),
		}
		if err := decision.StampActionID(&a); err != nil {
			return Result{}, fmt.Errorf("handshake action: %w", err)
		}
		res.Actions = append(res.Actions, a)
	}
	sort.Slice(res.Actions, func(i, j int) bool { return res.Actions[i].TrainID < res.Actions[j].TrainID })
	return res, nil
}

// lastArrivalAt keeps each train's final block window ending at the station.
func lastArrivalAt(occ []timetable.BlockOccupancy, stationID string) []timetable.BlockOccupancy {
	last := make(map[string]timetable.BlockOccupancy)
	for _, w := range occ {
		if w.V != stationID {
			continue
		}
		if prev, ok := last[w.TrainID]; !ok || w.ExitTime.After(prev.ExitTime) {
			last[w.TrainID] = w
		}
	}
	out := make([]timetable.BlockOccupancy, 0, len(last))
	for _, w := range last {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainID < out[j].TrainID })
	return out
}

// earliestDepartureFrom finds the earliest block entry leaving the station.
func earliestDepartureFrom(occ []timetable.BlockOccupancy, stationID string) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, w := range occ {
		if w.U != stationID {
			continue
		}
		if !found || w.EntryTime.Before(earliest) {
			earliest = w.EntryTime
			found = true
		}
	}
	return earliest, found
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
