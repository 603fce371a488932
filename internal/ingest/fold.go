package ingest

import (
	"fmt"
	"time"

	"github.com/railops/section-control/api/timetable"
)

// Event types the fold understands. The wire set is open (eta, hold, policy
// and friends pass through untouched); only these touch the working
// timetable.
const (
	EventArrival   = "arr"
	EventDeparture = "dep"
	EventCancel    = "cancel"
)

// FoldStats summarises one fold pass.
type FoldStats struct {
	Applied   int `json:"applied"`
	Cancelled int `json:"cancelled"`
	Unmatched int `json:"unmatched"`
}

// Fold applies arrival/departure envelopes onto a cloned copy of the working
// timetable, stamping actual times by (train_id, station_id). Cancellations
// remove the train's remaining stops. The input slice is never mutated.
func Fold(events []timetable.TrainEvent, envs []timetable.EventEnvelope) ([]timetable.TrainEvent, FoldStats, error) {
	out := make([]timetable.TrainEvent, len(events))
	copy(out, events)

	var stats FoldStats
	cancelled := make(map[string]bool)
	for _, env := range envs {
		switch env.EventType {
		case EventCancel:
			cancelled[env.TrainID] = true
			stats.Cancelled++
			continue
		case EventArrival, EventDeparture:
		default:
			continue
		}

		ts, err := time.Parse(time.RFC3339, env.TS)
		if err != nil {
			return nil, stats, fmt.Errorf("fold %s: bad ts %q: %w", env.EventKey, env.TS, err)
		}
		matched := false
		for i := range out {
			e := &out[i]
			if e.TrainID != env.TrainID || e.StationID != env.StationID {
				continue
			}
			matched = true
			t := ts
			if env.EventType == EventArrival {
				e.ActArr = &t
			} else {
				e.ActDep = &t
			}
		}
		if matched {
			stats.Applied++
		} else {
			stats.Unmatched++
		}
	}

	if len(cancelled) == 0 {
		return out, stats, nil
	}
	kept := out[:0]
	for _, e := range out {
		if cancelled[e.TrainID] {
			continue
		}
		kept = append(kept, e)
	}
	return kept, stats, nil
}
