package scenario

import (
	"fmt"
	"time"

	"github.com/railops/section-control/api/timetable"
)

// CorridorSpec configures the synthetic demo corridor: a short chain of
// stations with alternating-direction trains on a fixed cadence.
type CorridorSpec struct {
	ServiceDate string
	Stations    []string
	Trains      int
	DwellMin    float64
	RunMin      float64
	HeadwayMin  float64
}

// DefaultCorridor is the stock three-station, eight-train demo.
func DefaultCorridor(serviceDate string) CorridorSpec {
	return CorridorSpec{
		ServiceDate: serviceDate,
		Stations:    []string{"STN-A", "STN-B", "STN-C"},
		Trains:      8,
		DwellMin:    2,
		RunMin:      8,
		HeadwayMin:  5,
	}
}

// Generate produces a deterministic timetable and graph for the corridor.
// Trains alternate direction and start 3 minutes apart from 08:00.
func Generate(spec CorridorSpec) ([]timetable.TrainEvent, []timetable.Station, []timetable.Block, error) {
	if len(spec.Stations) < 2 {
		return nil, nil, nil, fmt.Errorf("corridor needs at least 2 stations")
	}
	if spec.Trains <= 0 {
		return nil, nil, nil, fmt.Errorf("corridor needs at least 1 train")
	}
	day, err := time.Parse("2006-01-02", spec.ServiceDate)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("service date: %w", err)
	}
	base := day.Add(8 * time.Hour).UTC()
	dwell := time.Duration(spec.DwellMin * float64(time.Minute))
	run := time.Duration(spec.RunMin * float64(time.Minute))

	var events []timetable.TrainEvent
	for i := 0; i < spec.Trains; i++ {
		trainID := fmt.Sprintf("T%05d", i+1)
		stops := append([]string(nil), spec.Stations...)
		if i%2 == 1 {
			reverse(stops)
		}
		t := base.Add(time.Duration(3*i) * time.Minute)
		for seq, sid := range stops {
			arr := t
			dep := arr.Add(dwell)
			events = append(events, timetable.TrainEvent{
				TrainID:     trainID,
				StationID:   sid,
				ServiceDate: spec.ServiceDate,
				StopSeq:     seq + 1,
				SchedArr:    timePtr(arr),
				SchedDep:    timePtr(dep),
			})
			t = dep.Add(run)
		}
	}

	var stations []timetable.Station
	for _, sid := range spec.Stations {
		stations = append(stations, timetable.Station{
			StationID:   sid,
			Platforms:   1,
			MinDwellMin: spec.DwellMin,
		})
	}
	var blocks []timetable.Block
	for i := 0; i+1 < len(spec.Stations); i++ {
		u, v := spec.Stations[i], spec.Stations[i+1]
		// Both directions share the corridor.
		blocks = append(blocks,
			timetable.Block{BlockID: u + "-" + v, U: u, V: v, MinRunTimeMin: spec.RunMin, HeadwayMin: spec.HeadwayMin, Capacity: 1},
			timetable.Block{BlockID: v + "-" + u, U: v, V: u, MinRunTimeMin: spec.RunMin, HeadwayMin: spec.HeadwayMin, Capacity: 1},
		)
	}
	return events, stations, blocks, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func timePtr(t time.Time) *time.Time { return &t }
