package timetable

import (
	"fmt"
	"strings"
	"time"
)

// TrainClass is the service class derived from the train name or supplied upstream.
type TrainClass string

const (
	ClassSuperfast TrainClass = "Superfast"
	ClassExpress   TrainClass = "Express"
	ClassEMU       TrainClass = "EMU"
	ClassPassenger TrainClass = "Passenger"
	ClassFreight   TrainClass = "Freight"
)

var classKeywords = []struct {
	keyword string
	class   TrainClass
}{
	{"SUPERFAST", ClassSuperfast},
	{"EXPRESS", ClassExpress},
	{"EMU", ClassEMU},
	{"LOCAL", ClassEMU},
	{"FREIGHT", ClassFreight},
	{"GOODS", ClassFreight},
}

var classPriority = map[TrainClass]int{
	ClassSuperfast: 3,
	ClassExpress:   2,
	ClassEMU:       1,
	ClassPassenger: 1,
	ClassFreight:   0,
}

// ClassFromName derives the service class from a human-readable train name.
// Unrecognized names default to Passenger.
func ClassFromName(name string) TrainClass {
	upper := strings.ToUpper(name)
	for _, kw := range classKeywords {
		if strings.Contains(upper, kw.keyword) {
			return kw.class
		}
	}
	return ClassPassenger
}

// ClassPriorityWeight returns the delay cost weight for a class; higher is costlier to delay.
func ClassPriorityWeight(c TrainClass) int {
	if w, ok := classPriority[c]; ok {
		return w
	}
	return classPriority[ClassPassenger]
}

// IsTrainClass reports whether v names a known service class.
func IsTrainClass(v string) bool {
	_, ok := classPriority[TrainClass(v)]
	return ok
}

// TrainEvent is one canonical stop record, unique by
// (train_id, station_id, service_date, stop_seq).
type TrainEvent struct {
	TrainID     string     `json:"train_id" parquet:"train_id"`
	TrainName   string     `json:"train_name,omitempty" parquet:"train_name,optional"`
	StationID   string     `json:"station_id" parquet:"station_id"`
	ServiceDate string     `json:"service_date" parquet:"service_date"`
	StopSeq     int        `json:"stop_seq" parquet:"stop_seq"`
	SchedArr    *time.Time `json:"sched_arr,omitempty" parquet:"sched_arr,optional,timestamp"`
	SchedDep    *time.Time `json:"sched_dep,omitempty" parquet:"sched_dep,optional,timestamp"`
	ActArr      *time.Time `json:"act_arr,omitempty" parquet:"act_arr,optional,timestamp"`
	ActDep      *time.Time `json:"act_dep,omitempty" parquet:"act_dep,optional,timestamp"`
	Priority    int        `json:"priority" parquet:"priority"`
	Class       TrainClass `json:"class,omitempty" parquet:"class,optional"`
}

// Key returns the stable identity tuple for dedupe and idempotent merges.
func (e TrainEvent) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", e.TrainID, e.StationID, e.ServiceDate, e.StopSeq)
}

// Validate enforces the event invariants; time ordering is only checked when
// both endpoints are present.
func (e TrainEvent) Validate() error {
	if e.TrainID == "" || e.StationID == "" {
		return fmt.Errorf("train_id and station_id are required")
	}
	if e.ServiceDate == "" {
		return fmt.Errorf("service_date is required")
	}
	if e.Priority < 0 {
		return fmt.Errorf("priority must be >=0")
	}
	if e.SchedArr != nil && e.SchedDep != nil && e.SchedDep.Before(*e.SchedArr) {
		return fmt.Errorf("sched_dep must be >= sched_arr")
	}
	if e.ActArr != nil && e.ActDep != nil && e.ActDep.Before(*e.ActArr) {
		return fmt.Errorf("act_dep must be >= act_arr")
	}
	if e.Class != "" && !IsTrainClass(string(e.Class)) {
		return fmt.Errorf("invalid class: %q", e.Class)
	}
	return nil
}

// EarliestKnown returns the earliest populated time field, preferring
// departures the way the replay seeds train ordering.
func (e TrainEvent) EarliestKnown() *time.Time {
	var earliest *time.Time
	for _, t := range []*time.Time{e.ActDep, e.SchedDep, e.ActArr, e.SchedArr} {
		if t == nil {
			continue
		}
		if earliest == nil || t.Before(*earliest) {
			earliest = t
		}
	}
	return earliest
}

// Station is one node of the section graph.
type Station struct {
	StationID     string   `json:"station_id" parquet:"station_id"`
	Name          string   `json:"name,omitempty" parquet:"name,optional"`
	Platforms     int      `json:"platforms" parquet:"platforms"`
	MinDwellMin   float64  `json:"min_dwell_min" parquet:"min_dwell_min"`
	RouteSetupMin float64  `json:"route_setup_min" parquet:"route_setup_min"`
	Lat           *float64 `json:"lat,omitempty" parquet:"lat,optional"`
	Lon           *float64 `json:"lon,omitempty" parquet:"lon,optional"`
}

func (s Station) Validate() error {
	if s.StationID == "" {
		return fmt.Errorf("station_id is required")
	}
	if s.Platforms < 1 {
		return fmt.Errorf("station %s: platforms must be >=1", s.StationID)
	}
	if s.MinDwellMin < 0 {
		return fmt.Errorf("station %s: min_dwell_min must be >=0", s.StationID)
	}
	if s.RouteSetupMin < 0 {
		return fmt.Errorf("station %s: route_setup_min must be >=0", s.StationID)
	}
	return nil
}

// Block is one directed edge of the section graph; Capacity counts parallel
// tracks in this direction.
type Block struct {
	BlockID           string   `json:"block_id" parquet:"block_id"`
	U                 string   `json:"u" parquet:"u"`
	V                 string   `json:"v" parquet:"v"`
	MinRunTimeMin     float64  `json:"min_run_time" parquet:"min_run_time"`
	HeadwayMin        float64  `json:"headway" parquet:"headway"`
	Capacity          int      `json:"capacity" parquet:"capacity"`
	PeakHeadwayP90    *float64 `json:"peak_headway_p90,omitempty" parquet:"peak_headway_p90,optional"`
	OffPeakHeadwayP90 *float64 `json:"offpeak_headway_p90,omitempty" parquet:"offpeak_headway_p90,optional"`
}

func (b Block) Validate() error {
	if b.BlockID == "" {
		return fmt.Errorf("block_id is required")
	}
	if b.U == "" || b.V == "" {
		return fmt.Errorf("block %s: u and v are required", b.BlockID)
	}
	if b.MinRunTimeMin <= 0 {
		return fmt.Errorf("block %s: min_run_time must be >0", b.BlockID)
	}
	if b.HeadwayMin < 0 {
		return fmt.Errorf("block %s: headway must be >=0", b.BlockID)
	}
	if b.Capacity < 1 {
		return fmt.Errorf("block %s: capacity must be >=1", b.BlockID)
	}
	return nil
}

// OccupancySource discriminates where an occupancy window's times came from.
type OccupancySource string

const (
	SourceActual    OccupancySource = "actual"
	SourceScheduled OccupancySource = "scheduled"
	SourceHybrid    OccupancySource = "hybrid"
	SourceInferred  OccupancySource = "inferred"
)

func IsOccupancySource(v OccupancySource) bool {
	switch v {
	case SourceActual, SourceScheduled, SourceHybrid, SourceInferred:
		return true
	default:
		return false
	}
}

// BlockOccupancy is one enforced window of a train on a block track slot.
// HeadwayAppliedMin records how many minutes allocation pushed the entry past
// the request; subtracting it recovers the pre-safety window.
type BlockOccupancy struct {
	TrainID           string          `json:"train_id" parquet:"train_id"`
	BlockID           string          `json:"block_id" parquet:"block_id"`
	U                 string          `json:"u" parquet:"u"`
	V                 string          `json:"v" parquet:"v"`
	EntryTime         time.Time       `json:"entry_time" parquet:"entry_time,timestamp"`
	ExitTime          time.Time       `json:"exit_time" parquet:"exit_time,timestamp"`
	HeadwayAppliedMin float64         `json:"headway_applied_min" parquet:"headway_applied_min"`
	Source            OccupancySource `json:"source" parquet:"source"`
}

// PlatformOccupancy is one enforced dwell window on a station platform slot.
type PlatformOccupancy struct {
	TrainID     string    `json:"train_id" parquet:"train_id"`
	StationID   string    `json:"station_id" parquet:"station_id"`
	ArrPlatform time.Time `json:"arr_platform" parquet:"arr_platform,timestamp"`
	DepPlatform time.Time `json:"dep_platform" parquet:"dep_platform,timestamp"`
	SlotIndex   int       `json:"platform_slot" parquet:"platform_slot"`
}

// WaitReason explains a waiting-ledger entry.
type WaitReason string

const (
	WaitBlockOrHeadway      WaitReason = "block_or_headway"
	WaitPlatformBusy        WaitReason = "platform_busy"
	WaitPlatformBusyOrRoute WaitReason = "platform_busy_or_route"
)

// WaitEntry is one append-only waiting-ledger record emitted during replay.
type WaitEntry struct {
	TrainID   string     `json:"train_id" parquet:"train_id"`
	Resource  string     `json:"resource" parquet:"resource"`
	ID        string     `json:"id" parquet:"id"`
	StartTime time.Time  `json:"start_time" parquet:"start_time,timestamp"`
	EndTime   time.Time  `json:"end_time" parquet:"end_time,timestamp"`
	Minutes   float64    `json:"minutes" parquet:"minutes"`
	Reason    WaitReason `json:"reason" parquet:"reason"`
}

// EventEnvelope is the ingestion wire shape emitted by adapters.
type EventEnvelope struct {
	Source    string         `json:"source"`
	EventKey  string         `json:"event_key"`
	TS        string         `json:"ts"`
	TrainID   string         `json:"train_id"`
	EventType string         `json:"event_type"`
	StationID string         `json:"station_id,omitempty"`
	BlockID   string         `json:"block_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Validate enforces the envelope contract; event_type is an open set so only
// presence is checked.
func (env EventEnvelope) Validate() error {
	if env.Source == "" || env.EventKey == "" {
		return fmt.Errorf("source and event_key are required")
	}
	if env.TS == "" {
		return fmt.Errorf("ts is required")
	}
	if env.TrainID == "" {
		return fmt.Errorf("train_id is required")
	}
	if env.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	return nil
}

// MinutesBetween returns (b-a) in fractional minutes.
func MinutesBetween(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}
