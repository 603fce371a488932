// Package normalize turns heterogeneous raw timetable records into canonical
// TrainEvent rows: fixed column mapping, service-date stamping, midnight
// rollover, and stable station-id assignment.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/railops/section-control/api/timetable"
)

// SchemaVersion stamps the output of a normalisation run.
const SchemaVersion = "events/v1"

// ErrMissingServiceDate is returned when no service date can be established.
var ErrMissingServiceDate = errors.New("missing service_date and no parseable timestamp to derive it")

// columnMap is the fixed mapping from raw column names to canonical fields.
// Lookup is case- and whitespace-insensitive.
var columnMap = map[string]string{
	"train_id":         "train_id",
	"train_no":         "train_id",
	"trainnumber":      "train_id",
	"train_name":       "train_name",
	"name":             "train_name",
	"station_id":       "station_id",
	"station_code":     "station_id",
	"code":             "station_id",
	"station_name":     "station_name",
	"station":          "station_name",
	"service_date":     "service_date",
	"date":             "service_date",
	"stop_seq":         "stop_seq",
	"seq":              "stop_seq",
	"stop_number":      "stop_seq",
	"sched_arr":        "sched_arr",
	"arrival_time":     "sched_arr",
	"sched_dep":        "sched_dep",
	"departure_time":   "sched_dep",
	"act_arr":          "act_arr",
	"actual_arrival":   "act_arr",
	"act_dep":          "act_dep",
	"actual_departure": "act_dep",
	"priority":         "priority",
}

var timeFields = []string{"sched_arr", "sched_dep", "act_arr", "act_dep"}

var hhmmPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// CanonicalColumn maps a raw column name to its canonical field name.
func CanonicalColumn(raw string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(raw), "_"))
	key = strings.ReplaceAll(key, " ", "")
	canon, ok := columnMap[key]
	return canon, ok
}

// RawRecord is one input row keyed by raw column names.
type RawRecord map[string]string

// Result is the outcome of a normalisation run.
type Result struct {
	SchemaVersion string
	ServiceDate   string
	Events        []timetable.TrainEvent
	SkippedRows   int
}

// Normaliser converts raw rows into canonical events, assigning stable
// station ids through the provided StationMap.
type Normaliser struct {
	Stations *StationMap
}

// Run normalises rows. serviceDate may be empty, in which case it is derived
// from the earliest parseable timestamp across all rows.
func (n *Normaliser) Run(rows []RawRecord, serviceDate string) (*Result, error) {
	if n.Stations == nil {
		n.Stations = NewStationMap()
	}
	canon := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(row))
		for k, v := range row {
			if field, ok := CanonicalColumn(k); ok {
				m[field] = strings.TrimSpace(v)
			}
		}
		canon = append(canon, m)
	}

	date, err := establishServiceDate(canon, serviceDate)
	if err != nil {
		return nil, err
	}

	res := &Result{SchemaVersion: SchemaVersion, ServiceDate: date}
	var defects *multierror.Error

	type parsedRow struct {
		event timetable.TrainEvent
		idx   int
	}
	byTrain := make(map[string][]parsedRow)
	var order []string

	for i, m := range canon {
		ev, err := n.parseRow(m, date, i)
		if err != nil {
			defects = multierror.Append(defects, err)
			res.SkippedRows++
			continue
		}
		if _, seen := byTrain[ev.TrainID]; !seen {
			order = append(order, ev.TrainID)
		}
		byTrain[ev.TrainID] = append(byTrain[ev.TrainID], parsedRow{event: ev, idx: i})
	}

	for _, trainID := range order {
		group := byTrain[trainID]
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i].event, group[j].event
			if a.StopSeq != b.StopSeq {
				return a.StopSeq < b.StopSeq
			}
			ea, eb := a.EarliestKnown(), b.EarliestKnown()
			if ea != nil && eb != nil && !ea.Equal(*eb) {
				return ea.Before(*eb)
			}
			return a.StationID < b.StationID
		})
		events := make([]timetable.TrainEvent, len(group))
		for i, p := range group {
			events[i] = p.event
		}
		stripPlaceholderEndpoints(events)
		rolloverMidnight(events)
		res.Events = append(res.Events, events...)
	}

	// Defects on individual rows are tolerated; the run only fails when
	// nothing survives.
	if len(res.Events) == 0 && defects.ErrorOrNil() != nil {
		return nil, fmt.Errorf("no rows normalised: %w", defects.ErrorOrNil())
	}
	return res, nil
}

func (n *Normaliser) parseRow(m map[string]string, date string, idx int) (timetable.TrainEvent, error) {
	ev := timetable.TrainEvent{
		TrainID:     m["train_id"],
		TrainName:   m["train_name"],
		ServiceDate: date,
	}
	if ev.TrainID == "" {
		return ev, fmt.Errorf("row %d: missing train_id", idx)
	}
	if id := m["station_id"]; id != "" {
		ev.StationID = id
		n.Stations.Reserve(id, m["station_name"])
	} else if name := m["station_name"]; name != "" {
		ev.StationID = n.Stations.Assign(name)
	} else {
		return ev, fmt.Errorf("row %d: missing station", idx)
	}
	if seq := m["stop_seq"]; seq != "" {
		v, err := strconv.Atoi(seq)
		if err != nil {
			return ev, fmt.Errorf("row %d: bad stop_seq %q", idx, seq)
		}
		ev.StopSeq = v
	}
	for _, field := range timeFields {
		raw := m[field]
		if raw == "" {
			continue
		}
		t, err := parseEventTime(raw, date)
		if err != nil {
			return ev, fmt.Errorf("row %d: field %s: %w", idx, field, err)
		}
		switch field {
		case "sched_arr":
			ev.SchedArr = t
		case "sched_dep":
			ev.SchedDep = t
		case "act_arr":
			ev.ActArr = t
		case "act_dep":
			ev.ActDep = t
		}
	}
	ev.Class = timetable.ClassFromName(ev.TrainName)
	if p := m["priority"]; p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return ev, fmt.Errorf("row %d: bad priority %q", idx, p)
		}
		ev.Priority = v
	} else {
		ev.Priority = timetable.ClassPriorityWeight(ev.Class)
	}
	return ev, nil
}

// parseEventTime parses HH:MM(:SS) against the service date, or a full
// datetime in RFC3339 or "2006-01-02 15:04:05" form. All times are UTC.
func parseEventTime(raw, date string) (*time.Time, error) {
	if m := hhmmPattern.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		sec := 0
		if m[3] != "" {
			sec, _ = strconv.Atoi(m[3])
		}
		if h > 23 || mi > 59 || sec > 59 {
			return nil, fmt.Errorf("invalid clock time %q", raw)
		}
		day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad service_date %q: %w", date, err)
		}
		t := day.Add(time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(sec)*time.Second)
		return &t, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable time %q", raw)
}

func establishServiceDate(rows []map[string]string, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, m := range rows {
		if d := m["service_date"]; d != "" {
			return d, nil
		}
	}
	// Derive from the earliest full datetime anywhere in the input.
	var earliest *time.Time
	for _, m := range rows {
		for _, field := range timeFields {
			raw := m[field]
			if raw == "" || hhmmPattern.MatchString(raw) {
				continue
			}
			t, err := parseEventTime(raw, "1970-01-01")
			if err != nil {
				continue
			}
			if earliest == nil || t.Before(*earliest) {
				earliest = t
			}
		}
	}
	if earliest == nil {
		return "", ErrMissingServiceDate
	}
	return earliest.Format("2006-01-02"), nil
}

// stripPlaceholderEndpoints drops 00:00 placeholder times at the first and
// last stop of an itinerary, which upstream feeds use for "no arrival at
// origin" and "no departure at terminus".
func stripPlaceholderEndpoints(events []timetable.TrainEvent) {
	if len(events) == 0 {
		return
	}
	first, last := &events[0], &events[len(events)-1]
	if isMidnight(first.SchedArr) {
		first.SchedArr = nil
	}
	if isMidnight(first.ActArr) {
		first.ActArr = nil
	}
	if isMidnight(last.SchedDep) {
		last.SchedDep = nil
	}
	if isMidnight(last.ActDep) {
		last.ActDep = nil
	}
}

func isMidnight(t *time.Time) bool {
	if t == nil {
		return false
	}
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

// rolloverMidnight walks a train's stops in order and, whenever the reference
// time steps backwards, shifts that row and all later rows forward a day.
// Shifts accumulate across multi-day itineraries.
func rolloverMidnight(events []timetable.TrainEvent) {
	var prev *time.Time
	offset := time.Duration(0)
	for i := range events {
		shiftEvent(&events[i], offset)
		ref := referenceTime(events[i])
		if ref == nil {
			continue
		}
		if prev != nil && ref.Before(*prev) {
			for ref.Before(*prev) {
				offset += 24 * time.Hour
				shiftEvent(&events[i], 24*time.Hour)
				ref = referenceTime(events[i])
			}
		}
		prev = ref
	}
}

func referenceTime(e timetable.TrainEvent) *time.Time {
	for _, t := range []*time.Time{e.ActDep, e.SchedDep, e.ActArr, e.SchedArr} {
		if t != nil {
			return t
		}
	}
	return nil
}

func shiftEvent(e *timetable.TrainEvent, d time.Duration) {
	if d == 0 {
		return
	}
	for _, t := range []**time.Time{&e.SchedArr, &e.SchedDep, &e.ActArr, &e.ActDep} {
		if *t != nil {
			shifted := (*t).Add(d)
			*t = &shifted
		}
	}
}
