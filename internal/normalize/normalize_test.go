package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalColumn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"Train No", "train_id", true},
		{"  ARRIVAL_TIME ", "sched_arr", true},
		{"Departure Time", "sched_dep", true},
		{"station code", "station_id", true},
		{"velocity", "", false},
	}
	for _, tc := range cases {
		got, ok := CanonicalColumn(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("CanonicalColumn(%q): expected (%q,%v), got (%q,%v)", tc.raw, tc.want, tc.ok, got, ok)
		}
	}
}

func TestRunBasic(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"Train No": "T1", "Station Code": "S1", "seq": "0", "Departure Time": "08:00"},
		{"Train No": "T1", "Station Code": "S2", "seq": "1", "Arrival Time": "08:10", "Departure Time": "08:12"},
	}
	n := &Normaliser{Stations: NewStationMap()}
	res, err := n.Run(rows, "2026-08-25")
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if res.SchemaVersion != SchemaVersion {
		t.Fatalf("expected schema stamp %s, got %s", SchemaVersion, res.SchemaVersion)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}
	want := time.Date(2026, 8, 25, 8, 10, 0, 0, time.UTC)
	if res.Events[1].SchedArr == nil || !res.Events[1].SchedArr.Equal(want) {
		t.Fatalf("expected sched_arr %v, got %v", want, res.Events[1].SchedArr)
	}
}

func TestRunDerivesServiceDate(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "station_id": "S1", "seq": "0", "act_dep": "2026-08-25T07:55:00Z"},
	}
	n := &Normaliser{}
	res, err := n.Run(rows, "")
	if err != nil {
		t.Fatalf("expected date derivation, got %v", err)
	}
	if res.ServiceDate != "2026-08-25" {
		t.Fatalf("expected derived date 2026-08-25, got %s", res.ServiceDate)
	}
}

func TestRunMissingServiceDate(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "station_id": "S1", "seq": "0", "sched_dep": "08:00"},
	}
	n := &Normaliser{}
	_, err := n.Run(rows, "")
	if !errors.Is(err, ErrMissingServiceDate) {
		t.Fatalf("expected ErrMissingServiceDate, got %v", err)
	}
}

func TestMidnightRolloverCumulative(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "station_id": "S1", "seq": "0", "sched_dep": "23:30"},
		{"train_id": "T1", "station_id": "S2", "seq": "1", "sched_arr": "00:10", "sched_dep": "00:12"},
		{"train_id": "T1", "station_id": "S3", "seq": "2", "sched_arr": "23:50", "sched_dep": "23:55"},
		{"train_id": "T1", "station_id": "S4", "seq": "3", "sched_arr": "01:20"},
	}
	n := &Normaliser{}
	res, err := n.Run(rows, "2026-08-25")
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}

	wantArrS2 := time.Date(2026, 8, 26, 0, 10, 0, 0, time.UTC)
	if got := res.Events[1].SchedArr; got == nil || !got.Equal(wantArrS2) {
		t.Fatalf("expected rolled arrival %v, got %v", wantArrS2, got)
	}
	wantArrS3 := time.Date(2026, 8, 26, 23, 50, 0, 0, time.UTC)
	if got := res.Events[2].SchedArr; got == nil || !got.Equal(wantArrS3) {
		t.Fatalf("expected same-day arrival %v, got %v", wantArrS3, got)
	}
	wantArrS4 := time.Date(2026, 8, 27, 1, 20, 0, 0, time.UTC)
	if got := res.Events[3].SchedArr; got == nil || !got.Equal(wantArrS4) {
		t.Fatalf("expected cumulative two-day rollover %v, got %v", wantArrS4, got)
	}
}

func TestPlaceholderEndpointsDropped(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "station_id": "S1", "seq": "0", "sched_arr": "00:00", "sched_dep": "08:00"},
		{"train_id": "T1", "station_id": "S2", "seq": "1", "sched_arr": "08:30", "sched_dep": "00:00:00"},
	}
	n := &Normaliser{}
	res, err := n.Run(rows, "2026-08-25")
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if res.Events[0].SchedArr != nil {
		t.Fatalf("expected origin placeholder arrival dropped, got %v", res.Events[0].SchedArr)
	}
	if res.Events[1].SchedDep != nil {
		t.Fatalf("expected terminus placeholder departure dropped, got %v", res.Events[1].SchedDep)
	}
	if res.Events[1].SchedArr == nil {
		t.Fatalf("expected real arrival kept")
	}
}

func TestRunSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "station_id": "S1", "seq": "0", "sched_dep": "08:00"},
		{"train_id": "", "station_id": "S2", "seq": "1"},
		{"train_id": "T1", "station_id": "S2", "seq": "nope"},
	}
	n := &Normaliser{}
	res, err := n.Run(rows, "2026-08-25")
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}
	if res.SkippedRows != 2 || len(res.Events) != 1 {
		t.Fatalf("expected 2 skipped and 1 kept, got %d/%d", res.SkippedRows, len(res.Events))
	}
}

func TestPriorityFromClass(t *testing.T) {
	t.Parallel()

	rows := []RawRecord{
		{"train_id": "T1", "train_name": "Howrah SUPERFAST", "station_id": "S1", "seq": "0", "sched_dep": "08:00"},
		{"train_id": "T2", "train_name": "coal goods", "station_id": "S1", "seq": "0", "sched_dep": "08:05"},
	}
	n := &Normaliser{}
	res, err := n.Run(rows, "2026-08-25")
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	got := map[string]int{}
	for _, e := range res.Events {
		got[e.TrainID] = e.Priority
	}
	want := map[string]int{"T1": 3, "T2": 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("priority mismatch (-want +got):\n%s", diff)
	}
}

func TestStationMapStable(t *testing.T) {
	t.Parallel()

	m := NewStationMap()
	a := m.Assign("New Delhi")
	b := m.Assign("  new   delhi ")
	if a != b {
		t.Fatalf("expected case/space-insensitive reuse, got %s vs %s", a, b)
	}
	c := m.Assign("Ghaziabad")
	if c == a {
		t.Fatalf("expected distinct id for distinct name")
	}
}

func TestStationMapRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/station_map.csv"

	m := NewStationMap()
	first := m.Assign("Kanpur")
	m.Assign("Etawah")
	if err := m.Save(path); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}

	loaded, err := LoadStationMap(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if got, ok := loaded.Lookup("Kanpur"); !ok || got != first {
		t.Fatalf("expected preserved allocation %s, got %s ok=%v", first, got, ok)
	}
	next := loaded.Assign("Tundla")
	if next == first {
		t.Fatalf("expected appended id, got collision %s", next)
	}
}

func TestLoadStationMapMissingFile(t *testing.T) {
	t.Parallel()

	m, err := LoadStationMap(t.TempDir() + "/absent.csv")
	if err != nil {
		t.Fatalf("expected empty map for missing file, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d entries", m.Len())
	}
}
