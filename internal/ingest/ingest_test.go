package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/railops/section-control/api/timetable"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewCircuitBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.Failure()
	}
	if !b.Allow() {
		t.Fatalf("expected closed breaker after 2 failures")
	}
	b.Failure()
	if b.Allow() {
		t.Fatalf("expected open breaker after 3 failures")
	}
	if !b.Open() {
		t.Fatalf("expected Open to report true")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(3, time.Minute)
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	if b.Allow() {
		t.Fatalf("expected open breaker")
	}

	clock = clock.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected half-open probe after reset window")
	}
	// Probe fails: breaker snaps open again.
	b.Failure()
	if b.Allow() {
		t.Fatalf("expected re-opened breaker after failed probe")
	}

	clock = clock.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected second probe")
	}
	b.Success()
	if !b.Allow() || b.Open() {
		t.Fatalf("expected closed breaker after successful probe")
	}
}

func TestDeduperEvictsOldest(t *testing.T) {
	t.Parallel()

	d := NewDeduper(2)
	if d.Seen("a") || d.Seen("b") {
		t.Fatalf("expected fresh keys")
	}
	if !d.Seen("a") {
		t.Fatalf("expected a to be remembered")
	}
	// c evicts a.
	if d.Seen("c") {
		t.Fatalf("expected c to be fresh")
	}
	if d.Seen("a") {
		t.Fatalf("expected a to have been evicted")
	}
	if got := d.Len(); got != 2 {
		t.Fatalf("expected window of 2, got %d", got)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	line := []byte(`{"source":"filedrop","event_key":"A|S1|dep|1","ts":"2026-08-25T08:00:00Z","train_id":"A","event_type":"departure","station_id":"S1"}`)
	env, err := DecodeEnvelope(line)
	if err != nil {
		t.Fatalf("expected decode, got %v", err)
	}
	want := timetable.EventEnvelope{
		Source:    "filedrop",
		EventKey:  "A|S1|dep|1",
		TS:        "2026-08-25T08:00:00Z",
		TrainID:   "A",
		EventType: "departure",
		StationID: "S1",
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEnvelopeRejectsMissingCore(t *testing.T) {
	t.Parallel()

	cases := []string{
		`not json at all`,
		`{"source":"filedrop","ts":"2026-08-25T08:00:00Z","train_id":"A","event_type":"departure"}`,
		`{"source":"","event_key":"k","ts":"x","train_id":"A","event_type":"departure"}`,
		`{"source":"filedrop","event_key":"k","ts":"x","train_id":"A","event_type":"departure","fields":3}`,
	}
	for i, raw := range cases {
		if _, err := DecodeEnvelope([]byte(raw)); err == nil {
			t.Fatalf("case %d: expected rejection for %s", i, raw)
		}
	}
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("expected open, got %v", err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l); err != nil {
			t.Fatalf("expected write, got %v", err)
		}
	}
}

func envLine(key, train string) string {
	return fmt.Sprintf(`{"source":"filedrop","event_key":%q,"ts":"2026-08-25T08:00:00Z","train_id":%q,"event_type":"departure","station_id":"S1"}`, key, train)
}

func TestFileDropTickResumesAtOffset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "drop.jsonl")
	a := NewFileDropAdapter("test", path, nil)

	// Missing file is quiet.
	if _, err := a.Tick(func(timetable.EventEnvelope) error { return nil }); err != nil {
		t.Fatalf("expected quiet tick on missing file, got %v", err)
	}

	writeLines(t, path, envLine("k1", "A"), "garbage", envLine("k2", "B"))
	var got []string
	sink := func(env timetable.EventEnvelope) error {
		got = append(got, env.EventKey)
		return nil
	}
	stats, err := a.Tick(sink)
	if err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	if stats.Delivered != 2 || stats.Malformed != 1 {
		t.Fatalf("expected 2 delivered 1 malformed, got %+v", stats)
	}

	// Appended lines only; k1 is a replay and deduped.
	writeLines(t, path, envLine("k1", "A"), envLine("k3", "C"))
	stats, err = a.Tick(sink)
	if err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	if stats.Delivered != 1 || stats.Duplicate != 1 {
		t.Fatalf("expected 1 delivered 1 duplicate, got %+v", stats)
	}
	want := []string{"k1", "k2", "k3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delivery order mismatch (-want +got):\n%s", diff)
	}
	if a.Offset() != 5 {
		t.Fatalf("expected offset 5, got %d", a.Offset())
	}
}

func TestFileDropTickSkipsWhenBreakerOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "drop.jsonl")
	writeLines(t, path, envLine("k1", "A"))

	a := NewFileDropAdapter("test", path, nil)
	for i := 0; i < DefaultMaxFailures; i++ {
		a.Breaker.Failure()
	}
	stats, err := a.Tick(func(timetable.EventEnvelope) error { return nil })
	if err != nil {
		t.Fatalf("expected quiet skip, got %v", err)
	}
	if !stats.Skipped || stats.Read != 0 {
		t.Fatalf("expected skipped tick, got %+v", stats)
	}
}

func TestEventStoreMergeIdempotent(t *testing.T) {
	t.Parallel()

	s, err := NewEventStore()
	if err != nil {
		t.Fatalf("expected store, got %v", err)
	}
	env := timetable.EventEnvelope{
		Source:    "filedrop",
		EventKey:  "k1",
		TS:        "2026-08-25T08:00:00Z",
		TrainID:   "A",
		EventType: "departure",
	}
	fresh, err := s.Merge(env)
	if err != nil || !fresh {
		t.Fatalf("expected fresh merge, got fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.Merge(env)
	if err != nil || fresh {
		t.Fatalf("expected replay merge to be stale, got fresh=%v err=%v", fresh, err)
	}
	if n, _ := s.Len(); n != 1 {
		t.Fatalf("expected 1 stored envelope, got %d", n)
	}
}

func TestEventStoreByTrainOrdered(t *testing.T) {
	t.Parallel()

	s, err := NewEventStore()
	if err != nil {
		t.Fatalf("expected store, got %v", err)
	}
	mk := func(key, train, ts string) timetable.EventEnvelope {
		return timetable.EventEnvelope{Source: "filedrop", EventKey: key, TS: ts, TrainID: train, EventType: "arrival"}
	}
	for _, env := range []timetable.EventEnvelope{
		mk("k2", "A", "2026-08-25T08:30:00Z"),
		mk("k1", "A", "2026-08-25T08:00:00Z"),
		mk("k3", "B", "2026-08-25T08:10:00Z"),
	} {
		if _, err := s.Merge(env); err != nil {
			t.Fatalf("expected merge, got %v", err)
		}
	}
	got, err := s.ByTrain("A")
	if err != nil {
		t.Fatalf("expected query, got %v", err)
	}
	if len(got) != 2 || got[0].EventKey != "k1" || got[1].EventKey != "k2" {
		t.Fatalf("expected [k1 k2] for train A, got %+v", got)
	}
	all, err := s.All()
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 stored, got %d err=%v", len(all), err)
	}
}

func TestFoldStampsActuals(t *testing.T) {
	t.Parallel()

	sched := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	events := []timetable.TrainEvent{
		{TrainID: "A", StationID: "S1", ServiceDate: "2026-08-25", StopSeq: 0, SchedDep: &sched},
		{TrainID: "B", StationID: "S1", ServiceDate: "2026-08-25", StopSeq: 0, SchedDep: &sched},
	}
	envs := []timetable.EventEnvelope{
		{Source: "filedrop", EventKey: "k1", TS: "2026-08-25T08:04:00Z", TrainID: "A", EventType: EventDeparture, StationID: "S1"},
		{Source: "filedrop", EventKey: "k2", TS: "2026-08-25T08:05:00Z", TrainID: "Z", EventType: EventArrival, StationID: "S9"},
		{Source: "filedrop", EventKey: "k3", TS: "2026-08-25T08:06:00Z", TrainID: "B", EventType: EventCancel},
	}
	out, stats, err := Fold(events, envs)
	if err != nil {
		t.Fatalf("expected fold, got %v", err)
	}
	if stats.Applied != 1 || stats.Unmatched != 1 || stats.Cancelled != 1 {
		t.Fatalf("expected 1/1/1 stats, got %+v", stats)
	}
	if len(out) != 1 || out[0].TrainID != "A" {
		t.Fatalf("expected cancelled train removed, got %+v", out)
	}
	want := time.Date(2026, 8, 25, 8, 4, 0, 0, time.UTC)
	if out[0].ActDep == nil || !out[0].ActDep.Equal(want) {
		t.Fatalf("expected act_dep 08:04, got %v", out[0].ActDep)
	}
	// Source untouched.
	if events[0].ActDep != nil || len(events) != 2 {
		t.Fatalf("expected source events unmodified, got %+v", events)
	}
}

func TestFoldRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	envs := []timetable.EventEnvelope{
		{Source: "filedrop", EventKey: "k1", TS: "08:04", TrainID: "A", EventType: EventArrival, StationID: "S1"},
	}
	if _, _, err := Fold(nil, envs); err == nil {
		t.Fatalf("expected bad timestamp rejection")
	}
}
