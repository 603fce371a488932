package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/ingest"
	"github.com/railops/section-control/internal/policy"
	"github.com/railops/section-control/internal/scenario"
)

func mustGraph(t *testing.T) *graph.SectionGraph {
	t.Helper()
	g, err := graph.Build(
		[]timetable.Station{
			{StationID: "S1", Platforms: 2, MinDwellMin: 1},
			{StationID: "S2", Platforms: 2, MinDwellMin: 1},
		},
		[]timetable.Block{
			{BlockID: "S1-S2", U: "S1", V: "S2", MinRunTimeMin: 10, HeadwayMin: 5, Capacity: 1},
		},
	)
	if err != nil {
		t.Fatalf("expected graph, got %v", err)
	}
	return g
}

func at(h, m int) *time.Time {
	t := time.Date(2026, 8, 25, h, m, 0, 0, time.UTC)
	return &t
}

// conflictEvents puts B hard on A's tail so a headway risk and a hold exist.
func conflictEvents() []timetable.TrainEvent {
	return []timetable.TrainEvent{
		{TrainID: "A", StationID: "S1", ServiceDate: "2026-08-25", StopSeq: 0, SchedDep: at(8, 0)},
		{TrainID: "A", StationID: "S2", ServiceDate: "2026-08-25", StopSeq: 1, SchedArr: at(8, 10)},
		{TrainID: "B", StationID: "S1", ServiceDate: "2026-08-25", StopSeq: 0, SchedDep: at(8, 12)},
		{TrainID: "B", StationID: "S2", ServiceDate: "2026-08-25", StopSeq: 1, SchedArr: at(8, 22)},
	}
}

func testEngine(t *testing.T, adapters ...*ingest.FileDropAdapter) *Engine {
	t.Helper()
	dir := t.TempDir()
	store := artifacts.Store{Root: dir}
	policies, err := policy.Open(filepath.Join(dir, "SEC1", "2026-08-25"))
	if err != nil {
		t.Fatalf("expected policy store, got %v", err)
	}
	e, err := New(Config{Scope: "SEC1", Date: "2026-08-25"}, nil, store, mustGraph(t), conflictEvents(), policies, adapters...)
	if err != nil {
		t.Fatalf("expected engine, got %v", err)
	}
	return e
}

func TestTickPublishesSnapshot(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	if e.Snapshot() != nil {
		t.Fatalf("expected no snapshot before first tick")
	}
	if err := e.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	snap := e.Snapshot()
	if snap == nil {
		t.Fatalf("expected published snapshot")
	}
	if len(snap.Radar.Risks) == 0 {
		t.Fatalf("expected headway risk in snapshot, got %+v", snap.Radar)
	}
	if len(snap.Plan.Actions) == 0 || snap.Plan.PlanVersion == "" {
		t.Fatalf("expected finalized plan, got %+v", snap.Plan)
	}
	if !snap.PlanChanged {
		t.Fatalf("expected first plan to count as changed")
	}
	// Twin artifacts land on disk.
	occ, err := artifacts.ReadParquet[timetable.BlockOccupancy](e.store.Path("SEC1", "2026-08-25", artifacts.BlockOccupancy))
	if err != nil || len(occ) == 0 {
		t.Fatalf("expected persisted occupancy, got %d err=%v", len(occ), err)
	}
	plan, ok, err := scenario.CurrentPlan(e.store, "SEC1", "2026-08-25")
	if err != nil || !ok || plan.PlanVersion != snap.Plan.PlanVersion {
		t.Fatalf("expected published plan %s, got %+v ok=%v err=%v", snap.Plan.PlanVersion, plan, ok, err)
	}
}

func TestTickHysteresisSuppressesIdenticalPlan(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	if err := e.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	first := e.Snapshot()

	if err := e.Tick(); err != nil {
		t.Fatalf("expected second tick, got %v", err)
	}
	second := e.Snapshot()
	if second.TickID == first.TickID {
		t.Fatalf("expected a new snapshot")
	}
	if second.Plan.PlanVersion != first.Plan.PlanVersion {
		t.Fatalf("expected identical plan version, got %s vs %s", second.Plan.PlanVersion, first.Plan.PlanVersion)
	}
	if second.PlanChanged {
		t.Fatalf("expected suppressed re-emission on identical inputs")
	}
	// rec_plan_prev is not rotated by the suppressed tick.
	var prev any
	err := artifacts.ReadJSON(e.store.Path("SEC1", "2026-08-25", artifacts.RecPlanPrev), &prev)
	if !artifacts.IsMissing(err) {
		t.Fatalf("expected no plan rotation, got %v", err)
	}
}

func TestTickFoldsLiveEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	drop := filepath.Join(dir, "events_live.jsonl")
	line := `{"source":"filedrop","event_key":"B|S1|dep","ts":"2026-08-25T08:20:00Z","train_id":"B","event_type":"dep","station_id":"S1"}`
	if err := os.WriteFile(drop, []byte(line+"\n"), 0o644); err != nil {
		t.Fatalf("expected drop file, got %v", err)
	}

	e := testEngine(t, ingest.NewFileDropAdapter("live", drop, nil))
	if err := e.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	snap := e.Snapshot()
	found := false
	for _, ev := range snap.Events {
		if ev.TrainID == "B" && ev.StationID == "S1" {
			found = true
			if ev.ActDep == nil || !ev.ActDep.Equal(*at(8, 20)) {
				t.Fatalf("expected folded act_dep 08:20, got %v", ev.ActDep)
			}
		}
	}
	if !found {
		t.Fatalf("expected B at S1 in snapshot events")
	}
}

func TestTickErrorRetainsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	drop := filepath.Join(dir, "events_live.jsonl")
	e := testEngine(t, ingest.NewFileDropAdapter("live", drop, nil))

	if err := e.Tick(); err != nil {
		t.Fatalf("expected clean first tick, got %v", err)
	}
	first := e.Snapshot()

	// An unparseable timestamp fails the fold mid-tick.
	bad := `{"source":"filedrop","event_key":"B|S1|bad","ts":"not-a-time","train_id":"B","event_type":"dep","station_id":"S1"}`
	if err := os.WriteFile(drop, []byte(bad+"\n"), 0o644); err != nil {
		t.Fatalf("expected drop file, got %v", err)
	}
	if err := e.Tick(); err == nil {
		t.Fatalf("expected tick failure on bad timestamp")
	}
	if got := e.Snapshot(); got.TickID != first.TickID {
		t.Fatalf("expected previous snapshot retained, got %s want %s", got.TickID, first.TickID)
	}
}

func TestPositionsLastBlockPerTrain(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	if err := e.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Positions) != 2 {
		t.Fatalf("expected 2 train positions, got %+v", snap.Positions)
	}
	for _, p := range snap.Positions {
		if p.BlockID != "S1-S2" || p.ProgressPct != 100 {
			t.Fatalf("expected last block S1-S2, got %+v", p)
		}
	}
}

func TestApplyActionSandbox(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	if _, err := e.ApplyAction("deadbeef", nil); err == nil {
		t.Fatalf("expected error before first snapshot")
	}
	if err := e.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Plan.Actions) == 0 {
		t.Fatalf("expected at least one action, got %+v", snap.Plan)
	}
	id := snap.Plan.Actions[0].ActionID

	status, err := e.ApplyAction(id, map[string]any{"minutes": 2})
	if err != nil {
		t.Fatalf("expected sandbox apply, got %v", err)
	}
	if status.Applied || status.Status != "sandbox, not applied" {
		t.Fatalf("expected sandbox refusal, got %+v", status)
	}
	if _, err := e.ApplyAction("unknown", nil); err == nil {
		t.Fatalf("expected unknown action rejection")
	}

	live := testEngine(t)
	live.cfg.Live = true
	if err := live.Tick(); err != nil {
		t.Fatalf("expected tick, got %v", err)
	}
	ls := live.Snapshot()
	status, err = live.ApplyAction(ls.Plan.Actions[0].ActionID, nil)
	if err != nil || !status.Applied {
		t.Fatalf("expected live apply, got %+v err=%v", status, err)
	}
}
