package scenario

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/policy"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/twin"
)

func corridor(t *testing.T) ([]timetable.TrainEvent, []timetable.Station, []timetable.Block) {
	t.Helper()
	events, stations, blocks, err := Generate(DefaultCorridor("2026-08-25"))
	if err != nil {
		t.Fatalf("expected corridor, got %v", err)
	}
	return events, stations, blocks
}

func TestGenerateCorridor(t *testing.T) {
	t.Parallel()

	events, stations, blocks := corridor(t)
	if len(stations) != 3 || len(blocks) != 4 {
		t.Fatalf("expected 3 stations and 4 directed blocks, got %d/%d", len(stations), len(blocks))
	}
	if len(events) != 8*3 {
		t.Fatalf("expected 24 stops, got %d", len(events))
	}
	// Deterministic: a second generation is identical.
	again, _, _, err := Generate(DefaultCorridor("2026-08-25"))
	if err != nil {
		t.Fatalf("expected corridor, got %v", err)
	}
	if diff := cmp.Diff(events, again); diff != "" {
		t.Fatalf("generation not deterministic (-want +got):\n%s", diff)
	}
	// T00001 runs forward, T00002 reversed.
	if events[0].StationID != "STN-A" || events[3].StationID != "STN-C" {
		t.Fatalf("expected alternating directions, got %s then %s", events[0].StationID, events[3].StationID)
	}
}

func TestApplyLateStart(t *testing.T) {
	t.Parallel()

	events, stations, blocks := corridor(t)
	origDep := *events[0].SchedDep

	ev, _, _, err := Apply(Disruption("T00001", "STN-A", 5), events, stations, blocks)
	if err != nil {
		t.Fatalf("expected apply, got %v", err)
	}
	if !ev[0].SchedDep.Equal(origDep.Add(5 * time.Minute)) {
		t.Fatalf("expected +5 min at STN-A, got %v", ev[0].SchedDep)
	}
	// Other stops and the source slice are untouched.
	if !events[0].SchedDep.Equal(origDep) {
		t.Fatalf("expected source unmodified, got %v", events[0].SchedDep)
	}
	if !ev[1].SchedDep.Equal(*events[1].SchedDep) {
		t.Fatalf("expected later stops unchanged, got %v", ev[1].SchedDep)
	}
}

func TestApplyTemplates(t *testing.T) {
	t.Parallel()

	events, stations, blocks := corridor(t)

	_, st, _, err := Apply(Spec{Kind: KindPlatformOutage, StationID: "STN-B", Platforms: 0}, events, stations, blocks)
	if err != nil {
		t.Fatalf("expected apply, got %v", err)
	}
	for _, s := range st {
		if s.StationID == "STN-B" && s.Platforms != 1 {
			t.Fatalf("expected outage floor of 1 platform, got %d", s.Platforms)
		}
	}

	_, _, bl, err := Apply(Spec{Kind: KindSpeedRestriction, U: "STN-A", V: "STN-B", SpeedFactor: 1.5}, events, stations, blocks)
	if err != nil {
		t.Fatalf("expected apply, got %v", err)
	}
	for _, b := range bl {
		if b.U == "STN-A" && b.V == "STN-B" && b.MinRunTimeMin != 12 {
			t.Fatalf("expected 12 min restricted run, got %v", b.MinRunTimeMin)
		}
		if b.U == "STN-B" && b.V == "STN-A" && b.MinRunTimeMin != 8 {
			t.Fatalf("expected reverse direction untouched, got %v", b.MinRunTimeMin)
		}
	}

	_, _, single, err := Apply(Spec{Kind: KindSingleLine}, events, stations, blocks)
	if err != nil {
		t.Fatalf("expected apply, got %v", err)
	}
	for _, b := range single {
		if b.Capacity != 1 {
			t.Fatalf("expected capacity 1 everywhere, got %+v", b)
		}
	}

	if _, _, _, err := Apply(Spec{Kind: Kind("meteor")}, events, stations, blocks); err == nil {
		t.Fatalf("expected unknown kind rejection")
	}
	if _, _, _, err := Apply(Spec{Kind: KindLateStart}, events, stations, blocks); err == nil {
		t.Fatalf("expected late_start parameter rejection")
	}
}

func TestRunScenario(t *testing.T) {
	t.Parallel()

	events, stations, blocks := corridor(t)
	out, err := Run(Disruption("T00001", "STN-A", 5), events, stations, blocks, policy.Default(), radar.Scan{})
	if err != nil {
		t.Fatalf("expected run, got %v", err)
	}
	if out.Name != "late_start" {
		t.Fatalf("expected late_start, got %s", out.Name)
	}
	if out.KPIs.TrainsServed != 8 {
		t.Fatalf("expected 8 trains served, got %+v", out.KPIs)
	}
}

func TestRunBatchPareto(t *testing.T) {
	t.Parallel()

	events, stations, blocks := corridor(t)
	specs := []Spec{
		{Name: "small", Kind: KindLateStart, TrainID: "T00001", StationID: "STN-A", DelayMin: 2},
		{Name: "large", Kind: KindLateStart, TrainID: "T00001", StationID: "STN-A", DelayMin: 15},
	}
	batch, err := RunBatch(specs, events, stations, blocks, policy.Default(), radar.Scan{})
	if err != nil {
		t.Fatalf("expected batch, got %v", err)
	}
	if len(batch.Results) != 2 || len(batch.ParetoIndices) == 0 {
		t.Fatalf("expected 2 results with a front, got %+v", batch)
	}
}

func TestParetoFront(t *testing.T) {
	t.Parallel()

	results := []Outcome{
		{Name: "a", KPIs: twin.KPIs{AvgExitDelayMin: 2, TrainsServed: 8}},
		{Name: "b", KPIs: twin.KPIs{AvgExitDelayMin: 5, TrainsServed: 8}}, // dominated by a
		{Name: "c", KPIs: twin.KPIs{AvgExitDelayMin: 4, TrainsServed: 9}},
	}
	front := ParetoFront(results)
	if diff := cmp.Diff([]int{0, 2}, front); diff != "" {
		t.Fatalf("front mismatch (-want +got):\n%s", diff)
	}
}

func finalized(t *testing.T, minutes float64) decision.Plan {
	t.Helper()
	p := decision.Plan{Actions: []decision.Action{{
		Type:      decision.ActionHold,
		TrainID:   "T00001",
		AtStation: "STN-A",
		Minutes:   minutes,
		Reason:    "headway",
	}}}
	if err := p.Finalize(); err != nil {
		t.Fatalf("expected finalize, got %v", err)
	}
	return p
}

func TestPublishAndRevertPlan(t *testing.T) {
	t.Parallel()

	store := artifacts.Store{Root: t.TempDir()}
	p1 := finalized(t, 2)
	p2 := finalized(t, 5)

	if err := PublishPlan(store, "SEC1", "2026-08-25", p1); err != nil {
		t.Fatalf("expected publish, got %v", err)
	}
	if err := PublishPlan(store, "SEC1", "2026-08-25", p2); err != nil {
		t.Fatalf("expected publish, got %v", err)
	}

	var prev decision.Plan
	if err := artifacts.ReadJSON(store.Path("SEC1", "2026-08-25", artifacts.RecPlanPrev), &prev); err != nil {
		t.Fatalf("expected rotated plan, got %v", err)
	}
	if prev.PlanVersion != p1.PlanVersion {
		t.Fatalf("expected prior plan retained, got %s want %s", prev.PlanVersion, p1.PlanVersion)
	}

	restored, err := RevertPlan(store, "SEC1", "2026-08-25")
	if err != nil {
		t.Fatalf("expected revert, got %v", err)
	}
	if restored.PlanVersion != p1.PlanVersion {
		t.Fatalf("expected original plan version restored, got %s", restored.PlanVersion)
	}
	cur, ok, err := CurrentPlan(store, "SEC1", "2026-08-25")
	if err != nil || !ok {
		t.Fatalf("expected current plan, got ok=%v err=%v", ok, err)
	}
	if cur.PlanVersion != p1.PlanVersion {
		t.Fatalf("expected reverted current plan, got %s", cur.PlanVersion)
	}
}

func TestRevertWithoutHistory(t *testing.T) {
	t.Parallel()

	store := artifacts.Store{Root: t.TempDir()}
	if _, err := RevertPlan(store, "SEC1", "2026-08-25"); err == nil {
		t.Fatalf("expected revert without history to fail")
	}
}
