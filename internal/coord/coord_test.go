package coord

import (
	"testing"
	"time"

	"github.com/railops/section-control/api/timetable"
)

func ts(h, m int) time.Time {
	return time.Date(2026, 8, 25, h, m, 0, 0, time.UTC)
}

func TestHandshakeHoldsOvershootingArrivals(t *testing.T) {
	t.Parallel()

	occA := []timetable.BlockOccupancy{
		// A arrives at boundary 08:10 - before B's earliest slot, aligned.
		{TrainID: "A", BlockID: "S1-BX", U: "S1", V: "BX", EntryTime: ts(8, 0), ExitTime: ts(8, 10)},
		// B arrives 08:25, 10 minutes past the slot.
		{TrainID: "B", BlockID: "S1-BX", U: "S1", V: "BX", EntryTime: ts(8, 15), ExitTime: ts(8, 25)},
	}
	occB := []timetable.BlockOccupancy{
		{TrainID: "X", BlockID: "BX-S9", U: "BX", V: "S9", EntryTime: ts(8, 15), ExitTime: ts(8, 30)},
		{TrainID: "Y", BlockID: "BX-S9", U: "BX", V: "S9", EntryTime: ts(8, 45), ExitTime: ts(9, 0)},
	}

	res, err := Handshake(occA, occB, "SEC2", "BX")
	if err != nil {
		t.Fatalf("expected handshake, got %v", err)
	}
	if !res.EarliestDepB.Equal(ts(8, 15)) {
		t.Fatalf("expected earliest slot 08:15, got %v", res.EarliestDepB)
	}
	if res.Candidates != 2 {
		t.Fatalf("expected 2 candidates, got %d", res.Candidates)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected 1 hold, got %+v", res.Actions)
	}
	a := res.Actions[0]
	if a.TrainID != "B" || a.AtStation != "S1" || a.Minutes != 10 {
		t.Fatalf("expected 10-minute hold for B at S1, got %+v", a)
	}
	if a.Reason != "boundary_handshake" || a.ActionID == "" {
		t.Fatalf("expected stamped handshake action, got %+v", a)
	}
}

func TestHandshakeUsesLastArrivalPerTrain(t *testing.T) {
	t.Parallel()

	// Train A touches the boundary twice; only the later window counts.
	occA := []timetable.BlockOccupancy{
		{TrainID: "A", BlockID: "S1-BX", U: "S1", V: "BX", EntryTime: ts(8, 0), ExitTime: ts(8, 10)},
		{TrainID: "A", BlockID: "S3-BX", U: "S3", V: "BX", EntryTime: ts(9, 0), ExitTime: ts(9, 10)},
	}
	occB := []timetable.BlockOccupancy{
		{TrainID: "X", BlockID: "BX-S9", U: "BX", V: "S9", EntryTime: ts(9, 0), ExitTime: ts(9, 15)},
	}
	res, err := Handshake(occA, occB, "SEC2", "BX")
	if err != nil {
		t.Fatalf("expected handshake, got %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].AtStation != "S3" || res.Actions[0].Minutes != 10 {
		t.Fatalf("expected 10-minute hold at S3, got %+v", res.Actions)
	}
}

func TestHandshakeNoDeparturesInB(t *testing.T) {
	t.Parallel()

	occA := []timetable.BlockOccupancy{
		{TrainID: "A", BlockID: "S1-BX", U: "S1", V: "BX", EntryTime: ts(8, 0), ExitTime: ts(8, 10)},
	}
	res, err := Handshake(occA, nil, "SEC2", "BX")
	if err != nil {
		t.Fatalf("expected handshake, got %v", err)
	}
	if len(res.Actions) != 0 || res.Note == "" {
		t.Fatalf("expected empty result with note, got %+v", res)
	}
}

func TestHandshakeRequiresBoundary(t *testing.T) {
	t.Parallel()

	if _, err := Handshake(nil, nil, "SEC2", ""); err == nil {
		t.Fatalf("expected missing boundary rejection")
	}
}
