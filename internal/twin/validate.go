package twin

import (
	"fmt"
	"sort"
	"time"

	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/graph"
)

// CheckBlockSeparation verifies that every block's windows fit its track
// capacity with headway respected between successors on the same track. A
// violation is fatal to the replay that produced the windows.
func CheckBlockSeparation(g *graph.SectionGraph, occ []timetable.BlockOccupancy) error {
	byBlock := make(map[string][]timetable.BlockOccupancy)
	for _, w := range occ {
		byBlock[w.BlockID] = append(byBlock[w.BlockID], w)
	}
	for blockID, windows := range byBlock {
		block, ok := g.Block(blockID)
		if !ok {
			return &SafetyInvariantError{BlockID: blockID, Detail: "occupancy on unknown block"}
		}
		sort.Slice(windows, func(i, j int) bool {
			return windows[i].EntryTime.Before(windows[j].EntryTime)
		})
		// Greedy single-pass machine assignment: a window goes on the track
		// that frees earliest; if even that track is still protected, no
		// assignment exists.
		tails := make([]time.Time, 0, block.Capacity)
		headway := minutes(block.HeadwayMin)
		for _, w := range windows {
			if len(tails) < block.Capacity {
				tails = append(tails, w.ExitTime.Add(headway))
				continue
			}
			minIdx := 0
			for i := 1; i < len(tails); i++ {
				if tails[i].Before(tails[minIdx]) {
					minIdx = i
				}
			}
			if w.EntryTime.Before(tails[minIdx]) {
				return &SafetyInvariantError{
					BlockID: blockID,
					Detail: fmt.Sprintf("train %s enters at %s before track frees at %s",
						w.TrainID, w.EntryTime.Format(time.RFC3339), tails[minIdx].Format(time.RFC3339)),
				}
			}
			tails[minIdx] = w.ExitTime.Add(headway)
		}
	}
	return nil
}

// CheckPlatformSeparation verifies per-slot platform windows never overlap.
func CheckPlatformSeparation(occ []timetable.PlatformOccupancy) error {
	type slotKey struct {
		station string
		slot    int
	}
	bySlot := make(map[slotKey][]timetable.PlatformOccupancy)
	for _, w := range occ {
		k := slotKey{w.StationID, w.SlotIndex}
		bySlot[k] = append(bySlot[k], w)
	}
	for k, windows := range bySlot {
		sort.Slice(windows, func(i, j int) bool {
			return windows[i].ArrPlatform.Before(windows[j].ArrPlatform)
		})
		for i := 1; i < len(windows); i++ {
			if windows[i].ArrPlatform.Before(windows[i-1].DepPlatform) {
				return &SafetyInvariantError{
					BlockID: fmt.Sprintf("%s:slot%d", k.station, k.slot),
					Detail: fmt.Sprintf("train %s arrives before train %s departs",
						windows[i].TrainID, windows[i-1].TrainID),
				}
			}
		}
	}
	return nil
}
