package twin

import (
	"container/heap"
	"time"
)

// timeHeap is a min-heap of next-available timestamps, one per track.
type timeHeap []time.Time

func (h timeHeap) Len() int           { return len(h) }
func (h timeHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h timeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timeHeap) Push(x any)        { *h = append(*h, x.(time.Time)) }
func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// blockAllocator hands out track slots on one block. The zero time stands in
// for "available since forever".
type blockAllocator struct {
	slots timeHeap
}

func newBlockAllocator(capacity int) *blockAllocator {
	a := &blockAllocator{slots: make(timeHeap, capacity)}
	heap.Init(&a.slots)
	return a
}

// Allocate reserves the earliest-available track and returns the entry time,
// never before request. Commit must follow with the headway-protected tail.
func (a *blockAllocator) Allocate(request time.Time) time.Time {
	avail := heap.Pop(&a.slots).(time.Time)
	if avail.After(request) {
		return avail
	}
	return request
}

// Commit returns the track to the pool, busy until nextFree.
func (a *blockAllocator) Commit(nextFree time.Time) {
	heap.Push(&a.slots, nextFree)
}

// platformAllocator hands out dwell slots at one station.
type platformAllocator struct {
	free []time.Time
}

func newPlatformAllocator(platforms int) *platformAllocator {
	return &platformAllocator{free: make([]time.Time, platforms)}
}

// Allocate picks the earliest-free slot, or the pinned slot when pin is in
// range. Returns the slot index and the start time, never before request.
func (a *platformAllocator) Allocate(request time.Time, pin int) (int, time.Time) {
	slot := 0
	if pin >= 0 && pin < len(a.free) {
		slot = pin
	} else {
		for i := 1; i < len(a.free); i++ {
			if a.free[i].Before(a.free[slot]) {
				slot = i
			}
		}
	}
	start := request
	if a.free[slot].After(start) {
		start = a.free[slot]
	}
	return slot, start
}

// Commit marks the slot busy until dep.
func (a *platformAllocator) Commit(slot int, dep time.Time) {
	a.free[slot] = dep
}
