package ingest

import "sync"

// DefaultDedupeCapacity bounds the remembered key window.
const DefaultDedupeCapacity = 10000

// Deduper remembers recently seen event keys in a bounded FIFO window.
type Deduper struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

// NewDeduper builds a deduper; capacity <= 0 takes the default.
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = DefaultDedupeCapacity
	}
	return &Deduper{cap: capacity, seen: make(map[string]struct{}, capacity)}
}

// Seen records key and reports whether it was already present.
func (d *Deduper) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}

// Len returns the number of remembered keys.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
