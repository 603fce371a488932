package normalize

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StationMap allocates stable station ids for human-readable names. Existing
// allocations are never renumbered; new names append.
type StationMap struct {
	mu     sync.Mutex
	byName map[string]string
	names  map[string]string
	next   int
}

// NewStationMap returns an empty map.
func NewStationMap() *StationMap {
	return &StationMap{
		byName: make(map[string]string),
		names:  make(map[string]string),
		next:   1,
	}
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// Assign returns the station id for name, allocating a new id on first sight.
func (m *StationMap) Assign(name string) string {
	key := normalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byName[key]; ok {
		return id
	}
	id := fmt.Sprintf("ST%04d", m.next)
	m.next++
	m.byName[key] = id
	m.names[id] = name
	return id
}

// Reserve records an externally supplied id so future name-based assignments
// never collide with it.
func (m *StationMap) Reserve(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[id]; ok {
		return
	}
	m.names[id] = name
	if name != "" {
		key := normalizeName(name)
		if _, taken := m.byName[key]; !taken {
			m.byName[key] = id
		}
	}
}

// Lookup returns the id already allocated to name, if any.
func (m *StationMap) Lookup(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[normalizeName(name)]
	return id, ok
}

// Len returns the number of known stations.
func (m *StationMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

// Save writes the map as a two-column CSV (station_id, name) sorted by id.
func (m *StationMap) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("station map dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("station map create: %w", err)
	}
	defer f.Close()

	ids := make([]string, 0, len(m.names))
	for id := range m.names {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := csv.NewWriter(f)
	if err := w.Write([]string{"station_id", "name"}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.Write([]string{id, m.names[id]}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadStationMap reads a previously saved map; a missing file yields an empty
// map so first runs need no bootstrap step.
func LoadStationMap(path string) (*StationMap, error) {
	m := NewStationMap()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("station map open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("station map read: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) < 2 {
			continue
		}
		id, name := rec[0], rec[1]
		m.names[id] = name
		if name != "" {
			m.byName[normalizeName(name)] = id
		}
		var n int
		if _, err := fmt.Sscanf(id, "ST%04d", &n); err == nil && n >= m.next {
			m.next = n + 1
		}
	}
	return m, nil
}
