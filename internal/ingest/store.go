package ingest

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/railops/section-control/api/timetable"
)

const eventsTable = "events"

func storeSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			eventsTable: {
				Name: eventsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "EventKey"},
					},
					"train": {
						Name:    "train",
						Indexer: &memdb.StringFieldIndex{Field: "TrainID"},
					},
				},
			},
		},
	}
}

// EventStore holds the raw envelope feed, keyed by event_key so replays of
// the same wire record are idempotent.
type EventStore struct {
	db *memdb.MemDB
}

// NewEventStore builds an empty store.
func NewEventStore() (*EventStore, error) {
	db, err := memdb.NewMemDB(storeSchema())
	if err != nil {
		return nil, fmt.Errorf("event store schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Merge inserts the envelope, replacing any prior record with the same
// event_key. Returns true when the key was not present before.
func (s *EventStore) Merge(env timetable.EventEnvelope) (bool, error) {
	if err := env.Validate(); err != nil {
		return false, fmt.Errorf("merge: %w", err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(eventsTable, "id", env.EventKey)
	if err != nil {
		return false, fmt.Errorf("merge lookup: %w", err)
	}
	stored := env
	if err := txn.Insert(eventsTable, &stored); err != nil {
		return false, fmt.Errorf("merge insert: %w", err)
	}
	txn.Commit()
	return existing == nil, nil
}

// Get fetches one envelope by event_key.
func (s *EventStore) Get(eventKey string) (timetable.EventEnvelope, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(eventsTable, "id", eventKey)
	if err != nil {
		return timetable.EventEnvelope{}, false, fmt.Errorf("get: %w", err)
	}
	if raw == nil {
		return timetable.EventEnvelope{}, false, nil
	}
	return *raw.(*timetable.EventEnvelope), true, nil
}

// ByTrain returns all envelopes for one train, ordered by ts then event_key.
func (s *EventStore) ByTrain(trainID string) ([]timetable.EventEnvelope, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(eventsTable, "train", trainID)
	if err != nil {
		return nil, fmt.Errorf("by train: %w", err)
	}
	return collect(it), nil
}

// All returns every stored envelope, ordered by ts then event_key.
func (s *EventStore) All() ([]timetable.EventEnvelope, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(eventsTable, "id")
	if err != nil {
		return nil, fmt.Errorf("all: %w", err)
	}
	return collect(it), nil
}

// Len reports the number of distinct event keys stored.
func (s *EventStore) Len() (int, error) {
	all, err := s.All()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func collect(it memdb.ResultIterator) []timetable.EventEnvelope {
	var out []timetable.EventEnvelope
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*timetable.EventEnvelope))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].EventKey < out[j].EventKey
	})
	return out
}
