// Package graph holds the immutable section topology: stations as nodes and
// directed blocks as edges. Tables are read-only after construction.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/railops/section-control/api/timetable"
)

// BadTopologyError reports a structural defect in the (edges, nodes) input.
type BadTopologyError struct {
	Defects []string
}

func (e *BadTopologyError) Error() string {
	if len(e.Defects) == 1 {
		return "bad topology: " + e.Defects[0]
	}
	return fmt.Sprintf("bad topology: %d defects, first: %s", len(e.Defects), e.Defects[0])
}

// IsBadTopology reports whether err is a topology construction failure.
func IsBadTopology(err error) bool {
	var bt *BadTopologyError
	return errors.As(err, &bt)
}

// SectionGraph is the validated topology with O(1) lookups.
type SectionGraph struct {
	stations map[string]timetable.Station
	blocks   map[string]timetable.Block
	byHop    map[[2]string]string
	outgoing map[string][]string
}

// Build validates nodes and edges and assembles the lookup tables. All defects
// are collected before failing so one load reports everything wrong at once.
func Build(nodes []timetable.Station, edges []timetable.Block) (*SectionGraph, error) {
	g := &SectionGraph{
		stations: make(map[string]timetable.Station, len(nodes)),
		blocks:   make(map[string]timetable.Block, len(edges)),
		byHop:    make(map[[2]string]string, len(edges)),
		outgoing: make(map[string][]string),
	}

	var defects *multierror.Error
	for _, s := range nodes {
		if err := s.Validate(); err != nil {
			defects = multierror.Append(defects, err)
			continue
		}
		if _, dup := g.stations[s.StationID]; dup {
			defects = multierror.Append(defects, fmt.Errorf("duplicate station_id %s", s.StationID))
			continue
		}
		g.stations[s.StationID] = s
	}
	for _, b := range edges {
		if err := b.Validate(); err != nil {
			defects = multierror.Append(defects, err)
			continue
		}
		if _, dup := g.blocks[b.BlockID]; dup {
			defects = multierror.Append(defects, fmt.Errorf("duplicate block_id %s", b.BlockID))
			continue
		}
		if _, ok := g.stations[b.U]; !ok {
			defects = multierror.Append(defects, fmt.Errorf("block %s: unknown endpoint %s", b.BlockID, b.U))
			continue
		}
		if _, ok := g.stations[b.V]; !ok {
			defects = multierror.Append(defects, fmt.Errorf("block %s: unknown endpoint %s", b.BlockID, b.V))
			continue
		}
		g.blocks[b.BlockID] = b
		g.byHop[[2]string{b.U, b.V}] = b.BlockID
		g.outgoing[b.U] = append(g.outgoing[b.U], b.BlockID)
	}

	if err := defects.ErrorOrNil(); err != nil {
		msgs := make([]string, 0, len(defects.Errors))
		for _, d := range defects.Errors {
			msgs = append(msgs, d.Error())
		}
		return nil, &BadTopologyError{Defects: msgs}
	}
	for _, ids := range g.outgoing {
		sort.Strings(ids)
	}
	return g, nil
}

// Station returns the node record for id.
func (g *SectionGraph) Station(id string) (timetable.Station, bool) {
	s, ok := g.stations[id]
	return s, ok
}

// Block returns the edge record for id.
func (g *SectionGraph) Block(id string) (timetable.Block, bool) {
	b, ok := g.blocks[id]
	return b, ok
}

// BlockBetween returns the directed edge from u to v, if one exists.
func (g *SectionGraph) BlockBetween(u, v string) (timetable.Block, bool) {
	id, ok := g.byHop[[2]string{u, v}]
	if !ok {
		return timetable.Block{}, false
	}
	return g.blocks[id], true
}

// Outgoing returns the ids of blocks departing station u, sorted.
func (g *SectionGraph) Outgoing(u string) []string {
	return g.outgoing[u]
}

// Stations returns all nodes sorted by station_id.
func (g *SectionGraph) Stations() []timetable.Station {
	out := make([]timetable.Station, 0, len(g.stations))
	for _, s := range g.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Blocks returns all edges sorted by block_id.
func (g *SectionGraph) Blocks() []timetable.Block {
	out := make([]timetable.Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID < out[j].BlockID })
	return out
}

// NumStations returns the node count.
func (g *SectionGraph) NumStations() int { return len(g.stations) }

// NumBlocks returns the edge count.
func (g *SectionGraph) NumBlocks() int { return len(g.blocks) }
