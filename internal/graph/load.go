package graph

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/railops/section-control/api/timetable"
)

// LoadFiles reads the node and edge tables from parquet and builds the graph.
func LoadFiles(nodesPath, edgesPath string) (*SectionGraph, error) {
	nodes, err := parquet.ReadFile[timetable.Station](nodesPath)
	if err != nil {
		return nil, fmt.Errorf("read nodes %s: %w", nodesPath, err)
	}
	edges, err := parquet.ReadFile[timetable.Block](edgesPath)
	if err != nil {
		return nil, fmt.Errorf("read edges %s: %w", edgesPath, err)
	}
	return Build(nodes, edges)
}

// WriteFiles persists the graph's node and edge tables as parquet.
func (g *SectionGraph) WriteFiles(nodesPath, edgesPath string) error {
	if err := parquet.WriteFile(nodesPath, g.Stations()); err != nil {
		return fmt.Errorf("write nodes %s: %w", nodesPath, err)
	}
	if err := parquet.WriteFile(edgesPath, g.Blocks()); err != nil {
		return fmt.Errorf("write edges %s: %w", edgesPath, err)
	}
	return nil
}
