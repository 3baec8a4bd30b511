// Package planner converts a dependency graph of tasks into layered parallel
// execution groups and optionally refines the grouping with advisory input.
package planner

import (
	"fmt"
	"strings"
)

// TaskNode is one unit of work in a workflow. Immutable once a plan is built.
type TaskNode struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// ExecutionPlan groups tasks into ordered layers; within a layer, tasks run
// in parallel. Every task in layer k has all prerequisites in layers 0..k-1.
type ExecutionPlan struct {
	Layers [][]string          `json:"layers"`
	Tasks  map[string]TaskNode `json:"tasks"`
	Deps   map[string][]string `json:"deps"`
}

// CycleError reports that no valid topological order exists. The tasks that
// could not be placed are listed for diagnostics.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency graph contains a cycle involving: %s", strings.Join(e.Remaining, ", "))
}

// BuildPlan performs a layered topological sort: each round places every task
// whose prerequisites have all been placed, and that set becomes the next
// layer. Placement follows input order, so plans are deterministic for a
// given task list. Returns a *CycleError when unplaced tasks remain but none
// can be placed.
func BuildPlan(tasks []TaskNode) (*ExecutionPlan, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks to plan")
	}

	byID := make(map[string]TaskNode, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task with empty id")
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}

	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, d := range t.DependsOn {
			if _, ok := byID[d]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, d)
			}
		}
		deps[t.ID] = append([]string(nil), t.DependsOn...)
	}

	placed := make(map[string]bool, len(tasks))
	var layers [][]string

	for len(placed) < len(tasks) {
		var layer []string
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			ready := true
			for _, d := range deps[t.ID] {
				if !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, t.ID)
			}
		}

		if len(layer) == 0 {
			var remaining []string
			for _, t := range tasks {
				if !placed[t.ID] {
					remaining = append(remaining, t.ID)
				}
			}
			return nil, &CycleError{Remaining: remaining}
		}

		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
	}

	return &ExecutionPlan{
		Layers: layers,
		Tasks:  byID,
		Deps:   deps,
	}, nil
}

// layerIndex maps every task id to the index of its layer.
func (p *ExecutionPlan) layerIndex() map[string]int {
	idx := make(map[string]int, len(p.Tasks))
	for i, layer := range p.Layers {
		for _, id := range layer {
			idx[id] = i
		}
	}
	return idx
}

// Validate re-checks the plan invariants: completeness, no duplicates, and
// prerequisite-precedes-dependent ordering.
func (p *ExecutionPlan) Validate() error {
	idx := p.layerIndex()
	seen := 0
	for _, layer := range p.Layers {
		seen += len(layer)
	}
	if seen != len(p.Tasks) || len(idx) != len(p.Tasks) {
		return fmt.Errorf("plan does not cover the task set exactly")
	}
	for id, prereqs := range p.Deps {
		for _, d := range prereqs {
			di, ok := idx[d]
			if !ok {
				return fmt.Errorf("task %q has unplaced prerequisite %q", id, d)
			}
			if di >= idx[id] {
				return fmt.Errorf("task %q placed before prerequisite %q", id, d)
			}
		}
	}
	return nil
}
