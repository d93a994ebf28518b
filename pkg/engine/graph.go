package engine

import (
	"fmt"
	"sort"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// taskGraph indexes a workflow's dependency edges for cycle detection and
// wave scheduling. Edges point from a task to the tasks it depends on.
type taskGraph struct {
	tasks map[string]domain.ExecutionTask
	order map[string]int
	edges map[string][]string
}

// buildGraph validates the task set and returns its graph. It rejects
// duplicate task IDs, references to unknown tasks, and cyclic dependencies.
func buildGraph(tasks []domain.ExecutionTask) (*taskGraph, error) {
	g := &taskGraph{
		tasks: make(map[string]domain.ExecutionTask, len(tasks)),
		order: make(map[string]int, len(tasks)),
		edges: make(map[string][]string, len(tasks)),
	}

	for i, task := range tasks {
		if _, exists := g.tasks[task.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate task id %q", domain.ErrConfigInvalid, task.ID)
		}
		g.tasks[task.ID] = task
		g.order[task.ID] = i
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %q depends on unknown task %q", domain.ErrConfigInvalid, task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrCyclicDependency, cycle)
	}
	return g, nil
}

// findCycle runs depth-first search with coloring and returns the node chain
// of the first back edge found, or nil when the graph is acyclic.
func (g *taskGraph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				// Back edge: slice the path from the first occurrence.
				for i, node := range stack {
					if node == depID {
						return append(append([]string(nil), stack[i:]...), depID)
					}
				}
				return []string{depID, id, depID}
			case white:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range g.sortedIDs() {
		if colors[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// waves partitions the graph into execution layers: wave 0 holds tasks with
// no dependencies, wave N holds tasks whose deepest dependency sits in wave
// N-1. Tasks within a wave are ordered by submission order so scheduling is
// deterministic.
func (g *taskGraph) waves() [][]string {
	depth := make(map[string]int, len(g.tasks))

	var resolve func(id string) int
	resolve = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		max := 0
		for _, depID := range g.edges[id] {
			if d := resolve(depID) + 1; d > max {
				max = d
			}
		}
		depth[id] = max
		return max
	}

	deepest := 0
	for id := range g.tasks {
		if d := resolve(id); d > deepest {
			deepest = d
		}
	}

	out := make([][]string, deepest+1)
	for id, d := range depth {
		out[d] = append(out[d], id)
	}
	for _, wave := range out {
		sort.Slice(wave, func(i, j int) bool {
			return g.order[wave[i]] < g.order[wave[j]]
		})
	}
	return out
}

// dependencies returns the IDs a task depends on.
func (g *taskGraph) dependencies(id string) []string {
	return g.edges[id]
}

// sortedIDs returns all task IDs in submission order.
func (g *taskGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return g.order[ids[i]] < g.order[ids[j]]
	})
	return ids
}
