package graph

import (
	"fmt"
	"strings"

	"github.com/songzhibin97/task-scheduler/types"
)

// CircularDependencyError reports a dependency cycle. Cycle names the tasks
// on one detected cycle, in traversal order.
type CircularDependencyError struct {
	WorkflowID string
	Cycle      []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency in workflow %q: %s",
		e.WorkflowID, strings.Join(e.Cycle, " -> "))
}

// DependencyGraph is the dependency structure of one workflow, derived
// lazily from its tasks. It is never persisted; build a fresh graph per run
// so dependency and priority changes are always observed.
//
// Dependency references to task IDs that are not part of the workflow are
// ignored and treated as already satisfied. External dependency resolution is
// the caller's concern; this silent-success policy is deliberate and covered
// by tests.
type DependencyGraph struct {
	workflowID string
	order      []string            // task IDs in insertion order
	deps       map[string][]string // task ID -> declared dependencies
	priorities map[string]int
}

// FromWorkflow builds a DependencyGraph from a workflow's current tasks.
func FromWorkflow(wf *types.Workflow) *DependencyGraph {
	g := &DependencyGraph{
		workflowID: wf.ID,
		deps:       make(map[string][]string, wf.Len()),
		priorities: make(map[string]int, wf.Len()),
	}
	for _, t := range wf.Tasks() {
		g.order = append(g.order, t.ID)
		g.deps[t.ID] = t.Dependencies
		g.priorities[t.ID] = t.Priority
	}
	return g
}

// Traversal colors for cycle detection.
const (
	white = iota // unvisited
	gray         // in progress
	black        // done
)

// ExecutionOrder returns all task IDs ordered so that every task appears
// strictly after its (non-dangling) dependencies. Independent tasks keep
// workflow insertion order. On a cycle it returns a *CircularDependencyError
// naming the cycle. O(V+E).
func (g *DependencyGraph) ExecutionOrder() ([]string, error) {
	order, cycles := g.sort()
	if len(cycles) > 0 {
		return nil, &CircularDependencyError{WorkflowID: g.workflowID, Cycle: cycles[0]}
	}
	return order, nil
}

// PartialOrder is the degraded form of ExecutionOrder used for
// partial-failure runs: tasks on a cycle are reported separately, every task
// off a cycle still gets a dependency-respecting position in order.
func (g *DependencyGraph) PartialOrder() (order []string, cycles [][]string) {
	return g.sort()
}

type frame struct {
	id   string
	next int
}

// sort is an iterative three-color depth-first postorder walk. Recursion is
// replaced with an explicit stack so very large workflows cannot overflow
// the call stack.
func (g *DependencyGraph) sort() (order []string, cycles [][]string) {
	color := make(map[string]int, len(g.order))
	onCycle := make(map[string]bool)

	for _, root := range g.order {
		if color[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next == 0 {
				color[f.id] = gray
			}

			advanced := false
			for f.next < len(g.deps[f.id]) {
				dep := g.deps[f.id][f.next]
				f.next++
				if _, known := g.deps[dep]; !known {
					// Dangling reference: treated as already satisfied.
					continue
				}
				switch color[dep] {
				case white:
					stack = append(stack, frame{id: dep})
					advanced = true
				case gray:
					cycle := extractCycle(stack, dep)
					cycles = append(cycles, cycle)
					for _, id := range cycle {
						onCycle[id] = true
					}
				}
				if advanced {
					break
				}
			}
			if advanced {
				continue
			}

			color[f.id] = black
			if !onCycle[f.id] {
				order = append(order, f.id)
			}
			stack = stack[:len(stack)-1]
		}
	}
	return order, cycles
}

// extractCycle reads the cycle members off the traversal stack, from the
// re-entered gray node up to the current node.
func extractCycle(stack []frame, dep string) []string {
	start := 0
	for i, f := range stack {
		if f.id == dep {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start)
	for _, f := range stack[start:] {
		cycle = append(cycle, f.id)
	}
	return cycle
}

// EffectivePriorities computes each task's scheduling priority with
// inheritance applied: a task's effective priority is the maximum of its own
// priority and the effective priorities of every task that depends on it,
// propagated transitively. The result is recomputed from the current graph on
// every call, never cached, so priority or dependency mutations take effect
// immediately.
func (g *DependencyGraph) EffectivePriorities() map[string]int {
	eff := make(map[string]int, len(g.order))
	for id, p := range g.priorities {
		eff[id] = p
	}

	// Fixed-point propagation along reverse edges. Bounded by the number of
	// tasks; cycles converge because max is idempotent.
	for i := 0; i < len(g.order); i++ {
		changed := false
		for _, id := range g.order {
			for _, dep := range g.deps[id] {
				if _, known := g.deps[dep]; !known {
					continue
				}
				if eff[id] > eff[dep] {
					eff[dep] = eff[id]
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return eff
}
