package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG is the dependency graph of one task's sub-tasks.
type DAG struct {
	mu         sync.RWMutex
	subtasks   map[string]*SubTask
	dependents map[string][]string // sub-task ID -> IDs that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		subtasks:   make(map[string]*SubTask),
		dependents: make(map[string][]string),
	}
}

// Add inserts a sub-task. Returns an error if the ID already exists.
func (d *DAG) Add(st *SubTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subtasks[st.ID]; exists {
		return fmt.Errorf("subtask %q already exists", st.ID)
	}
	d.subtasks[st.ID] = st
	for _, depID := range st.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], st.ID)
	}
	return nil
}

// Validate verifies every declared dependency exists and the graph is
// acyclic. Returns a topological order of sub-task IDs, or
// ErrCyclicDependency wrapped with the offending detail.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, st := range d.subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := d.subtasks[depID]; !exists {
				return nil, fmt.Errorf("subtask %q depends on non-existent subtask %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for id, st := range d.subtasks {
		if len(st.DependsOn) == 0 {
			// Edge from nil keeps isolated sub-tasks in the sort result.
			edges = append(edges, toposort.Edge{nil, id})
		} else {
			for _, depID := range st.DependsOn {
				edges = append(edges, toposort.Edge{depID, id})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(d.subtasks) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range d.subtasks {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d subtasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}

// Eligible returns clones of all pending sub-tasks whose dependencies are
// fully resolved. A dependency resolves when Completed, or when Failed but
// marked optional.
func (d *DAG) Eligible() []*SubTask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var eligible []*SubTask
	for _, st := range d.subtasks {
		if st.Status != StatusPending {
			continue
		}
		ready := true
		for _, depID := range st.DependsOn {
			dep, exists := d.subtasks[depID]
			if !exists || !resolved(dep) {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, st.Clone())
		}
	}
	return eligible
}

func resolved(dep *SubTask) bool {
	switch dep.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return dep.Optional
	}
	return false
}

// Blocked returns clones of pending sub-tasks that can never become
// eligible because a required dependency failed.
func (d *DAG) Blocked() []*SubTask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var blocked []*SubTask
	for _, st := range d.subtasks {
		if st.Status != StatusPending {
			continue
		}
		for _, depID := range st.DependsOn {
			dep, exists := d.subtasks[depID]
			if exists && dep.Status == StatusFailed && !dep.Optional {
				blocked = append(blocked, st.Clone())
				break
			}
		}
	}
	return blocked
}

// MarkRunning transitions a sub-task to Running and records its agent.
func (d *DAG) MarkRunning(id, agentID string) error {
	return d.update(id, func(st *SubTask) {
		st.Status = StatusRunning
		st.AssignedAgent = agentID
	})
}

// MarkAwaitingConsensus parks a sub-task while evaluators deliberate on its
// result.
func (d *DAG) MarkAwaitingConsensus(id string, result *ExecutionResult) error {
	return d.update(id, func(st *SubTask) {
		st.Status = StatusAwaitingConsensus
		st.Result = result
	})
}

// MarkCompleted transitions a sub-task to Completed with its result.
func (d *DAG) MarkCompleted(id string, result *ExecutionResult) error {
	return d.update(id, func(st *SubTask) {
		st.Status = StatusCompleted
		st.Result = result
		st.Err = nil
	})
}

// MarkFailed transitions a sub-task to Failed.
func (d *DAG) MarkFailed(id string, err error) error {
	return d.update(id, func(st *SubTask) {
		st.Status = StatusFailed
		st.Err = err
	})
}

// RecordAttempt increments a sub-task's attempt counter.
func (d *DAG) RecordAttempt(id string) error {
	return d.update(id, func(st *SubTask) { st.Attempts++ })
}

func (d *DAG) update(id string, fn func(*SubTask)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, exists := d.subtasks[id]
	if !exists {
		return fmt.Errorf("subtask %q not found", id)
	}
	fn(st)
	return nil
}

// Get returns a clone of the sub-task with the given ID.
func (d *DAG) Get(id string) (*SubTask, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, exists := d.subtasks[id]
	if !exists {
		return nil, false
	}
	return st.Clone(), true
}

// SubTasks returns clones of all sub-tasks.
func (d *DAG) SubTasks() []*SubTask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*SubTask, 0, len(d.subtasks))
	for _, st := range d.subtasks {
		out = append(out, st.Clone())
	}
	return out
}

// Counts tallies sub-tasks per status.
func (d *DAG) Counts() map[Status]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[Status]int)
	for _, st := range d.subtasks {
		counts[st.Status]++
	}
	return counts
}
