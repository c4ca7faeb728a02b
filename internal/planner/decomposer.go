// Package planner turns one submitted task into a validated set of
// sub-tasks with declared dependencies. Decomposition is fatal on error:
// an invalid description, an unregistered capability, or a cyclic
// dependency graph fails the whole task with no partial execution.
package planner

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentic/conclave/internal/agent"
	"github.com/agentic/conclave/internal/config"
	"github.com/agentic/conclave/internal/observability"
	"github.com/agentic/conclave/internal/scheduler"
)

// Decomposer produces a sub-task graph for a task.
type Decomposer interface {
	Decompose(task *scheduler.Task, opts config.ResolvedOptions) ([]*scheduler.SubTask, error)
}

// Heuristic is the built-in decomposer. Simple categorized tasks become a
// single sub-task; composite or high-complexity tasks expand into a
// plan -> code -> review -> test pipeline, with a debugging step when the
// description suggests a defect.
type Heuristic struct {
	registry *agent.Registry
	log      *observability.Logger
}

// NewHeuristic creates the built-in decomposer.
func NewHeuristic(registry *agent.Registry, log *observability.Logger) *Heuristic {
	if log == nil {
		log = observability.NewLogger("planner", nil)
	}
	return &Heuristic{registry: registry, log: log}
}

// Decompose implements Decomposer.
func (h *Heuristic) Decompose(task *scheduler.Task, opts config.ResolvedOptions) ([]*scheduler.SubTask, error) {
	if task == nil || strings.TrimSpace(task.Description) == "" {
		return nil, fmt.Errorf("%w: empty description", scheduler.ErrInvalidTask)
	}
	if !scheduler.KnownCategory(task.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", scheduler.ErrInvalidTask, task.Category)
	}

	complexity := agent.EstimateComplexity(task.Description)

	var subtasks []*scheduler.SubTask
	if task.Category == scheduler.CategoryComposite {
		subtasks = h.pipeline(task, complexity, opts.MaxSubtasks)
	} else {
		capability, _ := scheduler.CapabilityForCategory(task.Category)
		subtasks = []*scheduler.SubTask{h.subtask(task, task.Description, capability, complexity, nil)}
	}

	if err := Validate(subtasks, h.registry, opts); err != nil {
		return nil, err
	}
	h.log.Debug("task decomposed",
		"task_id", task.ID, "subtasks", len(subtasks), "complexity", complexity)
	return subtasks, nil
}

// pipeline builds the multi-stage decomposition for composite tasks,
// truncated from the tail when it would exceed the sub-task ceiling.
func (h *Heuristic) pipeline(task *scheduler.Task, complexity float64, maxSubtasks int) []*scheduler.SubTask {
	plan := h.subtask(task, "plan: "+task.Description, scheduler.CapPlanning, complexity, nil)
	code := h.subtask(task, "implement: "+task.Description, scheduler.CapCoding, complexity, []string{plan.ID})

	stages := []*scheduler.SubTask{plan, code}

	lower := strings.ToLower(task.Description)
	if strings.Contains(lower, "bug") || strings.Contains(lower, "fix") || strings.Contains(lower, "error") {
		debug := h.subtask(task, "diagnose: "+task.Description, scheduler.CapDebugging, complexity, []string{code.ID})
		stages = append(stages, debug)
	}

	last := stages[len(stages)-1]
	review := h.subtask(task, "review: "+task.Description, scheduler.CapReview, complexity, []string{last.ID})
	test := h.subtask(task, "test: "+task.Description, scheduler.CapTesting, complexity, []string{last.ID})
	test.Optional = complexity < 0.5 // Light tasks tolerate a failed test stage
	stages = append(stages, review, test)

	if len(stages) > maxSubtasks {
		stages = stages[:maxSubtasks]
	}
	return stages
}

func (h *Heuristic) subtask(task *scheduler.Task, name string, capability scheduler.Capability, complexity float64, deps []string) *scheduler.SubTask {
	return &scheduler.SubTask{
		ID:                 uuid.NewString(),
		ParentID:           task.ID,
		Name:               name,
		RequiredCapability: capability,
		DependsOn:          deps,
		Input:              map[string]any{},
		Status:             scheduler.StatusPending,
		Complexity:         complexity,
	}
}

// Validate checks a decomposition against the contract shared by all
// Decomposer implementations: 1..max_subtasks sub-tasks, every capability
// registered, quality-sensitive flags applied, and an acyclic graph.
func Validate(subtasks []*scheduler.SubTask, registry *agent.Registry, opts config.ResolvedOptions) error {
	if len(subtasks) == 0 {
		return fmt.Errorf("%w: decomposition produced no subtasks", scheduler.ErrInvalidTask)
	}
	if len(subtasks) > opts.MaxSubtasks {
		return fmt.Errorf("%w: decomposition produced %d subtasks, ceiling is %d",
			scheduler.ErrInvalidTask, len(subtasks), opts.MaxSubtasks)
	}

	dag := scheduler.NewDAG()
	for _, st := range subtasks {
		if !registry.Known(st.RequiredCapability) {
			return fmt.Errorf("%w: %q", scheduler.ErrUnknownCapability, st.RequiredCapability)
		}
		st.QualitySensitive = opts.QualitySensitive[string(st.RequiredCapability)]
		if err := dag.Add(st); err != nil {
			return fmt.Errorf("%w: %v", scheduler.ErrInvalidTask, err)
		}
	}
	if _, err := dag.Validate(); err != nil {
		if strings.Contains(err.Error(), "non-existent") {
			return fmt.Errorf("%w: %v", scheduler.ErrInvalidTask, err)
		}
		return err
	}
	return nil
}
