// Package scheduler holds the task data model and the sub-task dependency
// graph. Tasks are decomposed into SubTasks by the planner; the orchestrator
// drains the graph in waves of concurrently executing sub-tasks.
package scheduler

import (
	"time"
)

// Status represents the lifecycle state of a Task or SubTask.
type Status int

const (
	StatusPending           Status = iota // Created, dependencies not yet resolved
	StatusDecomposed                      // Task only: sub-task set produced
	StatusRunning                         // Currently executing
	StatusAwaitingConsensus               // Result produced, evaluators deliberating
	StatusCompleted                       // Finished successfully
	StatusFailed                          // Finished with error
)

// String returns the lowercase name used in logs, events, and storage.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDecomposed:
		return "decomposed"
	case StatusRunning:
		return "running"
	case StatusAwaitingConsensus:
		return "awaiting_consensus"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Category classifies a submitted task.
type Category string

const (
	CategoryPlanning  Category = "planning"
	CategoryCoding    Category = "coding"
	CategoryReview    Category = "review"
	CategoryDebug     Category = "debug"
	CategoryTest      Category = "test"
	CategoryComposite Category = "composite"
)

// KnownCategory reports whether c is one of the recognized task categories.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryPlanning, CategoryCoding, CategoryReview, CategoryDebug, CategoryTest, CategoryComposite:
		return true
	}
	return false
}

// Capability is a named skill an agent may support. Sub-tasks declare the
// capability they require; the registry maps roles to capability sets.
type Capability string

const (
	CapPlanning  Capability = "planning"
	CapCoding    Capability = "coding"
	CapReview    Capability = "review"
	CapDebugging Capability = "debugging"
	CapTesting   Capability = "testing"
)

// CapabilityForCategory maps a non-composite task category to the capability
// a single-step decomposition requires.
func CapabilityForCategory(c Category) (Capability, bool) {
	switch c {
	case CategoryPlanning:
		return CapPlanning, true
	case CategoryCoding:
		return CapCoding, true
	case CategoryReview:
		return CapReview, true
	case CategoryDebug:
		return CapDebugging, true
	case CategoryTest:
		return CapTesting, true
	}
	return "", false
}

// Task is one submitted unit of work. The orchestrator owns it exclusively
// for its lifetime; callers only ever see snapshots.
type Task struct {
	ID          string
	Description string
	Category    Category
	Status      Status
	FailureKind string // Cause code when Status == StatusFailed
	Err         error
	FinalScore  float64
	SubTasks    []*SubTask // Final snapshot, populated when the task terminates
	CreatedAt   time.Time
	CompletedAt time.Time
}

// SubTask is an atomic unit of work derived from a Task.
type SubTask struct {
	ID                 string
	ParentID           string
	Name               string
	RequiredCapability Capability
	DependsOn          []string
	Input              map[string]any
	Recommendations    []string // Aggregated evaluator feedback, set on revision rounds
	Status             Status
	AssignedAgent      string
	Attempts           int
	Deadline           time.Duration // Per-attempt execution deadline, zero means inherit default
	Complexity         float64       // Scheduling hint in [0,1], estimated by the decomposer
	QualitySensitive   bool          // Result is routed through consensus before acceptance
	Optional           bool          // Failure does not fail the parent task
	RevisionRound      int           // 0 for original sub-tasks, >0 for consensus-spawned revisions
	TargetAgent        string        // Revision sub-tasks are aimed at the original producer
	Result             *ExecutionResult
	Err                error
}

// Clone returns a deep copy safe to hand outside the scheduler's lock.
func (s *SubTask) Clone() *SubTask {
	if s == nil {
		return nil
	}
	cp := *s
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	cp.Recommendations = append([]string(nil), s.Recommendations...)
	if s.Input != nil {
		cp.Input = make(map[string]any, len(s.Input))
		for k, v := range s.Input {
			cp.Input[k] = v
		}
	}
	if s.Result != nil {
		r := *s.Result
		cp.Result = &r
	}
	return &cp
}

// ExecutionResult is an agent's answer to one sub-task attempt.
type ExecutionResult struct {
	SubTaskID string
	AgentID   string
	Payload   map[string]any
	Score     float64 // Quality/confidence estimate in [0,1]
	Timestamp time.Time
	Error     string // Empty on success
}
