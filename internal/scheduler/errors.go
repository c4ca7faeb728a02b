package scheduler

import (
	"errors"
	"fmt"
)

// Decomposition-time errors are fatal to the task and never retried.
// ExecutionError is absorbed and retried by the orchestrator up to the
// configured limit before surfacing.
var (
	ErrInvalidTask            = errors.New("invalid task")
	ErrUnknownCapability      = errors.New("unknown capability")
	ErrCyclicDependency       = errors.New("cyclic dependency")
	ErrInsufficientEvaluators = errors.New("insufficient evaluators")
	ErrTaskTimeout            = errors.New("task timeout")
	ErrTaskCancelled          = errors.New("task cancelled")
	ErrConsensusRejected      = errors.New("consensus rejected")
)

// ExecutionError wraps a sub-task execution failure with the agent and
// attempt that produced it.
type ExecutionError struct {
	SubTaskID string
	AgentID   string
	Attempt   int
	Cause     error
}

func (e *ExecutionError) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("subtask %s attempt %d: %v", e.SubTaskID, e.Attempt, e.Cause)
	}
	return fmt.Sprintf("subtask %s attempt %d on agent %s: %v", e.SubTaskID, e.Attempt, e.AgentID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// FailureKind maps an error to the stable cause code exposed on failed
// task snapshots.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTask):
		return "invalid_task"
	case errors.Is(err, ErrUnknownCapability):
		return "unknown_capability"
	case errors.Is(err, ErrCyclicDependency):
		return "cyclic_dependency"
	case errors.Is(err, ErrInsufficientEvaluators):
		return "insufficient_evaluators"
	case errors.Is(err, ErrTaskTimeout):
		return "task_timeout"
	case errors.Is(err, ErrTaskCancelled):
		return "cancelled"
	case errors.Is(err, ErrConsensusRejected):
		return "consensus_rejected"
	default:
		var exec *ExecutionError
		if errors.As(err, &exec) {
			return "execution_failed"
		}
		return "internal_error"
	}
}
