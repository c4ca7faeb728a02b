package events

import (
	"time"
)

// Event is the base interface for all bus events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants.
const (
	TopicTask      = "task"
	TopicSubTask   = "subtask"
	TopicConsensus = "consensus"
	TopicMetrics   = "metrics"
)

// Event type constants.
const (
	EventTypeTaskSubmitted    = "task.submitted"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeSubTaskStarted   = "subtask.started"
	EventTypeConsensusReached = "consensus.reached"
	EventTypeMetricSample     = "metric.sample"
)

// TaskSubmittedEvent is published when a task is accepted for execution.
type TaskSubmittedEvent struct {
	ID          string
	Description string
	Category    string
	Timestamp   time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task reaches Completed.
type TaskCompletedEvent struct {
	ID        string
	Score     float64
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task reaches Failed.
type TaskFailedEvent struct {
	ID        string
	Kind      string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// SubTaskStartedEvent is published when an agent begins a sub-task attempt.
type SubTaskStartedEvent struct {
	Task      string
	SubTaskID string
	AgentID   string
	Attempt   int
	Timestamp time.Time
}

func (e SubTaskStartedEvent) EventType() string { return EventTypeSubTaskStarted }
func (e SubTaskStartedEvent) TaskID() string    { return e.Task }

// ConsensusReachedEvent is published for every consensus round outcome.
type ConsensusReachedEvent struct {
	Task      string
	SubTaskID string
	Score     float64
	Decision  string
	Round     int
	Timestamp time.Time
}

func (e ConsensusReachedEvent) EventType() string { return EventTypeConsensusReached }
func (e ConsensusReachedEvent) TaskID() string    { return e.Task }

// MetricSampleEvent is the fire-and-forget metrics egress record emitted on
// every sub-task completion.
type MetricSampleEvent struct {
	Task      string
	SubTaskID string
	AgentID   string
	Duration  time.Duration
	Outcome   string // "completed" or "failed"
	Score     float64
	Timestamp time.Time
}

func (e MetricSampleEvent) EventType() string { return EventTypeMetricSample }
func (e MetricSampleEvent) TaskID() string    { return e.Task }
