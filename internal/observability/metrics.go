package observability

import (
	"sync"
	"time"

	"github.com/agentic/conclave/internal/events"
)

// Sample is one metrics egress record: emitted on every sub-task completion
// and every consensus outcome.
type Sample struct {
	TaskID    string        `json:"task_id"`
	SubTaskID string        `json:"subtask_id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	Score     float64       `json:"score"`
	Timestamp time.Time     `json:"timestamp"`
}

// Sink receives metrics samples. Implementations must not block.
type Sink interface {
	Record(Sample)
}

// Collector is an in-memory Sink keeping a bounded ring of samples plus
// named counters.
type Collector struct {
	mu       sync.RWMutex
	samples  []Sample
	maxSize  int
	counters map[string]int64
}

// NewCollector creates a collector with a maximum sample buffer size.
func NewCollector(maxSize int) *Collector {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Collector{
		samples:  make([]Sample, 0, maxSize),
		maxSize:  maxSize,
		counters: make(map[string]int64),
	}
}

// Record stores a sample, dropping the oldest when the buffer is full.
func (c *Collector) Record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) >= c.maxSize {
		copy(c.samples, c.samples[1:])
		c.samples[len(c.samples)-1] = s
	} else {
		c.samples = append(c.samples, s)
	}
	c.counters["samples_"+s.Outcome]++
}

// Increment increments a named counter.
func (c *Collector) Increment(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// Counter returns the current value of a named counter.
func (c *Collector) Counter(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Samples returns a copy of all buffered samples.
func (c *Collector) Samples() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Sample(nil), c.samples...)
}

// SamplesForTask returns buffered samples belonging to one task.
func (c *Collector) SamplesForTask(taskID string) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Sample
	for _, s := range c.samples {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out
}

// Attach subscribes the collector to the bus and consumes events in a
// background goroutine until the bus closes. Returns a done channel.
func (c *Collector) Attach(bus *events.Bus) <-chan struct{} {
	ch := bus.SubscribeAll(1024)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			c.consume(ev)
		}
	}()
	return done
}

func (c *Collector) consume(ev events.Event) {
	switch e := ev.(type) {
	case events.MetricSampleEvent:
		c.Record(Sample{
			TaskID:    e.Task,
			SubTaskID: e.SubTaskID,
			AgentID:   e.AgentID,
			Duration:  e.Duration,
			Outcome:   e.Outcome,
			Score:     e.Score,
			Timestamp: e.Timestamp,
		})
	case events.ConsensusReachedEvent:
		c.Record(Sample{
			TaskID:    e.Task,
			SubTaskID: e.SubTaskID,
			Duration:  0,
			Outcome:   "consensus_" + e.Decision,
			Score:     e.Score,
			Timestamp: e.Timestamp,
		})
	case events.TaskCompletedEvent:
		c.Increment("tasks_completed")
	case events.TaskFailedEvent:
		c.Increment("tasks_failed")
	case events.TaskSubmittedEvent:
		c.Increment("tasks_submitted")
	}
}
