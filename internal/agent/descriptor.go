package agent

import (
	"sync"
	"time"

	"github.com/agentic/conclave/internal/scheduler"
)

// successRateAlpha is the smoothing factor of the rolling success rate.
// Each completed sub-task moves the rate one fifth of the way toward its
// outcome.
const successRateAlpha = 0.2

// Descriptor tracks one agent's capabilities, in-flight load, and rolling
// statistics. All mutation is serialized per descriptor; concurrent
// completions never lose updates.
type Descriptor struct {
	mu sync.Mutex

	id           string
	role         Role
	capabilities []scheduler.Capability
	limit        int // Concurrency limit, load never exceeds it

	load          int
	totalRuns     int
	completed     int
	failed        int
	totalDuration time.Duration
	successRate   float64
}

// DescriptorView is a read-only snapshot of a descriptor.
type DescriptorView struct {
	ID           string                 `json:"id"`
	Role         Role                   `json:"role"`
	Capabilities []scheduler.Capability `json:"capabilities"`
	Load         int                    `json:"load"`
	Limit        int                    `json:"limit"`
	TotalRuns    int                    `json:"total_runs"`
	Completed    int                    `json:"completed"`
	Failed       int                    `json:"failed"`
	AvgDuration  time.Duration          `json:"avg_duration"`
	SuccessRate  float64                `json:"success_rate"`
}

// NewDescriptor creates a descriptor. A fresh agent starts with a success
// rate of 1.0 so new agents are not penalized before their first run.
func NewDescriptor(id string, role Role, caps []scheduler.Capability, limit int) *Descriptor {
	if limit <= 0 {
		limit = 1
	}
	return &Descriptor{
		id:           id,
		role:         role,
		capabilities: append([]scheduler.Capability(nil), caps...),
		limit:        limit,
		successRate:  1.0,
	}
}

// ID returns the agent id.
func (d *Descriptor) ID() string { return d.id }

// Role returns the agent role.
func (d *Descriptor) Role() Role { return d.role }

// Supports reports whether the descriptor lists the capability.
func (d *Descriptor) Supports(c scheduler.Capability) bool {
	for _, have := range d.capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Acquire reserves one execution slot. Returns false when the agent is at
// its concurrency limit.
func (d *Descriptor) Acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.load >= d.limit {
		return false
	}
	d.load++
	return true
}

// Release frees one execution slot.
func (d *Descriptor) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.load > 0 {
		d.load--
	}
}

// Load returns the current number of in-flight sub-tasks.
func (d *Descriptor) Load() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load
}

// SuccessRate returns the rolling success rate in [0,1].
func (d *Descriptor) SuccessRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.successRate
}

// RecordResult folds one completed sub-task into the rolling statistics.
func (d *Descriptor) RecordResult(success bool, duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalRuns++
	d.totalDuration += duration
	outcome := 0.0
	if success {
		d.completed++
		outcome = 1.0
	} else {
		d.failed++
	}
	d.successRate = d.successRate*(1-successRateAlpha) + outcome*successRateAlpha
}

// Snapshot returns a copy of the descriptor's current state.
func (d *Descriptor) Snapshot() DescriptorView {
	d.mu.Lock()
	defer d.mu.Unlock()

	avg := time.Duration(0)
	if d.totalRuns > 0 {
		avg = d.totalDuration / time.Duration(d.totalRuns)
	}
	return DescriptorView{
		ID:           d.id,
		Role:         d.role,
		Capabilities: append([]scheduler.Capability(nil), d.capabilities...),
		Load:         d.load,
		Limit:        d.limit,
		TotalRuns:    d.totalRuns,
		Completed:    d.completed,
		Failed:       d.failed,
		AvgDuration:  avg,
		SuccessRate:  d.successRate,
	}
}
