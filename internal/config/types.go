// Package config defines the immutable ensemble configuration. A Config is
// built once (defaults, then optional YAML file, then environment
// overrides) and threaded through the orchestrator and consensus engine;
// there is no process-wide mutable configuration.
package config

import (
	"fmt"
	"time"
)

// EnsembleConfig holds scheduling and consensus parameters.
type EnsembleConfig struct {
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
	MaxSubtasks        int      `yaml:"max_subtasks"`
	MaxRetries         int      `yaml:"max_retries"`
	MaxRevisionRounds  int      `yaml:"max_revision_rounds"`
	ConsensusThreshold float64  `yaml:"consensus_threshold"`
	ConsensusMargin    float64  `yaml:"consensus_margin"`
	TaskTimeoutSecs    int      `yaml:"task_timeout_seconds"`
	SubTaskTimeoutSecs int      `yaml:"subtask_timeout_seconds"`
	EvalTimeoutSecs    int      `yaml:"evaluation_timeout_seconds"`
	QualitySensitive   []string `yaml:"quality_sensitive"` // Capabilities routed through consensus
}

// AgentConfig declares one agent instance in the pool.
type AgentConfig struct {
	Role        string  `yaml:"role"`
	Concurrency int     `yaml:"concurrency"`
	BaseWeight  float64 `yaml:"base_weight"` // Per-role consensus weight contribution
}

// StorageConfig controls the optional execution history store.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the top-level configuration value.
type Config struct {
	Ensemble EnsembleConfig         `yaml:"ensemble"`
	Agents   map[string]AgentConfig `yaml:"agents"` // Agent ID -> declaration
	Storage  StorageConfig          `yaml:"storage"`
}

// TaskTimeout returns the overall per-task timeout as a duration.
func (c EnsembleConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSecs) * time.Second
}

// SubTaskTimeout returns the per-sub-task deadline as a duration.
func (c EnsembleConfig) SubTaskTimeout() time.Duration {
	return time.Duration(c.SubTaskTimeoutSecs) * time.Second
}

// EvalTimeout returns the evaluator collection deadline as a duration.
func (c EnsembleConfig) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutSecs) * time.Second
}

// Validate checks invariants that would otherwise surface as scheduling
// misbehavior deep inside the orchestrator.
func (c *Config) Validate() error {
	e := c.Ensemble
	if e.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be positive, got %d", e.MaxConcurrentTasks)
	}
	if e.MaxSubtasks <= 0 {
		return fmt.Errorf("max_subtasks must be positive, got %d", e.MaxSubtasks)
	}
	if e.ConsensusThreshold < 0 || e.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in [0,1], got %g", e.ConsensusThreshold)
	}
	if e.ConsensusMargin < 0 || e.ConsensusMargin > e.ConsensusThreshold {
		return fmt.Errorf("consensus_margin must be in [0,threshold], got %g", e.ConsensusMargin)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", e.MaxRetries)
	}
	if e.MaxRevisionRounds < 0 {
		return fmt.Errorf("max_revision_rounds must be non-negative, got %d", e.MaxRevisionRounds)
	}
	if e.TaskTimeoutSecs <= 0 {
		return fmt.Errorf("task_timeout_seconds must be positive, got %d", e.TaskTimeoutSecs)
	}
	for id, a := range c.Agents {
		if a.Role == "" {
			return fmt.Errorf("agent %q has no role", id)
		}
		if a.Concurrency <= 0 {
			return fmt.Errorf("agent %q concurrency must be positive, got %d", id, a.Concurrency)
		}
	}
	return nil
}
