package config

import (
	"fmt"
	"time"
)

// TaskOptions are the per-submission overrides recognized by Submit.
// Zero values mean "inherit from the ensemble config".
type TaskOptions struct {
	MaxSubtasks        int
	ConsensusThreshold float64
	MaxRetries         int
	TaskTimeoutSecs    int
}

// ResolvedOptions is the immutable effective configuration of one task,
// snapshotted at submission time.
type ResolvedOptions struct {
	MaxSubtasks        int
	ConsensusThreshold float64
	ConsensusMargin    float64
	MaxRetries         int
	MaxRevisionRounds  int
	TaskTimeout        time.Duration
	SubTaskTimeout     time.Duration
	EvalTimeout        time.Duration
	QualitySensitive   map[string]bool
}

// Resolve merges per-task options over the ensemble defaults and validates
// the result.
func (o TaskOptions) Resolve(e EnsembleConfig) (ResolvedOptions, error) {
	r := ResolvedOptions{
		MaxSubtasks:        e.MaxSubtasks,
		ConsensusThreshold: e.ConsensusThreshold,
		ConsensusMargin:    e.ConsensusMargin,
		MaxRetries:         e.MaxRetries,
		MaxRevisionRounds:  e.MaxRevisionRounds,
		TaskTimeout:        e.TaskTimeout(),
		SubTaskTimeout:     e.SubTaskTimeout(),
		EvalTimeout:        e.EvalTimeout(),
		QualitySensitive:   make(map[string]bool, len(e.QualitySensitive)),
	}
	for _, c := range e.QualitySensitive {
		r.QualitySensitive[c] = true
	}

	if o.MaxSubtasks != 0 {
		if o.MaxSubtasks < 0 {
			return r, fmt.Errorf("max_subtasks must be positive, got %d", o.MaxSubtasks)
		}
		r.MaxSubtasks = o.MaxSubtasks
	}
	if o.ConsensusThreshold != 0 {
		if o.ConsensusThreshold < 0 || o.ConsensusThreshold > 1 {
			return r, fmt.Errorf("consensus_threshold must be in [0,1], got %g", o.ConsensusThreshold)
		}
		r.ConsensusThreshold = o.ConsensusThreshold
	}
	if o.MaxRetries != 0 {
		if o.MaxRetries < 0 {
			return r, fmt.Errorf("max_retries must be non-negative, got %d", o.MaxRetries)
		}
		r.MaxRetries = o.MaxRetries
	}
	if o.TaskTimeoutSecs != 0 {
		if o.TaskTimeoutSecs < 0 {
			return r, fmt.Errorf("task_timeout_seconds must be positive, got %d", o.TaskTimeoutSecs)
		}
		r.TaskTimeout = time.Duration(o.TaskTimeoutSecs) * time.Second
	}
	return r, nil
}
