package config

// DefaultConfig returns the built-in configuration: one agent per role,
// review outputs routed through consensus, and the standard scheduling
// limits.
func DefaultConfig() *Config {
	return &Config{
		Ensemble: EnsembleConfig{
			MaxConcurrentTasks: 5,
			MaxSubtasks:        10,
			MaxRetries:         2,
			MaxRevisionRounds:  2,
			ConsensusThreshold: 0.7,
			ConsensusMargin:    0.1,
			TaskTimeoutSecs:    300,
			SubTaskTimeoutSecs: 60,
			EvalTimeoutSecs:    30,
			QualitySensitive:   []string{"review"},
		},
		Agents: map[string]AgentConfig{
			"planner-1":  {Role: "planner", Concurrency: 2, BaseWeight: 1.0},
			"coder-1":    {Role: "coder", Concurrency: 2, BaseWeight: 1.0},
			"reviewer-1": {Role: "reviewer", Concurrency: 2, BaseWeight: 1.2},
			"reviewer-2": {Role: "reviewer", Concurrency: 2, BaseWeight: 1.2},
			"debugger-1": {Role: "debugger", Concurrency: 2, BaseWeight: 1.0},
			"tester-1":   {Role: "tester", Concurrency: 2, BaseWeight: 1.0},
		},
		Storage: StorageConfig{Enabled: false, Path: ""},
	}
}
