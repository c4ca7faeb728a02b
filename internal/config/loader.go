package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, merged with the YAML file at
// path (missing file is not an error), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Fields present in the file overwrite defaults; the agent pool
	// replaces wholesale when given.
	var raw struct {
		Ensemble *EnsembleConfig        `yaml:"ensemble"`
		Agents   map[string]AgentConfig `yaml:"agents"`
		Storage  *StorageConfig         `yaml:"storage"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if raw.Ensemble != nil {
		merged := cfg.Ensemble
		if sec := section(data, "ensemble"); sec != nil {
			if err := yaml.Unmarshal(sec, &merged); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			cfg.Ensemble = merged
		}
	}
	if len(raw.Agents) > 0 {
		cfg.Agents = raw.Agents
	}
	if raw.Storage != nil {
		cfg.Storage = *raw.Storage
	}
	return nil
}

// section extracts one top-level mapping from a YAML document so it can be
// re-unmarshaled over existing defaults.
func section(data []byte, key string) []byte {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	node, ok := doc[key]
	if !ok {
		return nil
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil
	}
	return out
}

// applyEnv overrides scalar settings from CONCLAVE_* environment variables.
func applyEnv(cfg *Config) {
	if v, ok := envInt("CONCLAVE_MAX_CONCURRENT_TASKS"); ok {
		cfg.Ensemble.MaxConcurrentTasks = v
	}
	if v, ok := envInt("CONCLAVE_MAX_SUBTASKS"); ok {
		cfg.Ensemble.MaxSubtasks = v
	}
	if v, ok := envInt("CONCLAVE_MAX_RETRIES"); ok {
		cfg.Ensemble.MaxRetries = v
	}
	if v, ok := envInt("CONCLAVE_TASK_TIMEOUT_SECONDS"); ok {
		cfg.Ensemble.TaskTimeoutSecs = v
	}
	if v, ok := envFloat("CONCLAVE_CONSENSUS_THRESHOLD"); ok {
		cfg.Ensemble.ConsensusThreshold = v
	}
	if v := os.Getenv("CONCLAVE_STORAGE_PATH"); v != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.Path = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
