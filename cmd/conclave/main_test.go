package main

import (
	"testing"

	"github.com/agentic/conclave/internal/config"
)

func TestParseRunFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		category string
		opts     config.TaskOptions
	}{
		{
			name:     "defaults",
			args:     []string{"-task", "build the parser"},
			category: "composite",
		},
		{
			name: "all overrides",
			args: []string{
				"-task", "review the parser",
				"-category", "review",
				"-threshold", "0.8",
				"-retries", "1",
				"-timeout", "120",
				"-max-subtasks", "4",
			},
			category: "review",
			opts: config.TaskOptions{
				ConsensusThreshold: 0.8,
				MaxRetries:         1,
				TaskTimeoutSecs:    120,
				MaxSubtasks:        4,
			},
		},
		{
			name:    "missing task",
			args:    []string{"-category", "coding"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rf, err := parseRunFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseRunFlags() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRunFlags() error = %v", err)
			}
			if rf.category != tt.category {
				t.Errorf("category = %q, want %q", rf.category, tt.category)
			}
			if rf.opts != tt.opts {
				t.Errorf("options = %+v, want %+v", rf.opts, tt.opts)
			}
		})
	}
}
