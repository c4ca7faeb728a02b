package scheduler

import (
	"errors"
	"strings"
	"testing"
)

// TestDAGValidate tests graph validation with various structures.
func TestDAGValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *DAG
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A"})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}})
				dag.Add(&SubTask{ID: "C", DependsOn: []string{"B"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "valid parallel subtasks",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A"})
				dag.Add(&SubTask{ID: "B"})
				dag.Add(&SubTask{ID: "C", DependsOn: []string{"A", "B"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "single subtask no deps",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A"})
				return dag
			},
			wantErr: false,
		},
		{
			name: "direct cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", DependsOn: []string{"B"}})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "transitive cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", DependsOn: []string{"B"}})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"C"}})
				dag.Add(&SubTask{ID: "C", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "self-loop",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "missing dependency",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", DependsOn: []string{"ghost"}})
				return dag
			},
			wantErr:     true,
			errContains: "non-existent",
		},
		{
			name: "duplicate subtask ID rejected at Add",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A"})
				if err := dag.Add(&SubTask{ID: "A"}); err == nil {
					t.Fatal("expected error when adding duplicate subtask ID")
				}
				return dag
			},
			wantErr: false,
		},
		{
			name: "disconnected components",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A"})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}})
				dag.Add(&SubTask{ID: "C"})
				dag.Add(&SubTask{ID: "D", DependsOn: []string{"C"}})
				return dag
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := tt.setup()
			order, err := dag.Validate()

			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error message %q doesn't contain %q", err.Error(), tt.errContains)
				}
				if strings.Contains(tt.errContains, "cycle") && !errors.Is(err, ErrCyclicDependency) {
					t.Errorf("cycle error should wrap ErrCyclicDependency, got %v", err)
				}
				return
			}
			if tt.name == "disconnected components" && len(order) != 4 {
				t.Errorf("expected 4 subtasks in order, got %d: %v", len(order), order)
			}
		})
	}
}

// TestDAGEligible tests dependency resolution.
func TestDAGEligible(t *testing.T) {
	tests := []struct {
		name          string
		setup         func() *DAG
		expectedCount int
		expectedIDs   []string
	}{
		{
			name: "initial eligible",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusPending})
				dag.Add(&SubTask{ID: "B", Status: StatusPending})
				dag.Add(&SubTask{ID: "C", DependsOn: []string{"A"}, Status: StatusPending})
				return dag
			},
			expectedCount: 2,
			expectedIDs:   []string{"A", "B"},
		},
		{
			name: "completion unlocks dependents",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusCompleted})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
				return dag
			},
			expectedCount: 1,
			expectedIDs:   []string{"B"},
		},
		{
			name: "partial completion keeps dependent blocked",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusCompleted})
				dag.Add(&SubTask{ID: "B", Status: StatusPending})
				dag.Add(&SubTask{ID: "C", DependsOn: []string{"A", "B"}, Status: StatusPending})
				return dag
			},
			expectedCount: 1,
			expectedIDs:   []string{"B"},
		},
		{
			name: "required failure blocks dependent",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusFailed})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
				return dag
			},
			expectedCount: 0,
		},
		{
			name: "optional failure resolves dependency",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusFailed, Optional: true})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
				return dag
			},
			expectedCount: 1,
			expectedIDs:   []string{"B"},
		},
		{
			name: "running dependency is unresolved",
			setup: func() *DAG {
				dag := NewDAG()
				dag.Add(&SubTask{ID: "A", Status: StatusRunning})
				dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
				return dag
			},
			expectedCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eligible := tt.setup().Eligible()

			if len(eligible) != tt.expectedCount {
				t.Errorf("Eligible() returned %d subtasks, expected %d", len(eligible), tt.expectedCount)
			}
			found := make(map[string]bool)
			for _, st := range eligible {
				found[st.ID] = true
			}
			for _, id := range tt.expectedIDs {
				if !found[id] {
					t.Errorf("expected subtask %q to be eligible, but it wasn't", id)
				}
			}
		})
	}
}

// TestDAGTransitions tests state transition methods.
func TestDAGTransitions(t *testing.T) {
	t.Run("MarkRunning records agent", func(t *testing.T) {
		dag := NewDAG()
		dag.Add(&SubTask{ID: "A", Status: StatusPending})

		if err := dag.MarkRunning("A", "coder-1"); err != nil {
			t.Fatalf("MarkRunning() error = %v", err)
		}
		st, _ := dag.Get("A")
		if st.Status != StatusRunning {
			t.Errorf("status = %v, want StatusRunning", st.Status)
		}
		if st.AssignedAgent != "coder-1" {
			t.Errorf("assigned agent = %q, want coder-1", st.AssignedAgent)
		}
	})

	t.Run("MarkCompleted stores result and clears error", func(t *testing.T) {
		dag := NewDAG()
		dag.Add(&SubTask{ID: "A", Status: StatusRunning, Err: errors.New("earlier attempt")})

		res := &ExecutionResult{SubTaskID: "A", AgentID: "coder-1", Score: 0.9}
		if err := dag.MarkCompleted("A", res); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
		st, _ := dag.Get("A")
		if st.Status != StatusCompleted {
			t.Errorf("status = %v, want StatusCompleted", st.Status)
		}
		if st.Result == nil || st.Result.Score != 0.9 {
			t.Errorf("result = %+v, want score 0.9", st.Result)
		}
		if st.Err != nil {
			t.Errorf("error should be cleared, got %v", st.Err)
		}
	})

	t.Run("MarkFailed stores error", func(t *testing.T) {
		dag := NewDAG()
		dag.Add(&SubTask{ID: "A", Status: StatusRunning})

		want := errors.New("agent exploded")
		if err := dag.MarkFailed("A", want); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		st, _ := dag.Get("A")
		if st.Status != StatusFailed {
			t.Errorf("status = %v, want StatusFailed", st.Status)
		}
		if !errors.Is(st.Err, want) {
			t.Errorf("error = %v, want %v", st.Err, want)
		}
	})

	t.Run("MarkAwaitingConsensus parks the result", func(t *testing.T) {
		dag := NewDAG()
		dag.Add(&SubTask{ID: "A", Status: StatusRunning})

		res := &ExecutionResult{SubTaskID: "A", Score: 0.65}
		if err := dag.MarkAwaitingConsensus("A", res); err != nil {
			t.Fatalf("MarkAwaitingConsensus() error = %v", err)
		}
		st, _ := dag.Get("A")
		if st.Status != StatusAwaitingConsensus {
			t.Errorf("status = %v, want StatusAwaitingConsensus", st.Status)
		}
	})

	t.Run("transition on non-existent subtask returns error", func(t *testing.T) {
		dag := NewDAG()
		err := dag.MarkRunning("nope", "x")
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("error = %v, want 'not found'", err)
		}
	})

	t.Run("RecordAttempt increments", func(t *testing.T) {
		dag := NewDAG()
		dag.Add(&SubTask{ID: "A"})
		dag.RecordAttempt("A")
		dag.RecordAttempt("A")
		st, _ := dag.Get("A")
		if st.Attempts != 2 {
			t.Errorf("attempts = %d, want 2", st.Attempts)
		}
	})
}

// TestDAGDiamond exercises the diamond dependency pattern end to end.
func TestDAGDiamond(t *testing.T) {
	dag := NewDAG()
	dag.Add(&SubTask{ID: "A", Status: StatusPending})
	dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
	dag.Add(&SubTask{ID: "C", DependsOn: []string{"A"}, Status: StatusPending})
	dag.Add(&SubTask{ID: "D", DependsOn: []string{"B", "C"}, Status: StatusPending})

	order, err := dag.Validate()
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if order[0] != "A" || order[len(order)-1] != "D" {
		t.Errorf("order = %v, want A first and D last", order)
	}

	eligible := dag.Eligible()
	if len(eligible) != 1 || eligible[0].ID != "A" {
		t.Fatalf("initially only A should be eligible, got %v", eligible)
	}

	dag.MarkCompleted("A", &ExecutionResult{SubTaskID: "A"})
	if got := len(dag.Eligible()); got != 2 {
		t.Errorf("after A completes, B and C should be eligible, got %d", got)
	}

	dag.MarkCompleted("B", &ExecutionResult{SubTaskID: "B"})
	dag.MarkCompleted("C", &ExecutionResult{SubTaskID: "C"})
	eligible = dag.Eligible()
	if len(eligible) != 1 || eligible[0].ID != "D" {
		t.Errorf("after B and C complete, D should be eligible, got %v", eligible)
	}
}

// TestDAGBlocked verifies detection of subtasks that can never run.
func TestDAGBlocked(t *testing.T) {
	dag := NewDAG()
	dag.Add(&SubTask{ID: "A", Status: StatusFailed})
	dag.Add(&SubTask{ID: "B", DependsOn: []string{"A"}, Status: StatusPending})
	dag.Add(&SubTask{ID: "C", Status: StatusFailed, Optional: true})
	dag.Add(&SubTask{ID: "D", DependsOn: []string{"C"}, Status: StatusPending})

	blocked := dag.Blocked()
	if len(blocked) != 1 || blocked[0].ID != "B" {
		t.Errorf("Blocked() = %v, want only B", blocked)
	}
}

// TestDAGCloneIsolation verifies snapshots are detached from internal state.
func TestDAGCloneIsolation(t *testing.T) {
	dag := NewDAG()
	dag.Add(&SubTask{ID: "A", Input: map[string]any{"k": "v"}, DependsOn: nil})

	snap, _ := dag.Get("A")
	snap.Input["k"] = "mutated"
	snap.Status = StatusFailed

	fresh, _ := dag.Get("A")
	if fresh.Input["k"] != "v" {
		t.Errorf("internal input mutated through snapshot")
	}
	if fresh.Status != StatusPending {
		t.Errorf("internal status mutated through snapshot")
	}
}
