package agent

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/agentic/conclave/internal/scheduler"
)

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		description string
		want        float64
	}{
		{"rewrite the storage engine", 1.0},
		{"optimize query latency", 1.0},
		{"design the plugin architecture", 0.8},
		{"database migration for accounts", 0.8},
		{"implement pagination", 0.5},
		{"refactor the config loader", 0.5},
		{"read the manifest file", 0.2},
		{"search for duplicates", 0.2},
		{"do the thing", 0.3},
		{"", 0.3},
		{"REWRITE EVERYTHING", 1.0}, // case-insensitive
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			if got := EstimateComplexity(tt.description); got != tt.want {
				t.Errorf("EstimateComplexity(%q) = %v, want %v", tt.description, got, tt.want)
			}
		})
	}
}

func TestAffinity(t *testing.T) {
	tests := []struct {
		role        Role
		description string
		want        float64
	}{
		{RolePlanner, "plan the release", 0.9},
		{RoleCoder, "implement: user login", 0.9},
		{RoleDebugger, "fix the crash", 0.9},
		{RoleTester, "verify output", 0.9},
		{RoleReviewer, "check the diff", 0.9},
		{RolePlanner, "fix the crash", 0.2},
		{RoleTester, "plan the release", 0.2},
	}
	for _, tt := range tests {
		if got := Affinity(tt.role, tt.description); got != tt.want {
			t.Errorf("Affinity(%s, %q) = %v, want %v", tt.role, tt.description, got, tt.want)
		}
	}
}

func TestAgentFactory(t *testing.T) {
	for _, role := range Roles() {
		ag, err := New(role, "x-1")
		if err != nil {
			t.Fatalf("New(%s) error = %v", role, err)
		}
		if ag.Role() != role {
			t.Errorf("Role() = %s, want %s", ag.Role(), role)
		}
		if ag.ID() != "x-1" {
			t.Errorf("ID() = %s, want x-1", ag.ID())
		}
	}
	if _, err := New("barista", "b-1"); err == nil {
		t.Error("unknown role should error")
	}
}

func TestAgentRejectsEmptySubTask(t *testing.T) {
	ctx := context.Background()
	for _, role := range Roles() {
		ag, _ := New(role, "x-1")
		_, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "  "})
		var exec *scheduler.ExecutionError
		if !errors.As(err, &exec) {
			t.Errorf("%s: error = %v, want ExecutionError", role, err)
		}
	}
}

func TestAgentHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ag := NewCoder("coder-1")
	_, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "implement: x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPlannerScoresByComplexity(t *testing.T) {
	ag := NewPlanner("planner-1")
	ctx := context.Background()

	simple, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "list the files"})
	if err != nil {
		t.Fatal(err)
	}
	complex, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s2", Name: "redesign the pipeline"})
	if err != nil {
		t.Fatal(err)
	}
	if simple.Score <= complex.Score {
		t.Errorf("simple task score %v should exceed complex task score %v", simple.Score, complex.Score)
	}
	if complex.Payload["strategy"] != "iterative" {
		t.Errorf("high complexity should plan iteratively, got %v", complex.Payload["strategy"])
	}
}

func TestCoderRevisionImprovesScore(t *testing.T) {
	ag := NewCoder("coder-1")
	ctx := context.Background()

	first, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "implement: parser"})
	if err != nil {
		t.Fatal(err)
	}
	revised, err := ag.Execute(ctx, &scheduler.SubTask{
		ID:              "s1r",
		Name:            "implement: parser",
		Recommendations: []string{"handle empty input", "add bounds check"},
		RevisionRound:   1,
	})
	if err != nil {
		t.Fatal(err)
	}

	wantGain := 0.16 // two recommendations applied
	if got := revised.Score - first.Score; math.Abs(got-wantGain) > 1e-9 {
		t.Errorf("revision gain = %v, want %v", got, wantGain)
	}
	if revised.Payload["revision"] != 1 {
		t.Errorf("revision marker = %v, want 1", revised.Payload["revision"])
	}
}

func TestReviewerFlagsFindings(t *testing.T) {
	ag := NewReviewer("reviewer-1")
	ctx := context.Background()

	clean, err := ag.Execute(ctx, &scheduler.SubTask{
		ID: "s1", Name: "review: parser",
		Input: map[string]any{"code": "func parse() {}"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if clean.Score != 0.9 || clean.Payload["approved"] != true {
		t.Errorf("clean artifact: score %v approved %v, want 0.9/true", clean.Score, clean.Payload["approved"])
	}

	dirty, err := ag.Execute(ctx, &scheduler.SubTask{
		ID: "s2", Name: "review: parser",
		Input: map[string]any{"code": "// TODO remove password literal\nfunc parse() { panic(\"x\") }"},
	})
	if err != nil {
		t.Fatal(err)
	}
	findings, _ := dirty.Payload["findings"].([]string)
	if len(findings) != 3 {
		t.Fatalf("findings = %v, want 3 (todo, panic, password)", findings)
	}
	if got := dirty.Score; math.Abs(got-0.4) > 1e-9 {
		t.Errorf("score = %v, want 0.4 after penalties", got)
	}
	if dirty.Payload["approved"] != false {
		t.Error("artifact with findings should not be approved")
	}
}

func TestDebuggerDiagnosesKnownPatterns(t *testing.T) {
	ag := NewDebugger("debugger-1")
	ctx := context.Background()

	known, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "diagnose: deadlock under load"})
	if err != nil {
		t.Fatal(err)
	}
	if known.Score != 0.9 {
		t.Errorf("known pattern score = %v, want 0.9", known.Score)
	}
	if known.Payload["diagnosis"] != "lock ordering inversion" {
		t.Errorf("diagnosis = %v, want lock ordering inversion", known.Payload["diagnosis"])
	}

	unknown, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s2", Name: "diagnose: it is slow sometimes"})
	if err != nil {
		t.Fatal(err)
	}
	if unknown.Score != 0.6 {
		t.Errorf("unknown pattern score = %v, want 0.6", unknown.Score)
	}
}

func TestTesterExpandsSuiteWithComplexity(t *testing.T) {
	ag := NewTester("tester-1")
	ctx := context.Background()

	res, err := ag.Execute(ctx, &scheduler.SubTask{ID: "s1", Name: "test: rewrite of the cache"})
	if err != nil {
		t.Fatal(err)
	}
	tests, _ := res.Payload["tests"].([]string)
	if len(tests) != 5 {
		t.Errorf("complex task tests = %v, want 5 cases", tests)
	}

	res, err = ag.Execute(ctx, &scheduler.SubTask{ID: "s2", Name: "test: read the flag"})
	if err != nil {
		t.Fatal(err)
	}
	tests, _ = res.Payload["tests"].([]string)
	if len(tests) != 3 {
		t.Errorf("simple task tests = %v, want 3 cases", tests)
	}
}
