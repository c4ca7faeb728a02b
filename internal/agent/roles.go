package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentic/conclave/internal/scheduler"
)

// The concrete role implementations below are deterministic heuristic
// executors. They stand in for a generative backend behind the Agent
// boundary: each consumes a sub-task, produces a structured payload, and
// estimates its own confidence from the task text.

// complexityTiers maps indicator keywords to a complexity score, checked
// in order from most to least complex.
var complexityTiers = []struct {
	score    float64
	keywords []string
}{
	{1.0, []string{"rewrite", "redesign", "optimize", "scale", "performance"}},
	{0.8, []string{"design", "architecture", "system", "integration", "migration"}},
	{0.5, []string{"implement", "create", "modify", "update", "refactor"}},
	{0.2, []string{"read", "write", "list", "search", "replace"}},
}

// EstimateComplexity scores a task description in [0,1] from keyword tiers.
// Unmatched descriptions default to 0.3.
func EstimateComplexity(description string) float64 {
	lower := strings.ToLower(description)
	for _, tier := range complexityTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(lower, kw) {
				return tier.score
			}
		}
	}
	return 0.3
}

// affinityKeywords maps each role to the task vocabulary it scores high on.
var affinityKeywords = map[Role][]string{
	RolePlanner:  {"plan", "decompose", "organize"},
	RoleCoder:    {"code", "implement", "write", "create"},
	RoleReviewer: {"review", "check", "validate"},
	RoleDebugger: {"debug", "fix", "error", "bug"},
	RoleTester:   {"test", "verify", "coverage"},
}

// Affinity scores how well a role matches a task description in [0,1].
// Used as a late tie-break when several agents qualify for a sub-task.
func Affinity(role Role, description string) float64 {
	lower := strings.ToLower(description)
	for _, kw := range affinityKeywords[role] {
		if strings.Contains(lower, kw) {
			return 0.9
		}
	}
	return 0.2
}

type baseAgent struct {
	id   string
	role Role
}

func (a baseAgent) ID() string { return a.id }
func (a baseAgent) Role() Role { return a.role }

func (a baseAgent) check(ctx context.Context, st *scheduler.SubTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == nil || strings.TrimSpace(st.Name) == "" {
		return &scheduler.ExecutionError{
			SubTaskID: subtaskID(st), AgentID: a.id, Attempt: attempt(st),
			Cause: fmt.Errorf("empty subtask description"),
		}
	}
	return nil
}

func subtaskID(st *scheduler.SubTask) string {
	if st == nil {
		return ""
	}
	return st.ID
}

func attempt(st *scheduler.SubTask) int {
	if st == nil {
		return 0
	}
	return st.Attempts
}

func (a baseAgent) result(st *scheduler.SubTask, payload map[string]any, score float64) *scheduler.ExecutionResult {
	return &scheduler.ExecutionResult{
		SubTaskID: st.ID,
		AgentID:   a.id,
		Payload:   payload,
		Score:     clamp(score),
		Timestamp: time.Now(),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Planner produces an ordered step outline for a planning sub-task.
type Planner struct{ baseAgent }

// NewPlanner creates a planner agent.
func NewPlanner(id string) *Planner {
	return &Planner{baseAgent{id: id, role: RolePlanner}}
}

func (a *Planner) Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	if err := a.check(ctx, st); err != nil {
		return nil, err
	}
	complexity := EstimateComplexity(st.Name)
	steps := []string{"analyze requirements", "outline approach"}
	if complexity >= 0.5 {
		steps = append(steps, "identify dependencies", "assess risks")
	}
	steps = append(steps, "define acceptance criteria")

	strategy := "sequential"
	if complexity >= 0.8 {
		strategy = "iterative"
	}
	payload := map[string]any{
		"steps":      steps,
		"strategy":   strategy,
		"complexity": complexity,
	}
	return a.result(st, payload, 0.9-0.2*complexity), nil
}

// Coder generates a code artifact for a coding sub-task. Revision rounds
// fold evaluator recommendations back into the artifact and raise
// confidence accordingly.
type Coder struct{ baseAgent }

// NewCoder creates a coder agent.
func NewCoder(id string) *Coder {
	return &Coder{baseAgent{id: id, role: RoleCoder}}
}

func (a *Coder) Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	if err := a.check(ctx, st); err != nil {
		return nil, err
	}
	complexity := EstimateComplexity(st.Name)
	score := 0.85 - 0.2*complexity

	notes := []string{}
	for _, rec := range st.Recommendations {
		notes = append(notes, "applied: "+rec)
	}
	// Each revision round that carries feedback improves the artifact.
	score += 0.08 * float64(len(st.Recommendations))

	payload := map[string]any{
		"language": "go",
		"code":     fmt.Sprintf("// implementation for: %s\n", st.Name),
		"notes":    notes,
		"revision": st.RevisionRound,
	}
	return a.result(st, payload, score), nil
}

// Reviewer assesses an artifact and reports findings with a quality score.
type Reviewer struct{ baseAgent }

// NewReviewer creates a reviewer agent.
func NewReviewer(id string) *Reviewer {
	return &Reviewer{baseAgent{id: id, role: RoleReviewer}}
}

var reviewFlags = []struct {
	keyword string
	finding string
	penalty float64
}{
	{"todo", "unresolved TODO marker", 0.1},
	{"panic", "unguarded panic path", 0.15},
	{"password", "possible hardcoded credential", 0.25},
	{"global", "global mutable state", 0.1},
}

func (a *Reviewer) Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	if err := a.check(ctx, st); err != nil {
		return nil, err
	}
	subject := st.Name
	if code, ok := st.Input["code"].(string); ok {
		subject += "\n" + code
	}
	lower := strings.ToLower(subject)

	score := 0.9
	var findings []string
	for _, flag := range reviewFlags {
		if strings.Contains(lower, flag.keyword) {
			findings = append(findings, flag.finding)
			score -= flag.penalty
		}
	}
	payload := map[string]any{
		"findings": findings,
		"approved": len(findings) == 0,
	}
	return a.result(st, payload, score), nil
}

// Debugger diagnoses a failure description and proposes a fix.
type Debugger struct{ baseAgent }

// NewDebugger creates a debugger agent.
func NewDebugger(id string) *Debugger {
	return &Debugger{baseAgent{id: id, role: RoleDebugger}}
}

var knownBugPatterns = map[string]string{
	"null":     "nil dereference on an unchecked pointer",
	"nil":      "nil dereference on an unchecked pointer",
	"race":     "unsynchronized concurrent access",
	"deadlock": "lock ordering inversion",
	"leak":     "resource not released on error path",
	"index":    "off-by-one slice access",
}

func (a *Debugger) Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	if err := a.check(ctx, st); err != nil {
		return nil, err
	}
	lower := strings.ToLower(st.Name)

	diagnosis := "no known failure pattern matched"
	score := 0.6
	for kw, cause := range knownBugPatterns {
		if strings.Contains(lower, kw) {
			diagnosis = cause
			score = 0.9
			break
		}
	}
	payload := map[string]any{
		"diagnosis": diagnosis,
		"strategy":  "hypothesis_testing",
		"fix":       "guard the failing path and add a regression test",
	}
	return a.result(st, payload, score), nil
}

// Tester derives test cases for an artifact.
type Tester struct{ baseAgent }

// NewTester creates a tester agent.
func NewTester(id string) *Tester {
	return &Tester{baseAgent{id: id, role: RoleTester}}
}

func (a *Tester) Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	if err := a.check(ctx, st); err != nil {
		return nil, err
	}
	complexity := EstimateComplexity(st.Name)
	tests := []string{"happy path", "empty input", "boundary values"}
	if complexity >= 0.5 {
		tests = append(tests, "concurrent access", "cancellation")
	}
	payload := map[string]any{
		"tests":             tests,
		"coverage_estimate": clamp(0.6 + 0.1*float64(len(tests))),
	}
	return a.result(st, payload, 0.85-0.15*complexity), nil
}

// New creates the concrete agent for a role.
func New(role Role, id string) (Agent, error) {
	switch role {
	case RolePlanner:
		return NewPlanner(id), nil
	case RoleCoder:
		return NewCoder(id), nil
	case RoleReviewer:
		return NewReviewer(id), nil
	case RoleDebugger:
		return NewDebugger(id), nil
	case RoleTester:
		return NewTester(id), nil
	default:
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
}
