package agent

import (
	"testing"

	"github.com/agentic/conclave/internal/scheduler"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		role Role
		cap  scheduler.Capability
	}{
		{RolePlanner, scheduler.CapPlanning},
		{RolePlanner, "task_decomposition"},
		{RoleCoder, scheduler.CapCoding},
		{RoleCoder, "code_generation"},
		{RoleReviewer, scheduler.CapReview},
		{RoleReviewer, "security_analysis"},
		{RoleDebugger, scheduler.CapDebugging},
		{RoleDebugger, "root_cause_analysis"},
		{RoleTester, scheduler.CapTesting},
		{RoleTester, "regression_testing"},
	}
	for _, tt := range tests {
		if !r.Supports(tt.role, tt.cap) {
			t.Errorf("Supports(%s, %s) = false, want true", tt.role, tt.cap)
		}
		if !r.Known(tt.cap) {
			t.Errorf("Known(%s) = false, want true", tt.cap)
		}
	}

	if r.Supports(RolePlanner, scheduler.CapCoding) {
		t.Error("planner should not support coding")
	}
	if r.Known("quantum_annealing") {
		t.Error("unregistered capability should not be known")
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	before := len(r.Capabilities(RoleCoder))

	r.Register(RoleCoder, scheduler.CapCoding, "code_generation")
	if got := len(r.Capabilities(RoleCoder)); got != before {
		t.Errorf("re-registering existing capabilities grew the set: %d -> %d", before, got)
	}

	r.Register(RoleCoder, "performance_tuning")
	if !r.Supports(RoleCoder, "performance_tuning") {
		t.Error("newly registered capability not supported")
	}
}

func TestRegistryRolesFor(t *testing.T) {
	r := NewRegistry()

	roles := r.RolesFor(scheduler.CapReview)
	if len(roles) != 1 || roles[0] != RoleReviewer {
		t.Errorf("RolesFor(review) = %v, want [reviewer]", roles)
	}

	// A capability shared by two roles comes back sorted.
	r.Register(RoleTester, scheduler.CapReview)
	roles = r.RolesFor(scheduler.CapReview)
	if len(roles) != 2 || roles[0] != RoleReviewer || roles[1] != RoleTester {
		t.Errorf("RolesFor(review) = %v, want [reviewer tester]", roles)
	}
}
