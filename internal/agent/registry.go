package agent

import (
	"sort"
	"sync"

	"github.com/agentic/conclave/internal/scheduler"
)

// Registry is the static mapping from role to the capabilities it can
// execute. The default vocabulary includes the five primary capabilities
// plus the fine-grained skill names each role advertises.
type Registry struct {
	mu     sync.RWMutex
	byRole map[Role][]scheduler.Capability
	byCap  map[scheduler.Capability][]Role
}

// NewRegistry creates a registry pre-populated with the built-in role
// vocabularies.
func NewRegistry() *Registry {
	r := &Registry{
		byRole: make(map[Role][]scheduler.Capability),
		byCap:  make(map[scheduler.Capability][]Role),
	}
	r.Register(RolePlanner, scheduler.CapPlanning,
		"task_decomposition", "dependency_analysis", "risk_assessment", "workflow_design")
	r.Register(RoleCoder, scheduler.CapCoding,
		"code_generation", "refactoring", "api_design")
	r.Register(RoleReviewer, scheduler.CapReview,
		"code_review", "quality_assessment", "security_analysis")
	r.Register(RoleDebugger, scheduler.CapDebugging,
		"bug_diagnosis", "error_analysis", "root_cause_analysis")
	r.Register(RoleTester, scheduler.CapTesting,
		"test_generation", "coverage_analysis", "regression_testing")
	return r
}

// Register adds capabilities to a role's set.
func (r *Registry) Register(role Role, caps ...scheduler.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range caps {
		if r.supportsLocked(role, c) {
			continue
		}
		r.byRole[role] = append(r.byRole[role], c)
		r.byCap[c] = append(r.byCap[c], role)
	}
}

// Known reports whether any role supports the capability.
func (r *Registry) Known(c scheduler.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCap[c]) > 0
}

// Supports reports whether the role's capability set contains c.
func (r *Registry) Supports(role Role, c scheduler.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportsLocked(role, c)
}

func (r *Registry) supportsLocked(role Role, c scheduler.Capability) bool {
	for _, have := range r.byRole[role] {
		if have == c {
			return true
		}
	}
	return false
}

// RolesFor returns the roles supporting a capability, sorted for
// deterministic iteration.
func (r *Registry) RolesFor(c scheduler.Capability) []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]Role(nil), r.byCap[c]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capabilities returns a role's capability set.
func (r *Registry) Capabilities(role Role) []scheduler.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]scheduler.Capability(nil), r.byRole[role]...)
}
