// Package agent defines the Agent execution boundary, the capability
// registry, and per-agent descriptors tracking load and rolling success
// rate. Concrete implementations in roles.go are deterministic heuristic
// stand-ins for a generative backend; the orchestrator only ever sees the
// Agent interface.
package agent

import (
	"context"

	"github.com/agentic/conclave/internal/scheduler"
)

// Role identifies an agent's specialization in the ensemble.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
	RoleDebugger Role = "debugger"
	RoleTester   Role = "tester"
)

// Roles lists the closed set of supported roles.
func Roles() []Role {
	return []Role{RolePlanner, RoleCoder, RoleReviewer, RoleDebugger, RoleTester}
}

// Agent is the execution boundary the orchestrator calls per sub-task.
// Implementations are stateless across calls; rolling statistics live in
// the Descriptor.
type Agent interface {
	ID() string
	Role() Role
	Execute(ctx context.Context, st *scheduler.SubTask) (*scheduler.ExecutionResult, error)
}
