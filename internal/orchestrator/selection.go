package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentic/conclave/internal/agent"
	"github.com/agentic/conclave/internal/scheduler"
)

// slotPollInterval is how often agent slot acquisition re-checks when every
// qualifying agent is at its concurrency limit.
const slotPollInterval = 5 * time.Millisecond

type candidate struct {
	ag   agent.Agent
	desc *agent.Descriptor
}

// candidates returns the agents supporting the sub-task's capability.
// Revision sub-tasks aimed at a specific producer restrict to that agent
// when it still exists.
func (m *Manager) candidates(sub *scheduler.SubTask) []candidate {
	if sub.TargetAgent != "" {
		if ag, ok := m.agents[sub.TargetAgent]; ok {
			return []candidate{{ag: ag, desc: m.descs[sub.TargetAgent]}}
		}
	}
	var out []candidate
	for id, ag := range m.agents {
		desc := m.descs[id]
		if desc.Supports(sub.RequiredCapability) {
			out = append(out, candidate{ag: ag, desc: desc})
		}
	}
	return out
}

// rank orders candidates: least loaded first, then highest rolling success
// rate, then role affinity to the sub-task text, then lowest agent id for
// determinism.
func rank(cands []candidate, sub *scheduler.SubTask) {
	sort.Slice(cands, func(i, j int) bool {
		di, dj := cands[i].desc, cands[j].desc
		li, lj := di.Load(), dj.Load()
		if li != lj {
			return li < lj
		}
		si, sj := di.SuccessRate(), dj.SuccessRate()
		if si != sj {
			return si > sj
		}
		ai := agent.Affinity(di.Role(), sub.Name)
		aj := agent.Affinity(dj.Role(), sub.Name)
		if ai != aj {
			return ai > aj
		}
		return di.ID() < dj.ID()
	})
}

// acquireAgent picks the best qualifying agent with a free slot, reserving
// the slot. When more than one agent qualifies, the agent named by exclude
// (the previous failed attempt) is passed over. Blocks until a slot frees
// or the context ends.
func (m *Manager) acquireAgent(ctx context.Context, sub *scheduler.SubTask, exclude string) (agent.Agent, *agent.Descriptor, error) {
	cands := m.candidates(sub)
	if len(cands) == 0 {
		return nil, nil, fmt.Errorf("%w: no agent supports %q", scheduler.ErrUnknownCapability, sub.RequiredCapability)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rank(cands, sub)
		for _, c := range cands {
			if len(cands) > 1 && c.desc.ID() == exclude {
				continue
			}
			if c.desc.Acquire() {
				return c.ag, c.desc, nil
			}
		}
		// Every other qualifying agent is at its limit: allow the excluded one.
		if exclude != "" {
			for _, c := range cands {
				if c.desc.ID() == exclude && c.desc.Acquire() {
					return c.ag, c.desc, nil
				}
			}
		}

		timer := time.NewTimer(slotPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// alternateExists reports whether any qualifying agent other than the ones
// in tried could still produce the artifact.
func (m *Manager) alternateExists(sub *scheduler.SubTask, tried map[string]bool) bool {
	probe := *sub
	probe.TargetAgent = ""
	for _, c := range m.candidates(&probe) {
		if !tried[c.desc.ID()] {
			return true
		}
	}
	return false
}
