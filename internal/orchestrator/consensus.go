package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentic/conclave/internal/consensus"
	"github.com/agentic/conclave/internal/events"
	"github.com/agentic/conclave/internal/persistence"
	"github.com/agentic/conclave/internal/scheduler"
)

// runConsensus judges a quality-sensitive artifact. Each round fans out to
// the evaluator pool, merges the opinions, and either accepts the artifact,
// spawns a bounded revision back to the producer, or rejects it. Returns
// nil once an artifact version is accepted; the accept path also marks the
// sub-task completed.
func (m *Manager) runConsensus(ctx context.Context, st *taskState, sub *scheduler.SubTask, artifact *scheduler.ExecutionResult, producer string) error {
	_ = st.dag.MarkAwaitingConsensus(sub.ID, artifact)

	// Round index of a previous empty evaluator round, -1 if none. One empty
	// round is a zero-confidence Revise; a second one escalates to Reject.
	starved := -1
	for round := 0; ; round++ {
		evals := m.collectEvaluations(ctx, st, sub, artifact, producer)
		if len(evals) == 0 {
			if starved >= 0 {
				return fmt.Errorf("%w: evaluators unavailable in rounds %d and %d for %q",
					scheduler.ErrInsufficientEvaluators, starved, round, sub.Name)
			}
			if round >= st.opts.MaxRevisionRounds {
				return fmt.Errorf("%w: no evaluators and no revision rounds left for %q",
					scheduler.ErrInsufficientEvaluators, sub.Name)
			}
			starved = round
			m.bus.Publish(events.TopicConsensus, events.ConsensusReachedEvent{
				Task: st.task.ID, SubTaskID: sub.ID, Score: 0,
				Decision: consensus.Revise.String(), Round: round, Timestamp: time.Now(),
			})
			m.log.Warn("no evaluators responded, revising with zero confidence",
				"task_id", st.task.ID, "subtask_id", sub.ID, "round", round)
			revised, err := m.spawnRevision(ctx, st, sub, artifact, producer, nil, round+1)
			if err != nil {
				return err
			}
			artifact = revised
			continue
		}

		verdict, err := m.engine.Evaluate(consensus.Request{
			Artifact:  artifact,
			Threshold: st.opts.ConsensusThreshold,
			Margin:    st.opts.ConsensusMargin,
			Round:     round,
		}, evals)
		if err != nil {
			return err
		}

		m.bus.Publish(events.TopicConsensus, events.ConsensusReachedEvent{
			Task: st.task.ID, SubTaskID: sub.ID, Score: verdict.Score,
			Decision: verdict.Decision.String(), Round: round, Timestamp: time.Now(),
		})
		m.persistConsensus(st, sub, round, verdict)
		m.log.Info("consensus round",
			"task_id", st.task.ID, "subtask_id", sub.ID, "round", round,
			"score", verdict.Score, "decision", verdict.Decision.String())

		switch verdict.Decision {
		case consensus.Accept:
			artifact.Score = verdict.Score
			m.completeSubTask(st, sub, artifact, 0)
			return nil

		case consensus.Revise:
			if round >= st.opts.MaxRevisionRounds {
				return fmt.Errorf("%w: revision budget exhausted at score %.3f",
					scheduler.ErrConsensusRejected, verdict.Score)
			}
			revised, err := m.spawnRevision(ctx, st, sub, artifact, producer, verdict.Recommendations, round+1)
			if err != nil {
				return err
			}
			artifact = revised

		case consensus.Reject:
			return fmt.Errorf("%w: score %.3f below %.3f",
				scheduler.ErrConsensusRejected, verdict.Score,
				st.opts.ConsensusThreshold-st.opts.ConsensusMargin)
		}
	}
}

// collectEvaluations fans the artifact out to every reviewer other than its
// producer and gathers their scores. Evaluation bypasses the concurrency
// slots: an evaluator busy producing elsewhere must still be able to judge,
// or two quality-sensitive sub-tasks could deadlock each other.
func (m *Manager) collectEvaluations(ctx context.Context, st *taskState, sub *scheduler.SubTask, artifact *scheduler.ExecutionResult, producer string) []consensus.Scored {
	evalCtx, cancel := context.WithTimeout(ctx, st.opts.EvalTimeout)
	defer cancel()

	probe := &scheduler.SubTask{RequiredCapability: scheduler.CapReview}
	var (
		mu    sync.Mutex
		evals []consensus.Scored
	)
	g, gctx := errgroup.WithContext(evalCtx)
	for _, c := range m.candidates(probe) {
		if c.desc.ID() == producer {
			continue
		}
		c := c
		g.Go(func() error {
			req := &scheduler.SubTask{
				ID:                 uuid.NewString(),
				ParentID:           st.task.ID,
				Name:               "evaluate: " + sub.Name,
				RequiredCapability: scheduler.CapReview,
				Input:              map[string]any{"artifact": artifact.Payload},
			}
			if code, ok := artifact.Payload["code"]; ok {
				req.Input["code"] = code
			}
			res, err := c.ag.Execute(gctx, req)
			if err != nil || res == nil {
				m.log.Warn("evaluator failed",
					"task_id", st.task.ID, "subtask_id", sub.ID,
					"evaluator", c.desc.ID(), "error", err)
				return nil // A missing opinion is not fatal to the round.
			}
			scored := consensus.Scored{AgentID: res.AgentID, Score: res.Score}
			if findings, ok := res.Payload["findings"].([]string); ok {
				scored.Findings = findings
			}
			mu.Lock()
			evals = append(evals, scored)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return evals
}

// spawnRevision sends the artifact back to its producer with the
// evaluators' recommendations attached and returns the revised artifact.
// The revision is a real sub-task: it lands in the graph and the history
// store like any other.
func (m *Manager) spawnRevision(ctx context.Context, st *taskState, sub *scheduler.SubTask, artifact *scheduler.ExecutionResult, producer string, recommendations []string, round int) (*scheduler.ExecutionResult, error) {
	rev := &scheduler.SubTask{
		ID:                 uuid.NewString(),
		ParentID:           st.task.ID,
		Name:               "revise: " + sub.Name,
		RequiredCapability: sub.RequiredCapability,
		Input:              map[string]any{"previous": artifact.Payload},
		Recommendations:    append([]string(nil), recommendations...),
		Status:             scheduler.StatusPending,
		Complexity:         sub.Complexity,
		RevisionRound:      round,
		TargetAgent:        producer,
	}
	if code, ok := artifact.Payload["code"]; ok {
		rev.Input["code"] = code
	}
	if err := st.dag.Add(rev); err != nil {
		return nil, fmt.Errorf("adding revision subtask: %w", err)
	}
	m.persistSubTask(st, rev)

	ag, desc, err := m.acquireAgent(ctx, rev, "")
	if err != nil {
		_ = st.dag.MarkFailed(rev.ID, err)
		return nil, err
	}
	_ = st.dag.RecordAttempt(rev.ID)
	_ = st.dag.MarkRunning(rev.ID, desc.ID())
	m.bus.Publish(events.TopicSubTask, events.SubTaskStartedEvent{
		Task: st.task.ID, SubTaskID: rev.ID, AgentID: desc.ID(), Attempt: 1, Timestamp: time.Now(),
	})

	start := time.Now()
	revised, execErr := m.invoke(ctx, ag, rev)
	duration := time.Since(start)
	desc.Release()

	if execErr != nil {
		desc.RecordResult(false, duration)
		wrapped := &scheduler.ExecutionError{
			SubTaskID: rev.ID, AgentID: desc.ID(), Attempt: 1, Cause: execErr,
		}
		_ = st.dag.MarkFailed(rev.ID, wrapped)
		m.persistAttempt(st, rev, desc.ID(), 1, "failed", 0, duration, execErr.Error())
		return nil, wrapped
	}

	desc.RecordResult(true, duration)
	_ = st.dag.MarkCompleted(rev.ID, revised)
	m.persistAttempt(st, rev, desc.ID(), 1, "completed", revised.Score, duration, "")
	if snap, ok := st.dag.Get(rev.ID); ok {
		m.persistSubTask(st, snap)
	}
	return revised, nil
}

func (m *Manager) persistConsensus(st *taskState, sub *scheduler.SubTask, round int, verdict *consensus.Result) {
	if m.store == nil {
		return
	}
	rec := persistence.ConsensusRecord{
		TaskID: st.task.ID, SubTaskID: sub.ID, Round: round,
		Score: verdict.Score, Decision: verdict.Decision.String(), Timestamp: time.Now(),
	}
	if err := m.store.RecordConsensus(context.Background(), rec); err != nil {
		m.log.Warn("persisting consensus failed", "subtask_id", sub.ID, "error", err)
	}
}
