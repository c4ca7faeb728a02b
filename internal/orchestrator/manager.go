// Package orchestrator coordinates the agent ensemble: it decomposes
// submitted tasks, drains the sub-task graph in concurrent waves, routes
// quality-sensitive results through consensus, and merges everything into
// a single task verdict.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agentic/conclave/internal/agent"
	"github.com/agentic/conclave/internal/config"
	"github.com/agentic/conclave/internal/consensus"
	"github.com/agentic/conclave/internal/events"
	"github.com/agentic/conclave/internal/observability"
	"github.com/agentic/conclave/internal/persistence"
	"github.com/agentic/conclave/internal/planner"
	"github.com/agentic/conclave/internal/scheduler"
)

// ManagerConfig wires the manager's collaborators. Config is required;
// everything else has a sensible default.
type ManagerConfig struct {
	Config         *config.Config
	Registry       *agent.Registry       // Defaults to the built-in registry
	Agents         []agent.Agent         // Defaults to one concrete agent per cfg.Agents entry
	Decomposer     planner.Decomposer    // Defaults to the heuristic decomposer
	Bus            *events.Bus           // Defaults to a fresh bus
	Store          persistence.Store     // Optional execution history
	Logger         *observability.Logger // Defaults to a stderr JSON logger
	RetainTerminal int                   // Terminal tasks kept resident when a store exists; defaults to 128
}

// defaultTerminalRetention bounds terminal tasks held in memory once a
// history store can answer for evicted ones.
const defaultTerminalRetention = 128

// Manager owns every task for its lifetime and is the single writer of
// task aggregate state.
type Manager struct {
	cfg        *config.Config
	registry   *agent.Registry
	agents     map[string]agent.Agent
	descs      map[string]*agent.Descriptor
	decomposer planner.Decomposer
	engine     *consensus.Engine
	bus        *events.Bus
	store      persistence.Store
	log        *observability.Logger
	breakers   *BreakerRegistry
	slots      *semaphore.Weighted // Bounds tasks in flight (backpressure)
	retain     int

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	mu        sync.Mutex // Guards task fields and the aggregate result merge
	task      *scheduler.Task
	dag       *scheduler.DAG
	opts      config.ResolvedOptions
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
	results   map[string]*scheduler.ExecutionResult
}

// NewManager builds a manager from the given wiring.
func NewManager(mc ManagerConfig) (*Manager, error) {
	if mc.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := mc.Config.Validate(); err != nil {
		return nil, err
	}
	if mc.Registry == nil {
		mc.Registry = agent.NewRegistry()
	}
	if mc.Logger == nil {
		mc.Logger = observability.NewLogger("orchestrator", nil)
	}
	if mc.Bus == nil {
		mc.Bus = events.NewBus()
	}

	m := &Manager{
		cfg:      mc.Config,
		registry: mc.Registry,
		agents:   make(map[string]agent.Agent),
		descs:    make(map[string]*agent.Descriptor),
		bus:      mc.Bus,
		store:    mc.Store,
		log:      mc.Logger,
		breakers: NewBreakerRegistry(mc.Logger),
		slots:    semaphore.NewWeighted(int64(mc.Config.Ensemble.MaxConcurrentTasks)),
		retain:   mc.RetainTerminal,
		tasks:    make(map[string]*taskState),
	}
	if m.retain <= 0 {
		m.retain = defaultTerminalRetention
	}

	pool := mc.Agents
	if pool == nil {
		var err error
		pool, err = buildPool(mc.Config)
		if err != nil {
			return nil, err
		}
	}
	for _, ag := range pool {
		if _, dup := m.agents[ag.ID()]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", ag.ID())
		}
		limit := 2
		if ac, ok := mc.Config.Agents[ag.ID()]; ok && ac.Concurrency > 0 {
			limit = ac.Concurrency
		}
		m.agents[ag.ID()] = ag
		m.descs[ag.ID()] = agent.NewDescriptor(ag.ID(), ag.Role(), mc.Registry.Capabilities(ag.Role()), limit)
	}
	if len(m.agents) == 0 {
		return nil, fmt.Errorf("agent pool is empty")
	}

	m.engine = consensus.NewEngine(m)
	m.decomposer = mc.Decomposer
	if m.decomposer == nil {
		m.decomposer = planner.NewHeuristic(m.registry, m.log.Component("planner"))
	}
	return m, nil
}

func buildPool(cfg *config.Config) ([]agent.Agent, error) {
	var pool []agent.Agent
	for id, ac := range cfg.Agents {
		ag, err := agent.New(agent.Role(ac.Role), id)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", id, err)
		}
		pool = append(pool, ag)
	}
	return pool, nil
}

// Weight implements consensus.WeightSource: the fixed per-role base weight
// scaled by the evaluator's rolling success rate, floored so one bad run
// cannot zero an evaluator out entirely.
func (m *Manager) Weight(agentID string) float64 {
	base := 1.0
	if ac, ok := m.cfg.Agents[agentID]; ok && ac.BaseWeight > 0 {
		base = ac.BaseWeight
	}
	desc, ok := m.descs[agentID]
	if !ok {
		return base
	}
	rate := desc.SuccessRate()
	if rate < 0.1 {
		rate = 0.1
	}
	return base * rate
}

// Submit accepts a task for execution and returns its id. Blocks while
// max_concurrent_tasks tasks are already in flight; the caller's context
// bounds that wait.
func (m *Manager) Submit(ctx context.Context, description string, category scheduler.Category, opts config.TaskOptions) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("%w: empty description", scheduler.ErrInvalidTask)
	}
	if !scheduler.KnownCategory(category) {
		return "", fmt.Errorf("%w: unknown category %q", scheduler.ErrInvalidTask, category)
	}
	resolved, err := opts.Resolve(m.cfg.Ensemble)
	if err != nil {
		return "", fmt.Errorf("%w: %v", scheduler.ErrInvalidTask, err)
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring task slot: %w", err)
	}

	task := &scheduler.Task{
		ID:          uuid.NewString(),
		Description: description,
		Category:    category,
		Status:      scheduler.StatusPending,
		CreatedAt:   time.Now(),
	}
	taskCtx, cancel := context.WithTimeout(context.Background(), resolved.TaskTimeout)
	st := &taskState{
		task:    task,
		dag:     scheduler.NewDAG(),
		opts:    resolved,
		ctx:     taskCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		results: make(map[string]*scheduler.ExecutionResult),
	}

	m.mu.Lock()
	m.tasks[task.ID] = st
	m.mu.Unlock()

	m.bus.Publish(events.TopicTask, events.TaskSubmittedEvent{
		ID: task.ID, Description: description, Category: string(category), Timestamp: time.Now(),
	})
	m.log.Info("task submitted", "task_id", task.ID, "category", category)
	m.persistTask(st)

	go m.run(st)
	return task.ID, nil
}

// run drives one task from decomposition to a terminal state.
func (m *Manager) run(st *taskState) {
	defer m.slots.Release(1)
	defer close(st.done)
	// Prune before done closes so waiters observe a settled task map.
	defer m.pruneTerminal()
	defer st.cancel()

	task := st.task
	snapshot := &scheduler.Task{ID: task.ID, Description: task.Description, Category: task.Category}
	subtasks, err := m.decomposer.Decompose(snapshot, st.opts)
	if err == nil {
		// Contract validation also covers externally supplied decomposers.
		err = planner.Validate(subtasks, m.registry, st.opts)
	}
	if err != nil {
		m.fail(st, err)
		return
	}

	st.mu.Lock()
	task.Status = scheduler.StatusDecomposed
	st.mu.Unlock()

	for _, sub := range subtasks {
		if addErr := st.dag.Add(sub); addErr != nil {
			m.fail(st, fmt.Errorf("%w: %v", scheduler.ErrInvalidTask, addErr))
			return
		}
		m.persistSubTask(st, sub)
	}

	st.mu.Lock()
	task.Status = scheduler.StatusRunning
	st.mu.Unlock()

	for {
		if err := st.ctx.Err(); err != nil {
			m.fail(st, m.terminalErr(st, err))
			return
		}
		eligible := st.dag.Eligible()
		if len(eligible) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(st.ctx)
		g.SetLimit(m.totalSlots())
		for _, sub := range eligible {
			sub := sub
			g.Go(func() error {
				m.executeSubTask(gctx, st, sub)
				return nil
			})
		}
		// Sub-task errors land in the DAG; Wait only surfaces cancellation.
		_ = g.Wait()
	}

	if err := st.ctx.Err(); err != nil {
		m.fail(st, m.terminalErr(st, err))
		return
	}
	m.finalize(st)
}

// totalSlots sums the pool's concurrency limits; a wave never spawns more
// goroutines than the pool can actually run.
func (m *Manager) totalSlots() int {
	total := 0
	for _, desc := range m.descs {
		total += desc.Snapshot().Limit
	}
	if total < 1 {
		total = 1
	}
	return total
}

// terminalErr distinguishes caller cancellation from deadline expiry.
func (m *Manager) terminalErr(st *taskState, ctxErr error) error {
	st.mu.Lock()
	cancelled := st.cancelled
	st.mu.Unlock()
	if cancelled {
		return scheduler.ErrTaskCancelled
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: exceeded %s", scheduler.ErrTaskTimeout, st.opts.TaskTimeout)
	}
	return scheduler.ErrTaskCancelled
}

// executeSubTask runs one sub-task with retries, routing quality-sensitive
// results through consensus before acceptance.
func (m *Manager) executeSubTask(ctx context.Context, st *taskState, sub *scheduler.SubTask) {
	maxAttempts := st.opts.MaxRetries + 1
	bo := retryBackOff()
	tried := make(map[string]bool)
	lastAgent := ""
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			m.failSubTask(st, sub, m.terminalErr(st, ctx.Err()), lastAgent, 0)
			return
		}

		ag, desc, err := m.acquireAgent(ctx, sub, lastAgent)
		if err != nil {
			if ctx.Err() != nil {
				m.failSubTask(st, sub, m.terminalErr(st, ctx.Err()), lastAgent, 0)
				return
			}
			m.failSubTask(st, sub, &scheduler.ExecutionError{
				SubTaskID: sub.ID, Attempt: attempt, Cause: err,
			}, lastAgent, 0)
			return
		}
		tried[desc.ID()] = true
		lastAgent = desc.ID()

		_ = st.dag.RecordAttempt(sub.ID)
		sub.Attempts = attempt
		_ = st.dag.MarkRunning(sub.ID, desc.ID())
		m.bus.Publish(events.TopicSubTask, events.SubTaskStartedEvent{
			Task: st.task.ID, SubTaskID: sub.ID, AgentID: desc.ID(), Attempt: attempt, Timestamp: time.Now(),
		})

		m.enrichInput(st, sub)
		start := time.Now()
		res, execErr := m.invoke(ctx, ag, sub)
		duration := time.Since(start)
		desc.Release()

		if execErr == nil {
			desc.RecordResult(true, duration)
			m.persistAttempt(st, sub, desc.ID(), attempt, "completed", res.Score, duration, "")

			if !sub.QualitySensitive {
				m.completeSubTask(st, sub, res, duration)
				return
			}
			verdictErr := m.runConsensus(ctx, st, sub, res, desc.ID())
			if verdictErr == nil {
				return // Accepted; consensus path marked completion.
			}
			lastErr = verdictErr
			if errors.Is(verdictErr, scheduler.ErrConsensusRejected) && m.alternateExists(sub, tried) && attempt < maxAttempts {
				// An untried producer remains; re-produce the artifact there.
				if err := pause(ctx, bo); err != nil {
					break
				}
				continue
			}
			break
		}

		desc.RecordResult(false, duration)
		lastErr = &scheduler.ExecutionError{
			SubTaskID: sub.ID, AgentID: desc.ID(), Attempt: attempt, Cause: execErr,
		}
		m.persistAttempt(st, sub, desc.ID(), attempt, "failed", 0, duration, execErr.Error())
		m.log.Warn("subtask attempt failed",
			"task_id", st.task.ID, "subtask_id", sub.ID, "agent_id", desc.ID(),
			"attempt", attempt, "error", execErr)

		if attempt < maxAttempts {
			if err := pause(ctx, bo); err != nil {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = &scheduler.ExecutionError{SubTaskID: sub.ID, Attempt: sub.Attempts, Cause: ctx.Err()}
	}
	m.failSubTask(st, sub, lastErr, lastAgent, 0)
}

// invoke calls the agent through its role's circuit breaker with the
// per-sub-task deadline applied.
func (m *Manager) invoke(ctx context.Context, ag agent.Agent, sub *scheduler.SubTask) (*scheduler.ExecutionResult, error) {
	deadline := sub.Deadline
	if deadline <= 0 {
		deadline = m.subTaskTimeout(sub)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cb := m.breakers.Get(ag.Role())
	out, err := cb.Execute(func() (any, error) {
		return ag.Execute(attemptCtx, sub.Clone())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("agent role %s circuit open: %w", ag.Role(), err)
		}
		return nil, err
	}
	res, ok := out.(*scheduler.ExecutionResult)
	if !ok || res == nil {
		return nil, fmt.Errorf("agent %s returned no result", ag.ID())
	}
	if res.Error != "" {
		return nil, fmt.Errorf("agent %s reported failure: %s", ag.ID(), res.Error)
	}
	return res, nil
}

func (m *Manager) subTaskTimeout(sub *scheduler.SubTask) time.Duration {
	m.mu.Lock()
	st, ok := m.tasks[sub.ParentID]
	m.mu.Unlock()
	if ok && st.opts.SubTaskTimeout > 0 {
		return st.opts.SubTaskTimeout
	}
	return m.cfg.Ensemble.SubTaskTimeout()
}

// enrichInput folds completed upstream results into the sub-task input so
// downstream agents see what they build on.
func (m *Manager) enrichInput(st *taskState, sub *scheduler.SubTask) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sub.Input == nil {
		sub.Input = make(map[string]any)
	}
	upstream := make(map[string]any)
	for _, depID := range sub.DependsOn {
		if res, ok := st.results[depID]; ok {
			upstream[depID] = res.Payload
			if code, hasCode := res.Payload["code"]; hasCode {
				sub.Input["code"] = code
			}
		}
	}
	if len(upstream) > 0 {
		sub.Input["upstream"] = upstream
	}
}

// completeSubTask is the single-writer merge of one sub-task result into
// the task aggregate.
func (m *Manager) completeSubTask(st *taskState, sub *scheduler.SubTask, res *scheduler.ExecutionResult, duration time.Duration) {
	_ = st.dag.MarkCompleted(sub.ID, res)

	st.mu.Lock()
	st.results[sub.ID] = res
	st.mu.Unlock()

	if snap, ok := st.dag.Get(sub.ID); ok {
		m.persistSubTask(st, snap)
	}
	m.bus.Publish(events.TopicMetrics, events.MetricSampleEvent{
		Task: st.task.ID, SubTaskID: sub.ID, AgentID: res.AgentID,
		Duration: duration, Outcome: "completed", Score: res.Score, Timestamp: time.Now(),
	})
	m.log.Info("subtask completed",
		"task_id", st.task.ID, "subtask_id", sub.ID, "agent_id", res.AgentID, "score", res.Score)
}

func (m *Manager) failSubTask(st *taskState, sub *scheduler.SubTask, err error, agentID string, duration time.Duration) {
	_ = st.dag.MarkFailed(sub.ID, err)
	if snap, ok := st.dag.Get(sub.ID); ok {
		m.persistSubTask(st, snap)
	}
	m.bus.Publish(events.TopicMetrics, events.MetricSampleEvent{
		Task: st.task.ID, SubTaskID: sub.ID, AgentID: agentID,
		Duration: duration, Outcome: "failed", Score: 0, Timestamp: time.Now(),
	})
	m.log.Warn("subtask failed", "task_id", st.task.ID, "subtask_id", sub.ID, "error", err)
}

// finalize computes the task verdict once no sub-task can make progress.
func (m *Manager) finalize(st *taskState) {
	subtasks := st.dag.SubTasks()

	var firstErr error
	var scoreSum float64
	scored := 0
	for _, sub := range subtasks {
		switch sub.Status {
		case scheduler.StatusFailed:
			if !sub.Optional && firstErr == nil {
				firstErr = sub.Err
			}
		case scheduler.StatusCompleted:
			if sub.Result != nil {
				scoreSum += sub.Result.Score
				scored++
			}
		case scheduler.StatusPending:
			// Unreachable: a required dependency failed upstream.
			if !sub.Optional && firstErr == nil {
				firstErr = fmt.Errorf("dependency failed before %q could run", sub.Name)
			}
		}
	}
	if firstErr != nil {
		m.fail(st, firstErr)
		return
	}

	st.mu.Lock()
	task := st.task
	task.Status = scheduler.StatusCompleted
	if scored > 0 {
		task.FinalScore = scoreSum / float64(scored)
	}
	task.SubTasks = subtasks
	task.CompletedAt = time.Now()
	duration := task.CompletedAt.Sub(task.CreatedAt)
	score := task.FinalScore
	st.mu.Unlock()

	m.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
		ID: task.ID, Score: score, Duration: duration, Timestamp: time.Now(),
	})
	m.log.Info("task completed", "task_id", task.ID, "score", score, "duration", duration)
	m.persistTask(st)
}

// fail moves the task to Failed with a stable cause code.
func (m *Manager) fail(st *taskState, err error) {
	st.mu.Lock()
	task := st.task
	if task.Status.Terminal() {
		st.mu.Unlock()
		return
	}
	task.Status = scheduler.StatusFailed
	task.Err = err
	task.FailureKind = scheduler.FailureKind(err)
	task.SubTasks = st.dag.SubTasks()
	task.CompletedAt = time.Now()
	duration := task.CompletedAt.Sub(task.CreatedAt)
	kind := task.FailureKind
	st.mu.Unlock()

	st.cancel() // Release any in-flight sub-tasks of this task.
	m.bus.Publish(events.TopicTask, events.TaskFailedEvent{
		ID: task.ID, Kind: kind, Err: err, Duration: duration, Timestamp: time.Now(),
	})
	m.log.Error("task failed", "task_id", task.ID, "kind", kind, "error", err)
	m.persistTask(st)
}

// pruneTerminal evicts the oldest terminal tasks beyond the retention
// limit so long-lived managers don't accumulate every task ever run.
// Runs only when a history store exists: evicted tasks stay reachable
// through the GetTaskStatus store fallback.
func (m *Manager) pruneTerminal() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type aged struct {
		id string
		at time.Time
	}
	var terminal []aged
	for id, st := range m.tasks {
		st.mu.Lock()
		if st.task.Status.Terminal() {
			terminal = append(terminal, aged{id: id, at: st.task.CompletedAt})
		}
		st.mu.Unlock()
	}
	if len(terminal) <= m.retain {
		return
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].at.Before(terminal[j].at) })
	for _, t := range terminal[:len(terminal)-m.retain] {
		delete(m.tasks, t.id)
	}
}

// GetTaskStatus returns a read-only snapshot of a task. Failed tasks carry
// the originating error kind and the last execution error payload.
func (m *Manager) GetTaskStatus(taskID string) (*scheduler.Task, error) {
	m.mu.Lock()
	st, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		if m.store != nil {
			return m.store.GetTask(context.Background(), taskID)
		}
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap := *st.task
	if snap.Status.Terminal() {
		snap.SubTasks = append([]*scheduler.SubTask(nil), st.task.SubTasks...)
	} else {
		snap.SubTasks = st.dag.SubTasks()
	}
	return &snap, nil
}

// CancelTask cancels a running task. Idempotent: the first call on a live
// task returns true, any later call (or a call on a terminal task) false.
func (m *Manager) CancelTask(taskID string) bool {
	m.mu.Lock()
	st, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	if st.cancelled || st.task.Status.Terminal() {
		st.mu.Unlock()
		return false
	}
	st.cancelled = true
	st.mu.Unlock()

	st.cancel()
	m.log.Info("task cancelled", "task_id", taskID)
	return true
}

// Wait blocks until the task reaches a terminal state or ctx ends.
func (m *Manager) Wait(ctx context.Context, taskID string) error {
	m.mu.Lock()
	st, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsembleStatus is a point-in-time view of the agent pool and task load.
type EnsembleStatus struct {
	Agents             []agent.DescriptorView `json:"agents"`
	TasksInFlight      int                    `json:"tasks_in_flight"`
	TasksTotal         int                    `json:"tasks_total"`
	ConsensusThreshold float64                `json:"consensus_threshold"`
}

// Status reports the ensemble's current state.
func (m *Manager) Status() EnsembleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := EnsembleStatus{
		TasksTotal:         len(m.tasks),
		ConsensusThreshold: m.cfg.Ensemble.ConsensusThreshold,
	}
	for _, st := range m.tasks {
		st.mu.Lock()
		if !st.task.Status.Terminal() {
			s.TasksInFlight++
		}
		st.mu.Unlock()
	}
	for _, desc := range m.descs {
		s.Agents = append(s.Agents, desc.Snapshot())
	}
	return s
}

func (m *Manager) persistTask(st *taskState) {
	if m.store == nil {
		return
	}
	st.mu.Lock()
	snap := *st.task
	st.mu.Unlock()
	if err := m.store.SaveTask(context.Background(), &snap); err != nil {
		m.log.Warn("persisting task failed", "task_id", snap.ID, "error", err)
	}
}

func (m *Manager) persistSubTask(st *taskState, sub *scheduler.SubTask) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSubTask(context.Background(), sub); err != nil {
		m.log.Warn("persisting subtask failed", "subtask_id", sub.ID, "error", err)
	}
}

func (m *Manager) persistAttempt(st *taskState, sub *scheduler.SubTask, agentID string, attempt int, outcome string, score float64, duration time.Duration, errStr string) {
	if m.store == nil {
		return
	}
	rec := persistence.AttemptRecord{
		SubTaskID: sub.ID, AgentID: agentID, Attempt: attempt, Outcome: outcome,
		Score: score, Duration: duration, Error: errStr, Timestamp: time.Now(),
	}
	if err := m.store.RecordAttempt(context.Background(), st.task.ID, rec); err != nil {
		m.log.Warn("persisting attempt failed", "subtask_id", sub.ID, "error", err)
	}
}
