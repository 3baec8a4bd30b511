// Package coordinator turns workflow requests into layered execution plans
// and drives them across the agent pool. It also runs the coordination-event
// loop: handoffs, conflicts, contention, quality and performance concerns all
// land here and leave with exactly one response.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apiarist/apiary/internal/advisory"
	"github.com/apiarist/apiary/internal/bus"
	"github.com/apiarist/apiary/internal/config"
	"github.com/apiarist/apiary/internal/network"
	"github.com/apiarist/apiary/internal/planner"
	"github.com/apiarist/apiary/internal/pool"
	"github.com/apiarist/apiary/internal/store"
)

// WorkflowRequest is a submitted workflow: the task graph plus optional agent
// templates to instantiate when no live agent fits a task.
type WorkflowRequest struct {
	ID       string             `json:"id,omitempty"`
	Name     string             `json:"name"`
	Tasks    []planner.TaskNode `json:"tasks"`
	Agents   []pool.AgentConfig `json:"agents,omitempty"`
	Optimize bool               `json:"optimize,omitempty"`
	Context  string             `json:"context,omitempty"`
}

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	TaskID  string        `json:"task_id"`
	AgentID string        `json:"agent_id,omitempty"`
	Status  string        `json:"status"` // completed | failed
	Output  string        `json:"output,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// WorkflowResult is the final state of a synchronous workflow run.
type WorkflowResult struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"` // completed | failed
	Layers    [][]string             `json:"layers"`
	Optimized *planner.OptimizedPlan `json:"optimized,omitempty"`
	Results   map[string]TaskResult  `json:"results"`
	StartedAt time.Time              `json:"started_at"`
	Elapsed   time.Duration          `json:"elapsed"`
}

// Options wires a Coordinator. Store and Bus may be nil; Advisor may be nil
// to force every advisory consult onto its deterministic fallback.
type Options struct {
	Pool      *pool.Pool
	Network   *network.Network
	Optimizer *planner.Optimizer
	Advisor   advisory.Advisor
	Executor  Executor
	Store     *store.Store
	Bus       *bus.Client
	Swarm     config.SwarmConfig
}

type Coordinator struct {
	pool      *pool.Pool
	network   *network.Network
	optimizer *planner.Optimizer
	advisor   advisory.Advisor
	executor  Executor
	store     *store.Store
	client    *bus.Client
	cfg       config.SwarmConfig
	events    chan Event
}

func New(opts Options) *Coordinator {
	if opts.Pool == nil {
		opts.Pool = pool.New()
	}
	if opts.Network == nil {
		opts.Network = network.New(opts.Bus)
	}
	if opts.Optimizer == nil {
		opts.Optimizer = planner.NewOptimizer(opts.Advisor)
	}
	if opts.Swarm.LayerTimeout <= 0 {
		opts.Swarm.LayerTimeout = 30 * time.Minute
	}
	if opts.Swarm.ExecTimeout <= 0 {
		opts.Swarm.ExecTimeout = 15 * time.Minute
	}
	return &Coordinator{
		pool:      opts.Pool,
		network:   opts.Network,
		optimizer: opts.Optimizer,
		advisor:   opts.Advisor,
		executor:  opts.Executor,
		store:     opts.Store,
		client:    opts.Bus,
		cfg:       opts.Swarm,
		events:    make(chan Event, 64),
	}
}

func (c *Coordinator) Pool() *pool.Pool          { return c.pool }
func (c *Coordinator) Network() *network.Network { return c.network }

// Raise queues a coordination event for the run loop. The response is
// delivered to the raising agent's mailbox and mirrored onto the bus.
func (c *Coordinator) Raise(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RaisedAt.IsZero() {
		ev.RaisedAt = time.Now().UTC()
	}
	c.events <- ev
}

// Start runs the coordination-event loop until ctx is cancelled. Each queued
// event is dispatched once.
func (c *Coordinator) Start(ctx context.Context) {
	slog.Info("coordination loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("coordination loop stopped")
			return
		case ev := <-c.events:
			resp := c.Dispatch(ctx, ev)
			if ev.From != "" {
				c.network.Send("coordinator", ev.From, resp)
			}
			if ev.Type == EventHandoff && ev.Target != "" {
				c.network.Send("coordinator", ev.Target, resp)
			}
			c.publish(bus.TopicEventsCoordination, map[string]any{"event": ev, "response": resp})
			slog.Info("coordination event resolved",
				"event", ev.ID, "type", ev.Type, "actions", resp.Actions,
				"probability", resp.SuccessProbability)
		}
	}
}

// Submit starts a workflow asynchronously and returns its id. Progress and
// the final result flow through the store and the events.workflow topics.
func (c *Coordinator) Submit(req WorkflowRequest) (string, error) {
	if len(req.Tasks) == 0 {
		return "", fmt.Errorf("workflow has no tasks")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	go func() {
		if _, err := c.RunWorkflow(context.Background(), req); err != nil {
			slog.Error("workflow failed", "workflow", req.ID, "error", err)
		}
	}()
	return req.ID, nil
}

// RunWorkflow executes a workflow synchronously: build the layered plan,
// optionally optimize it, then run each layer with one goroutine per task.
// Tasks inside a layer run concurrently; a layer starts only after the
// previous one finished. A task failure fails the workflow but the rest of
// its layer still completes.
func (c *Coordinator) RunWorkflow(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	plan, err := planner.BuildPlan(req.Tasks)
	if err != nil {
		return nil, fmt.Errorf("build plan for workflow %s: %w", req.ID, err)
	}

	res := &WorkflowResult{
		ID:        req.ID,
		Name:      req.Name,
		Status:    "running",
		Layers:    plan.Layers,
		Results:   make(map[string]TaskResult, len(req.Tasks)),
		StartedAt: time.Now().UTC(),
	}
	if req.Optimize {
		res.Optimized = c.optimizer.Optimize(ctx, plan, req.Context)
		res.Layers = res.Optimized.Layers
		slog.Info("workflow plan optimized", "workflow", req.ID,
			"layers", len(res.Layers), "efficiency", res.Optimized.EfficiencyScore,
			"confidence", res.Optimized.Confidence)
	}

	c.saveRun(req, res)
	c.publish(bus.TopicEventsWorkflow(req.ID), map[string]any{"status": "started", "layers": res.Layers})
	slog.Info("workflow started", "workflow", req.ID, "name", req.Name,
		"tasks", len(req.Tasks), "layers", len(res.Layers))

	// Task goroutines write into this map, never into res.Results directly:
	// a timed-out layer leaves stragglers running, and they must not mutate
	// the map after it has been persisted and handed to the caller.
	results := make(map[string]TaskResult, len(req.Tasks))
	var mu sync.Mutex
	failed := false

	for i, layer := range res.Layers {
		var wg sync.WaitGroup
		for _, taskID := range layer {
			task := plan.Tasks[taskID]
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr := c.runTask(ctx, req, task)
				mu.Lock()
				results[task.ID] = tr
				if tr.Status != "completed" {
					failed = true
				}
				mu.Unlock()
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(c.cfg.LayerTimeout):
			mu.Lock()
			failed = true
			mu.Unlock()
			slog.Error("layer timed out", "workflow", req.ID, "layer", i)
		case <-ctx.Done():
			mu.Lock()
			failed = true
			mu.Unlock()
		}

		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
	}

	mu.Lock()
	res.Status = "completed"
	if failed {
		res.Status = "failed"
	}
	for id, tr := range results {
		res.Results[id] = tr
	}
	mu.Unlock()
	res.Elapsed = time.Since(res.StartedAt)

	c.finishRun(res)
	c.publish(bus.TopicEventsWorkflow(req.ID), map[string]any{"status": res.Status, "results": res.Results})
	slog.Info("workflow finished", "workflow", req.ID, "status", res.Status, "elapsed", res.Elapsed)
	return res, nil
}

func (c *Coordinator) runTask(ctx context.Context, req WorkflowRequest, task planner.TaskNode) TaskResult {
	tr := TaskResult{TaskID: task.ID}

	agent := c.agentFor(task, req.Agents)
	if agent == nil {
		tr.Status = "failed"
		tr.Error = fmt.Sprintf("no agent available for task %s (%s)", task.ID, task.Type)
		return tr
	}
	tr.AgentID = agent.ID()

	if err := c.pool.Assign(agent.ID(), task.ID); err != nil {
		tr.Status = "failed"
		tr.Error = err.Error()
		return tr
	}
	defer c.pool.Release(agent.ID(), task.ID)
	_ = c.pool.Begin(agent.ID())

	start := time.Now()
	var output string
	var err error
	if c.executor == nil {
		err = fmt.Errorf("no executor configured")
	} else {
		execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecTimeout)
		output, err = c.executor.Execute(execCtx, task, agent.ID())
		cancel()
	}
	tr.Elapsed = time.Since(start)

	outcome := pool.Outcome{Success: err == nil, Duration: tr.Elapsed}
	if err == nil {
		outcome.Quality = 100
	}
	if perr := c.pool.RecordPerformance(agent.ID(), outcome); perr != nil {
		slog.Warn("failed to record performance", "agent", agent.ID(), "error", perr)
	} else {
		c.savePerformance(agent.ID())
	}

	if err != nil {
		tr.Status = "failed"
		tr.Error = err.Error()
		slog.Warn("task failed", "workflow", req.ID, "task", task.ID, "agent", agent.ID(), "error", err)
		return tr
	}
	tr.Status = "completed"
	tr.Output = output
	slog.Info("task completed", "workflow", req.ID, "task", task.ID, "agent", agent.ID(), "elapsed", tr.Elapsed)
	return tr
}

// requirementsFor derives the capability requirements for a task: an explicit
// "capabilities" list in the task config wins, otherwise the task type names
// the single required capability.
func requirementsFor(task planner.TaskNode) pool.Requirements {
	if raw, ok := task.Config["capabilities"]; ok {
		switch caps := raw.(type) {
		case []string:
			if len(caps) > 0 {
				return pool.Requirements{Capabilities: caps}
			}
		case []any:
			var names []string
			for _, v := range caps {
				if s, ok := v.(string); ok {
					names = append(names, s)
				}
			}
			if len(names) > 0 {
				return pool.Requirements{Capabilities: names}
			}
		}
	}
	return pool.Requirements{Capabilities: []string{task.Type}}
}

// agentFor selects the best live agent for the task, instantiating one from
// the workflow's templates (or a generic single-capability config) when
// nothing in the pool fits.
func (c *Coordinator) agentFor(task planner.TaskNode, templates []pool.AgentConfig) *pool.Agent {
	req := requirementsFor(task)
	if a := c.pool.SelectBest(req); a != nil {
		return a
	}

	cfg, ok := templateFor(task, templates, req)
	if !ok {
		cfg = pool.AgentConfig{
			Specialization: task.Type,
			Capabilities:   []pool.Capability{{Name: task.Type, Proficiency: 0.5}},
			MaxConcurrent:  3,
		}
	}
	cfg.ID = c.uniqueAgentID(cfg, task)

	a, err := c.pool.Create(cfg)
	if err != nil {
		slog.Warn("failed to create agent", "task", task.ID, "error", err)
		return c.pool.SelectBest(req)
	}
	c.network.Register(a.ID())
	return a
}

// templateFor picks the first template whose specialization matches the task
// type, falling back to any template covering a required capability.
func templateFor(task planner.TaskNode, templates []pool.AgentConfig, req pool.Requirements) (pool.AgentConfig, bool) {
	for _, t := range templates {
		if strings.EqualFold(t.Specialization, task.Type) {
			return t, true
		}
	}
	for _, t := range templates {
		for _, c := range t.Capabilities {
			for _, name := range req.Capabilities {
				if capabilityMatches(c.Name, name) {
					return t, true
				}
			}
		}
	}
	return pool.AgentConfig{}, false
}

func capabilityMatches(have, want string) bool {
	have, want = strings.ToLower(have), strings.ToLower(want)
	return have == want || strings.Contains(have, want) || strings.Contains(want, have)
}

func (c *Coordinator) uniqueAgentID(cfg pool.AgentConfig, task planner.TaskNode) string {
	base := cfg.ID
	if base == "" {
		spec := cfg.Specialization
		if spec == "" {
			spec = task.Type
		}
		base = spec + "-worker"
	}
	if _, err := c.pool.Get(base); err != nil {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s-%d", base, n)
		if _, err := c.pool.Get(id); err != nil {
			return id
		}
	}
}

func (c *Coordinator) saveRun(req WorkflowRequest, res *WorkflowResult) {
	if c.store == nil {
		return
	}
	tasks, _ := json.Marshal(req.Tasks)
	plan, _ := json.Marshal(res.Layers)
	run := &store.WorkflowRun{
		ID:        res.ID,
		Name:      res.Name,
		Status:    res.Status,
		Tasks:     tasks,
		Plan:      plan,
		StartedAt: res.StartedAt,
	}
	if err := c.store.SaveWorkflowRun(run); err != nil {
		slog.Warn("failed to persist workflow run", "workflow", res.ID, "error", err)
	}
}

// savePerformance snapshots the agent's live counters into the store so the
// history survives restarts.
func (c *Coordinator) savePerformance(agentID string) {
	if c.store == nil {
		return
	}
	perf, err := c.pool.Performance(agentID)
	if err != nil {
		return
	}
	snap := &store.AgentPerformance{
		AgentID:       agentID,
		Attempts:      perf.Attempts,
		Successes:     perf.Successes,
		Failures:      perf.Failures,
		AvgCompletion: perf.AvgCompletion,
		Quality:       perf.QualityScores,
	}
	if err := c.store.SaveAgentPerformance(snap); err != nil {
		slog.Warn("failed to persist agent performance", "agent", agentID, "error", err)
	}
}

func (c *Coordinator) finishRun(res *WorkflowResult) {
	if c.store == nil {
		return
	}
	results, _ := json.Marshal(res.Results)
	if err := c.store.UpdateWorkflowRun(res.ID, res.Status, results); err != nil {
		slog.Warn("failed to persist workflow result", "workflow", res.ID, "error", err)
	}
}

func (c *Coordinator) publish(topic string, v any) {
	if c.client == nil {
		return
	}
	if err := c.client.PublishJSON(topic, v); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
