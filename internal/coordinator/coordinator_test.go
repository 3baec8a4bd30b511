package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apiarist/apiary/internal/config"
	"github.com/apiarist/apiary/internal/planner"
	"github.com/apiarist/apiary/internal/pool"
	"github.com/apiarist/apiary/internal/store"
)

// recordingExecutor notes task completion order and can be told to fail
// specific tasks.
type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
}

func (e *recordingExecutor) Execute(ctx context.Context, task planner.TaskNode, agentID string) (string, error) {
	e.mu.Lock()
	e.order = append(e.order, task.ID)
	e.mu.Unlock()
	if e.fail[task.ID] {
		return "", fmt.Errorf("simulated failure")
	}
	return "done:" + task.ID, nil
}

func (e *recordingExecutor) position(taskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, id := range e.order {
		if id == taskID {
			return i
		}
	}
	return -1
}

func diamondTasks() []planner.TaskNode {
	return []planner.TaskNode{
		{ID: "A", Type: "research"},
		{ID: "B", Type: "research"},
		{ID: "C", Type: "coding", DependsOn: []string{"A"}},
		{ID: "D", Type: "coding", DependsOn: []string{"B"}},
		{ID: "E", Type: "review", DependsOn: []string{"C", "D"}},
	}
}

func TestRunWorkflowCompletes(t *testing.T) {
	exec := &recordingExecutor{}
	c := New(Options{Executor: exec})

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Name:  "diamond",
		Tasks: diamondTasks(),
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}

	if res.Status != "completed" {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if len(res.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(res.Results))
	}
	for id, tr := range res.Results {
		if tr.Status != "completed" {
			t.Errorf("task %s: expected completed, got %s (%s)", id, tr.Status, tr.Error)
		}
		if tr.Output != "done:"+id {
			t.Errorf("task %s: unexpected output %q", id, tr.Output)
		}
		if tr.AgentID == "" {
			t.Errorf("task %s: expected an assigned agent", id)
		}
	}

	// Layer ordering: E runs after both C and D, which run after A and B.
	for _, dep := range []string{"C", "D"} {
		if exec.position("E") < exec.position(dep) {
			t.Errorf("E ran before its prerequisite %s", dep)
		}
	}
	for _, id := range []string{"C", "D"} {
		for _, dep := range []string{"A", "B"} {
			if exec.position(id) < exec.position(dep) {
				t.Errorf("%s ran before first-layer task %s", id, dep)
			}
		}
	}
}

func TestRunWorkflowCreatesAgentsFromTemplates(t *testing.T) {
	c := New(Options{Executor: &recordingExecutor{}})

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Name:  "templated",
		Tasks: []planner.TaskNode{{ID: "t1", Type: "coding"}},
		Agents: []pool.AgentConfig{{
			ID:             "coder",
			Specialization: "coding",
			Capabilities:   []pool.Capability{{Name: "coding", Proficiency: 0.9}},
			MaxConcurrent:  2,
		}},
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}

	if res.Results["t1"].AgentID != "coder" {
		t.Errorf("expected template agent 'coder', got %q", res.Results["t1"].AgentID)
	}
	if _, err := c.Pool().Get("coder"); err != nil {
		t.Errorf("expected coder registered in pool: %v", err)
	}
}

func TestRunWorkflowReusesIdleAgents(t *testing.T) {
	c := New(Options{Executor: &recordingExecutor{}})
	if _, err := c.Pool().Create(pool.AgentConfig{
		ID:             "veteran",
		Specialization: "coding",
		Capabilities:   []pool.Capability{{Name: "coding", Proficiency: 0.8}},
		MaxConcurrent:  4,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Tasks: []planner.TaskNode{
			{ID: "t1", Type: "coding"},
			{ID: "t2", Type: "coding", DependsOn: []string{"t1"}},
		},
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}

	for _, id := range []string{"t1", "t2"} {
		if res.Results[id].AgentID != "veteran" {
			t.Errorf("task %s: expected veteran, got %q", id, res.Results[id].AgentID)
		}
	}
	perf, err := c.Pool().Performance("veteran")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf.Attempts != 2 || perf.Successes != 2 {
		t.Errorf("expected 2/2 outcomes recorded, got %+v", perf)
	}
}

func TestRunWorkflowFailureStopsLaterLayers(t *testing.T) {
	exec := &recordingExecutor{fail: map[string]bool{"B": true}}
	c := New(Options{Executor: exec})

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Tasks: diamondTasks(),
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}

	if res.Status != "failed" {
		t.Errorf("expected failed, got %s", res.Status)
	}
	// A shares B's layer and still completes.
	if res.Results["A"].Status != "completed" {
		t.Errorf("expected layer-mate A to complete, got %s", res.Results["A"].Status)
	}
	if res.Results["B"].Status != "failed" {
		t.Errorf("expected B to fail, got %s", res.Results["B"].Status)
	}
	// Later layers never started.
	for _, id := range []string{"C", "D", "E"} {
		if _, ran := res.Results[id]; ran {
			t.Errorf("expected %s to be skipped after failure", id)
		}
	}
}

func TestRunWorkflowLayerTimeoutIsolatesStragglers(t *testing.T) {
	release := make(chan struct{})
	var stragglers sync.WaitGroup
	stragglers.Add(2)
	exec := ExecutorFunc(func(ctx context.Context, task planner.TaskNode, agentID string) (string, error) {
		defer stragglers.Done()
		<-release
		return "late:" + task.ID, nil
	})
	c := New(Options{
		Executor: exec,
		Swarm:    config.SwarmConfig{LayerTimeout: 20 * time.Millisecond},
	})

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Name: "stalled",
		Tasks: []planner.TaskNode{
			{ID: "a", Type: "research"},
			{ID: "b", Type: "research"},
		},
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}
	if res.Status != "failed" {
		t.Errorf("expected failed after layer timeout, got %s", res.Status)
	}
	if len(res.Results) != 0 {
		t.Errorf("expected no results from the timed-out layer, got %v", res.Results)
	}

	// Let the stuck tasks finish while the caller is reading the result;
	// their late writes must not reach the returned map.
	close(release)
	if _, err := json.Marshal(res.Results); err != nil {
		t.Fatalf("marshal results: %v", err)
	}
	stragglers.Wait()
	if len(res.Results) != 0 {
		t.Error("straggler results leaked into the returned map")
	}
}

func TestRunWorkflowRejectsCycles(t *testing.T) {
	c := New(Options{Executor: &recordingExecutor{}})

	_, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Tasks: []planner.TaskNode{
			{ID: "a", Type: "x", DependsOn: []string{"b"}},
			{ID: "b", Type: "x", DependsOn: []string{"a"}},
		},
	})
	var cycle *planner.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestRunWorkflowHonorsExplicitCapabilities(t *testing.T) {
	c := New(Options{Executor: &recordingExecutor{}})
	if _, err := c.Pool().Create(pool.AgentConfig{
		ID:             "linguist",
		Specialization: "translation",
		Capabilities:   []pool.Capability{{Name: "translation", Proficiency: 0.95}},
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Tasks: []planner.TaskNode{{
			ID:     "t1",
			Type:   "generic",
			Config: map[string]any{"capabilities": []any{"translation"}},
		}},
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}
	if res.Results["t1"].AgentID != "linguist" {
		t.Errorf("expected linguist via explicit capabilities, got %q", res.Results["t1"].AgentID)
	}
}

func TestRunWorkflowPersistsRun(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer st.Close()

	c := New(Options{Executor: &recordingExecutor{}, Store: st})
	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		ID:    "wf-persist",
		Name:  "persisted",
		Tasks: []planner.TaskNode{{ID: "t1", Type: "coding"}},
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("expected completed, got %s", res.Status)
	}

	run, err := st.GetWorkflowRun("wf-persist")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run == nil {
		t.Fatal("expected persisted run")
	}
	if run.Status != "completed" {
		t.Errorf("expected persisted status completed, got %s", run.Status)
	}
	if len(run.Results) == 0 {
		t.Error("expected persisted results")
	}

	perf, err := st.GetAgentPerformance(res.Results["t1"].AgentID)
	if err != nil {
		t.Fatalf("get agent performance: %v", err)
	}
	if perf == nil {
		t.Fatal("expected persisted agent performance snapshot")
	}
	if perf.Attempts != 1 || perf.Successes != 1 {
		t.Errorf("expected 1/1 persisted outcomes, got %+v", perf)
	}
}

func TestRunWorkflowOptimizeFallback(t *testing.T) {
	c := New(Options{Executor: &recordingExecutor{}})

	res, err := c.RunWorkflow(context.Background(), WorkflowRequest{
		Tasks:    diamondTasks(),
		Optimize: true,
	})
	if err != nil {
		t.Fatalf("run workflow: %v", err)
	}
	if res.Optimized == nil {
		t.Fatal("expected optimized plan")
	}
	if res.Optimized.Confidence != 0.5 {
		t.Errorf("expected fallback confidence 0.5, got %v", res.Optimized.Confidence)
	}
	if res.Status != "completed" {
		t.Errorf("expected completed, got %s", res.Status)
	}
}
