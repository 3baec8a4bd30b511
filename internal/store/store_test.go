package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/apiarist/apiary/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkflowRunCRUD(t *testing.T) {
	s := newTestStore(t)

	tasks, _ := json.Marshal([]map[string]any{{"id": "build", "type": "coding"}})
	run := &WorkflowRun{
		ID:     "wf-1",
		Name:   "release pipeline",
		Status: "running",
		Tasks:  tasks,
	}

	if err := s.SaveWorkflowRun(run); err != nil {
		t.Fatalf("save workflow run: %v", err)
	}

	got, err := s.GetWorkflowRun("wf-1")
	if err != nil {
		t.Fatalf("get workflow run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Status != "running" || got.Name != "release pipeline" {
		t.Errorf("unexpected run: %+v", got)
	}

	results, _ := json.Marshal(map[string]string{"build": "ok"})
	if err := s.UpdateWorkflowRun("wf-1", "completed", results); err != nil {
		t.Fatalf("update workflow run: %v", err)
	}

	got, _ = s.GetWorkflowRun("wf-1")
	if got.Status != "completed" {
		t.Errorf("expected status 'completed', got '%s'", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set")
	}

	runs, err := s.ListWorkflowRuns()
	if err != nil {
		t.Fatalf("list workflow runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	// Not found
	got, err = s.GetWorkflowRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent run")
	}
}

func TestCollabSessionCRUD(t *testing.T) {
	s := newTestStore(t)

	participants, _ := json.Marshal([]string{"alice", "bob", "carol"})
	sess := &CollabSession{
		ID:           "sess-1",
		Type:         "peer_review",
		Initiator:    "alice",
		Participants: participants,
		Status:       "in_progress",
	}

	if err := s.SaveCollabSession(sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	outcome, _ := json.Marshal(map[string]any{"overall": "approved", "approval_rate": 2.0 / 3.0})
	sess.Status = "completed"
	sess.Outcome = outcome
	if err := s.SaveCollabSession(sess); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err := s.GetCollabSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at on terminal status")
	}

	sessions, err := s.ListCollabSessions("alice")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 session for alice, got %d", len(sessions))
	}
	if sessions, _ := s.ListCollabSessions("nobody"); len(sessions) != 0 {
		t.Errorf("expected no sessions for stranger, got %d", len(sessions))
	}
}

func TestAgentPerformanceUpsert(t *testing.T) {
	s := newTestStore(t)

	p := &AgentPerformance{
		AgentID:       "a1",
		Attempts:      3,
		Successes:     2,
		Failures:      1,
		AvgCompletion: 1500 * time.Millisecond,
		Quality:       []float64{80, 90, 70},
	}
	if err := s.SaveAgentPerformance(p); err != nil {
		t.Fatalf("save performance: %v", err)
	}

	got, err := s.GetAgentPerformance("a1")
	if err != nil {
		t.Fatalf("get performance: %v", err)
	}
	if got.Attempts != 3 || got.Successes != 2 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.AvgCompletion != 1500*time.Millisecond {
		t.Errorf("expected 1.5s avg, got %s", got.AvgCompletion)
	}
	if len(got.Quality) != 3 || got.Quality[1] != 90 {
		t.Errorf("unexpected quality history: %v", got.Quality)
	}

	p.Attempts = 4
	p.Successes = 3
	if err := s.SaveAgentPerformance(p); err != nil {
		t.Fatalf("upsert performance: %v", err)
	}
	got, _ = s.GetAgentPerformance("a1")
	if got.Attempts != 4 {
		t.Errorf("expected upserted attempts 4, got %d", got.Attempts)
	}

	if got, _ := s.GetAgentPerformance("ghost"); got != nil {
		t.Error("expected nil for unknown agent")
	}
}

func TestScheduledWorkflowCRUD(t *testing.T) {
	s := newTestStore(t)

	next := time.Now().Add(-time.Minute) // due now
	w := &ScheduledWorkflow{
		ID:        "sched-1",
		Name:      "nightly rebuild",
		Schedule:  `{"kind":"interval","interval_ms":60000}`,
		Workflow:  `{"name":"rebuild","tasks":[{"id":"t1","type":"build"}]}`,
		Status:    "active",
		NextRunAt: &next,
	}

	if err := s.SaveScheduledWorkflow(w); err != nil {
		t.Fatalf("save scheduled workflow: %v", err)
	}

	got, err := s.GetScheduledWorkflow("sched-1")
	if err != nil {
		t.Fatalf("get scheduled workflow: %v", err)
	}
	if got.Name != "nightly rebuild" {
		t.Errorf("unexpected name: %s", got.Name)
	}

	due, err := s.GetDueScheduledWorkflows(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due schedule, got %d", len(due))
	}

	// Run update clears the due state.
	future := time.Now().Add(time.Hour)
	if err := s.UpdateScheduledWorkflowRun("sched-1", "success", "", &future); err != nil {
		t.Fatalf("update run: %v", err)
	}
	due, _ = s.GetDueScheduledWorkflows(time.Now())
	if len(due) != 0 {
		t.Errorf("expected no due schedules, got %d", len(due))
	}

	// Pause removes from due even when overdue.
	past := time.Now().Add(-time.Hour)
	_ = s.UpdateScheduledWorkflowRun("sched-1", "success", "", &past)
	_ = s.UpdateScheduledWorkflowStatus("sched-1", "paused")
	due, _ = s.GetDueScheduledWorkflows(time.Now())
	if len(due) != 0 {
		t.Errorf("expected paused schedule excluded, got %d", len(due))
	}
}
