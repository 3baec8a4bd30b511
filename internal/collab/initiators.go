package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/apiarist/apiary/internal/advisory"
)

// buildPlan asks the advisor for a collaboration plan and falls back to a
// generic objectives/roles/workflow plan on any failure.
func (e *Engine) buildPlan(ctx context.Context, req Request, s *Session) *Plan {
	fallback := fallbackPlan(req, s)
	if e.advisor == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Plan a %s collaboration.
Initiator: %q
Participants: %v
Goal: %s
Required skills: %v

Respond with a JSON object:
{"objectives": ["..."], "roles": {"agent-id": "role"}, "workflow": ["step", ...]}`,
		req.Type, s.Initiator, s.Participants, req.Context.Description, req.Context.RequiredSkills)

	raw, err := e.advisor.Advise(ctx, advisory.Request{Category: "collaboration_plan", Prompt: prompt})
	if err != nil {
		slog.Warn("collaboration plan advisory failed, using fallback", "type", req.Type, "error", err)
		return fallback
	}

	var p Plan
	if err := advisory.ParseJSON(raw, &p); err != nil || len(p.Objectives) == 0 {
		slog.Warn("unparseable collaboration plan, using fallback", "type", req.Type, "error", err)
		return fallback
	}
	return &p
}

func fallbackPlan(req Request, s *Session) *Plan {
	roles := make(map[string]string, len(s.Participants))
	roles[s.Initiator] = "initiator"
	for _, p := range s.Participants {
		if p != s.Initiator {
			roles[p] = "collaborator"
		}
	}
	return &Plan{
		Objectives: []string{fmt.Sprintf("complete %s collaboration: %s", req.Type, req.Context.Description)},
		Roles:      roles,
		Workflow:   []string{"share context", "work the objective", "report results"},
	}
}

// initPeerReview assigns every non-initiator participant as a reviewer and
// generates each one a review task, advisory-refined when possible.
func (e *Engine) initPeerReview(ctx context.Context, req Request, s *Session) error {
	reviewers := s.reviewers()
	if len(reviewers) == 0 {
		return fmt.Errorf("peer review needs at least one reviewer besides %s", s.Initiator)
	}

	criteria := req.Context.QualityCriteria
	if len(criteria) == 0 {
		criteria = []string{"correctness", "clarity", "completeness"}
	}

	tasks := make(map[string]ReviewTask, len(reviewers))
	advised := e.advisedReviewTask(ctx, req, criteria)
	for _, r := range reviewers {
		task := advised
		task.Reviewer = r
		tasks[r] = task
	}
	s.Artifacts["review_tasks"] = tasks
	if req.Context.Artifact != "" {
		s.Artifacts["artifact"] = req.Context.Artifact
	}
	return nil
}

// advisedReviewTask produces the task template shared by all reviewers:
// advisory output when it parses, otherwise a deterministic template keyed
// off the requested criteria.
func (e *Engine) advisedReviewTask(ctx context.Context, req Request, criteria []string) ReviewTask {
	fallback := ReviewTask{
		Criteria: criteria,
		Questions: []string{
			"does the artifact meet each stated criterion",
			"what must change before approval",
		},
		Deliverables: []string{"outcome verdict", "written feedback", "quality score"},
	}
	if e.advisor == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Design a peer-review task.
Artifact: %s
Goal: %s
Quality criteria: %v

Respond with a JSON object:
{"criteria": ["..."], "questions": ["..."], "deliverables": ["..."]}`,
		req.Context.Artifact, req.Context.Description, criteria)

	raw, err := e.advisor.Advise(ctx, advisory.Request{Category: "review_task", Prompt: prompt})
	if err != nil {
		return fallback
	}
	var task ReviewTask
	if err := advisory.ParseJSON(raw, &task); err != nil || len(task.Criteria) == 0 {
		return fallback
	}
	return task
}

// initKnowledgeTransfer fans out one transfer record per non-initiator
// participant.
func (e *Engine) initKnowledgeTransfer(req Request, s *Session) error {
	knowledgeType := "general"
	if v, ok := req.Context.Payload["knowledge_type"].(string); ok && v != "" {
		knowledgeType = v
	}

	now := time.Now().UTC()
	var ids []string
	for _, p := range s.Participants {
		if p == s.Initiator {
			continue
		}
		t := KnowledgeTransfer{
			ID:            uuid.New().String(),
			From:          s.Initiator,
			To:            p,
			KnowledgeType: knowledgeType,
			Content:       req.Context.Payload,
			Context:       req.Context.Description,
			TransferredAt: now,
		}
		s.Transfers = append(s.Transfers, t)
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("knowledge transfer needs at least one recipient")
	}
	s.Artifacts["knowledge_transfers"] = ids
	return nil
}

// initDelegation asks the advisor to break the task into assigned subtasks,
// falling back to assigning the whole task to the first delegate.
func (e *Engine) initDelegation(ctx context.Context, req Request, s *Session) error {
	delegates := s.reviewers()
	if len(delegates) == 0 {
		return fmt.Errorf("task delegation needs at least one delegate")
	}

	plan := e.advisedDelegation(ctx, req, delegates)
	s.Artifacts["delegation_plan"] = plan
	return nil
}

func (e *Engine) advisedDelegation(ctx context.Context, req Request, delegates []string) DelegationPlan {
	fallback := DelegationPlan{
		Subtasks:     []Subtask{{Description: req.Context.Description, Assignee: delegates[0]}},
		Coordination: []string{"report progress to " + req.Requester},
	}
	if e.advisor == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Break this delegated task into subtasks for the available delegates.
Task: %s
Delegates: %v

Respond with a JSON object:
{"subtasks": [{"description": "...", "assignee": "agent-id"}], "coordination": ["..."]}`,
		req.Context.Description, delegates)

	raw, err := e.advisor.Advise(ctx, advisory.Request{Category: "task_delegation", Prompt: prompt})
	if err != nil {
		return fallback
	}
	var plan DelegationPlan
	if err := advisory.ParseJSON(raw, &plan); err != nil || len(plan.Subtasks) == 0 {
		return fallback
	}

	// Only delegates in the session may be assigned; anything else lands on
	// the first delegate.
	known := make(map[string]bool, len(delegates))
	for _, d := range delegates {
		known[d] = true
	}
	for i := range plan.Subtasks {
		if !known[plan.Subtasks[i].Assignee] {
			plan.Subtasks[i].Assignee = delegates[0]
		}
	}
	return plan
}

// initConsensus sets up the decision framework: options on the table, one
// empty preference slot per participant. The framework records positions; it
// never decides.
func (e *Engine) initConsensus(req Request, s *Session) error {
	var options []string
	if raw, ok := req.Context.Payload["options"].([]any); ok {
		for _, v := range raw {
			if opt, ok := v.(string); ok {
				options = append(options, opt)
			}
		}
	}

	prefs := make(map[string]string, len(s.Participants))
	for _, p := range s.Participants {
		prefs[p] = ""
	}
	s.Artifacts["consensus_framework"] = ConsensusFramework{
		Decision:    req.Context.Description,
		Options:     options,
		Preferences: prefs,
		Discussion:  []string{},
	}
	return nil
}

// initSolving sets up the phased solving framework starting at
// brainstorming.
func (e *Engine) initSolving(req Request, s *Session) error {
	phases := []string{"brainstorming", "analysis", "solution", "validation"}
	s.Artifacts["solving_framework"] = SolvingFramework{
		Problem: req.Context.Description,
		Phases:  phases,
		Phase:   phases[0],
	}
	return nil
}
