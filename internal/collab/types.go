package collab

import "time"

// Type is the kind of collaboration a session runs.
type Type string

const (
	TypePeerReview           Type = "peer_review"
	TypeKnowledgeTransfer    Type = "knowledge_transfer"
	TypeTaskDelegation       Type = "task_delegation"
	TypeConsensusBuilding    Type = "consensus_building"
	TypeCollaborativeSolving Type = "collaborative_solving"
)

func (t Type) valid() bool {
	switch t {
	case TypePeerReview, TypeKnowledgeTransfer, TypeTaskDelegation, TypeConsensusBuilding, TypeCollaborativeSolving:
		return true
	}
	return false
}

// Status is a session's place in its lifecycle.
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusInProgress    Status = "in_progress"
	StatusReviewPending Status = "review_pending"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ReviewOutcome is a reviewer's verdict, or the aggregated session verdict.
type ReviewOutcome string

const (
	OutcomeApproved      ReviewOutcome = "approved"
	OutcomeRejected      ReviewOutcome = "rejected"
	OutcomeNeedsRevision ReviewOutcome = "needs_revision"
)

// Context carries what the collaboration is about.
type Context struct {
	Description     string         `json:"description"`
	RequiredSkills  []string       `json:"required_skills,omitempty"`
	Artifact        string         `json:"artifact,omitempty"`
	QualityCriteria []string       `json:"quality_criteria,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Request asks the engine to open a session. Targets may be omitted; the
// engine then recruits candidates from the trust network.
type Request struct {
	Requester string     `json:"requester"`
	Type      Type       `json:"type"`
	Context   Context    `json:"context"`
	Targets   []string   `json:"targets,omitempty"`
	Priority  int        `json:"priority,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// Plan is the collaboration plan attached to a session at initiation.
type Plan struct {
	Objectives []string          `json:"objectives"`
	Roles      map[string]string `json:"roles,omitempty"`
	Workflow   []string          `json:"workflow,omitempty"`
}

// PeerReviewResult is one reviewer's submitted review. Immutable once
// recorded.
type PeerReviewResult struct {
	ID           string        `json:"id"`
	Reviewer     string        `json:"reviewer"`
	Artifact     string        `json:"artifact,omitempty"`
	Outcome      ReviewOutcome `json:"outcome"`
	Feedback     string        `json:"feedback,omitempty"`
	Suggestions  []string      `json:"suggestions,omitempty"`
	QualityScore float64       `json:"quality_score"` // 0-100
	Confidence   float64       `json:"confidence"`    // 0-1
	SubmittedAt  time.Time     `json:"submitted_at"`
}

// ReviewSummary is the aggregated verdict once every expected review is in.
type ReviewSummary struct {
	Overall        ReviewOutcome `json:"overall"`
	ApprovalRate   float64       `json:"approval_rate"`
	AverageQuality float64       `json:"average_quality"`
	Reviews        int           `json:"reviews"`
}

// ReviewTask tells one reviewer what to look at and how.
type ReviewTask struct {
	Reviewer     string   `json:"reviewer"`
	Criteria     []string `json:"criteria"`
	Questions    []string `json:"questions,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
}

// KnowledgeTransfer is one unit of knowledge moving between two agents.
// Effectiveness is filled in later, once the receiver has applied it.
type KnowledgeTransfer struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	KnowledgeType string         `json:"knowledge_type"`
	Content       map[string]any `json:"content,omitempty"`
	Context       string         `json:"context,omitempty"`
	Effectiveness *float64       `json:"effectiveness,omitempty"`
	TransferredAt time.Time      `json:"transferred_at"`
}

// Subtask is one piece of a delegated task.
type Subtask struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
}

// DelegationPlan breaks a delegated task into assigned subtasks.
type DelegationPlan struct {
	Subtasks     []Subtask `json:"subtasks"`
	Coordination []string  `json:"coordination,omitempty"`
}

// ConsensusFramework structures a consensus-building session. Preferences
// start empty, one slot per participant, and are filled externally; the
// framework itself never decides.
type ConsensusFramework struct {
	Decision    string            `json:"decision"`
	Options     []string          `json:"options,omitempty"`
	Preferences map[string]string `json:"preferences"`
	Discussion  []string          `json:"discussion"`
}

// SolvingFramework structures an open-ended collaborative-solving session.
type SolvingFramework struct {
	Problem string   `json:"problem"`
	Phases  []string `json:"phases"`
	Phase   string   `json:"phase"`
}

// Session is one live collaboration. All mutation goes through Engine
// methods.
type Session struct {
	ID           string              `json:"id"`
	Type         Type                `json:"type"`
	Initiator    string              `json:"initiator"`
	Participants []string            `json:"participants"`
	Status       Status              `json:"status"`
	Plan         *Plan               `json:"plan,omitempty"`
	Artifacts    map[string]any      `json:"artifacts,omitempty"`
	DecisionLog  []string            `json:"decision_log,omitempty"`
	Reviews      []PeerReviewResult  `json:"reviews,omitempty"`
	Transfers    []KnowledgeTransfer `json:"transfers,omitempty"`
	Outcome      *ReviewSummary      `json:"outcome,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// reviewers lists the participants expected to review: everyone but the
// initiator.
func (s *Session) reviewers() []string {
	var out []string
	for _, p := range s.Participants {
		if p != s.Initiator {
			out = append(out, p)
		}
	}
	return out
}
