// Package collab runs multi-agent collaboration sessions: peer review,
// knowledge transfer, task delegation, consensus building and open-ended
// solving. Session outcomes feed a trust network that shapes future partner
// selection.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apiarist/apiary/internal/advisory"
	"github.com/apiarist/apiary/internal/bus"
	"github.com/apiarist/apiary/internal/config"
	"github.com/apiarist/apiary/internal/store"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotParticipant = errors.New("not a session participant")
)

// Options wires an Engine. Network defaults to a fresh trust network;
// Advisor, Store and Bus may be nil.
type Options struct {
	Network *TrustNetwork
	Advisor advisory.Advisor
	Store   *store.Store
	Bus     *bus.Client
	Collab  config.CollabConfig
}

type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	network       *TrustNetwork
	advisor       advisory.Advisor
	store         *store.Store
	client        *bus.Client
	maxCandidates int
	assumeActive  bool
}

func NewEngine(opts Options) *Engine {
	if opts.Network == nil {
		opts.Network = NewTrustNetwork()
	}
	if opts.Collab.MaxCandidates <= 0 {
		opts.Collab.MaxCandidates = 5
	}
	return &Engine{
		sessions:      make(map[string]*Session),
		network:       opts.Network,
		advisor:       opts.Advisor,
		store:         opts.Store,
		client:        opts.Bus,
		maxCandidates: opts.Collab.MaxCandidates,
		assumeActive:  opts.Collab.AssumeActiveContext,
	}
}

func (e *Engine) Network() *TrustNetwork { return e.network }

// Request opens a collaboration session. When the request names no targets,
// partners are recruited from the trust network; with no candidates and
// assume_active_context disabled, the request is rejected rather than
// creating a single-agent session.
func (e *Engine) Request(ctx context.Context, req Request) (*Session, error) {
	if req.Requester == "" {
		return nil, fmt.Errorf("collaboration request has no requester")
	}
	if !req.Type.valid() {
		return nil, fmt.Errorf("unknown collaboration type %q", req.Type)
	}

	targets := req.Targets
	if len(targets) == 0 {
		for _, c := range e.network.Candidates(req.Requester, req.Context.RequiredSkills, e.maxCandidates) {
			targets = append(targets, c.AgentID)
		}
	}
	if len(targets) == 0 && !e.assumeActive {
		return nil, fmt.Errorf("no collaboration candidates for %s", req.Requester)
	}

	s := &Session{
		ID:           uuid.New().String(),
		Type:         req.Type,
		Initiator:    req.Requester,
		Participants: uniqueParticipants(req.Requester, targets),
		Status:       StatusInitiated,
		Artifacts:    make(map[string]any),
		CreatedAt:    time.Now().UTC(),
	}
	s.Plan = e.buildPlan(ctx, req, s)

	var err error
	switch req.Type {
	case TypePeerReview:
		err = e.initPeerReview(ctx, req, s)
	case TypeKnowledgeTransfer:
		err = e.initKnowledgeTransfer(req, s)
	case TypeTaskDelegation:
		err = e.initDelegation(ctx, req, s)
	case TypeConsensusBuilding:
		err = e.initConsensus(req, s)
	case TypeCollaborativeSolving:
		err = e.initSolving(req, s)
	}
	if err != nil {
		return nil, err
	}

	s.Status = StatusInProgress
	if req.Type == TypePeerReview {
		s.Status = StatusReviewPending
	}
	s.UpdatedAt = time.Now().UTC()

	e.mu.Lock()
	e.sessions[s.ID] = s
	copied := s.clone()
	e.mu.Unlock()

	e.archive(copied)
	e.publish(copied, "session_started")
	slog.Info("collaboration session started", "session", s.ID, "type", s.Type,
		"initiator", s.Initiator, "participants", len(s.Participants))
	return copied, nil
}

// SubmitPeerReview records one reviewer's verdict. Once every non-initiator
// participant has reviewed, the session finalizes: majority of approved vs
// rejected decides the overall outcome, a tie means needs_revision, and trust
// is updated for every participant pair.
func (e *Engine) SubmitPeerReview(sessionID string, review PeerReviewResult) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if s.Type != TypePeerReview {
		return nil, fmt.Errorf("session %s is %s, not a peer review", sessionID, s.Type)
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("session %s already finalized as %s", sessionID, s.Status)
	}
	if !isReviewer(s, review.Reviewer) {
		return nil, fmt.Errorf("%w: %s in session %s", ErrNotParticipant, review.Reviewer, sessionID)
	}
	for _, r := range s.Reviews {
		if r.Reviewer == review.Reviewer {
			return nil, fmt.Errorf("reviewer %s already submitted for session %s", review.Reviewer, sessionID)
		}
	}

	review.ID = uuid.New().String()
	review.Confidence = advisory.Clamp01(review.Confidence)
	if review.QualityScore < 0 {
		review.QualityScore = 0
	} else if review.QualityScore > 100 {
		review.QualityScore = 100
	}
	review.SubmittedAt = time.Now().UTC()
	s.Reviews = append(s.Reviews, review)
	s.UpdatedAt = review.SubmittedAt

	if len(s.Reviews) >= len(s.reviewers()) {
		e.finalizeReview(s)
	}

	copied := s.clone()
	e.archive(copied)
	e.publish(copied, "review_submitted")
	return copied, nil
}

// finalizeReview aggregates the verdicts. Called with the engine lock held.
func (e *Engine) finalizeReview(s *Session) {
	approved, rejected := 0, 0
	quality := 0.0
	for _, r := range s.Reviews {
		switch r.Outcome {
		case OutcomeApproved:
			approved++
		case OutcomeRejected:
			rejected++
		}
		quality += r.QualityScore
	}

	overall := OutcomeNeedsRevision
	switch {
	case approved > rejected:
		overall = OutcomeApproved
	case rejected > approved:
		overall = OutcomeRejected
	}

	total := len(s.Reviews)
	s.Outcome = &ReviewSummary{
		Overall:        overall,
		ApprovalRate:   float64(approved) / float64(total),
		AverageQuality: quality / float64(total),
		Reviews:        total,
	}
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
	s.DecisionLog = append(s.DecisionLog, fmt.Sprintf("review finalized: %s (%d/%d approved)", overall, approved, total))

	e.network.RecordOutcome(s.ID, s.Type, s.Status, s.Participants)
	slog.Info("peer review finalized", "session", s.ID, "outcome", overall,
		"approval_rate", s.Outcome.ApprovalRate, "avg_quality", s.Outcome.AverageQuality)
}

// Complete moves a non-review session to completed and updates trust.
func (e *Engine) Complete(sessionID string, outcome map[string]any) (*Session, error) {
	return e.terminate(sessionID, StatusCompleted, "completed", outcome)
}

// Fail moves a session to failed; trust still updates, with the reduced
// success factor.
func (e *Engine) Fail(sessionID, reason string) (*Session, error) {
	return e.terminate(sessionID, StatusFailed, reason, nil)
}

// Cancel aborts a session before it reaches a terminal state. Cancellation
// is recorded in participant history but does not move trust either way.
func (e *Engine) Cancel(sessionID, reason string) (*Session, error) {
	return e.terminate(sessionID, StatusCancelled, reason, nil)
}

func (e *Engine) terminate(sessionID string, status Status, note string, outcome map[string]any) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("session %s already finalized as %s", sessionID, s.Status)
	}

	now := time.Now().UTC()
	s.Status = status
	s.CompletedAt = &now
	s.UpdatedAt = now
	if note != "" {
		s.DecisionLog = append(s.DecisionLog, note)
	}
	if outcome != nil {
		s.Artifacts["outcome"] = outcome
	}

	e.network.RecordOutcome(s.ID, s.Type, status, s.Participants)

	copied := s.clone()
	e.archive(copied)
	e.publish(copied, "session_"+string(status))
	slog.Info("collaboration session closed", "session", s.ID, "status", status)
	return copied, nil
}

// GetStatus returns the session's current status.
func (e *Engine) GetStatus(sessionID string) (Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s.Status, nil
}

// GetSession returns a copy of the session.
func (e *Engine) GetSession(sessionID string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s.clone(), nil
}

// GetAgentHistory returns the agent's finished collaborations.
func (e *Engine) GetAgentHistory(agentID string) []HistoryEntry {
	return e.network.History(agentID)
}

// RegisterSkills records the agent's skills, clamped to [0,1].
func (e *Engine) RegisterSkills(agentID string, skills map[string]float64) {
	e.network.RegisterSkills(agentID, skills)
}

// Recommendations pairs the network's candidate ranking with an optional
// advisory narrative.
type Recommendations struct {
	Candidates []Candidate `json:"candidates"`
	Narrative  string      `json:"narrative,omitempty"`
}

// GetRecommendations ranks collaboration partners for the agent. The
// advisory narrative is best-effort: on any failure the ranking stands
// alone.
func (e *Engine) GetRecommendations(ctx context.Context, agentID string, reqCtx Context) Recommendations {
	rec := Recommendations{
		Candidates: e.network.Candidates(agentID, reqCtx.RequiredSkills, e.maxCandidates),
	}
	if e.advisor == nil || len(rec.Candidates) == 0 {
		return rec
	}

	serialized, err := json.Marshal(rec.Candidates)
	if err != nil {
		return rec
	}
	prompt := fmt.Sprintf(`Agent %q needs collaboration partners for: %s
Required skills: %v
Ranked candidates (trust and skill match): %s

Briefly explain which candidates fit best and why. Plain text.`,
		agentID, reqCtx.Description, reqCtx.RequiredSkills, serialized)

	narrative, err := e.advisor.Advise(ctx, advisory.Request{Category: "partner_recommendation", Prompt: prompt})
	if err != nil {
		slog.Warn("recommendation advisory failed, returning ranking only", "agent", agentID, "error", err)
		return rec
	}
	rec.Narrative = narrative
	return rec
}

func (e *Engine) archive(s *Session) {
	if e.store == nil {
		return
	}
	participants, _ := json.Marshal(s.Participants)
	artifacts, _ := json.Marshal(s.Artifacts)
	var outcome json.RawMessage
	if s.Outcome != nil {
		outcome, _ = json.Marshal(s.Outcome)
	}
	err := e.store.SaveCollabSession(&store.CollabSession{
		ID:           s.ID,
		Type:         string(s.Type),
		Initiator:    s.Initiator,
		Participants: participants,
		Status:       string(s.Status),
		Outcome:      outcome,
		Artifacts:    artifacts,
	})
	if err != nil {
		slog.Warn("failed to archive session", "session", s.ID, "error", err)
	}
}

func (e *Engine) publish(s *Session, kind string) {
	if e.client == nil {
		return
	}
	if err := e.client.PublishJSON(bus.TopicEventsSession(s.ID), map[string]any{"kind": kind, "session": s}); err != nil {
		slog.Warn("failed to publish session event", "session", s.ID, "error", err)
	}
}

func isReviewer(s *Session, agentID string) bool {
	if agentID == s.Initiator {
		return false
	}
	for _, p := range s.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

func uniqueParticipants(initiator string, targets []string) []string {
	out := []string{initiator}
	seen := map[string]bool{initiator: true}
	for _, t := range targets {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *Session) clone() *Session {
	c := *s
	c.Participants = append([]string(nil), s.Participants...)
	c.DecisionLog = append([]string(nil), s.DecisionLog...)
	c.Reviews = append([]PeerReviewResult(nil), s.Reviews...)
	c.Transfers = append([]KnowledgeTransfer(nil), s.Transfers...)
	c.Artifacts = make(map[string]any, len(s.Artifacts))
	for k, v := range s.Artifacts {
		c.Artifacts[k] = v
	}
	if s.Plan != nil {
		p := *s.Plan
		c.Plan = &p
	}
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	return &c
}
