package collab

import (
	"math"
	"sync"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTrustDefaultsToNeutral(t *testing.T) {
	n := NewTrustNetwork()
	if got := n.Trust("x", "y"); got != 0.5 {
		t.Errorf("expected default trust 0.5, got %v", got)
	}
}

func TestTrustUpdatesBothDirections(t *testing.T) {
	n := NewTrustNetwork()
	n.RecordOutcome("s1", TypePeerReview, StatusCompleted, []string{"x", "y"})

	// 0.8*0.5 + 0.2*1.0 = 0.6, in both directions.
	if got := n.Trust("x", "y"); !almostEqual(got, 0.6) {
		t.Errorf("expected trust x->y 0.6, got %v", got)
	}
	if got := n.Trust("y", "x"); !almostEqual(got, 0.6) {
		t.Errorf("expected trust y->x 0.6, got %v", got)
	}
}

func TestTrustErodesOnFailure(t *testing.T) {
	n := NewTrustNetwork()
	n.RecordOutcome("s1", TypePeerReview, StatusCompleted, []string{"x", "y"})
	n.RecordOutcome("s2", TypePeerReview, StatusFailed, []string{"x", "y"})

	// 0.8*0.6 + 0.2*0.5 = 0.58.
	if got := n.Trust("x", "y"); !almostEqual(got, 0.58) {
		t.Errorf("expected trust 0.58 after failure, got %v", got)
	}
}

func TestCancelledSessionLeavesTrustUntouched(t *testing.T) {
	n := NewTrustNetwork()
	n.RecordOutcome("s1", TypeConsensusBuilding, StatusCancelled, []string{"x", "y"})

	if got := n.Trust("x", "y"); got != 0.5 {
		t.Errorf("expected trust unchanged at 0.5, got %v", got)
	}
	if hist := n.History("x"); len(hist) != 1 || hist[0].Status != StatusCancelled {
		t.Errorf("expected cancelled session in history, got %v", hist)
	}
}

func TestSkillMatchScore(t *testing.T) {
	n := NewTrustNetwork()
	n.RegisterSkills("dev", map[string]float64{"python": 0.9, "testing": 0.8, "java": 0.5})

	// (2/2) x ((0.9+0.8)/2) = 0.85.
	if got := n.SkillMatch("dev", []string{"python", "testing"}); !almostEqual(got, 0.85) {
		t.Errorf("expected skill match 0.85, got %v", got)
	}
	if got := n.SkillMatch("dev", []string{"golang", "rust"}); got != 0 {
		t.Errorf("expected 0 for unmatched skills, got %v", got)
	}
	// (1/2) x 0.9 = 0.45 for partial coverage.
	if got := n.SkillMatch("dev", []string{"python", "rust"}); !almostEqual(got, 0.45) {
		t.Errorf("expected skill match 0.45, got %v", got)
	}
	if got := n.SkillMatch("stranger", []string{"python"}); got != 0 {
		t.Errorf("expected 0 for unknown agent, got %v", got)
	}
}

func TestSkillMatchConcurrentWithRegistration(t *testing.T) {
	n := NewTrustNetwork()
	n.RegisterSkills("expert", map[string]float64{"translation": 0.9})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			n.RegisterSkills("expert", map[string]float64{"translation": 0.9, "review": 0.7})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if got := n.SkillMatch("expert", []string{"translation"}); !almostEqual(got, 0.9) {
				t.Errorf("expected skill match 0.9, got %v", got)
				return
			}
			n.Candidates("novice", []string{"translation"}, 5)
		}
	}()
	wg.Wait()
}

func TestRegisterSkillsClampsProficiency(t *testing.T) {
	n := NewTrustNetwork()
	n.RegisterSkills("dev", map[string]float64{"python": 1.7, "java": -0.3})

	skills := n.Skills("dev")
	if skills["python"] != 1 {
		t.Errorf("expected python clamped to 1, got %v", skills["python"])
	}
	if skills["java"] != 0 {
		t.Errorf("expected java clamped to 0, got %v", skills["java"])
	}
}

func TestCandidatesRankedByTrustAndSkill(t *testing.T) {
	n := NewTrustNetwork()
	n.RegisterSkills("novice", map[string]float64{"python": 0.4})
	n.RegisterSkills("expert", map[string]float64{"python": 0.95})
	n.RecordOutcome("s1", TypePeerReview, StatusCompleted, []string{"me", "expert"})

	got := n.Candidates("me", []string{"python"}, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].AgentID != "expert" {
		t.Errorf("expected expert ranked first, got %s", got[0].AgentID)
	}
	for _, c := range got {
		if c.AgentID == "me" {
			t.Error("requester must not appear in its own candidates")
		}
	}
}

func TestCandidatesHonorsLimit(t *testing.T) {
	n := NewTrustNetwork()
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		n.RegisterSkills(id, map[string]float64{"go": 0.5})
	}

	if got := n.Candidates("me", []string{"go"}, 5); len(got) != 5 {
		t.Errorf("expected top 5 kept, got %d", len(got))
	}
}

func TestCandidatesTieKeepsFirstSeenOrder(t *testing.T) {
	n := NewTrustNetwork()
	n.RegisterSkills("first", map[string]float64{"go": 0.7})
	n.RegisterSkills("second", map[string]float64{"go": 0.7})

	got := n.Candidates("me", []string{"go"}, 5)
	if got[0].AgentID != "first" || got[1].AgentID != "second" {
		t.Errorf("expected first-seen order on ties, got %v", got)
	}
}
