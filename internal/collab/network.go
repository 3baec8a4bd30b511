package collab

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Trust smoothing: newTrust = retention*oldTrust + learning*successFactor.
// Completed sessions pull trust toward 1.0, failed ones toward 0.5, so a
// failure erodes high trust but never drags a pair below the neutral prior.
const (
	defaultTrust        = 0.5
	trustRetention      = 0.8
	trustLearning       = 0.2
	successFactorDone   = 1.0
	successFactorFailed = 0.5
)

// HistoryEntry is one finished session from an agent's point of view.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	Partners  []string  `json:"partners,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Candidate is a ranked collaboration partner.
type Candidate struct {
	AgentID    string  `json:"agent_id"`
	Trust      float64 `json:"trust"`
	SkillMatch float64 `json:"skill_match"`
	Score      float64 `json:"score"`
}

// TrustNetwork tracks who collaborates well with whom: a directed trust
// matrix, a skill registry and per-agent session history. It is the sole
// owner of all three; the engine mutates them only through its methods.
type TrustNetwork struct {
	mu      sync.RWMutex
	trust   map[string]map[string]float64
	skills  map[string]map[string]float64
	history map[string][]HistoryEntry
	order   []string // agents in first-seen order, for deterministic ranking
	seen    map[string]bool
}

func NewTrustNetwork() *TrustNetwork {
	return &TrustNetwork{
		trust:   make(map[string]map[string]float64),
		skills:  make(map[string]map[string]float64),
		history: make(map[string][]HistoryEntry),
		seen:    make(map[string]bool),
	}
}

func (n *TrustNetwork) observe(agentID string) {
	if agentID == "" || n.seen[agentID] {
		return
	}
	n.seen[agentID] = true
	n.order = append(n.order, agentID)
}

// Trust returns the directed trust score from a toward b, defaulting to the
// neutral prior for pairs with no shared history.
func (n *TrustNetwork) Trust(a, b string) float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if row, ok := n.trust[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return defaultTrust
}

// RegisterSkills replaces the agent's skill entries with the given map, each
// proficiency clamped to [0,1]. Re-registration is the only way a skill
// entry is ever reset.
func (n *TrustNetwork) RegisterSkills(agentID string, skills map[string]float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observe(agentID)

	entry := n.skills[agentID]
	if entry == nil {
		entry = make(map[string]float64, len(skills))
		n.skills[agentID] = entry
	}
	for name, prof := range skills {
		if prof < 0 {
			prof = 0
		} else if prof > 1 {
			prof = 1
		}
		entry[strings.ToLower(name)] = prof
	}
}

// Skills returns a copy of the agent's registered skills.
func (n *TrustNetwork) Skills(agentID string) map[string]float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]float64, len(n.skills[agentID]))
	for k, v := range n.skills[agentID] {
		out[k] = v
	}
	return out
}

// SkillMatch scores an agent against required skills:
// (matched/required) x average proficiency of the matched skills.
// No required skills, or none matched, scores zero.
func (n *TrustNetwork) SkillMatch(agentID string, required []string) float64 {
	if len(required) == 0 {
		return 0
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	entry := n.skills[agentID]

	matched := 0
	sum := 0.0
	for _, name := range required {
		if prof, ok := entry[strings.ToLower(name)]; ok {
			matched++
			sum += prof
		}
	}
	if matched == 0 {
		return 0
	}
	coverage := float64(matched) / float64(len(required))
	return coverage * (sum / float64(matched))
}

// RecordOutcome folds a finished session into the network: every participant
// pair's trust is smoothed in both directions, and every participant gets a
// history entry. Cancelled sessions are recorded in history but leave trust
// untouched.
func (n *TrustNetwork) RecordOutcome(sessionID string, typ Type, status Status, participants []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	factor := successFactorDone
	if status == StatusFailed {
		factor = successFactorFailed
	}
	adjustTrust := status == StatusCompleted || status == StatusFailed

	for _, p := range participants {
		n.observe(p)
	}

	for i, a := range participants {
		for j, b := range participants {
			if i == j || !adjustTrust {
				continue
			}
			n.updateTrust(a, b, factor)
		}
	}

	now := time.Now().UTC()
	for _, p := range participants {
		partners := make([]string, 0, len(participants)-1)
		for _, q := range participants {
			if q != p {
				partners = append(partners, q)
			}
		}
		n.history[p] = append(n.history[p], HistoryEntry{
			SessionID: sessionID,
			Type:      typ,
			Status:    status,
			Partners:  partners,
			EndedAt:   now,
		})
	}
}

func (n *TrustNetwork) updateTrust(a, b string, factor float64) {
	row := n.trust[a]
	if row == nil {
		row = make(map[string]float64)
		n.trust[a] = row
	}
	old, ok := row[b]
	if !ok {
		old = defaultTrust
	}
	row[b] = trustRetention*old + trustLearning*factor
}

// History returns the agent's finished sessions in recording order.
func (n *TrustNetwork) History(agentID string) []HistoryEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]HistoryEntry(nil), n.history[agentID]...)
}

// Candidates ranks every known agent except the requester by a blend of
// directed trust and skill match, descending, keeping the top limit entries.
// Ties keep first-seen order.
func (n *TrustNetwork) Candidates(requester string, required []string, limit int) []Candidate {
	n.mu.RLock()
	order := append([]string(nil), n.order...)
	n.mu.RUnlock()

	var out []Candidate
	for _, id := range order {
		if id == requester {
			continue
		}
		c := Candidate{
			AgentID:    id,
			Trust:      n.Trust(requester, id),
			SkillMatch: n.SkillMatch(id, required),
		}
		c.Score = 0.5*c.Trust + 0.5*c.SkillMatch
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
