package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AgentPerformance is a persisted snapshot of an agent's history. The pool
// keeps the live counters; snapshots land here so history survives restarts
// and feeds reporting.
type AgentPerformance struct {
	AgentID       string        `json:"agent_id"`
	Attempts      int           `json:"attempts"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	AvgCompletion time.Duration `json:"avg_completion"`
	Quality       []float64     `json:"quality,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (s *Store) SaveAgentPerformance(p *AgentPerformance) error {
	quality, err := json.Marshal(p.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality history: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_performance (agent_id, attempts, successes, failures, avg_completion, quality, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(agent_id) DO UPDATE SET
			attempts = excluded.attempts,
			successes = excluded.successes,
			failures = excluded.failures,
			avg_completion = excluded.avg_completion,
			quality = excluded.quality,
			updated_at = CURRENT_TIMESTAMP`,
		p.AgentID, p.Attempts, p.Successes, p.Failures, int64(p.AvgCompletion), string(quality))
	if err != nil {
		return fmt.Errorf("save agent performance: %w", err)
	}
	return nil
}

func (s *Store) GetAgentPerformance(agentID string) (*AgentPerformance, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, attempts, successes, failures, avg_completion, quality, updated_at
		FROM agent_performance WHERE agent_id = ?`, agentID)

	p := &AgentPerformance{}
	var avgNs int64
	var quality *string
	err := row.Scan(&p.AgentID, &p.Attempts, &p.Successes, &p.Failures, &avgNs, &quality, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent performance: %w", err)
	}
	p.AvgCompletion = time.Duration(avgNs)
	if quality != nil {
		if err := json.Unmarshal([]byte(*quality), &p.Quality); err != nil {
			return nil, fmt.Errorf("decode quality history: %w", err)
		}
	}
	return p, nil
}
