package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CollabSession is the archived form of a terminal collaboration session.
type CollabSession struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Initiator    string          `json:"initiator"`
	Participants json.RawMessage `json:"participants"`
	Status       string          `json:"status"`
	Outcome      json.RawMessage `json:"outcome,omitempty"`
	Artifacts    json.RawMessage `json:"artifacts,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

const sessionColumns = `id, type, initiator, participants, status, outcome, artifacts, created_at, completed_at`

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*CollabSession, error) {
	c := &CollabSession{}
	var participants string
	var outcome, artifacts *string
	err := scanner.Scan(&c.ID, &c.Type, &c.Initiator, &participants, &c.Status, &outcome, &artifacts, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	c.Participants = json.RawMessage(participants)
	if outcome != nil {
		c.Outcome = json.RawMessage(*outcome)
	}
	if artifacts != nil {
		c.Artifacts = json.RawMessage(*artifacts)
	}
	return c, nil
}

func (s *Store) SaveCollabSession(c *CollabSession) error {
	_, err := s.db.Exec(`
		INSERT INTO collab_sessions (id, type, initiator, participants, status, outcome, artifacts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			artifacts = excluded.artifacts,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed', 'cancelled') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		c.ID, c.Type, c.Initiator, string(c.Participants), c.Status, nullable(c.Outcome), nullable(c.Artifacts))
	if err != nil {
		return fmt.Errorf("save collab session: %w", err)
	}
	return nil
}

func (s *Store) GetCollabSession(id string) (*CollabSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM collab_sessions WHERE id = ?`, id)
	c, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collab session: %w", err)
	}
	return c, nil
}

func (s *Store) ListCollabSessions(initiator string) ([]CollabSession, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM collab_sessions WHERE initiator = ? ORDER BY created_at DESC`, initiator)
	if err != nil {
		return nil, fmt.Errorf("list collab sessions: %w", err)
	}
	defer rows.Close()

	var sessions []CollabSession
	for rows.Next() {
		c, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collab session: %w", err)
		}
		sessions = append(sessions, *c)
	}
	return sessions, rows.Err()
}
