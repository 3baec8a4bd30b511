package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type WorkflowRun struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	Tasks       json.RawMessage `json:"tasks"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, name, status, tasks, plan, results, started_at, completed_at`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var tasks string
	var plan, results *string
	err := scanner.Scan(&r.ID, &r.Name, &r.Status, &tasks, &plan, &results, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Tasks = json.RawMessage(tasks)
	if plan != nil {
		r.Plan = json.RawMessage(*plan)
	}
	if results != nil {
		r.Results = json.RawMessage(*results)
	}
	return r, nil
}

func (s *Store) SaveWorkflowRun(r *WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, name, status, tasks, plan, results)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			plan = excluded.plan,
			results = excluded.results,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Name, r.Status, string(r.Tasks), nullable(r.Plan), nullable(r.Results))
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflowRun(id string) (*WorkflowRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return r, nil
}

func (s *Store) ListWorkflowRuns() ([]WorkflowRun, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM workflow_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) UpdateWorkflowRun(id, status string, results json.RawMessage) error {
	_, err := s.db.Exec(`
		UPDATE workflow_runs
		SET status = ?, results = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, nullable(results), status, id)
	return err
}

func nullable(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
