package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledWorkflow is a workflow submission that fires on a schedule.
type ScheduledWorkflow struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"` // schedule JSON, see internal/scheduler
	Workflow   string     `json:"workflow"` // workflow request JSON
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, name, schedule, workflow, status, next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledWorkflow, error) {
	w := &ScheduledWorkflow{}
	var lastStatus, lastError sql.NullString
	err := scanner.Scan(&w.ID, &w.Name, &w.Schedule, &w.Workflow, &w.Status, &w.NextRunAt, &w.LastRunAt, &lastStatus, &lastError, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.LastStatus = lastStatus.String
	w.LastError = lastError.String
	return w, nil
}

func (s *Store) SaveScheduledWorkflow(w *ScheduledWorkflow) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_workflows (id, name, schedule, workflow, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			workflow = excluded.workflow,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		w.ID, w.Name, w.Schedule, w.Workflow, w.Status, w.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled workflow: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledWorkflow(id string) (*ScheduledWorkflow, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_workflows WHERE id = ?`, id)
	w, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled workflow: %w", err)
	}
	return w, nil
}

// GetDueScheduledWorkflows returns active schedules whose next run is at or
// before now.
func (s *Store) GetDueScheduledWorkflows(now time.Time) ([]ScheduledWorkflow, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM scheduled_workflows
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due scheduled workflows: %w", err)
	}
	defer rows.Close()

	var due []ScheduledWorkflow
	for rows.Next() {
		w, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled workflow: %w", err)
		}
		due = append(due, *w)
	}
	return due, rows.Err()
}

func (s *Store) UpdateScheduledWorkflowRun(id, lastStatus, lastError string, nextRun *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_workflows
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRun, id)
	return err
}

func (s *Store) UpdateScheduledWorkflowNextRun(id string, nextRun *time.Time) error {
	_, err := s.db.Exec(`UPDATE scheduled_workflows SET next_run_at = ? WHERE id = ?`, nextRun, id)
	return err
}

func (s *Store) UpdateScheduledWorkflowStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_workflows SET status = ? WHERE id = ?`, status, id)
	return err
}
