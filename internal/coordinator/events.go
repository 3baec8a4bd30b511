package coordinator

import "time"

// EventType classifies a coordination need raised during execution.
type EventType string

const (
	EventHandoff     EventType = "handoff"
	EventConflict    EventType = "conflict"
	EventContention  EventType = "contention"
	EventQuality     EventType = "quality"
	EventPerformance EventType = "performance"
)

// Event is a request for the coordinator to resolve a cross-agent situation.
// Events are consumed exactly once and produce exactly one Response.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	From          string         `json:"from"`
	Target        string         `json:"target,omitempty"`
	FromContext   map[string]any `json:"from_context,omitempty"`
	TargetContext map[string]any `json:"target_context,omitempty"`
	TaskContext   map[string]any `json:"task_context,omitempty"`
	Results       map[string]any `json:"results,omitempty"`
	Priority      int            `json:"priority"` // 1-10, advisory metadata only
	RaisedAt      time.Time      `json:"raised_at"`
}

// Response is the coordinator's resolution for one event.
type Response struct {
	EventID            string            `json:"event_id"`
	Actions            []string          `json:"actions"`
	Reallocation       map[string]string `json:"reallocation,omitempty"`
	TransferContext    map[string]any    `json:"transfer_context,omitempty"`
	QualityChecks      []string          `json:"quality_checks,omitempty"`
	SuccessProbability float64           `json:"success_probability"`
	ResolutionEstimate int               `json:"resolution_estimate"`
}
