// Package advisory wraps the external AI reasoning service consulted by the
// planner, the coordinator and the collaboration engine. Callers must treat
// every answer as untrusted text and keep a deterministic fallback for the
// cases where the service is absent, times out or returns garbage.
package advisory

import "context"

// Request describes a single advisory consultation.
type Request struct {
	// Category tags the call site (e.g. "plan_optimization",
	// "coordination.handoff", "collab_plan").
	Category string
	// Prompt is the natural-language request with the relevant structured
	// context already serialized into it.
	Prompt string
}

// Advisor is the single operation exposed by the advisory service.
// Implementations must respect ctx cancellation; callers bound every call
// with a timeout and route failures to their local fallback.
type Advisor interface {
	Advise(ctx context.Context, req Request) (string, error)
}
