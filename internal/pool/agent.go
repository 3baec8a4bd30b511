// Package pool manages the swarm's worker agents: creation from
// specialization configs, capability-based selection, lifecycle state and
// per-agent performance history. The pool is the only mutator of agent
// runtime state; other components go through its methods.
package pool

import (
	"sync"
	"time"
)

// State is an agent's lifecycle state. Idle, Assigned and Working cycle
// through Assign/Begin/Release; Blocked, Completed and Failed are marks for
// drivers that pause an agent or retire it with a final verdict (via
// SetState, typically followed by Terminate).
type State string

const (
	StateIdle       State = "idle"
	StateAssigned   State = "assigned"
	StateWorking    State = "working"
	StateBlocked    State = "blocked"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// acceptsWork reports whether an agent in this state may take on new tasks.
func (s State) acceptsWork() bool {
	return s == StateIdle || s == StateAssigned || s == StateWorking
}

// Capability describes one thing an agent can do.
type Capability struct {
	Name        string   `json:"name"`
	Proficiency float64  `json:"proficiency"`
	Tools       []string `json:"tools,omitempty"`
	Throughput  float64  `json:"throughput,omitempty"`
	Quality     float64  `json:"quality,omitempty"`
}

// AgentConfig is the immutable specification an agent is created from.
type AgentConfig struct {
	ID             string             `json:"id"`
	Specialization string             `json:"specialization"`
	Capabilities   []Capability       `json:"capabilities"`
	ResourceLimits map[string]float64 `json:"resource_limits,omitempty"`
	MaxConcurrent  int                `json:"max_concurrent"`
	Tools          []string           `json:"tools,omitempty"`
}

// Requirements describe what a task needs from an agent.
type Requirements struct {
	Capabilities []string `json:"capabilities"`
}

// Agent wraps a configuration with mutable runtime state. All mutation goes
// through Pool methods.
type Agent struct {
	mu         sync.Mutex
	cfg        AgentConfig
	state      State
	workload   int
	assigned   []string
	lastActive time.Time
	memory     map[string]any
}

func (a *Agent) ID() string { return a.cfg.ID }

func (a *Agent) Config() AgentConfig { return a.cfg }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Workload() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workload
}

func (a *Agent) AssignedTasks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.assigned...)
}

func (a *Agent) LastActive() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActive
}

// Remember stores a context value in the agent's working memory.
func (a *Agent) Remember(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory[key] = value
}

// Recall reads a context value from the agent's working memory.
func (a *Agent) Recall(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.memory[key]
	return v, ok
}
