package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var ErrUnknownAgent = errors.New("unknown agent")

// Selection scoring weights (workload penalty, success-rate bonus).
const (
	workloadPenalty  = 0.1
	successRateBonus = 0.2
)

// Pool owns every agent in the swarm.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string // creation order, used for deterministic tie-breaks
	perf   map[string]*performance
}

func New() *Pool {
	return &Pool{
		agents: make(map[string]*Agent),
		perf:   make(map[string]*performance),
	}
}

// Create registers a new idle agent from cfg. Creating an agent under an
// existing id is an error; terminate and re-create instead.
func (p *Pool) Create(cfg AgentConfig) (*Agent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("agent config has empty id")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.agents[cfg.ID]; exists {
		return nil, fmt.Errorf("agent %q already registered", cfg.ID)
	}

	a := &Agent{
		cfg:        cfg,
		state:      StateIdle,
		lastActive: time.Now(),
		memory:     make(map[string]any),
	}
	p.agents[cfg.ID] = a
	p.order = append(p.order, cfg.ID)
	p.perf[cfg.ID] = &performance{}

	slog.Info("agent created", "id", cfg.ID, "specialization", cfg.Specialization, "capabilities", len(cfg.Capabilities))
	return a, nil
}

func (p *Pool) Get(id string) (*Agent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// List returns all agents in creation order.
func (p *Pool) List() []*Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Agent, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.agents[id])
	}
	return out
}

// CanAccept reports whether the agent may take on a task with the given
// requirements: accepting state, spare concurrency, and at least one
// required capability present by name.
func (p *Pool) CanAccept(id string, req Requirements) bool {
	a, err := p.Get(id)
	if err != nil {
		return false
	}
	return canAccept(a, req)
}

func canAccept(a *Agent, req Requirements) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.acceptsWork() {
		return false
	}
	if a.workload >= a.cfg.MaxConcurrent {
		return false
	}
	for _, name := range req.Capabilities {
		if matchCapability(a.cfg.Capabilities, name) != nil {
			return true
		}
	}
	return false
}

// matchCapability finds a capability whose name matches the requirement,
// case-insensitively, allowing substring containment in either direction.
func matchCapability(caps []Capability, name string) *Capability {
	want := strings.ToLower(name)
	for i := range caps {
		have := strings.ToLower(caps[i].Name)
		if have == want || strings.Contains(have, want) || strings.Contains(want, have) {
			return &caps[i]
		}
	}
	return nil
}

// SelectBest picks the highest-scoring agent that can accept the
// requirements, or nil if none can. Score favors capability proficiency,
// penalizes current workload and rewards historical success. Ties go to the
// earliest-created agent.
func (p *Pool) SelectBest(req Requirements) *Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Agent
	bestScore := 0.0

	for _, id := range p.order {
		a := p.agents[id]
		if !canAccept(a, req) {
			continue
		}
		score := p.score(a, req)
		if best == nil || score > bestScore {
			best = a
			bestScore = score
		}
	}
	return best
}

func (p *Pool) score(a *Agent, req Requirements) float64 {
	a.mu.Lock()
	workload := a.workload
	a.mu.Unlock()

	score := 0.0
	for _, name := range req.Capabilities {
		if c := matchCapability(a.cfg.Capabilities, name); c != nil {
			score += c.Proficiency
		}
	}
	score -= workloadPenalty * float64(workload)

	if perf := p.perf[a.cfg.ID]; perf != nil {
		score += successRateBonus * perf.successRate()
	}
	return score
}

// Assign marks the agent as holding the task and bumps its workload. An idle
// agent moves to assigned; an agent already working stays working.
func (p *Pool) Assign(id, taskID string) error {
	a, err := p.Get(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.acceptsWork() {
		return fmt.Errorf("agent %s cannot accept work in state %s", id, a.state)
	}
	if a.workload >= a.cfg.MaxConcurrent {
		return fmt.Errorf("agent %s is at max concurrency %d", id, a.cfg.MaxConcurrent)
	}

	a.workload++
	a.assigned = append(a.assigned, taskID)
	if a.state == StateIdle {
		a.state = StateAssigned
	}
	a.lastActive = time.Now()
	return nil
}

// Begin moves an assigned agent to working once execution actually starts.
func (p *Pool) Begin(id string) error {
	a, err := p.Get(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateAssigned {
		a.state = StateWorking
	}
	a.lastActive = time.Now()
	return nil
}

// Release removes the task from the agent and decrements its workload. The
// agent returns to idle when it holds no more work.
func (p *Pool) Release(id, taskID string) error {
	a, err := p.Get(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, t := range a.assigned {
		if t == taskID {
			a.assigned = append(a.assigned[:i], a.assigned[i+1:]...)
			break
		}
	}
	if a.workload > 0 {
		a.workload--
	}
	if a.workload == 0 && (a.state == StateWorking || a.state == StateAssigned) {
		a.state = StateIdle
	}
	a.lastActive = time.Now()
	return nil
}

// SetState forces a lifecycle transition (blocked, failed, terminated...).
func (p *Pool) SetState(id string, s State) error {
	a, err := p.Get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
	a.lastActive = time.Now()
	return nil
}

// Terminate removes the agent from selection permanently. The agent record
// stays readable for reporting.
func (p *Pool) Terminate(id string) error {
	return p.SetState(id, StateTerminated)
}
