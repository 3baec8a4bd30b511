package pool

import (
	"sync"
	"time"
)

// qualityHistoryLimit bounds the per-agent quality score history.
const qualityHistoryLimit = 100

// Outcome reports how one task execution went.
type Outcome struct {
	Success  bool
	Duration time.Duration
	Quality  float64
}

// Performance is a read-only snapshot of an agent's history.
type Performance struct {
	Attempts      int           `json:"attempts"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	AvgCompletion time.Duration `json:"avg_completion"`
	QualityScores []float64     `json:"quality_scores,omitempty"`
}

// SuccessRate is successes over attempts, zero before any attempt.
func (p Performance) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

type performance struct {
	mu            sync.Mutex
	attempts      int
	successes     int
	failures      int
	avgCompletion time.Duration
	quality       []float64
}

func (p *performance) record(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if o.Success {
		p.successes++
	} else {
		p.failures++
	}

	// Incremental mean keeps the running average without storing durations.
	p.avgCompletion += (o.Duration - p.avgCompletion) / time.Duration(p.attempts)

	p.quality = append(p.quality, o.Quality)
	if len(p.quality) > qualityHistoryLimit {
		p.quality = p.quality[len(p.quality)-qualityHistoryLimit:]
	}
}

func (p *performance) successRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts == 0 {
		return 0
	}
	return float64(p.successes) / float64(p.attempts)
}

func (p *performance) snapshot() Performance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Performance{
		Attempts:      p.attempts,
		Successes:     p.successes,
		Failures:      p.failures,
		AvgCompletion: p.avgCompletion,
		QualityScores: append([]float64(nil), p.quality...),
	}
}

// RecordPerformance folds one task outcome into the agent's history.
func (p *Pool) RecordPerformance(id string, o Outcome) error {
	p.mu.RLock()
	perf, ok := p.perf[id]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownAgent
	}
	perf.record(o)
	return nil
}

// Performance returns the agent's history snapshot.
func (p *Pool) Performance(id string) (Performance, error) {
	p.mu.RLock()
	perf, ok := p.perf[id]
	p.mu.RUnlock()
	if !ok {
		return Performance{}, ErrUnknownAgent
	}
	return perf.snapshot(), nil
}
