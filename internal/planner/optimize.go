package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/apiarist/apiary/internal/advisory"
)

const (
	// mergeGainThreshold filters advisory merge proposals: groups with a
	// stated efficiency gain at or below this are ignored.
	mergeGainThreshold = 0.2

	// Fallback constants when the advisory service is unavailable or its
	// output does not parse.
	fallbackEfficiency = 0.55
	fallbackConfidence = 0.5

	// Heuristic bottleneck thresholds for the fallback analysis.
	bottleneckPrereqs   = 3
	contentionLayerSize = 5
)

// Bottleneck is a predicted execution hotspot.
type Bottleneck struct {
	Subject     string   `json:"subject"`
	Kind        string   `json:"kind"`
	Probability float64  `json:"probability"`
	Impact      string   `json:"impact"`
	Mitigation  []string `json:"mitigation,omitempty"`
}

// OptimizedPlan is an ExecutionPlan re-derived with efficiency scoring,
// predicted bottlenecks and resource hints attached.
type OptimizedPlan struct {
	ExecutionPlan
	EfficiencyScore   float64           `json:"efficiency_score"`
	Bottlenecks       []Bottleneck      `json:"bottlenecks"`
	ResourceHints     map[string]string `json:"resource_hints,omitempty"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	Confidence        float64           `json:"confidence"`
}

// Optimizer refines execution plans, consulting the advisory service when
// available and falling back to deterministic heuristics otherwise.
type Optimizer struct {
	advisor advisory.Advisor
}

// NewOptimizer returns an Optimizer. advisor may be nil, in which case every
// optimization takes the fallback path.
func NewOptimizer(advisor advisory.Advisor) *Optimizer {
	return &Optimizer{advisor: advisor}
}

// suggestion is the JSON shape expected from the advisory service for the
// plan_optimization category.
type suggestion struct {
	MergeGroups []struct {
		Tasks          []string `json:"tasks"`
		EfficiencyGain float64  `json:"efficiency_gain"`
	} `json:"merge_groups"`
	Bottlenecks         []Bottleneck      `json:"bottlenecks"`
	ResourceHints       map[string]string `json:"resource_hints"`
	EstimatedDurationMs int64             `json:"estimated_duration_ms"`
	Confidence          float64           `json:"confidence"`
}

// Optimize re-derives an OptimizedPlan from plan. Advisory failures never
// propagate: the result is always a valid plan, at lower confidence.
func (o *Optimizer) Optimize(ctx context.Context, plan *ExecutionPlan, advisoryContext string) *OptimizedPlan {
	if o.advisor == nil {
		return o.fallback(plan)
	}

	prompt, err := buildOptimizePrompt(plan, advisoryContext)
	if err != nil {
		return o.fallback(plan)
	}

	raw, err := o.advisor.Advise(ctx, advisory.Request{
		Category: "plan_optimization",
		Prompt:   prompt,
	})
	if err != nil {
		slog.Warn("plan optimization advisory failed, using heuristics", "error", err)
		return o.fallback(plan)
	}

	var sug suggestion
	if err := advisory.ParseJSON(raw, &sug); err != nil {
		slog.Warn("plan optimization output unparseable, using heuristics", "error", err)
		return o.fallback(plan)
	}

	optimized := clonePlan(plan)
	baseLayers := len(plan.Layers)

	for _, group := range sug.MergeGroups {
		if group.EfficiencyGain <= mergeGainThreshold {
			continue
		}
		applyMerge(optimized, group.Tasks)
	}

	efficiency := 0.0
	if baseLayers > 0 {
		efficiency = advisory.Clamp01(float64(baseLayers-len(optimized.Layers)) / float64(baseLayers))
	}

	bottlenecks := sug.Bottlenecks
	for i := range bottlenecks {
		bottlenecks[i].Probability = advisory.Clamp01(bottlenecks[i].Probability)
	}
	if bottlenecks == nil {
		bottlenecks = heuristicBottlenecks(optimized)
	}

	return &OptimizedPlan{
		ExecutionPlan:     *optimized,
		EfficiencyScore:   efficiency,
		Bottlenecks:       bottlenecks,
		ResourceHints:     sug.ResourceHints,
		EstimatedDuration: time.Duration(sug.EstimatedDurationMs) * time.Millisecond,
		Confidence:        advisory.Clamp01(sug.Confidence),
	}
}

// fallback produces the deterministic merge-free optimization.
func (o *Optimizer) fallback(plan *ExecutionPlan) *OptimizedPlan {
	cloned := clonePlan(plan)
	return &OptimizedPlan{
		ExecutionPlan:   *cloned,
		EfficiencyScore: fallbackEfficiency,
		Bottlenecks:     heuristicBottlenecks(cloned),
		Confidence:      fallbackConfidence,
	}
}

// applyMerge moves the group's tasks into the earliest layer containing any
// member, but only when the move keeps every prerequisite strictly earlier.
// Advisory output is a proposal, not an instruction: the invariant re-check
// here is what decides.
func applyMerge(plan *ExecutionPlan, group []string) {
	if len(group) < 2 {
		return
	}

	idx := plan.layerIndex()
	target := -1
	for _, id := range group {
		i, ok := idx[id]
		if !ok {
			return // unknown task in proposal
		}
		if target < 0 || i < target {
			target = i
		}
	}

	// Re-check: every member's prerequisites must sit strictly before the
	// target layer once the group is co-located there.
	groupSet := make(map[string]bool, len(group))
	for _, id := range group {
		groupSet[id] = true
	}
	for _, id := range group {
		for _, d := range plan.Deps[id] {
			if groupSet[d] {
				return // intra-group dependency cannot be co-layered
			}
			if idx[d] >= target {
				return
			}
		}
	}

	// Apply the move, preserving relative order, then drop emptied layers.
	var layers [][]string
	for i, layer := range plan.Layers {
		var kept []string
		for _, id := range layer {
			if groupSet[id] && i != target {
				continue
			}
			kept = append(kept, id)
		}
		if i == target {
			for _, id := range group {
				if idx[id] != target {
					kept = append(kept, id)
				}
			}
		}
		if len(kept) > 0 {
			layers = append(layers, kept)
		}
	}
	plan.Layers = layers
}

// heuristicBottlenecks flags tasks with many prerequisites and oversized
// layers. This is the deterministic analysis used whenever the advisory
// service cannot contribute.
func heuristicBottlenecks(plan *ExecutionPlan) []Bottleneck {
	var out []Bottleneck
	for _, layer := range plan.Layers {
		for _, id := range layer {
			if len(plan.Deps[id]) > bottleneckPrereqs {
				out = append(out, Bottleneck{
					Subject:     id,
					Kind:        "dependency",
					Probability: 0.7,
					Impact:      fmt.Sprintf("task blocks on %d prerequisites", len(plan.Deps[id])),
					Mitigation:  []string{"split the task", "reduce its dependency fan-in"},
				})
			}
		}
	}
	for i, layer := range plan.Layers {
		if len(layer) > contentionLayerSize {
			out = append(out, Bottleneck{
				Subject:     fmt.Sprintf("layer-%d", i),
				Kind:        "resource_contention",
				Probability: 0.6,
				Impact:      fmt.Sprintf("%d tasks compete for agents in one layer", len(layer)),
				Mitigation:  []string{"raise agent pool capacity", "stagger the layer"},
			})
		}
	}
	return out
}

func buildOptimizePrompt(plan *ExecutionPlan, advisoryContext string) (string, error) {
	serialized, err := json.MarshalIndent(struct {
		Layers [][]string          `json:"layers"`
		Deps   map[string][]string `json:"deps"`
	}{plan.Layers, plan.Deps}, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Analyze this layered task execution plan and suggest optimizations.

## Plan
%s

## Context
%s

Respond with JSON only:
{
  "merge_groups": [{"tasks": ["id", ...], "efficiency_gain": 0.0}],
  "bottlenecks": [{"subject": "", "kind": "", "probability": 0.0, "impact": "", "mitigation": [""]}],
  "resource_hints": {"task-id": "hint"},
  "estimated_duration_ms": 0,
  "confidence": 0.0
}

Only propose merge groups whose tasks can genuinely run concurrently.`, serialized, advisoryContext), nil
}

func clonePlan(plan *ExecutionPlan) *ExecutionPlan {
	layers := make([][]string, len(plan.Layers))
	for i, l := range plan.Layers {
		layers[i] = append([]string(nil), l...)
	}
	tasks := make(map[string]TaskNode, len(plan.Tasks))
	for k, v := range plan.Tasks {
		tasks[k] = v
	}
	deps := make(map[string][]string, len(plan.Deps))
	for k, v := range plan.Deps {
		deps[k] = append([]string(nil), v...)
	}
	return &ExecutionPlan{Layers: layers, Tasks: tasks, Deps: deps}
}
