package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/apiarist/apiary/internal/advisory"
)

// Deterministic fallback used whenever the advisor is unavailable or its
// answer cannot be parsed. The event still gets a resolution; it just asks
// for a human instead of an automated action.
const (
	fallbackAction      = "manual_review_required"
	fallbackProbability = 0.3
	fallbackResolution  = 2
)

// advice is the JSON shape the advisor is asked to produce for every event
// category. Missing fields are tolerated; handoff-specific fields are filled
// deterministically when absent.
type advice struct {
	Actions            []string          `json:"actions"`
	Reallocation       map[string]string `json:"reallocation"`
	TransferContext    map[string]any    `json:"transfer_context"`
	QualityChecks      []string          `json:"quality_checks"`
	SuccessProbability float64           `json:"success_probability"`
	ResolutionTime     int               `json:"resolution_time"`
}

// Dispatch resolves a single coordination event and returns exactly one
// response. It never returns an error: when the advisor fails, the
// deterministic fallback answers instead.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) Response {
	var resp Response
	switch ev.Type {
	case EventHandoff:
		resp = c.resolveHandoff(ctx, ev)
	case EventConflict:
		resp = c.resolve(ctx, ev, promptConflict(ev))
	case EventContention:
		resp = c.resolve(ctx, ev, promptContention(ev))
	case EventQuality:
		resp = c.resolve(ctx, ev, promptQuality(ev))
	case EventPerformance:
		resp = c.resolve(ctx, ev, promptPerformance(ev))
	default:
		slog.Warn("unknown coordination event type", "type", ev.Type, "event", ev.ID)
		resp = fallbackResponse()
	}
	resp.EventID = ev.ID
	return resp
}

// resolveHandoff consults the advisor like every other category, then makes
// sure the response carries a usable transfer package: the receiving agent
// always gets the sender's context and intermediate results, plus a set of
// checks to run before continuing, whether or not the advisor supplied them.
func (c *Coordinator) resolveHandoff(ctx context.Context, ev Event) Response {
	resp := c.resolve(ctx, ev, promptHandoff(ev))

	if resp.TransferContext == nil {
		resp.TransferContext = make(map[string]any)
		for k, v := range ev.FromContext {
			resp.TransferContext[k] = v
		}
		for k, v := range ev.Results {
			resp.TransferContext[k] = v
		}
	}
	if len(resp.QualityChecks) == 0 {
		resp.QualityChecks = []string{
			"verify transferred results are complete",
			"confirm receiving agent has the required capabilities",
			"re-validate task preconditions before resuming",
		}
	}
	return resp
}

func (c *Coordinator) resolve(ctx context.Context, ev Event, prompt string) Response {
	if c.advisor == nil {
		return fallbackResponse()
	}

	raw, err := c.advisor.Advise(ctx, advisory.Request{Category: "coordination/" + string(ev.Type), Prompt: prompt})
	if err != nil {
		slog.Warn("coordination advisory failed, using fallback", "event", ev.ID, "type", ev.Type, "error", err)
		return fallbackResponse()
	}

	var a advice
	if err := advisory.ParseJSON(raw, &a); err != nil {
		slog.Warn("unparseable coordination advice, using fallback", "event", ev.ID, "type", ev.Type, "error", err)
		return fallbackResponse()
	}
	if len(a.Actions) == 0 {
		return fallbackResponse()
	}

	resolution := a.ResolutionTime
	if resolution <= 0 {
		resolution = fallbackResolution
	}
	return Response{
		Actions:            a.Actions,
		Reallocation:       a.Reallocation,
		TransferContext:    a.TransferContext,
		QualityChecks:      a.QualityChecks,
		SuccessProbability: advisory.Clamp01(a.SuccessProbability),
		ResolutionEstimate: resolution,
	}
}

func fallbackResponse() Response {
	return Response{
		Actions:            []string{fallbackAction},
		SuccessProbability: fallbackProbability,
		ResolutionEstimate: fallbackResolution,
	}
}

const adviceFormat = `Respond with a JSON object:
{"actions": ["..."], "reallocation": {"task-id": "agent-id"}, "success_probability": 0.0-1.0, "resolution_time": <steps>}`

func promptHandoff(ev Event) string {
	return fmt.Sprintf(`Agent %q is handing off work to agent %q.
Sender context: %s
Task context: %s
Intermediate results: %s

Plan the handoff. Include "transfer_context" (what the receiver needs) and
"quality_checks" (what the receiver verifies first) in your answer.
%s`, ev.From, ev.Target, jsonBlock(ev.FromContext), jsonBlock(ev.TaskContext), jsonBlock(ev.Results), adviceFormat)
}

func promptConflict(ev Event) string {
	return fmt.Sprintf(`Agents %q and %q produced conflicting results.
From %q: %s
From %q: %s
Task context: %s

Decide how to reconcile the conflict.
%s`, ev.From, ev.Target, ev.From, jsonBlock(ev.FromContext), ev.Target, jsonBlock(ev.TargetContext), jsonBlock(ev.TaskContext), adviceFormat)
}

func promptContention(ev Event) string {
	return fmt.Sprintf(`Agent %q reports resource contention.
Contended resource context: %s
Task context: %s

Propose an allocation that unblocks the swarm; use "reallocation" to move
tasks between agents if needed.
%s`, ev.From, jsonBlock(ev.FromContext), jsonBlock(ev.TaskContext), adviceFormat)
}

func promptQuality(ev Event) string {
	return fmt.Sprintf(`A quality concern was raised against agent %q's output.
Reporter: %q
Flagged output: %s
Task context: %s

Decide whether the output needs rework and what checks apply.
%s`, ev.Target, ev.From, jsonBlock(ev.Results), jsonBlock(ev.TaskContext), adviceFormat)
}

func promptPerformance(ev Event) string {
	return fmt.Sprintf(`Agent %q is underperforming.
Observed metrics: %s
Task context: %s

Suggest remediation; use "reallocation" to shift work away from the agent if
that is the right call.
%s`, ev.Target, jsonBlock(ev.FromContext), jsonBlock(ev.TaskContext), adviceFormat)
}

func jsonBlock(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
