package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apiarist/apiary/internal/bus"
	"github.com/apiarist/apiary/internal/planner"
)

// Executor runs a single task on behalf of an assigned agent and returns its
// output. Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, task planner.TaskNode, agentID string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task planner.TaskNode, agentID string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task planner.TaskNode, agentID string) (string, error) {
	return f(ctx, task, agentID)
}

// BusExecutor dispatches tasks over NATS request/reply. A worker process
// subscribed to the agent's exec topic performs the actual work and replies
// with an execResult.
type BusExecutor struct {
	client *bus.Client
}

func NewBusExecutor(client *bus.Client) *BusExecutor {
	return &BusExecutor{client: client}
}

type execRequest struct {
	TaskID string         `json:"task_id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type execResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (e *BusExecutor) Execute(ctx context.Context, task planner.TaskNode, agentID string) (string, error) {
	req, err := json.Marshal(execRequest{TaskID: task.ID, Type: task.Type, Config: task.Config})
	if err != nil {
		return "", fmt.Errorf("marshal exec request: %w", err)
	}

	timeout := time.Minute
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	msg, err := e.client.Request(bus.TopicExecRequest(agentID), req, timeout)
	if err != nil {
		return "", fmt.Errorf("exec request to %s: %w", agentID, err)
	}

	var res execResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return "", fmt.Errorf("decode exec result from %s: %w", agentID, err)
	}
	if res.Error != "" {
		return res.Output, fmt.Errorf("task %s failed on %s: %s", task.ID, agentID, res.Error)
	}
	return res.Output, nil
}
