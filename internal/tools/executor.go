package tools

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/runtime"
)

// historyLimit caps retained execution records so a long crew run does not
// grow without bound.
const historyLimit = 200

// Execution is one recorded tool invocation.
type Execution struct {
	Tool    string
	Success bool
	Elapsed time.Duration
	At      time.Time
}

// Executor dispatches model-requested tool calls against a runtime. Every
// failure mode (unknown tool, bad arguments, execution error, timeout) becomes
// a failed ToolResult so the model can react on its next turn.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	usage    map[string]int
	failures map[string]int
	history  []Execution
}

// NewExecutor builds an executor over the given registry. A zero timeout
// means tool calls are bounded only by the caller's context.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	return &Executor{
		registry: registry,
		timeout:  timeout,
		log:      observability.GetLogger().Named("tools"),
		usage:    make(map[string]int),
		failures: make(map[string]int),
	}
}

// ExecuteCall runs a single tool call and always returns a result.
func (e *Executor) ExecuteCall(ctx context.Context, call schemas.ToolCall, rt runtime.Runtime) schemas.ToolResult {
	result := schemas.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok || !tool.Enabled {
		result.Error = "unknown tool: " + call.Name
		e.log.Warn("Model requested an unregistered tool.", zap.String("tool", call.Name))
		return result
	}
	if err := tool.ValidateArguments(call.Arguments); err != nil {
		result.Error = err.Error()
		return result
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := tool.Execute(callCtx, call.Arguments, rt)
	elapsed := time.Since(start)

	e.record(call.Name, err == nil, elapsed, start)

	if err != nil {
		result.Error = err.Error()
		e.log.Debug("Tool call failed.",
			zap.String("tool", call.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return result
	}

	result.Result = out
	result.Success = true
	e.log.Debug("Tool call succeeded.",
		zap.String("tool", call.Name),
		zap.Duration("elapsed", elapsed))
	return result
}

// ExecuteBatch runs calls sequentially, in order, collecting one result per
// call. A failed call never aborts the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []schemas.ToolCall, rt runtime.Runtime) []schemas.ToolResult {
	results := make([]schemas.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.ExecuteCall(ctx, call, rt))
	}
	return results
}

func (e *Executor) record(tool string, success bool, elapsed time.Duration, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.usage[tool]++
	if !success {
		e.failures[tool]++
	}
	e.history = append(e.history, Execution{Tool: tool, Success: success, Elapsed: elapsed, At: at})
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// Usage returns a copy of per-tool invocation counts.
func (e *Executor) Usage() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int, len(e.usage))
	for k, v := range e.usage {
		out[k] = v
	}
	return out
}

// Failures returns a copy of per-tool failed invocation counts.
func (e *Executor) Failures() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int, len(e.failures))
	for k, v := range e.failures {
		out[k] = v
	}
	return out
}

// History returns the most recent executions, oldest first.
func (e *Executor) History() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Execution, len(e.history))
	copy(out, e.history)
	return out
}
