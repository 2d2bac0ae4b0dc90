// Package crew runs many concurrent agents: a worker pool that schedules
// agent loops under dependency ordering and cancellation, and an orchestrator
// agent whose only tools are operations on that pool.
package crew

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/agent"
	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/runtime"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

// WorkerStatus is the lifecycle of one pooled worker. It only ever moves
// forward, except that cancellation may interrupt pending or running.
type WorkerStatus string

const (
	StatusPending   WorkerStatus = "pending"
	StatusRunning   WorkerStatus = "running"
	StatusComplete  WorkerStatus = "complete"
	StatusError     WorkerStatus = "error"
	StatusCancelled WorkerStatus = "cancelled"
	StatusWarning   WorkerStatus = "warning"
)

// Worker is the pool's bookkeeping record for one agent execution. It is
// mutated only by that worker's own goroutine (plus cancellation) and read
// via snapshots.
type Worker struct {
	ID          string       `json:"id"`
	Task        string       `json:"task"`
	Status      WorkerStatus `json:"status"`
	Priority    int          `json:"priority"`
	DependsOn   []string     `json:"depends_on,omitempty"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	ToolsUsed   []string     `json:"tools_used,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// EventFunc receives pool events. Event kinds: spawn, status, tool, tokens,
// complete, warning, cancelled, error.
type EventFunc func(workerID, event string, data map[string]interface{})

// RuntimeFactory builds a fresh isolated runtime for one worker, so stateful
// resources are never shared across concurrent agents.
type RuntimeFactory func() runtime.Runtime

// Pool spawns, schedules, tracks, and cancels concurrent agent loops.
type Pool struct {
	llm        schemas.LLMClient
	registry   *tools.Registry
	agentCfg   config.AgentConfig
	workerMax  int
	newRuntime RuntimeFactory
	emit       EventFunc
	log        *zap.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	agents  map[string]*agent.Agent
	done    map[string]chan struct{}
	cancels map[string]context.CancelFunc
	nextID  int
}

// NewPool assembles a pool. emit may be nil.
func NewPool(llm schemas.LLMClient, registry *tools.Registry, agentCfg config.AgentConfig, crewCfg config.CrewConfig, newRuntime RuntimeFactory, emit EventFunc) *Pool {
	if emit == nil {
		emit = func(string, string, map[string]interface{}) {}
	}
	workerMax := crewCfg.WorkerMaxIterations
	if workerMax <= 0 {
		workerMax = agent.DefaultMaxIterations
	}
	return &Pool{
		llm:        llm,
		registry:   registry,
		agentCfg:   agentCfg,
		workerMax:  workerMax,
		newRuntime: newRuntime,
		emit:       emit,
		log:        observability.GetLogger().Named("pool"),
		workers:    make(map[string]*Worker),
		agents:     make(map[string]*agent.Agent),
		done:       make(map[string]chan struct{}),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Spawn registers a pending worker and launches its execution goroutine. The
// goroutine waits for every dependency to settle (any terminal outcome
// counts) before running the agent loop.
func (p *Pool) Spawn(ctx context.Context, task string, priority int, dependsOn []string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("worker task must not be empty")
	}

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("ghost-%d", p.nextID)
	worker := &Worker{
		ID:        id,
		Task:      task,
		Status:    StatusPending,
		Priority:  priority,
		DependsOn: append([]string(nil), dependsOn...),
	}
	p.workers[id] = worker
	p.done[id] = make(chan struct{})

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancels[id] = cancel

	// Snapshot dependency channels under the lock; missing ids count as
	// already settled.
	deps := make([]chan struct{}, 0, len(dependsOn))
	for _, dep := range dependsOn {
		if ch, ok := p.done[dep]; ok && dep != id {
			deps = append(deps, ch)
		}
	}
	p.mu.Unlock()

	p.emit(id, "spawn", map[string]interface{}{
		"task":       task,
		"priority":   priority,
		"depends_on": dependsOn,
	})
	p.log.Info("Worker spawned.", zap.String("worker", id), zap.Int("dependencies", len(deps)))

	go p.runWorker(workerCtx, id, task, deps)
	return id, nil
}

// runWorker is one worker's whole life: dependency wait, isolated runtime,
// agent loop, outcome classification, guaranteed teardown.
func (p *Pool) runWorker(ctx context.Context, id, task string, deps []chan struct{}) {
	defer func() {
		p.mu.Lock()
		close(p.done[id])
		p.mu.Unlock()
	}()

	// Dependencies settle in any terminal outcome; the dependent proceeds
	// regardless of whether they succeeded. Cancellation here interrupts a
	// still-pending worker.
	for _, dep := range deps {
		select {
		case <-dep:
		case <-ctx.Done():
			p.finish(id, StatusCancelled, "", "cancelled while pending", nil)
			return
		}
	}
	if ctx.Err() != nil {
		p.finish(id, StatusCancelled, "", "cancelled while pending", nil)
		return
	}

	now := time.Now()
	p.mu.Lock()
	p.workers[id].Status = StatusRunning
	p.workers[id].StartedAt = &now
	p.mu.Unlock()
	p.emit(id, "status", map[string]interface{}{"status": string(StatusRunning)})

	rt := p.newRuntime()
	if err := rt.Start(ctx); err != nil {
		p.finish(id, StatusError, "", "runtime start failed: "+err.Error(), nil)
		return
	}
	defer func() {
		// Teardown must never block the pool; failures are logged and
		// swallowed.
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := rt.Stop(stopCtx); err != nil {
			p.log.Warn("Worker runtime teardown failed.", zap.String("worker", id), zap.Error(err))
		}
	}()

	executor := tools.NewExecutor(p.registry, p.agentCfg.ToolTimeout)
	ag := agent.New(p.llm, p.registry, executor, rt, agent.Options{
		Name:          id,
		Role:          task,
		MaxIterations: p.workerMax,
		Memory:        p.agentCfg.Memory,
	})

	p.mu.Lock()
	p.agents[id] = ag
	p.mu.Unlock()

	err := ag.RunLoop(ctx, task, p.emitAdapter(id))

	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		ag.CleanupAfterCancel()
		p.finish(id, StatusCancelled, ag.Result(), "cancelled", ag.ToolsUsed())
	case err != nil:
		p.finish(id, StatusError, ag.Result(), err.Error(), ag.ToolsUsed())
	case ag.MaxIterationsHit():
		p.finish(id, StatusWarning, ag.Result(), "", ag.ToolsUsed())
	default:
		p.finish(id, StatusComplete, ag.Result(), "", ag.ToolsUsed())
	}
}

// emitAdapter translates agent loop messages into pool events.
func (p *Pool) emitAdapter(id string) agent.EmitFunc {
	return func(msg schemas.Message) {
		event, _ := msg.Metadata["event"].(string)
		switch event {
		case "tool_intent":
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			p.emit(id, "tool", map[string]interface{}{"tools": names, "content": msg.Content})
		default:
			if msg.Content != "" {
				p.emit(id, "status", map[string]interface{}{"content": msg.Content})
			}
		}
		if msg.Usage != nil {
			p.emit(id, "tokens", map[string]interface{}{
				"prompt_tokens":     msg.Usage.PromptTokens,
				"completion_tokens": msg.Usage.CompletionTokens,
				"total_tokens":      msg.Usage.TotalTokens,
			})
		}
	}
}

// finish records a worker's terminal outcome and emits the matching event.
func (p *Pool) finish(id string, status WorkerStatus, result, errMsg string, toolsUsed []string) {
	now := time.Now()
	p.mu.Lock()
	w := p.workers[id]
	w.Status = status
	w.Result = result
	w.Error = errMsg
	w.ToolsUsed = toolsUsed
	w.CompletedAt = &now
	p.mu.Unlock()

	data := map[string]interface{}{"status": string(status)}
	if result != "" {
		data["result"] = result
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	p.emit(id, string(status), data)
	p.log.Info("Worker settled.",
		zap.String("worker", id),
		zap.String("status", string(status)))
}

// Wait blocks until the named workers (or all, when ids is empty) settle and
// returns their snapshots. Failed or cancelled workers are returned like any
// other; Wait itself fails only on context expiry or an unknown id.
func (p *Pool) Wait(ctx context.Context, ids []string) (map[string]Worker, error) {
	p.mu.Lock()
	if len(ids) == 0 {
		ids = make([]string, 0, len(p.workers))
		for id := range p.workers {
			ids = append(ids, id)
		}
	}
	chans := make(map[string]chan struct{}, len(ids))
	for _, id := range ids {
		ch, ok := p.done[id]
		if !ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("unknown worker %q", id)
		}
		chans[id] = ch
	}
	p.mu.Unlock()

	for id, ch := range chans {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for worker %q: %w", id, ctx.Err())
		}
	}

	out := make(map[string]Worker, len(ids))
	p.mu.Lock()
	for _, id := range ids {
		out[id] = *p.workers[id]
	}
	p.mu.Unlock()
	return out, nil
}

// Cancel requests cancellation of one worker and awaits its teardown. It
// reports false, without error, when the worker is not in a cancellable
// state.
func (p *Pool) Cancel(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return false, fmt.Errorf("unknown worker %q", id)
	}
	if w.Status != StatusPending && w.Status != StatusRunning {
		p.mu.Unlock()
		return false, nil
	}
	cancel := p.cancels[id]
	ch := p.done[id]
	p.mu.Unlock()

	cancel()
	select {
	case <-ch:
	case <-ctx.Done():
		return false, fmt.Errorf("awaiting cancellation of %q: %w", id, ctx.Err())
	}
	return true, nil
}

// CancelAll cancels every cancellable worker and awaits their teardown.
func (p *Pool) CancelAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if _, err := p.Cancel(ctx, id); err != nil {
			p.log.Warn("Cancellation did not settle.", zap.String("worker", id), zap.Error(err))
		}
	}
}

// Status returns a read-only snapshot of one worker.
func (p *Pool) Status(id string) (Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// Workers returns snapshots of every worker, ordered by spawn sequence.
func (p *Pool) Workers() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return workerSeq(out[i].ID) < workerSeq(out[j].ID)
	})
	return out
}

// Results returns the result text of every settled worker, keyed by id.
func (p *Pool) Results() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string)
	for id, w := range p.workers {
		if w.Status == StatusPending || w.Status == StatusRunning {
			continue
		}
		out[id] = w.Result
	}
	return out
}

// Reset clears all worker bookkeeping so the pool can host a fresh crew. It
// refuses while any worker is still pending or running.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, w := range p.workers {
		if w.Status == StatusPending || w.Status == StatusRunning {
			return fmt.Errorf("worker %q is still %s", id, w.Status)
		}
	}
	p.workers = make(map[string]*Worker)
	p.agents = make(map[string]*agent.Agent)
	p.done = make(map[string]chan struct{})
	p.cancels = make(map[string]context.CancelFunc)
	p.nextID = 0
	return nil
}

func workerSeq(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "ghost-"))
	return n
}
