package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/runtime"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

// DefaultMaxIterations bounds the execution loop when no cap is configured.
const DefaultMaxIterations = 50

// EmitFunc receives intermediate and final messages as the loop produces
// them. It is the only channel surrounding layers observe the loop through.
type EmitFunc func(msg schemas.Message)

// Options configures a single agent instance.
type Options struct {
	Name          string
	Role          string
	Target        string
	Scope         string
	MaxIterations int
	Tier          schemas.ModelTier
	Memory        config.MemoryConfig
}

// Agent drives one bounded conversation loop: model call, tool execution,
// repeat, until the completion signal or the iteration cap. An Agent owns its
// history exclusively and is not safe for concurrent RunLoop calls.
type Agent struct {
	llm      schemas.LLMClient
	registry *tools.Registry
	executor *tools.Executor
	rt       runtime.Runtime

	opts   Options
	states *StateManager
	memory *ConversationMemory
	log    *zap.Logger

	mu               sync.Mutex
	history          []schemas.Message
	toolsUsed        map[string]bool
	lastText         string
	maxIterationsHit bool
}

// New assembles an agent over its collaborators.
func New(llm schemas.LLMClient, registry *tools.Registry, executor *tools.Executor, rt runtime.Runtime, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Name == "" {
		opts.Name = "agent"
	}
	return &Agent{
		llm:       llm,
		registry:  registry,
		executor:  executor,
		rt:        rt,
		opts:      opts,
		states:    NewStateManager(),
		memory:    NewConversationMemory(opts.Memory),
		log:       observability.GetLogger().Named(opts.Name),
		toolsUsed: make(map[string]bool),
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State { return a.states.Current() }

// States exposes the state manager for callers that need the transition log.
func (a *Agent) States() *StateManager { return a.states }

// Result returns the agent's final summary if it finished, else the last
// tool-call-free textual response.
func (a *Agent) Result() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastText
}

// ToolsUsed returns the distinct tool names invoked so far, sorted.
func (a *Agent) ToolsUsed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.toolsUsed))
	for name := range a.toolsUsed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxIterationsHit reports whether the last run ended on the iteration cap
// rather than a completion signal.
func (a *Agent) MaxIterationsHit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxIterationsHit
}

// History returns a copy of the conversation history.
func (a *Agent) History() []schemas.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.Message, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Agent) appendHistory(msg schemas.Message) {
	a.mu.Lock()
	a.history = append(a.history, msg)
	a.mu.Unlock()
}

// RunLoop drives the agent from an initial task message to a completion
// signal, the iteration cap, or a model-call error. Text-only responses are
// thinking aloud and never terminate the loop.
func (a *Agent) RunLoop(ctx context.Context, initial string, emit EmitFunc) error {
	if emit == nil {
		emit = func(schemas.Message) {}
	}
	a.mu.Lock()
	a.maxIterationsHit = false
	a.mu.Unlock()

	a.appendHistory(schemas.Message{Role: schemas.RoleUser, Content: initial})
	if !a.states.TransitionTo(StateThinking, "task started") {
		a.states.ForceTransition(StateThinking, "task started from "+string(a.states.Current()))
	}

	return a.loop(ctx, emit)
}

// ContinueConversation feeds a follow-up message into an agent that already
// ran, resetting a terminal state back through idle first.
func (a *Agent) ContinueConversation(ctx context.Context, message string, emit EmitFunc) error {
	if a.states.IsTerminal() {
		a.states.TransitionTo(StateIdle, "continuing conversation")
	}
	return a.RunLoop(ctx, message, emit)
}

func (a *Agent) loop(ctx context.Context, emit EmitFunc) error {
	for iteration := 1; iteration <= a.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := a.generate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.states.ForceTransition(StateError, "model call failed: "+err.Error())
			return fmt.Errorf("model call (iteration %d): %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			// Thinking aloud. Record and keep going; only the completion
			// signal or the iteration cap ends the loop.
			msg := schemas.Message{
				Role:     schemas.RoleAssistant,
				Content:  resp.Content,
				Usage:    resp.Usage,
				Metadata: map[string]interface{}{"event": "thinking"},
			}
			a.appendHistory(msg)
			a.mu.Lock()
			a.lastText = resp.Content
			a.mu.Unlock()
			emit(msg)
			continue
		}

		// Announce intent before anything runs.
		assistantMsg := schemas.Message{
			Role:      schemas.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Usage:     resp.Usage,
			Metadata:  map[string]interface{}{"event": "tool_intent"},
		}
		a.appendHistory(assistantMsg)
		emit(assistantMsg)

		a.states.TransitionTo(StateExecuting, fmt.Sprintf("executing %d tool calls", len(resp.ToolCalls)))
		results := a.executor.ExecuteBatch(ctx, resp.ToolCalls, a.rt)

		a.mu.Lock()
		for _, call := range resp.ToolCalls {
			a.toolsUsed[call.Name] = true
		}
		a.mu.Unlock()

		resultMsg := schemas.Message{
			Role:        schemas.RoleToolResult,
			ToolResults: results,
			Metadata:    map[string]interface{}{"event": "tool_results"},
		}
		a.appendHistory(resultMsg)

		if summary, done := completionFrom(results); done {
			a.mu.Lock()
			a.lastText = summary
			a.mu.Unlock()
			emit(schemas.Message{
				Role:     schemas.RoleAssistant,
				Content:  summary,
				Metadata: map[string]interface{}{"event": "complete"},
			})
			a.states.TransitionTo(StateThinking, "tool batch finished")
			a.states.TransitionTo(StateComplete, "completion signal received")
			a.log.Info("Agent finished its task.", zap.Int("iterations", iteration))
			return nil
		}

		emit(resultMsg)
		a.states.TransitionTo(StateThinking, "tool batch finished")
	}

	warning := fmt.Sprintf("[!] Reached maximum iterations (%d). Task may be incomplete.", a.opts.MaxIterations)
	warnMsg := schemas.Message{
		Role:    schemas.RoleAssistant,
		Content: warning,
		Metadata: map[string]interface{}{
			"event":                  "warning",
			"max_iterations_reached": true,
		},
	}
	a.appendHistory(warnMsg)
	emit(warnMsg)

	a.mu.Lock()
	a.maxIterationsHit = true
	a.mu.Unlock()
	if !a.states.TransitionTo(StateComplete, "maximum iterations reached") {
		a.states.ForceTransition(StateComplete, "maximum iterations reached")
	}
	a.log.Warn("Agent hit its iteration cap.", zap.Int("max_iterations", a.opts.MaxIterations))
	return nil
}

// Assist performs exactly one model call and at most one tool-execution
// round, with no looping. The finish tool is withheld since termination is
// implicit.
func (a *Agent) Assist(ctx context.Context, message string) (string, error) {
	a.appendHistory(schemas.Message{Role: schemas.RoleUser, Content: message})

	req := schemas.GenerationRequest{
		SystemPrompt: a.systemPrompt(),
		Messages:     a.memory.GetMessages(a.History()),
		Tools:        a.registry.Definitions(tools.FinishToolName),
		Tier:         a.opts.Tier,
	}
	resp, err := a.llm.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		a.appendHistory(schemas.Message{Role: schemas.RoleAssistant, Content: resp.Content, Usage: resp.Usage})
		return resp.Content, nil
	}

	a.appendHistory(schemas.Message{
		Role:      schemas.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	})
	results := a.executor.ExecuteBatch(ctx, resp.ToolCalls, a.rt)
	a.appendHistory(schemas.Message{Role: schemas.RoleToolResult, ToolResults: results})

	a.mu.Lock()
	for _, call := range resp.ToolCalls {
		a.toolsUsed[call.Name] = true
	}
	a.mu.Unlock()

	var b strings.Builder
	if resp.Content != "" {
		b.WriteString(resp.Content)
		b.WriteString("\n\n")
	}
	for _, res := range results {
		if res.Success {
			fmt.Fprintf(&b, "[%s]\n%s\n", res.ToolName, res.Result)
		} else {
			fmt.Fprintf(&b, "[%s] failed: %s\n", res.ToolName, res.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CleanupAfterCancel pops trailing incomplete turns from history (a pending
// assistant tool-call message, an orphaned tool-result message, the
// triggering user message) and forces the state back to idle, so a retried
// conversation never sees a half-finished turn.
func (a *Agent) CleanupAfterCancel() {
	a.mu.Lock()
	for len(a.history) > 0 {
		last := a.history[len(a.history)-1]
		incomplete := (last.Role == schemas.RoleAssistant && len(last.ToolCalls) > 0) ||
			last.Role == schemas.RoleToolResult ||
			last.Role == schemas.RoleTool ||
			last.Role == schemas.RoleUser
		if !incomplete {
			break
		}
		a.history = a.history[:len(a.history)-1]
		if last.Role == schemas.RoleUser {
			break
		}
	}
	a.mu.Unlock()

	a.states.ForceTransition(StateIdle, "cancelled, trailing turn discarded")
}

// generate performs one model call over the budget-bounded history.
func (a *Agent) generate(ctx context.Context) (*schemas.GenerationResponse, error) {
	messages := a.memory.GetMessagesWithSummary(ctx, a.History(), a.summarize)
	req := schemas.GenerationRequest{
		SystemPrompt: a.systemPrompt(),
		Messages:     messages,
		Tools:        a.registry.Definitions(),
		Tier:         a.opts.Tier,
	}
	return a.llm.Generate(ctx, req)
}

// summarize condenses conversation text with one fast-tier model call.
func (a *Agent) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		Messages: []schemas.Message{{Role: schemas.RoleUser, Content: prompt}},
		Tier:     schemas.TierFast,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// completionFrom scans a result batch for the finish tool's signal.
func completionFrom(results []schemas.ToolResult) (string, bool) {
	for _, res := range results {
		if !res.Success {
			continue
		}
		if summary, ok := tools.CompletionSummary(res.Result); ok {
			return summary, true
		}
	}
	return "", false
}
