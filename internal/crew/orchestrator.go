package crew

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/agent"
	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/notes"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/shadowgraph"
)

// OrchestratorID is the event-stream id for the orchestrator's own activity.
const OrchestratorID = "orchestrator"

// Orchestrator is an agent-like loop whose only tools are operations on one
// worker pool: spawn, wait, status, cancel, synthesize. Domain tools are
// never handed to it directly; they are only described in its prompt so it
// can instruct workers explicitly.
type Orchestrator struct {
	llm    schemas.LLMClient
	pool   *Pool
	store  *notes.Store
	graph  *shadowgraph.Graph
	memory *agent.ConversationMemory
	states *agent.StateManager
	emit   EventFunc
	log    *zap.Logger

	target        string
	scope         string
	workerTools   []string
	maxIterations int

	messages []schemas.Message
	report   string
}

// NewOrchestrator assembles an orchestrator over one pool. workerTools names
// the domain tools workers carry, for the prompt only. emit may be nil.
func NewOrchestrator(llm schemas.LLMClient, pool *Pool, store *notes.Store, graph *shadowgraph.Graph, cfg config.Config, target, scope string, workerTools []string, emit EventFunc) *Orchestrator {
	if emit == nil {
		emit = func(string, string, map[string]interface{}) {}
	}
	maxIterations := cfg.Crew.OrchestratorMaxIterations
	if maxIterations <= 0 {
		maxIterations = agent.DefaultMaxIterations
	}
	return &Orchestrator{
		llm:           llm,
		pool:          pool,
		store:         store,
		graph:         graph,
		memory:        agent.NewConversationMemory(cfg.Agent.Memory),
		states:        agent.NewStateManager(),
		emit:          emit,
		log:           observability.GetLogger().Named(OrchestratorID),
		target:        target,
		scope:         scope,
		workerTools:   workerTools,
		maxIterations: maxIterations,
	}
}

// Run drives the orchestrator from a task to a synthesized report. It
// terminates when synthesize has produced a non-empty report, when a
// plain-text response with no tool calls arrives, or at the iteration cap.
// Any still-running workers are cancelled on the way out.
func (o *Orchestrator) Run(ctx context.Context, task string) (string, error) {
	defer func() {
		cleanupCtx := context.Background()
		o.pool.CancelAll(cleanupCtx)
	}()

	o.messages = append(o.messages, schemas.Message{Role: schemas.RoleUser, Content: task})
	if !o.states.TransitionTo(agent.StateThinking, "crew task started") {
		o.states.ForceTransition(agent.StateThinking, "crew task started")
	}
	o.emit(OrchestratorID, "starting", map[string]interface{}{"task": task})

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			o.Cancel(ctx)
			return "", err
		}

		// Fold the latest notes into the graph so each planning step sees
		// current strategic insight.
		o.graph.UpdateFromNotes(o.store.All())

		resp, err := o.llm.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: o.systemPrompt(),
			Messages:     o.memory.GetMessagesWithSummary(ctx, o.messages, o.summarize),
			Tools:        orchestratorToolDefs(),
			Tier:         schemas.TierPowerful,
		})
		if err != nil {
			if ctx.Err() != nil {
				o.Cancel(ctx)
				return "", ctx.Err()
			}
			o.states.ForceTransition(agent.StateError, "model call failed: "+err.Error())
			o.emit(OrchestratorID, "error", map[string]interface{}{"error": err.Error()})
			return "", fmt.Errorf("orchestrator model call (iteration %d): %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			// A plain-text response ends the run; the orchestrator has said
			// all it has to say.
			o.messages = append(o.messages, schemas.Message{Role: schemas.RoleAssistant, Content: resp.Content, Usage: resp.Usage})
			o.states.TransitionTo(agent.StateComplete, "plain-text response")
			o.emit(OrchestratorID, "complete", map[string]interface{}{"result": resp.Content})
			return resp.Content, nil
		}

		o.messages = append(o.messages, schemas.Message{
			Role:      schemas.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Usage:     resp.Usage,
		})
		o.states.TransitionTo(agent.StateExecuting, fmt.Sprintf("executing %d crew operations", len(resp.ToolCalls)))
		if resp.Content != "" {
			o.emit(OrchestratorID, "thinking", map[string]interface{}{"content": resp.Content})
		}

		results := make([]schemas.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			o.emit(OrchestratorID, "tool_call", map[string]interface{}{"tool": call.Name})
			result := schemas.ToolResult{ToolCallID: call.ID, ToolName: call.Name}
			out, err := o.dispatch(ctx, call)
			if err != nil {
				// Turned into data so the model can react next turn.
				result.Error = err.Error()
			} else {
				result.Result = out
				result.Success = true
			}
			o.emit(OrchestratorID, "tool_result", map[string]interface{}{
				"tool":    call.Name,
				"success": result.Success,
			})
			results = append(results, result)
		}
		o.messages = append(o.messages, schemas.Message{Role: schemas.RoleToolResult, ToolResults: results})
		o.states.TransitionTo(agent.StateThinking, "crew operations finished")

		if o.report != "" {
			o.states.TransitionTo(agent.StateComplete, "report synthesized")
			o.emit(OrchestratorID, "complete", map[string]interface{}{"result": o.report})
			return o.report, nil
		}
	}

	o.log.Warn("Orchestrator hit its iteration cap.", zap.Int("max_iterations", o.maxIterations))
	o.emit(OrchestratorID, "warning", map[string]interface{}{"max_iterations_reached": true})
	o.states.ForceTransition(agent.StateComplete, "maximum iterations reached")

	// Best effort: synthesize whatever the workers produced so far.
	report, err := o.synthesize(ctx)
	if err != nil || strings.TrimSpace(report) == "" {
		return fmt.Sprintf("[!] Reached maximum iterations (%d) before a report was synthesized.", o.maxIterations), nil
	}
	return report, nil
}

// Cancel cancels the whole pool and trims any incomplete trailing turn from
// the orchestrator's own message log.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.pool.CancelAll(ctx)

	for len(o.messages) > 0 {
		last := o.messages[len(o.messages)-1]
		incomplete := (last.Role == schemas.RoleAssistant && len(last.ToolCalls) > 0) ||
			last.Role == schemas.RoleToolResult ||
			last.Role == schemas.RoleUser
		if !incomplete {
			break
		}
		o.messages = o.messages[:len(o.messages)-1]
		if last.Role == schemas.RoleUser {
			break
		}
	}
	o.states.ForceTransition(agent.StateIdle, "cancelled, trailing turn discarded")
}

// State returns the orchestrator's lifecycle state.
func (o *Orchestrator) State() agent.State { return o.states.Current() }

// summarize condenses orchestrator history with one fast-tier call.
func (o *Orchestrator) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		Messages: []schemas.Message{{Role: schemas.RoleUser, Content: prompt}},
		Tier:     schemas.TierFast,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// systemPrompt frames the orchestrator's role, current crew state, and graph
// insight for the next planning step.
func (o *Orchestrator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the crew orchestrator for an authorized security assessment. ")
	b.WriteString("You never run domain tools yourself. You decompose the task, spawn worker agents with precise instructions, ")
	b.WriteString("sequence them with dependencies, watch their progress, and synthesize a final report.\n")

	if o.target != "" {
		b.WriteString("\nTarget: " + o.target + "\n")
	}
	if o.scope != "" {
		b.WriteString("Scope: " + o.scope + ". Workers must stay strictly inside scope.\n")
	}
	if len(o.workerTools) > 0 {
		b.WriteString("\nWorkers carry these tools (describe their use explicitly in each task): ")
		b.WriteString(strings.Join(o.workerTools, ", "))
		b.WriteString("\n")
	}

	if workers := o.pool.Workers(); len(workers) > 0 {
		b.WriteString("\nCrew state:\n")
		for _, w := range workers {
			fmt.Fprintf(&b, "- %s [%s]: %s\n", w.ID, w.Status, w.Task)
		}
	}

	b.WriteString("\n" + o.graph.ExportSummary() + "\n")
	if insights := o.graph.StrategicInsights(); len(insights) > 0 {
		b.WriteString("Strategic insights:\n")
		for _, insight := range insights {
			b.WriteString("- " + insight + "\n")
		}
	}

	b.WriteString("\nFinish by calling synthesize_findings once every worker has settled. A plain-text reply ends the run.")
	return b.String()
}
