package crew

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wraithsec/wraith-cli/api/schemas"
)

// Orchestrator tool names. This set, and nothing else, is what the
// orchestrator's model may call.
const (
	toolSpawnAgent         = "spawn_agent"
	toolWaitForAgents      = "wait_for_agents"
	toolGetAgentStatus     = "get_agent_status"
	toolCancelAgent        = "cancel_agent"
	toolSynthesizeFindings = "synthesize_findings"
)

// orchestratorToolDefs describes the five pool operations for the model.
func orchestratorToolDefs() []schemas.ToolDefinition {
	return []schemas.ToolDefinition{
		{
			Name:        toolSpawnAgent,
			Description: "Spawn a worker agent with a self-contained task description. Returns the worker id.",
			Parameters: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"task":       map[string]interface{}{"type": "string", "description": "Complete instructions for the worker, including which tools to use."},
					"priority":   map[string]interface{}{"type": "integer", "description": "Scheduling hint, higher runs first among peers."},
					"depends_on": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Worker ids that must settle before this one starts."},
				},
				Required: []string{"task"},
			},
		},
		{
			Name:        toolWaitForAgents,
			Description: "Block until the named workers (or all workers) settle, then return their results.",
			Parameters: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Worker ids to wait for. Omit to wait for all."},
				},
				Required: []string{},
			},
		},
		{
			Name:        toolGetAgentStatus,
			Description: "Read the current status of one worker, or of the whole crew.",
			Parameters: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Worker id. Omit for all workers."},
				},
				Required: []string{},
			},
		},
		{
			Name:        toolCancelAgent,
			Description: "Cancel a pending or running worker.",
			Parameters: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Worker id to cancel."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        toolSynthesizeFindings,
			Description: "Combine every worker's outcome and the shadow graph into one unified assessment report. Call once, after the crew has settled.",
			Parameters: schemas.ToolSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
				Required:   []string{},
			},
		},
	}
}

// dispatch routes one orchestrator tool call. Unknown names are a data-level
// error returned to the model.
func (o *Orchestrator) dispatch(ctx context.Context, call schemas.ToolCall) (string, error) {
	switch call.Name {
	case toolSpawnAgent:
		return o.spawnAgent(ctx, call.Arguments)
	case toolWaitForAgents:
		return o.waitForAgents(ctx, call.Arguments)
	case toolGetAgentStatus:
		return o.getAgentStatus(call.Arguments)
	case toolCancelAgent:
		return o.cancelAgent(ctx, call.Arguments)
	case toolSynthesizeFindings:
		report, err := o.synthesize(ctx)
		if err != nil {
			return "", err
		}
		o.report = report
		return report, nil
	default:
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (o *Orchestrator) spawnAgent(ctx context.Context, args map[string]interface{}) (string, error) {
	task, _ := args["task"].(string)
	priority := 0
	if p, ok := args["priority"].(float64); ok {
		priority = int(p)
	}
	dependsOn := stringSlice(args["depends_on"])

	id, err := o.pool.Spawn(ctx, task, priority, dependsOn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("spawned worker %s", id), nil
}

func (o *Orchestrator) waitForAgents(ctx context.Context, args map[string]interface{}) (string, error) {
	ids := stringSlice(args["ids"])
	settled, err := o.pool.Wait(ctx, ids)
	if err != nil {
		return "", err
	}
	if len(settled) == 0 {
		return "no workers to wait for", nil
	}

	var b strings.Builder
	for _, w := range sortedWorkers(settled) {
		fmt.Fprintf(&b, "%s [%s] task: %s\n", w.ID, w.Status, w.Task)
		if w.Result != "" {
			fmt.Fprintf(&b, "  result: %s\n", w.Result)
		}
		if w.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", w.Error)
		}
		if len(w.ToolsUsed) > 0 {
			fmt.Fprintf(&b, "  tools used: %s\n", strings.Join(w.ToolsUsed, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) getAgentStatus(args map[string]interface{}) (string, error) {
	if id, _ := args["id"].(string); id != "" {
		w, ok := o.pool.Status(id)
		if !ok {
			return "", fmt.Errorf("unknown worker %q", id)
		}
		return fmt.Sprintf("%s [%s] task: %s", w.ID, w.Status, w.Task), nil
	}

	workers := o.pool.Workers()
	if len(workers) == 0 {
		return "no workers spawned yet", nil
	}
	var b strings.Builder
	for _, w := range workers {
		fmt.Fprintf(&b, "%s [%s] task: %s\n", w.ID, w.Status, w.Task)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) cancelAgent(ctx context.Context, args map[string]interface{}) (string, error) {
	id, _ := args["id"].(string)
	cancelled, err := o.pool.Cancel(ctx, id)
	if err != nil {
		return "", err
	}
	if !cancelled {
		return fmt.Sprintf("worker %s is not in a cancellable state", id), nil
	}
	return fmt.Sprintf("worker %s cancelled", id), nil
}

// synthesize concatenates every worker's outcome with the graph digest and
// asks the model once for a unified report. Every terminal worker state is
// represented; nothing is silently dropped.
func (o *Orchestrator) synthesize(ctx context.Context) (string, error) {
	workers := o.pool.Workers()
	if len(workers) == 0 {
		return "", fmt.Errorf("no workers have run; nothing to synthesize")
	}

	var b strings.Builder
	b.WriteString("Worker outcomes:\n")
	for _, w := range workers {
		fmt.Fprintf(&b, "\n=== %s [%s] ===\ntask: %s\n", w.ID, w.Status, w.Task)
		if w.Result != "" {
			b.WriteString("result: " + w.Result + "\n")
		}
		if w.Error != "" {
			b.WriteString("error: " + w.Error + "\n")
		}
	}
	b.WriteString("\n" + o.graph.ExportSummary() + "\n")
	for _, insight := range o.graph.StrategicInsights() {
		b.WriteString("- " + insight + "\n")
	}

	resp, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You write the final report of an authorized security assessment. Cover every worker outcome, including failures and cancellations. Organize by finding, with evidence and recommended remediation.",
		Messages:     []schemas.Message{{Role: schemas.RoleUser, Content: b.String()}},
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis model call: %w", err)
	}
	return resp.Content, nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedWorkers(m map[string]Worker) []Worker {
	out := make([]Worker, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	// Spawn order, like Pool.Workers.
	sort.Slice(out, func(i, j int) bool {
		return workerSeq(out[i].ID) < workerSeq(out[j].ID)
	})
	return out
}
