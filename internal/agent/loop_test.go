package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

func TestRunLoopCompletesOnFinishSignal(t *testing.T) {
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		toolCallResponse("c1", "execute_command", map[string]interface{}{"command": "nmap -sV 10.0.0.5"}),
		finishResponse("found ssh and http open"),
	}}
	ag, rt := newTestAgent(t, llm, 10)

	var emitted []schemas.Message
	err := ag.RunLoop(context.Background(), "enumerate the target", func(msg schemas.Message) {
		emitted = append(emitted, msg)
	})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, ag.State())
	assert.Equal(t, "found ssh and http open", ag.Result())
	assert.Equal(t, []string{"execute_command", "finish"}, ag.ToolsUsed())
	assert.Equal(t, []string{"nmap -sV 10.0.0.5"}, rt.commands)
	assert.False(t, ag.MaxIterationsHit())

	// Intent is emitted before results: the first tool-bearing message
	// precedes any tool_results event.
	var events []string
	for _, msg := range emitted {
		if ev, ok := msg.Metadata["event"].(string); ok {
			events = append(events, ev)
		}
	}
	assert.Equal(t, []string{"tool_intent", "tool_results", "tool_intent", "complete"}, events)
}

func TestRunLoopTextOnlyNeverTerminates(t *testing.T) {
	// Every response is thinking aloud; only the iteration cap ends it.
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		{Content: "I think port 80 looks interesting."},
		{Content: "The task is complete."}, // plain text must not terminate
		{Content: "Still pondering."},
	}}
	ag, _ := newTestAgent(t, llm, 3)

	err := ag.RunLoop(context.Background(), "enumerate", nil)
	require.NoError(t, err)

	assert.True(t, ag.MaxIterationsHit())
	assert.Equal(t, StateComplete, ag.State())
	assert.Len(t, llm.seenRequests(), 3, "all iterations must be used")

	history := ag.History()
	last := history[len(history)-1]
	assert.Contains(t, last.Content, "[!] Reached maximum iterations (3)")
	assert.Equal(t, true, last.Metadata["max_iterations_reached"])
}

func TestRunLoopUnknownToolContinues(t *testing.T) {
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		toolCallResponse("c1", "quantum_decryptor", nil),
		finishResponse("done without it"),
	}}
	ag, _ := newTestAgent(t, llm, 10)

	require.NoError(t, ag.RunLoop(context.Background(), "try the impossible", nil))
	assert.Equal(t, StateComplete, ag.State())

	// The failed result names the tool and reached the history the model
	// sees on the next turn.
	var failed *schemas.ToolResult
	for _, msg := range ag.History() {
		for i := range msg.ToolResults {
			if !msg.ToolResults[i].Success {
				failed = &msg.ToolResults[i]
			}
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.Error, "quantum_decryptor")
}

func TestRunLoopFailedToolCallDoesNotAbortBatch(t *testing.T) {
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		{ToolCalls: []schemas.ToolCall{
			{ID: "c1", Name: "execute_command", Arguments: nil}, // missing required arg
			{ID: "c2", Name: "execute_command", Arguments: map[string]interface{}{"command": "id"}},
		}},
		finishResponse("done"),
	}}
	ag, rt := newTestAgent(t, llm, 10)

	require.NoError(t, ag.RunLoop(context.Background(), "run both", nil))
	assert.Equal(t, []string{"id"}, rt.commands, "second call must run despite the first failing")
}

func TestRunLoopModelErrorTerminatesWithError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("backend down")}
	ag, _ := newTestAgent(t, llm, 10)

	err := ag.RunLoop(context.Background(), "enumerate", nil)
	require.Error(t, err)
	assert.Equal(t, StateError, ag.State())
}

func TestCleanupAfterCancel(t *testing.T) {
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		{Content: "settled thinking"},
		finishResponse("first task done"),
	}}
	ag, _ := newTestAgent(t, llm, 10)
	require.NoError(t, ag.RunLoop(context.Background(), "first task", nil))

	// Simulate a cancelled turn: user message, assistant with pending tool
	// calls, orphaned results.
	ag.appendHistory(schemas.Message{Role: schemas.RoleUser, Content: "second task"})
	ag.appendHistory(schemas.Message{
		Role:      schemas.RoleAssistant,
		ToolCalls: []schemas.ToolCall{{ID: "c9", Name: "execute_command"}},
	})
	ag.appendHistory(schemas.Message{Role: schemas.RoleToolResult})

	before := len(ag.History())
	ag.CleanupAfterCancel()
	after := ag.History()

	assert.Equal(t, before-3, len(after), "the incomplete trailing turn is discarded")
	assert.Equal(t, StateIdle, ag.State())
	for _, msg := range after {
		assert.NotEqual(t, "second task", msg.Content)
	}
}

func TestAssistSingleShot(t *testing.T) {
	t.Run("plain answer", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
			{Content: "Port 443 is usually HTTPS."},
		}}
		ag, _ := newTestAgent(t, llm, 10)

		answer, err := ag.Assist(context.Background(), "what is port 443?")
		require.NoError(t, err)
		assert.Equal(t, "Port 443 is usually HTTPS.", answer)

		// The finish tool is withheld in single-shot mode.
		reqs := llm.seenRequests()
		require.Len(t, reqs, 1)
		for _, def := range reqs[0].Tools {
			assert.NotEqual(t, tools.FinishToolName, def.Name)
		}
	})

	t.Run("one tool round, no looping", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
			toolCallResponse("c1", "execute_command", map[string]interface{}{"command": "whoami"}),
		}}
		ag, rt := newTestAgent(t, llm, 10)

		answer, err := ag.Assist(context.Background(), "who am I?")
		require.NoError(t, err)
		assert.Contains(t, answer, "ok: whoami")
		assert.Equal(t, []string{"whoami"}, rt.commands)
		assert.Len(t, llm.seenRequests(), 1, "exactly one model call")
	})
}

func TestContinueConversationResetsTerminalState(t *testing.T) {
	llm := &scriptedLLM{responses: []*schemas.GenerationResponse{
		finishResponse("first done"),
		finishResponse("second done"),
	}}
	ag, _ := newTestAgent(t, llm, 10)

	require.NoError(t, ag.RunLoop(context.Background(), "first", nil))
	require.Equal(t, StateComplete, ag.State())

	require.NoError(t, ag.ContinueConversation(context.Background(), "second", nil))
	assert.Equal(t, StateComplete, ag.State())
	assert.Equal(t, "second done", ag.Result())
}
