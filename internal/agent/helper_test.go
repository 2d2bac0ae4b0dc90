package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/notes"
	"github.com/wraithsec/wraith-cli/internal/runtime"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

// scriptedLLM replays a fixed sequence of responses and records every
// request it saw.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*schemas.GenerationResponse
	requests  []schemas.GenerationRequest
	err       error
}

func (s *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &schemas.GenerationResponse{Content: "nothing scripted"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) seenRequests() []schemas.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.GenerationRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// fakeRuntime satisfies runtime.Runtime without touching the host.
type fakeRuntime struct {
	mu       sync.Mutex
	running  bool
	commands []string
}

func (f *fakeRuntime) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeRuntime) ExecuteCommand(ctx context.Context, command string) (*runtime.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return &runtime.CommandResult{Stdout: "ok: " + command}, nil
}

func (f *fakeRuntime) BrowserAction(ctx context.Context, action string, args map[string]interface{}) (string, error) {
	return "browser: " + action, nil
}

func (f *fakeRuntime) ProxyAction(ctx context.Context, action string, args map[string]interface{}) (string, error) {
	return "proxy: " + action, nil
}

func (f *fakeRuntime) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRuntime) Environment() runtime.EnvironmentInfo {
	return runtime.EnvironmentInfo{OS: "linux", Arch: "amd64", User: "tester"}
}

// newTestAgent wires an agent over a scripted model, builtin tools, and a
// fake runtime.
func newTestAgent(t *testing.T, llm schemas.LLMClient, maxIterations int) (*Agent, *fakeRuntime) {
	t.Helper()

	store, err := notes.NewStore(filepath.Join(t.TempDir(), "notes.json"))
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry, store))

	rt := &fakeRuntime{}
	require.NoError(t, rt.Start(context.Background()))

	ag := New(llm, registry, tools.NewExecutor(registry, 0), rt, Options{
		Name:          "test-agent",
		Target:        "10.0.0.5",
		MaxIterations: maxIterations,
	})
	return ag, rt
}

// toolCallResponse builds a response carrying one tool call.
func toolCallResponse(id, name string, args map[string]interface{}) *schemas.GenerationResponse {
	return &schemas.GenerationResponse{
		ToolCalls: []schemas.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

// finishResponse builds a response calling the finish tool.
func finishResponse(summary string) *schemas.GenerationResponse {
	return toolCallResponse("finish-1", tools.FinishToolName, map[string]interface{}{"summary": summary})
}
