package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wraithsec/wraith-cli/api/schemas"
)

func newTestGeminiClient(t *testing.T, serverURL string) *GeminiClient {
	t.Helper()
	cfg := getValidLLMConfig()
	cfg.Endpoint = serverURL
	client, err := NewGeminiClient(cfg, setupTestLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGeminiClient(cfg, setupTestLogger(t))
	assert.Error(t, err)
}

func TestGenerateParsesTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "scan it carefully"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4, "totalTokenCount": 16}
		}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "be careful",
		Messages:     []schemas.Message{{Role: schemas.RoleUser, Content: "what now?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scan it carefully", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestGenerateParsesFunctionCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [
				{"functionCall": {"name": "execute_command", "args": {"command": "nmap -sV 10.0.0.5"}}}
			]}, "finishReason": "STOP"}]
		}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Messages: []schemas.Message{{Role: schemas.RoleUser, Content: "enumerate"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "execute_command", resp.ToolCalls[0].Name)
	assert.Equal(t, "nmap -sV 10.0.0.5", resp.ToolCalls[0].Arguments["command"])
	assert.NotEmpty(t, resp.ToolCalls[0].ID, "tool calls get ids assigned locally")
}

func TestGenerateSendsToolsAndHistory(t *testing.T) {
	var captured geminiRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "ok"}]}}]}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "stay in scope",
		Messages: []schemas.Message{
			{Role: schemas.RoleUser, Content: "enumerate"},
			{Role: schemas.RoleAssistant, ToolCalls: []schemas.ToolCall{{
				ID: "c1", Name: "execute_command",
				Arguments: map[string]interface{}{"command": "id"},
			}}},
			{Role: schemas.RoleToolResult, ToolResults: []schemas.ToolResult{{
				ToolCallID: "c1", ToolName: "execute_command", Result: "uid=0(root)", Success: true,
			}}},
		},
		Tools: []schemas.ToolDefinition{{
			Name:        "execute_command",
			Description: "run a command",
			Parameters:  schemas.ToolSchema{Type: "object", Required: []string{"command"}},
		}},
	})
	require.NoError(t, err)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "stay in scope", captured.SystemInstruction.Parts[0].Text)

	require.Len(t, captured.Tools, 1)
	require.Len(t, captured.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "execute_command", captured.Tools[0].FunctionDeclarations[0].Name)

	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	require.NotNil(t, captured.Contents[1].Parts[0].FunctionCall)
	require.NotNil(t, captured.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "execute_command", captured.Contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "uid=0(root)", captured.Contents[2].Parts[0].FunctionResponse.Response["content"])
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "recovered"}]}}]}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Messages: []schemas.Message{{Role: schemas.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Messages: []schemas.Message{{Role: schemas.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "4xx responses are permanent")
}
