package schemas

import "context"

// ModelTier selects which configured model handles a request.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationRequest is the single operation the language-model collaborator
// exposes: a system prompt, formatted history, and the tools the model may call.
type GenerationRequest struct {
	SystemPrompt string           `json:"system_prompt"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Tier         ModelTier        `json:"tier,omitempty"`
}

// GenerationResponse carries the model's reply: free text, structured tool
// calls, or both, plus token accounting when the provider reports it.
type GenerationResponse struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// LLMClient is the contract every model backend implements.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}
