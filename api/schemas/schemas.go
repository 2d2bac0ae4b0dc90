// Package schemas holds the shared data contracts exchanged between the
// coordination core and its collaborators (LLM backend, tools, runtimes).
// Keeping them here breaks import cycles between internal packages.
package schemas

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleTool       Role = "tool"
	RoleToolResult Role = "tool_result"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of executing one ToolCall. A failed execution is
// represented as Success=false with Error set; it is data, never a panic.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Success    bool   `json:"success"`
}

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is one entry in an agent's conversation history. The history is an
// ordered, append-only sequence owned exclusively by a single agent instance.
type Message struct {
	Role        Role                   `json:"role"`
	Content     string                 `json:"content"`
	ToolCalls   []ToolCall             `json:"tool_calls,omitempty"`
	ToolResults []ToolResult           `json:"tool_results,omitempty"`
	Usage       *Usage                 `json:"usage,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ToolSchema is the JSON-schema fragment describing a tool's parameters.
type ToolSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  ToolSchema `json:"parameters"`
}
