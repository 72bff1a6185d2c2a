// Package mcp implements the MCP wire contract (spec §6, protocol version
// 2025-03-26): initialize, resource/tool inventories, tool invocation with
// optional progress streaming, and sampling/createMessage. Grounded on the
// teacher's HTTP handler style in cmd/demo (goa.design/goa-ai) — thin
// handlers that decode a request, call a core operation, and encode a
// response — generalized here from goa's generated transport to a
// hand-rolled net/http mux, since MCP's wire shape (SSE streaming, a
// resource-URI scheme) doesn't map onto a goa design the teacher ships.
package mcp

// Resource is one entry of GET /resources (spec §6).
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContent is the body of GET /resources/{uri}.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ToolDescriptor is one entry of GET /tools.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Tool names spec §6 fixes: execute_agent, create_workflow, analyze_system.
const (
	ToolExecuteAgent   = "execute_agent"
	ToolCreateWorkflow = "create_workflow"
	ToolAnalyzeSystem  = "analyze_system"
)

// InitializeRequest is the body of POST /initialize.
type InitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// InitializeResponse is the body returned from POST /initialize.
type InitializeResponse struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities map[string]any `json:"capabilities"`
	SessionID    string         `json:"session_id"`
}

// ToolCallRequest is the body of POST /tools/{name}/call.
type ToolCallRequest struct {
	Arguments  map[string]any `json:"arguments"`
	SessionID  string         `json:"session_id,omitempty"`
	Stream     bool           `json:"stream"`
	CanCancel  bool           `json:"can_cancel"`
}

// ContentBlock is one element of a non-streaming tool call's content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResponse is the non-streaming body of POST /tools/{name}/call.
type ToolCallResponse struct {
	Content  []ContentBlock `json:"content"`
	TaskID   string         `json:"task_id"`
	Metadata map[string]any `json:"metadata"`
}

// ProgressEvent is the MCP SSE streaming frame schema (spec §6 "Progress
// event schema"); the A2A websocket stream uses its own StreamMessage.
type ProgressEvent struct {
	Progress  float64 `json:"progress"`
	Total     int     `json:"total,omitempty"`
	Completed int     `json:"completed,omitempty"`
	Message   string  `json:"message,omitempty"`
	Status    string  `json:"status,omitempty"`
}

// CancelResponse is the body of POST /tools/{name}/cancel.
type CancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SamplingRequest is the body of POST /sampling/createMessage.
type SamplingRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

// SamplingResponse is the body returned from POST /sampling/createMessage.
type SamplingResponse struct {
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content ContentBlock `json:"content"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
