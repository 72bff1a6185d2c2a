// Package providers defines the uniform provider-adapter contract (spec
// §4.2): one generate call per vendor, a model-spec inventory, and
// cost arithmetic. Grounded on the teacher's model.Client interface
// (goa.design/goa-ai runtime/agent/model) generalized from a planner
// message protocol to the flatter LLM request/response shape spec §3
// describes.
package providers

import (
	"context"
	"fmt"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/registry"
)

// Request is the uniform LLM request (spec §3 "LLM request"). If Model is
// empty the Router selects one.
type Request struct {
	Prompt string
	// Model, if set, is "provider/model_id". Empty means "let the router decide".
	Model string

	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string

	ToolSchemas    []ToolSchema
	ResponseFormat string // "", "text", or "json"

	Metadata map[string]any
}

// ToolSchema is a function/tool schema the model may call.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is a tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Response is the uniform LLM response (spec §3 "LLM response").
type Response struct {
	Content      string
	Model        string // actual "provider/model_id" used
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMS    int64
	FinishReason string
	ToolCalls    []ToolCall
	Metadata     map[string]any
}

// TotalTokens returns InputTokens+OutputTokens.
func (r Response) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Adapter is the interface every provider implements (spec §4.2). Adapters
// are stateless except for a client handle; configuration (API keys, base
// URLs) is injected by the caller.
type Adapter interface {
	// Generate translates req to the vendor-specific call, invokes it, and
	// maps the result back. Fails with an *errors.Error of kind Upstream on
	// transport or vendor error; the caller decides whether to retry.
	Generate(ctx context.Context, req Request) (Response, error)

	// ListModels returns the subset of registry entries this adapter can
	// serve.
	ListModels() []registry.Spec

	// Cost computes USD from unit costs. An unknown model yields 0 and logs
	// a warning rather than returning an error.
	Cost(inputTokens, outputTokens int, modelID string) float64
}

// CostFromSpec is the shared arithmetic used by every adapter's Cost method:
// unit costs are USD per one million tokens.
func CostFromSpec(spec registry.Spec, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*spec.InputCostPerM + float64(outputTokens)/1_000_000*spec.OutputCostPerM
}

// UpstreamError wraps a vendor transport/SDK error as an *errors.Error of
// kind Upstream, attributing it to the given provider.
func UpstreamError(provider string, cause error) error {
	return coreerr.New(coreerr.Upstream, "provider:"+provider, fmt.Sprintf("upstream call failed: %v", cause), true, cause)
}
