// Package anthropic adapts the uniform providers.Adapter contract to the
// Anthropic Claude Messages API, grounded on the teacher's
// features/model/anthropic/client.go (goa.design/goa-ai), translated from
// the planner message protocol to the flatter providers.Request/Response
// shape this spec uses.
package anthropic

import (
	"context"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/registry"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter. Satisfied by *sdk.MessageService so callers can pass either the
// real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements providers.Adapter on top of Anthropic Claude Messages.
type Client struct {
	msg    MessagesClient
	models []registry.Spec
	log    telemetry.Logger
}

// New builds an Anthropic-backed adapter. models is the subset of the
// registry this adapter can serve (provider == "anthropic").
func New(msg MessagesClient, models []registry.Spec, log telemetry.Logger) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Client{msg: msg, models: models, log: log}, nil
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY-style defaults via the SDK's option
// package.
func NewFromAPIKey(apiKey string, models []registry.Spec, log telemetry.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, models, log)
}

var _ providers.Adapter = (*Client)(nil)

// Generate issues a Messages.New request and translates the response into
// the uniform providers.Response.
func (c *Client) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	modelID := modelOnly(req.Model)
	if modelID == "" {
		return providers.Response{}, errors.New("anthropic: model id is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = sdk.Float(req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	for _, t := range req.ToolSchemas {
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
			},
		})
	}

	start := time.Now()
	msg, err := c.msg.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		if isRateLimited(err) {
			return providers.Response{}, providers.UpstreamError("anthropic", err)
		}
		return providers.Response{}, providers.UpstreamError("anthropic", err)
	}
	return c.translate(msg, modelID, latency), nil
}

func (c *Client) translate(msg *sdk.Message, modelID string, latency time.Duration) providers.Response {
	var content string
	var calls []providers.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			content += b.Text
		case sdk.ToolUseBlock:
			input := map[string]any{}
			if m, ok := b.Input.(map[string]any); ok {
				input = m
			}
			calls = append(calls, providers.ToolCall{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	key := "anthropic/" + modelID
	cost := c.Cost(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), key)
	return providers.Response{
		Content:      content,
		Model:        key,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		CostUSD:      cost,
		LatencyMS:    latency.Milliseconds(),
		FinishReason: string(msg.StopReason),
		ToolCalls:    calls,
	}
}

// ListModels returns the registry entries this adapter can serve.
func (c *Client) ListModels() []registry.Spec { return c.models }

// Cost computes USD from the registry's unit costs for modelID. Unknown
// models yield 0 and a logged warning.
func (c *Client) Cost(inputTokens, outputTokens int, modelID string) float64 {
	for _, s := range c.models {
		if s.Key() == modelID {
			return providers.CostFromSpec(s, inputTokens, outputTokens)
		}
	}
	c.log.Warn(context.Background(), "anthropic: unknown model for cost computation", "model", modelID)
	return 0
}

func modelOnly(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
