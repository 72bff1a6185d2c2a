// Package openai adapts the uniform providers.Adapter contract to the
// OpenAI Chat Completions API via the official github.com/openai/openai-go
// SDK, grounded on the teacher's chat-completion-vendor adapter shape
// (features/model/openai/client.go in goa.design/goa-ai), rewired to the
// flatter providers.Request/Response contract.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/registry"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter. Satisfied by client.Chat.Completions so callers can pass either
// the real client or a mock in tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements providers.Adapter on top of OpenAI Chat Completions.
type Client struct {
	chat   ChatClient
	models []registry.Spec
	log    telemetry.Logger
}

// New builds an OpenAI-backed adapter. models is the subset of the registry
// this adapter can serve (provider == "openai").
func New(chat ChatClient, models []registry.Spec, log telemetry.Logger) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Client{chat: chat, models: models, log: log}, nil
}

// NewFromAPIKey constructs an adapter using the default openai-go HTTP
// client.
func NewFromAPIKey(apiKey string, models []registry.Spec, log telemetry.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, models, log)
}

var _ providers.Adapter = (*Client)(nil)

// Generate issues a Chat Completions request and translates the response
// into the uniform providers.Response.
func (c *Client) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	modelID := modelOnly(req.Model)
	if modelID == "" {
		return providers.Response{}, errors.New("openai: model id is required")
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if req.ResponseFormat == "json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	for _, t := range req.ToolSchemas {
		params.Tools = append(params.Tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			},
		})
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return providers.Response{}, providers.UpstreamError("openai", err)
	}
	return c.translate(resp, modelID, latency), nil
}

func (c *Client) translate(resp *openai.ChatCompletion, modelID string, latency time.Duration) providers.Response {
	var content, finish string
	var calls []providers.ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		content = choice.Message.Content
		finish = string(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, providers.ToolCall{ID: tc.ID, Name: tc.Function.Name})
		}
	}
	key := "openai/" + modelID
	cost := c.Cost(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), key)
	return providers.Response{
		Content:      content,
		Model:        key,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		CostUSD:      cost,
		LatencyMS:    latency.Milliseconds(),
		FinishReason: finish,
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
	c.log.Warn(context.Background(), "openai: unknown model for cost computation", "model", modelID)
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
