// Package bedrock adapts the uniform providers.Adapter contract to the AWS
// Bedrock Converse API — the "high-throughput inference vendor" spec §4.2
// requires at least one of. Grounded on the teacher's
// features/model/bedrock/client.go (goa.design/goa-ai), rewired from the
// planner message protocol to providers.Request/Response.
package bedrock

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/registry"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter. Matches *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements providers.Adapter on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	models  []registry.Spec
	log     telemetry.Logger
}

// New builds a Bedrock-backed adapter. models is the subset of the registry
// this adapter can serve (provider == "bedrock").
func New(runtime RuntimeClient, models []registry.Spec, log telemetry.Logger) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Client{runtime: runtime, models: models, log: log}, nil
}

var _ providers.Adapter = (*Client)(nil)

// Generate issues a Converse request and translates the response into the
// uniform providers.Response.
func (c *Client) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	modelID := modelOnly(req.Model)
	if modelID == "" {
		return providers.Response{}, errors.New("bedrock: model id is required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
	}
	cfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		cfg.MaxTokens = &mt
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP > 0 {
		p := float32(req.TopP)
		cfg.TopP = &p
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	input.InferenceConfig = cfg

	start := time.Now()
	out, err := c.runtime.Converse(ctx, input)
	latency := time.Since(start)
	if err != nil {
		return providers.Response{}, providers.UpstreamError("bedrock", err)
	}
	return c.translate(out, modelID, latency), nil
}

func (c *Client) translate(out *bedrockruntime.ConverseOutput, modelID string, latency time.Duration) providers.Response {
	var content string
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += tb.Value
			}
		}
	}
	var in, outTok int
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			in = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			outTok = int(*out.Usage.OutputTokens)
		}
	}
	key := "bedrock/" + modelID
	return providers.Response{
		Content:      content,
		Model:        key,
		InputTokens:  in,
		OutputTokens: outTok,
		CostUSD:      c.Cost(in, outTok, key),
		LatencyMS:    latency.Milliseconds(),
		FinishReason: string(out.StopReason),
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
	c.log.Warn(context.Background(), "bedrock: unknown model for cost computation", "model", modelID)
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
