package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/providers/bedrock"
	"github.com/arcanefly/workforce/registry"
)

type fakeRuntime struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.out, f.err
}

func testModels() []registry.Spec {
	return []registry.Spec{{
		Provider: "bedrock", ModelID: "amazon.titan-text-express-v1",
		Capabilities:  registry.NewCapabilitySet(registry.CapTextGeneration),
		InputCostPerM: 0.8, OutputCostPerM: 1.6,
	}}
}

func TestGenerate_TranslatesResponse(t *testing.T) {
	in, out := int32(20), int32(8)
	fake := &fakeRuntime{out: &bedrockruntime.ConverseOutput{
		StopReason: brtypes.StopReasonEndTurn,
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello world"}},
		}},
		Usage: &brtypes.TokenUsage{InputTokens: &in, OutputTokens: &out},
	}}
	c, err := bedrock.New(fake, testModels(), nil)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), providers.Request{
		Prompt: "hi", Model: "bedrock/amazon.titan-text-express-v1", MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", resp.Content)
	require.Equal(t, "bedrock/amazon.titan-text-express-v1", resp.Model)
	require.Equal(t, 20, resp.InputTokens)
	require.Equal(t, 8, resp.OutputTokens)
	require.InDelta(t, 20.0/1_000_000*0.8+8.0/1_000_000*1.6, resp.CostUSD, 1e-9)
}

func TestNew_RejectsNilRuntime(t *testing.T) {
	_, err := bedrock.New(nil, testModels(), nil)
	require.Error(t, err)
}

func TestCost_UnknownModelYieldsZero(t *testing.T) {
	c, err := bedrock.New(&fakeRuntime{}, testModels(), nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, c.Cost(100, 100, "bedrock/unknown"))
}
