package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/providers/anthropic"
	"github.com/arcanefly/workforce/registry"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func testModels() []registry.Spec {
	return []registry.Spec{{
		Provider: "anthropic", ModelID: "claude-3-5-sonnet",
		Capabilities:  registry.NewCapabilitySet(registry.CapTextGeneration),
		InputCostPerM: 3.0, OutputCostPerM: 15.0,
	}}
}

func TestGenerate_TranslatesResponse(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{
		StopReason: sdk.StopReasonEndTurn,
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello world"},
		},
		Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	c, err := anthropic.New(fake, testModels(), nil)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), providers.Request{
		Prompt: "hi", Model: "anthropic/claude-3-5-sonnet", MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "anthropic/claude-3-5-sonnet", resp.Model)
	require.Equal(t, 10, resp.InputTokens)
	require.Equal(t, 5, resp.OutputTokens)
	require.InDelta(t, 10.0/1_000_000*3.0+5.0/1_000_000*15.0, resp.CostUSD, 1e-9)
}

func TestCost_UnknownModelYieldsZero(t *testing.T) {
	c, err := anthropic.New(&fakeMessages{}, testModels(), nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, c.Cost(100, 100, "anthropic/unknown"))
}
